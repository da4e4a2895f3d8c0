package protocol

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	alice := NewIdentity("Alice")
	at := time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)

	cases := []struct {
		name string
		msg  Message
	}{
		{"text", NewText(alice, "hello", at)},
		{"file", NewFile(alice, "photo.png", []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})},
		{"empty file", &File{User: alice, FileName: "empty", FileSize: 0, FileData: []byte{}}},
		{"command", NewCommand(alice, CommandRecvFile, "photo.png")},
		{"command without args", NewCommand(alice, CommandRecvInfo)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			line, err := EncodeLine(tc.msg)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if bytes.Count(line, []byte("\n")) != 1 || line[len(line)-1] != '\n' {
				t.Fatalf("encoded record is not a single line: %q", line)
			}
			got := Decode(line)
			if got.Kind() != tc.msg.Kind() {
				t.Fatalf("kind = %q, want %q", got.Kind(), tc.msg.Kind())
			}
			if text, ok := got.(*Text); ok {
				want := tc.msg.(*Text)
				if !text.CreatedAt.Equal(want.CreatedAt) {
					t.Fatalf("created_at = %v, want %v", text.CreatedAt, want.CreatedAt)
				}
				text.CreatedAt = want.CreatedAt
			}
			if !reflect.DeepEqual(got, tc.msg) {
				t.Errorf("round trip mismatch:\n got %#v\nwant %#v", got, tc.msg)
			}
		})
	}
}

func TestIdentityIsStable(t *testing.T) {
	id := NewIdentity("Bob")
	if id.UserID == uuid.Nil {
		t.Fatal("identity has nil id")
	}
	if other := NewIdentity("Bob"); other.UserID == id.UserID {
		t.Error("two identities share an id")
	}
	if NewIdentity("").Username != DefaultUsername {
		t.Errorf("empty name should fall back to %q", DefaultUsername)
	}
	fallback := NewFallbackIdentity()
	if !strings.HasPrefix(fallback.Username, DefaultUsername) {
		t.Errorf("fallback name %q lacks prefix", fallback.Username)
	}
}

func TestDecodeRawFallback(t *testing.T) {
	cases := []string{
		"hello from telnet\n",
		"",
		"{not json",
		`{"type":"video","body":"x"}`,
		`{"type":"text","created_at":"yesterday"}`,
		`["an","array"]`,
		`{"some":"object"}`,
	}
	for _, line := range cases {
		msg := Decode([]byte(line))
		raw, ok := msg.(Raw)
		if !ok {
			t.Errorf("Decode(%q) = %T, want Raw", line, msg)
			continue
		}
		if string(raw) != strings.TrimRight(line, "\n") {
			t.Errorf("Decode(%q) raw = %q", line, raw)
		}
	}
}

func TestDecodeLegacyPriority(t *testing.T) {
	user := `"user":{"username":"Carol","user_id":"6ba7b810-9dad-11d1-80b4-00c04fd430c8"}`
	cases := []struct {
		line string
		want Kind
	}{
		{`{` + user + `,"command":"/recvinfo","args":[]}`, KindCommand},
		{`{` + user + `,"file_name":"a.txt","file_size":1,"file_data":"YQ=="}`, KindFile},
		{`{` + user + `,"body":"hi","created_at":"2024-03-09T14:05:00Z"}`, KindText},
		// a record carrying every field resolves to the highest priority shape
		{`{` + user + `,"command":"recvinfo","args":[],"body":"hi","created_at":"2024-03-09T14:05:00Z"}`, KindCommand},
		// partial shapes do not match
		{`{` + user + `,"file_name":"a.txt"}`, KindRaw},
	}
	for _, tc := range cases {
		if got := Decode([]byte(tc.line)).Kind(); got != tc.want {
			t.Errorf("Decode(%s) kind = %q, want %q", tc.line, got, tc.want)
		}
	}
}

func TestCommandName(t *testing.T) {
	cmd := NewCommand(NewIdentity("x"), "/RecvFile", "a")
	if cmd.CommandName() != CommandRecvFile {
		t.Errorf("CommandName() = %q", cmd.CommandName())
	}
	if cmd.Arg(0) != "a" || cmd.Arg(1) != "" || cmd.Arg(-1) != "" {
		t.Errorf("unexpected args %v", cmd.Args)
	}
}

func TestTextFormat(t *testing.T) {
	msg := NewText(NewIdentity("Alice"), "hello\n", time.Date(2024, 3, 9, 14, 5, 59, 0, time.UTC))
	if got, want := msg.Format(), "09/03/2024 14:05 Alice: hello"; got != want {
		t.Errorf("Format() = %q, want %q", got, want)
	}
}

func TestEncodeRejectsNil(t *testing.T) {
	if _, err := Encode(nil); err == nil {
		t.Error("expected error for nil message")
	}
}

func TestFileDigest(t *testing.T) {
	a := NewFile(NewIdentity("a"), "x", []byte("same"))
	b := NewFile(NewIdentity("b"), "y", []byte("same"))
	c := NewFile(NewIdentity("a"), "x", []byte("other"))
	if a.Digest() != b.Digest() {
		t.Error("digest depends on metadata")
	}
	if a.Digest() == c.Digest() {
		t.Error("different payloads share a digest")
	}
	if len(a.Digest()) != 64 {
		t.Errorf("digest length = %d", len(a.Digest()))
	}
}
