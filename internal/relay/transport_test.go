package relay

import (
	"errors"
	"io"
	"net"
	"testing"
)

func TestLineConnFraming(t *testing.T) {
	server, client := net.Pipe()
	lc := NewLineConn(server, 32, 0)
	defer lc.Close()

	go func() {
		_, _ = client.Write([]byte("first\r\nsecond\n" + "0123456789012345678901234567890123456789\n"))
	}()

	for _, want := range []string{"first", "second"} {
		got, err := lc.ReadLine()
		if err != nil {
			t.Fatalf("ReadLine: %v", err)
		}
		if string(got) != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
	if _, err := lc.ReadLine(); !errors.Is(err, ErrLineTooLong) {
		t.Errorf("expected ErrLineTooLong, got %v", err)
	}
}

func TestLineConnEOFAndWrite(t *testing.T) {
	server, client := net.Pipe()
	lc := NewLineConn(server, 0, 0)

	go func() {
		buf := make([]byte, 6)
		_, _ = io.ReadFull(client, buf)
		_, _ = client.Write(buf)
		_ = client.Close()
	}()
	if err := lc.WriteLine("hello"); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	got, err := lc.ReadLine()
	if err != nil || string(got) != "hello" {
		t.Fatalf("echo = %q, %v", got, err)
	}
	if _, err := lc.ReadLine(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
	if lc.Network() != "tcp" {
		t.Errorf("Network() = %q", lc.Network())
	}
	_ = lc.Close()
	_ = lc.Close()
}

func TestSplitFrame(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"one", []string{"one"}},
		{"one\n", []string{"one"}},
		{"one\r\ntwo\n", []string{"one", "two"}},
		{"", []string{""}},
		{"a\n\nb", []string{"a", "", "b"}},
	}
	for _, tc := range cases {
		got := splitFrame([]byte(tc.in))
		if len(got) != len(tc.want) {
			t.Errorf("splitFrame(%q) = %q", tc.in, got)
			continue
		}
		for i := range got {
			if string(got[i]) != tc.want[i] {
				t.Errorf("splitFrame(%q)[%d] = %q, want %q", tc.in, i, got[i], tc.want[i])
			}
		}
	}
}
