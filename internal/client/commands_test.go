package client

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"linechat/internal/protocol"
)

func newTestProcessor() *Processor {
	p := NewProcessor(protocol.NewIdentity("Alice"))
	p.now = func() time.Time { return time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC) }
	return p
}

func TestProcessText(t *testing.T) {
	p := newTestProcessor()
	out, err := p.Process("hello\n")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	text, ok := out.Message.(*protocol.Text)
	if !ok {
		t.Fatalf("expected text, got %T", out.Message)
	}
	if text.Body != "hello" || text.User != p.Identity() || text.Format() != "09/03/2024 14:05 Alice: hello" {
		t.Errorf("unexpected text %+v", text)
	}

	for _, blank := range []string{"", "\n", "   "} {
		out, err := p.Process(blank)
		if err != nil || out.Message != nil || out.Quit {
			t.Errorf("Process(%q) = %+v, %v", blank, out, err)
		}
	}
}

func TestProcessSend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.png")
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	p := newTestProcessor()
	out, err := p.Process("/send " + path)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	file, ok := out.Message.(*protocol.File)
	if !ok {
		t.Fatalf("expected file, got %T", out.Message)
	}
	if file.FileName != "photo.png" || file.FileSize != 10 || string(file.FileData) != string(data) {
		t.Errorf("unexpected file %+v", file)
	}
	if out.Notice == "" {
		t.Error("expected a local notice")
	}
}

func TestProcessSendMissingFile(t *testing.T) {
	p := newTestProcessor()
	out, err := p.Process("/send " + filepath.Join(t.TempDir(), "nope.txt"))
	var fileErr *LocalFileError
	if !errors.As(err, &fileErr) {
		t.Fatalf("expected LocalFileError, got %v", err)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("cause not preserved: %v", err)
	}
	if out.Message != nil {
		t.Error("nothing should be sent")
	}

	var usage *UsageError
	if _, err := p.Process("/send"); !errors.As(err, &usage) {
		t.Errorf("expected usage error, got %v", err)
	}
}

func TestProcessCommands(t *testing.T) {
	p := newTestProcessor()

	out, err := p.Process("/recvfile photo.png")
	if err != nil {
		t.Fatalf("recvfile: %v", err)
	}
	cmd, ok := out.Message.(*protocol.Command)
	if !ok || cmd.CommandName() != protocol.CommandRecvFile || cmd.Arg(0) != "photo.png" {
		t.Errorf("unexpected command %+v", out.Message)
	}

	out, err = p.Process("/RECVINFO")
	if err != nil {
		t.Fatalf("recvinfo: %v", err)
	}
	if cmd, ok := out.Message.(*protocol.Command); !ok || cmd.CommandName() != protocol.CommandRecvInfo || len(cmd.Args) != 0 {
		t.Errorf("unexpected command %+v", out.Message)
	}

	var usage *UsageError
	if _, err := p.Process("/recvfile"); !errors.As(err, &usage) {
		t.Errorf("expected usage error, got %v", err)
	}

	out, err = p.Process("/help")
	if err != nil || out.Notice != HelpText || out.Message != nil {
		t.Errorf("help = %+v, %v", out, err)
	}

	out, err = p.Process("/quit")
	if err != nil || !out.Quit || out.Message != nil {
		t.Errorf("quit = %+v, %v", out, err)
	}

	out, err = p.Process("/dance now")
	if !errors.Is(err, ErrUnknownCommand) || out.Message != nil {
		t.Errorf("unknown = %+v, %v", out, err)
	}
}
