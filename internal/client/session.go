package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"

	"linechat/internal/protocol"
	"linechat/internal/relay"
)

// ErrDisconnected is returned by Receive once the relay hangs up.
var ErrDisconnected = errors.New("server closed the connection")

// Session is one connection to a relay.
type Session struct {
	t           relay.Transport
	downloadDir string
	writeMutex  sync.Mutex
}

// Dial connects to addr. A ws:// or wss:// URL goes through the websocket
// gateway, anything else is treated as a TCP host:port.
func Dial(ctx context.Context, addr, downloadDir string) (*Session, error) {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		return NewSession(relay.NewWSConn(conn, relay.DefaultMaxLineBytes, 0), downloadDir), nil
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewSession(relay.NewLineConn(conn, relay.DefaultMaxLineBytes, 0), downloadDir), nil
}

// NewSession wraps an established transport. Received files land in
// downloadDir, "." when empty.
func NewSession(t relay.Transport, downloadDir string) *Session {
	if downloadDir == "" {
		downloadDir = "."
	}
	return &Session{t: t, downloadDir: downloadDir}
}

// Send writes one message. It is safe to call from several goroutines.
func (s *Session) Send(m protocol.Message) error {
	line, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	return s.t.WriteLine(string(line))
}

// Event is one thing the relay told us.
type Event struct {
	// Line is shown as-is when Saved is nil.
	Line  string
	Saved *SavedFile
}

// SavedFile describes a received file written to disk.
type SavedFile struct {
	Path   string
	From   string
	Size   int64
	Digest string
}

func (e Event) String() string {
	if e.Saved == nil {
		return e.Line
	}
	return fmt.Sprintf("saved %s from %s (%s, blake2b %.12s)",
		e.Saved.Path, e.Saved.From, humanize.Bytes(uint64(e.Saved.Size)), e.Saved.Digest)
}

// Receive blocks for the next line. File records are written to the download
// directory instead of being shown.
func (s *Session) Receive() (Event, error) {
	line, err := s.t.ReadLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Event{}, ErrDisconnected
		}
		return Event{}, err
	}
	file, ok := protocol.Decode(line).(*protocol.File)
	if !ok {
		return Event{Line: string(line)}, nil
	}
	path, err := SaveFile(s.downloadDir, file)
	if err != nil {
		return Event{Line: fmt.Sprintf("could not save %s: %v", file.FileName, err)}, nil
	}
	return Event{Saved: &SavedFile{
		Path:   path,
		From:   file.User.Username,
		Size:   int64(len(file.FileData)),
		Digest: file.Digest(),
	}}, nil
}

func (s *Session) RemoteAddr() string {
	return s.t.RemoteAddr()
}

func (s *Session) Close() error {
	return s.t.Close()
}

// SaveFile writes f into dir under the base name it was sent with.
func SaveFile(dir string, f *protocol.File) (string, error) {
	name := f.FileName
	if idx := strings.LastIndexAny(name, `/\`); idx >= 0 {
		name = name[idx+1:]
	}
	name = sanitizePathComponent(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, f.FileData, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func sanitizePathComponent(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.TrimSpace(s)
	if s == "" || s == "." || s == ".." {
		return "unnamed"
	}
	return s
}
