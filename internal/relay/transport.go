package relay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// DefaultMaxLineBytes bounds a single inbound line. File payloads travel
// whole inside one line, so the limit is generous.
const DefaultMaxLineBytes = 64 << 20

// ErrLineTooLong is returned when a peer sends a line over the limit.
var ErrLineTooLong = errors.New("relay: line too long")

// Transport is a bidirectional stream of '\n' framed lines. ReadLine is
// called from one goroutine and WriteLine from another; Close may be called
// from anywhere and unblocks a pending ReadLine.
type Transport interface {
	// ReadLine returns the next line without its terminator, or io.EOF.
	ReadLine() ([]byte, error)
	// WriteLine sends line followed by '\n'.
	WriteLine(line string) error
	Close() error
	RemoteAddr() string
	// Network names the carrier, "tcp" or "ws".
	Network() string
}

type lineConn struct {
	conn         net.Conn
	scanner      *bufio.Scanner
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

// NewLineConn frames a stream connection into lines. A zero writeTimeout
// disables write deadlines.
func NewLineConn(conn net.Conn, maxLineBytes int, writeTimeout time.Duration) Transport {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(64*1024, maxLineBytes)), maxLineBytes)
	return &lineConn{conn: conn, scanner: scanner, writeTimeout: writeTimeout}
}

func (c *lineConn) ReadLine() ([]byte, error) {
	if c.scanner.Scan() {
		line := make([]byte, len(c.scanner.Bytes()))
		copy(line, c.scanner.Bytes())
		return line, nil
	}
	err := c.scanner.Err()
	switch {
	case err == nil:
		return nil, io.EOF
	case errors.Is(err, bufio.ErrTooLong):
		return nil, fmt.Errorf("%w (%s)", ErrLineTooLong, c.RemoteAddr())
	default:
		return nil, err
	}
}

func (c *lineConn) WriteLine(line string) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	_, err := c.conn.Write(buf)
	return err
}

func (c *lineConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *lineConn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (c *lineConn) Network() string {
	return "tcp"
}
