package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsConn carries the line protocol over a websocket. Inbound frames may hold
// several lines; every outbound line is its own text frame.
type wsConn struct {
	conn         *websocket.Conn
	pending      [][]byte
	writeTimeout time.Duration
	done         chan struct{}
	closeOnce    sync.Once
	closeErr     error
}

// NewWSConn frames a websocket into lines. It works for both ends of the
// socket and starts a keepalive pinger that stops on Close.
func NewWSConn(conn *websocket.Conn, maxLineBytes int, writeTimeout time.Duration) Transport {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}
	if writeTimeout <= 0 {
		writeTimeout = writeWait
	}
	c := &wsConn{conn: conn, writeTimeout: writeTimeout, done: make(chan struct{})}
	conn.SetReadLimit(int64(maxLineBytes))
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.keepalive()
	return c
}

func (c *wsConn) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) ReadLine() ([]byte, error) {
	for len(c.pending) == 0 {
		kind, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			if errors.Is(err, websocket.ErrReadLimit) {
				return nil, ErrLineTooLong
			}
			return nil, err
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		c.pending = splitFrame(payload)
	}
	line := c.pending[0]
	c.pending = c.pending[1:]
	return line, nil
}

// splitFrame cuts a frame into lines. A single trailing terminator does not
// produce an extra empty line.
func splitFrame(payload []byte) [][]byte {
	payload = bytes.TrimSuffix(payload, []byte("\n"))
	parts := bytes.Split(payload, []byte("\n"))
	for i, p := range parts {
		parts[i] = bytes.TrimSuffix(p, []byte("\r"))
	}
	return parts
}

func (c *wsConn) WriteLine(line string) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *wsConn) Network() string {
	return "ws"
}

// WebSocketHandler upgrades requests and serves each socket with the same
// connection handler TCP peers get. Handlers stop when ctx is cancelled.
func (s *Server) WebSocketHandler(ctx context.Context) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logf("upgrade error: %v", err)
			return
		}
		s.Attach(ctx, NewWSConn(conn, s.maxLineBytes, s.writeTimeout))
	})
}
