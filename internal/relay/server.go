// Package relay accepts line-oriented peers, classifies what they send and
// relays it through a shared hub. Every connection gets its own handler that
// races the next line from its peer against the next hub message.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"linechat/internal/hub"
	"linechat/internal/storage"
)

const (
	DefaultMaxConns     = 256
	DefaultAcceptBurst  = 20
	DefaultAcceptWindow = 10 * time.Second
	DefaultWriteTimeout = 10 * time.Second

	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Direct replies.
const (
	ReplyNoFiles      = "no files available"
	ReplyFileNotFound = "file not found"
	ReplyAck          = "Ok"
	ReplyServerFull   = "server full"
	ReplySlowDown     = "too many connections, slow down"
)

// ErrServerClosed is returned by Serve once its context is cancelled.
var ErrServerClosed = errors.New("relay: server closed")

// Auditor receives connection and upload metadata. *storage.Store satisfies it.
type Auditor interface {
	StartSession(ctx context.Context, sess storage.Session) error
	EndSession(ctx context.Context, id string, at time.Time, linesIn, linesOut int64) error
	RecordUpload(ctx context.Context, up storage.Upload) (int64, error)
}

// Server owns the hub and every connection handler attached to it.
type Server struct {
	hub          *hub.Hub
	metrics      *Metrics
	logger       *log.Logger
	audit        Auditor
	limiter      *RateLimiter
	conns        *semaphore.Weighted
	maxConns     int64
	hubCapacity  int
	maxLineBytes int
	writeTimeout time.Duration

	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
}

// New builds a server. Options are applied in order.
func New(options ...Option) (*Server, error) {
	s := &Server{
		metrics:      NewMetrics(),
		logger:       log.Default(),
		limiter:      NewRateLimiter(DefaultAcceptBurst, DefaultAcceptWindow),
		maxConns:     DefaultMaxConns,
		hubCapacity:  hub.DefaultCapacity,
		maxLineBytes: DefaultMaxLineBytes,
		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.hub = hub.New(s.hubCapacity)
	s.conns = semaphore.NewWeighted(s.maxConns)
	return s, nil
}

// Hub exposes the broadcast hub, mostly for tests and wiring.
func (s *Server) Hub() *hub.Hub {
	return s.hub
}

func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Serve accepts TCP peers on ln until ctx is cancelled or ln fails. The
// listener is closed on return. Handlers keep running; use Wait to join them.
// Transient accept errors such as descriptor exhaustion are retried with
// backoff.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()
	defer ln.Close()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ErrServerClosed
			}
			if !retryableAccept(err) {
				return fmt.Errorf("relay: accept: %w", err)
			}
			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(2*backoff, maxAcceptBackoff)
			}
			s.logf("accept: %v; retrying in %s", err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ErrServerClosed
			}
			continue
		}
		backoff = 0
		s.Attach(ctx, NewLineConn(conn, s.maxLineBytes, s.writeTimeout))
	}
}

func retryableAccept(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	for _, errno := range []syscall.Errno{syscall.EMFILE, syscall.ENFILE, syscall.ENOBUFS, syscall.ENOMEM, syscall.ECONNABORTED, syscall.ECONNRESET} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

// Attach admits t and serves it on a new goroutine. It reports false when the
// peer was turned away or the server is draining; the transport is closed in
// that case.
func (s *Server) Attach(ctx context.Context, t Transport) bool {
	s.mu.Lock()
	if s.draining || ctx.Err() != nil {
		s.mu.Unlock()
		_ = t.Close()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	if !s.admit(t) {
		s.wg.Done()
		return false
	}
	go func() {
		defer s.wg.Done()
		defer s.conns.Release(1)
		s.handle(ctx, t)
	}()
	return true
}

func (s *Server) admit(t Transport) bool {
	if s.limiter != nil && !s.limiter.Allow(hostKey(t.RemoteAddr())) {
		s.reject(t, ReplySlowDown)
		return false
	}
	if !s.conns.TryAcquire(1) {
		s.reject(t, ReplyServerFull)
		return false
	}
	return true
}

func (s *Server) reject(t Transport, reason string) {
	s.metrics.IncRejected()
	s.logf("rejecting %s %s: %s", t.Network(), t.RemoteAddr(), reason)
	_ = t.WriteLine(reason)
	_ = t.Close()
}

// Wait stops admitting peers and blocks until every attached handler has
// returned or ctx expires.
func (s *Server) Wait(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts the hub, which ends every handler still attached.
func (s *Server) Close() {
	s.hub.Close()
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
