package relay

import (
	"fmt"
	"io"
	"log"
	"time"
)

// Option configures a Server.
type Option func(s *Server) error

// WithLogger sets the destination of connection lifecycle logs. A nil logger
// silences them.
func WithLogger(logger *log.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			logger = log.New(io.Discard, "", 0)
		}
		s.logger = logger
		return nil
	}
}

// WithHubCapacity sets how many unread messages each connection may hold
// before it starts losing the oldest ones.
func WithHubCapacity(capacity int) Option {
	return func(s *Server) error {
		if capacity <= 0 {
			return fmt.Errorf("relay.WithHubCapacity: invalid capacity (%d)", capacity)
		}
		s.hubCapacity = capacity
		return nil
	}
}

// WithMaxConns caps concurrently served connections. Peers over the cap are
// told "server full" and dropped.
func WithMaxConns(n int) Option {
	return func(s *Server) error {
		if n <= 0 {
			return fmt.Errorf("relay.WithMaxConns: invalid value (%d)", n)
		}
		s.maxConns = int64(n)
		return nil
	}
}

// WithAcceptLimit admits at most burst new connections per remote host within
// window. A non-positive burst disables the limit.
func WithAcceptLimit(burst int, window time.Duration) Option {
	return func(s *Server) error {
		if burst <= 0 {
			s.limiter = nil
			return nil
		}
		if window <= 0 {
			return fmt.Errorf("relay.WithAcceptLimit: invalid window (%s)", window)
		}
		s.limiter = NewRateLimiter(burst, window)
		return nil
	}
}

// WithMaxLineBytes bounds a single inbound line, file payload included.
func WithMaxLineBytes(n int) Option {
	return func(s *Server) error {
		if n <= 0 {
			return fmt.Errorf("relay.WithMaxLineBytes: invalid value (%d)", n)
		}
		s.maxLineBytes = n
		return nil
	}
}

// WithWriteTimeout bounds every write to a peer. Zero disables the deadline on
// TCP connections.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(s *Server) error {
		if timeout < 0 {
			return fmt.Errorf("relay.WithWriteTimeout: invalid timeout (%s)", timeout)
		}
		s.writeTimeout = timeout
		return nil
	}
}

// WithAuditor records sessions and uploads.
func WithAuditor(a Auditor) Option {
	return func(s *Server) error {
		s.audit = a
		return nil
	}
}

// WithMetrics shares a counter set, e.g. one already mounted on an HTTP mux.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) error {
		if m == nil {
			return fmt.Errorf("relay.WithMetrics: nil metrics")
		}
		s.metrics = m
		return nil
	}
}
