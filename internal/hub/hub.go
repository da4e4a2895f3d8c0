// Package hub implements the bounded broadcast channel every relay connection
// subscribes to. Each subscriber owns a private fixed-size queue; a slow
// subscriber loses its oldest unread messages instead of slowing publishers.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the number of messages a subscriber may have in flight.
const DefaultCapacity = 16

// ErrClosed is returned by receives and publishes once the hub is torn down.
var ErrClosed = errors.New("hub: closed")

// LaggedError reports that a subscriber overflowed and lost messages.
// Reception continues normally after it has been returned once.
type LaggedError struct {
	Skipped int
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("hub: receiver lagged, %d message(s) skipped", e.Skipped)
}

// Hub fans every published message out to all current subscribers.
type Hub struct {
	capacity int

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed atomic.Bool
}

// New builds a hub whose subscribers hold at most capacity unread messages.
func New(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hub{
		capacity: capacity,
		subs:     make(map[*Subscription]struct{}),
	}
}

// Capacity returns the per-subscriber queue size.
func (h *Hub) Capacity() int {
	return h.capacity
}

// Len returns the number of attached subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Subscribe attaches a new receiver. It only observes messages published
// after this call returns.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{
		hub:   h,
		queue: make([]string, 0, h.capacity),
		ready: make(chan struct{}, 1),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed.Load() {
		s.detached = true
		s.signal()
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

// Publish queues msg for every subscriber and returns how many received it.
// Publishing is serialized so all subscribers observe the same order.
func (h *Hub) Publish(msg string) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed.Load() {
		return 0, ErrClosed
	}
	for s := range h.subs {
		s.push(msg)
	}
	return len(h.subs), nil
}

// Close tears the hub down. Subscribers drain what they already hold and
// then fail with ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed.Swap(true) {
		return
	}
	for s := range h.subs {
		s.signal()
	}
}

func (h *Hub) detach(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
}

// Subscription is one receiver's view of the hub. It must be used by a
// single goroutine.
type Subscription struct {
	hub   *Hub
	ready chan struct{}

	mu       sync.Mutex
	queue    []string
	lagged   int
	detached bool
}

func (s *Subscription) push(msg string) {
	s.mu.Lock()
	if len(s.queue) >= s.hub.capacity {
		s.queue[0] = ""
		s.queue = s.queue[1:]
		s.lagged++
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Ready fires when TryRecv may have something to report. Spurious wakeups
// are possible, so callers must tolerate an empty TryRecv.
func (s *Subscription) Ready() <-chan struct{} {
	return s.ready
}

// TryRecv returns the next message without blocking. ok is false when there
// is nothing to deliver. A *LaggedError is returned once after an overflow;
// ErrClosed once the hub (or this subscription) is closed and drained.
func (s *Subscription) TryRecv() (msg string, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lagged > 0 {
		skipped := s.lagged
		s.lagged = 0
		s.signal()
		return "", false, &LaggedError{Skipped: skipped}
	}
	if len(s.queue) > 0 {
		msg = s.queue[0]
		s.queue[0] = ""
		s.queue = s.queue[1:]
		if len(s.queue) > 0 {
			s.signal()
		}
		return msg, true, nil
	}
	if s.detached || s.hub.closed.Load() {
		s.signal()
		return "", false, ErrClosed
	}
	return "", false, nil
}

// Recv blocks until a message, a lag report, hub closure or ctx cancellation.
func (s *Subscription) Recv(ctx context.Context) (string, error) {
	for {
		msg, ok, err := s.TryRecv()
		if err != nil {
			return "", err
		}
		if ok {
			return msg, nil
		}
		select {
		case <-s.ready:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Close detaches the subscription from the hub. Other subscribers are not
// affected; queued messages are discarded.
func (s *Subscription) Close() {
	s.hub.detach(s)
	s.mu.Lock()
	s.detached = true
	s.queue = nil
	s.lagged = 0
	s.mu.Unlock()
	s.signal()
}
