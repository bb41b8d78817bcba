package hub

import (
	"sync"

	"collabtext/internal/domain"
)

// Outbound is the per-session send handle registered with a hub. The hub
// enqueues fan-out frames through TrySend and never blocks on a slow
// consumer; the transport drains C and pushes frames to the wire.
type Outbound struct {
	ch     chan *domain.ServerMessage
	mu     sync.Mutex
	closed bool
}

// NewOutbound creates a send handle with the given queue capacity.
func NewOutbound(capacity int) *Outbound {
	return &Outbound{ch: make(chan *domain.ServerMessage, capacity)}
}

// TrySend enqueues msg without blocking. It returns false when the queue is
// full or the handle is closed; a full queue marks the session as too slow
// to keep.
func (o *Outbound) TrySend(msg *domain.ServerMessage) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return false
	}
	select {
	case o.ch <- msg:
		return true
	default:
		return false
	}
}

// Close shuts the queue. Idempotent; the consumer sees C drain and close.
func (o *Outbound) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.ch)
	}
}

// C is the consumer side of the queue.
func (o *Outbound) C() <-chan *domain.ServerMessage {
	return o.ch
}
