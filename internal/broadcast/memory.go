package broadcast

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBroadcaster is a process-local Broadcaster. Frames are delivered
// synchronously to every handler subscribed to the document.
type MemoryBroadcaster struct {
	mu     sync.RWMutex
	subs   map[string]map[int]Handler
	nextID int
	closed bool
}

// NewMemoryBroadcaster creates an empty in-process broadcaster.
func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{subs: make(map[string]map[int]Handler)}
}

// Publish delivers the frame to the document's subscribers.
func (b *MemoryBroadcaster) Publish(ctx context.Context, frame *Frame) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("broadcaster is closed")
	}
	for _, handler := range b.subs[frame.DocumentID] {
		handler(frame)
	}
	return nil
}

// Subscribe registers handler for the document's frames.
func (b *MemoryBroadcaster) Subscribe(ctx context.Context, documentID string, handler Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("broadcaster is closed")
	}
	if b.subs[documentID] == nil {
		b.subs[documentID] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subs[documentID][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[documentID], id)
		if len(b.subs[documentID]) == 0 {
			delete(b.subs, documentID)
		}
	}, nil
}

// Close drops every subscription.
func (b *MemoryBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string]map[int]Handler)
	return nil
}
