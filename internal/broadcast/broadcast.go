// Package broadcast relays accepted operations and presence frames between
// server nodes hosting sessions of the same document. A process-local
// broadcaster is the default; Redis pub/sub connects multiple nodes.
package broadcast

import (
	"context"

	"collabtext/internal/domain"
)

// Frame is one relayed message. NodeID identifies the origin so a node can
// ignore its own publications.
type Frame struct {
	NodeID     string                `json:"node_id"`
	DocumentID string                `json:"document_id"`
	Message    *domain.ServerMessage `json:"message"`
}

// Handler consumes relayed frames.
type Handler func(frame *Frame)

// Broadcaster is the cross-node relay. Implementations must be safe for
// concurrent use.
type Broadcaster interface {
	// Publish sends the frame to every node subscribed to its document.
	Publish(ctx context.Context, frame *Frame) error

	// Subscribe registers handler for a document's frames and returns an
	// unsubscribe function.
	Subscribe(ctx context.Context, documentID string, handler Handler) (func(), error)

	// Close tears down every subscription.
	Close() error
}
