// Package store provides the durable operation log and snapshot storage
// backing the collaboration engine. MongoDB is the production backend; an
// in-memory implementation serves tests and single-process deployments.
package store

import (
	"context"
	"time"

	"collabtext/internal/domain"
)

// OperationStore is the durable, append-only operation log. Implementations
// must be safe for concurrent use.
type OperationStore interface {
	// Append persists op under (documentID, op.Version). It must commit
	// before the hub acknowledges the submitter.
	Append(ctx context.Context, documentID string, op *domain.Operation) error

	// LoadSince returns the persisted operations with version > version in
	// ascending version order.
	LoadSince(ctx context.Context, documentID string, version int64) ([]*domain.Operation, error)

	// MaxVersion returns the highest persisted version, or 0 when the
	// document has no operations.
	MaxVersion(ctx context.Context, documentID string) (int64, error)

	// CountOperations returns the number of persisted operations.
	CountOperations(ctx context.Context, documentID string) (int64, error)

	// TruncateUpTo deletes every operation with version <= version and
	// returns how many were removed.
	TruncateUpTo(ctx context.Context, documentID string, version int64) (int64, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close(ctx context.Context) error
}

// Snapshot is the document text at a specific version.
type Snapshot struct {
	DocumentID string    `bson:"document_id" json:"document_id"`
	Version    int64     `bson:"version" json:"version"`
	Text       string    `bson:"text" json:"text"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
}

// SnapshotStore persists document snapshots so truncated histories can
// still seed new hubs and full resyncs.
type SnapshotStore interface {
	// Create persists a snapshot of text at version.
	Create(ctx context.Context, documentID, text string, version int64) (*Snapshot, error)

	// Latest returns the most recent snapshot, or (nil, nil) when the
	// document has none.
	Latest(ctx context.Context, documentID string) (*Snapshot, error)

	// DeleteUpTo deletes snapshots with version <= version and returns how
	// many were removed.
	DeleteUpTo(ctx context.Context, documentID string, version int64) (int64, error)

	// Documents lists every document id that has at least one snapshot.
	Documents(ctx context.Context) ([]string, error)

	// Close releases the store's resources.
	Close(ctx context.Context) error
}
