package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"collabtext/internal/domain"
)

// MemoryOperationStore is an in-memory OperationStore for tests and
// single-process deployments.
type MemoryOperationStore struct {
	mu  sync.RWMutex
	ops map[string][]*domain.Operation
}

// NewMemoryOperationStore creates an empty in-memory operation store.
func NewMemoryOperationStore() *MemoryOperationStore {
	return &MemoryOperationStore{ops: make(map[string][]*domain.Operation)}
}

// Append persists op under (documentID, op.Version).
func (s *MemoryOperationStore) Append(ctx context.Context, documentID string, op *domain.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.ops[documentID] {
		if existing.Version == op.Version {
			return errors.Errorf("version %d already persisted for document %s", op.Version, documentID)
		}
	}
	s.ops[documentID] = append(s.ops[documentID], op.Clone())
	return nil
}

// LoadSince returns operations with version > version in ascending order.
func (s *MemoryOperationStore) LoadSince(ctx context.Context, documentID string, version int64) ([]*domain.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Operation
	for _, op := range s.ops[documentID] {
		if op.Version > version {
			out = append(out, op.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// MaxVersion returns the highest persisted version for the document.
func (s *MemoryOperationStore) MaxVersion(ctx context.Context, documentID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max int64
	for _, op := range s.ops[documentID] {
		if op.Version > max {
			max = op.Version
		}
	}
	return max, nil
}

// CountOperations returns the number of persisted operations.
func (s *MemoryOperationStore) CountOperations(ctx context.Context, documentID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.ops[documentID])), nil
}

// TruncateUpTo deletes operations with version <= version.
func (s *MemoryOperationStore) TruncateUpTo(ctx context.Context, documentID string, version int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.ops[documentID][:0]
	var deleted int64
	for _, op := range s.ops[documentID] {
		if op.Version <= version {
			deleted++
			continue
		}
		kept = append(kept, op)
	}
	s.ops[documentID] = kept
	return deleted, nil
}

// Ping always succeeds.
func (s *MemoryOperationStore) Ping(ctx context.Context) error {
	return nil
}

// Close discards the stored operations.
func (s *MemoryOperationStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = make(map[string][]*domain.Operation)
	return nil
}

// MemorySnapshotStore is an in-memory SnapshotStore.
type MemorySnapshotStore struct {
	mu    sync.RWMutex
	snaps map[string][]*Snapshot
}

// NewMemorySnapshotStore creates an empty in-memory snapshot store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snaps: make(map[string][]*Snapshot)}
}

// Create persists a snapshot of text at version.
func (s *MemorySnapshotStore) Create(ctx context.Context, documentID, text string, version int64) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{
		DocumentID: documentID,
		Version:    version,
		Text:       text,
		CreatedAt:  time.Now(),
	}
	s.snaps[documentID] = append(s.snaps[documentID], snap)
	return snap, nil
}

// Latest returns the most recent snapshot, or (nil, nil) when none exists.
func (s *MemorySnapshotStore) Latest(ctx context.Context, documentID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Snapshot
	for _, snap := range s.snaps[documentID] {
		if latest == nil || snap.Version > latest.Version {
			latest = snap
		}
	}
	if latest == nil {
		return nil, nil
	}
	c := *latest
	return &c, nil
}

// DeleteUpTo deletes snapshots with version <= version.
func (s *MemorySnapshotStore) DeleteUpTo(ctx context.Context, documentID string, version int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.snaps[documentID][:0]
	var deleted int64
	for _, snap := range s.snaps[documentID] {
		if snap.Version <= version {
			deleted++
			continue
		}
		kept = append(kept, snap)
	}
	s.snaps[documentID] = kept
	return deleted, nil
}

// Documents lists every document id with at least one snapshot.
func (s *MemorySnapshotStore) Documents(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.snaps))
	for id, snaps := range s.snaps {
		if len(snaps) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Close discards the stored snapshots.
func (s *MemorySnapshotStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = make(map[string][]*Snapshot)
	return nil
}
