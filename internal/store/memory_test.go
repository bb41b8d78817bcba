package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabtext/internal/domain"
)

func storedOp(version int64) *domain.Operation {
	return &domain.Operation{
		ID:       domain.NewOperationID(),
		Type:     domain.OpInsert,
		Position: 0,
		Content:  "x",
		Author:   "alice",
		Version:  version,
	}
}

func TestMemoryOperationStoreAppendAndLoad(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryOperationStore()

	for v := int64(1); v <= 5; v++ {
		require.NoError(t, s.Append(ctx, "doc-1", storedOp(v)))
	}
	require.NoError(t, s.Append(ctx, "doc-2", storedOp(1)))

	ops, err := s.LoadSince(ctx, "doc-1", 2)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, int64(3), ops[0].Version)
	assert.Equal(t, int64(5), ops[2].Version)

	max, err := s.MaxVersion(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), max)

	count, err := s.CountOperations(ctx, "doc-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMemoryOperationStoreRejectsDuplicateVersion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryOperationStore()

	require.NoError(t, s.Append(ctx, "doc-1", storedOp(1)))
	assert.Error(t, s.Append(ctx, "doc-1", storedOp(1)))

	count, err := s.CountOperations(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMemoryOperationStoreTruncate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryOperationStore()
	for v := int64(1); v <= 10; v++ {
		require.NoError(t, s.Append(ctx, "doc-1", storedOp(v)))
	}

	deleted, err := s.TruncateUpTo(ctx, "doc-1", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)

	ops, err := s.LoadSince(ctx, "doc-1", 0)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, int64(8), ops[0].Version)
}

func TestMemoryOperationStoreClonesOnWrite(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryOperationStore()

	op := storedOp(1)
	require.NoError(t, s.Append(ctx, "doc-1", op))
	op.Content = "mutated"

	ops, err := s.LoadSince(ctx, "doc-1", 0)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "x", ops[0].Content)
}

func TestMemorySnapshotStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySnapshotStore()

	snap, err := s.Latest(ctx, "doc-1")
	require.NoError(t, err)
	assert.Nil(t, snap)

	_, err = s.Create(ctx, "doc-1", "hello", 10)
	require.NoError(t, err)
	_, err = s.Create(ctx, "doc-1", "hello world", 20)
	require.NoError(t, err)

	snap, err = s.Latest(ctx, "doc-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(20), snap.Version)
	assert.Equal(t, "hello world", snap.Text)

	deleted, err := s.DeleteUpTo(ctx, "doc-1", 19)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	docs, err := s.Documents(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1"}, docs)
}
