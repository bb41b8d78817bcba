package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCompactDocument(t *testing.T) {
	ctx := context.Background()
	opStore := NewMemoryOperationStore()
	snapStore := NewMemorySnapshotStore()

	for v := int64(1); v <= 10; v++ {
		require.NoError(t, opStore.Append(ctx, "doc-1", storedOp(v)))
	}
	_, err := snapStore.Create(ctx, "doc-1", "text-at-3", 3)
	require.NoError(t, err)
	_, err = snapStore.Create(ctx, "doc-1", "text-at-6", 6)
	require.NoError(t, err)

	c := NewCompactor(opStore, snapStore, nil, zap.NewNop())
	deleted, err := c.CompactDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(6), deleted)

	// Everything after the latest snapshot survives for recovery.
	ops, err := opStore.LoadSince(ctx, "doc-1", 0)
	require.NoError(t, err)
	require.Len(t, ops, 4)
	assert.Equal(t, int64(7), ops[0].Version)

	// Only the latest snapshot remains.
	snap, err := snapStore.Latest(ctx, "doc-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(6), snap.Version)
	deleted, err = snapStore.DeleteUpTo(ctx, "doc-1", 5)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestCompactorDefaultsPartialOptions(t *testing.T) {
	ctx := context.Background()
	opStore := NewMemoryOperationStore()
	snapStore := NewMemorySnapshotStore()

	for v := int64(1); v <= 4; v++ {
		require.NoError(t, opStore.Append(ctx, "doc-1", storedOp(v)))
	}
	_, err := snapStore.Create(ctx, "doc-1", "text-at-2", 2)
	require.NoError(t, err)
	_, err = snapStore.Create(ctx, "doc-1", "text-at-4", 4)
	require.NoError(t, err)

	// An options literal that only sets the interval still gets the default
	// snapshot retention, so old snapshots do not pile up.
	c := NewCompactor(opStore, snapStore, &CompactorOptions{Interval: time.Minute}, zap.NewNop())
	deleted, err := c.CompactDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)

	snap, err := snapStore.Latest(ctx, "doc-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(4), snap.Version)
	deleted, err = snapStore.DeleteUpTo(ctx, "doc-1", 3)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestCompactDocumentWithoutSnapshot(t *testing.T) {
	ctx := context.Background()
	opStore := NewMemoryOperationStore()
	snapStore := NewMemorySnapshotStore()
	require.NoError(t, opStore.Append(ctx, "doc-1", storedOp(1)))

	c := NewCompactor(opStore, snapStore, nil, zap.NewNop())
	deleted, err := c.CompactDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Zero(t, deleted)

	count, err := opStore.CountOperations(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestCompactAll(t *testing.T) {
	ctx := context.Background()
	opStore := NewMemoryOperationStore()
	snapStore := NewMemorySnapshotStore()

	for _, doc := range []string{"doc-1", "doc-2"} {
		for v := int64(1); v <= 4; v++ {
			require.NoError(t, opStore.Append(ctx, doc, storedOp(v)))
		}
		_, err := snapStore.Create(ctx, doc, "text", 2)
		require.NoError(t, err)
	}

	c := NewCompactor(opStore, snapStore, nil, zap.NewNop())
	total, err := c.CompactAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
}
