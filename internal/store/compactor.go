package store

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// CompactorOptions configures store-side log compaction.
type CompactorOptions struct {
	// Interval between scheduled compaction runs.
	Interval time.Duration

	// KeepSnapshots is how many snapshots per document survive a run.
	KeepSnapshots int
}

// DefaultCompactorOptions returns the default compaction options.
func DefaultCompactorOptions() *CompactorOptions {
	return &CompactorOptions{
		Interval:      10 * time.Minute,
		KeepSnapshots: 1,
	}
}

// Compactor trims the durable operation log behind the latest snapshot.
// Operations at or below a document's newest snapshot version are no longer
// needed for recovery: a fresh hub seeds from the snapshot and replays only
// what follows it.
type Compactor struct {
	opStore   OperationStore
	snapStore SnapshotStore
	options   *CompactorOptions
	logger    *zap.Logger
	stopCh    chan struct{}
}

// NewCompactor creates a compactor over the given stores.
func NewCompactor(opStore OperationStore, snapStore SnapshotStore, options *CompactorOptions, logger *zap.Logger) *Compactor {
	defaults := DefaultCompactorOptions()
	if options == nil {
		options = defaults
	} else {
		resolved := *options
		if resolved.Interval <= 0 {
			resolved.Interval = defaults.Interval
		}
		if resolved.KeepSnapshots <= 0 {
			resolved.KeepSnapshots = defaults.KeepSnapshots
		}
		options = &resolved
	}
	return &Compactor{
		opStore:   opStore,
		snapStore: snapStore,
		options:   options,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// CompactDocument trims one document and returns how many operations were
// deleted. Documents without a snapshot are left alone.
func (c *Compactor) CompactDocument(ctx context.Context, documentID string) (int64, error) {
	snap, err := c.snapStore.Latest(ctx, documentID)
	if err != nil {
		return 0, err
	}
	if snap == nil {
		return 0, nil
	}

	deleted, err := c.opStore.TruncateUpTo(ctx, documentID, snap.Version)
	if err != nil {
		return 0, err
	}

	if c.options.KeepSnapshots == 1 {
		if _, err := c.snapStore.DeleteUpTo(ctx, documentID, snap.Version-1); err != nil {
			c.logger.Warn("Failed to prune old snapshots",
				zap.String("document_id", documentID),
				zap.Error(err))
		}
	}

	if deleted > 0 {
		c.logger.Info("Document log compacted",
			zap.String("document_id", documentID),
			zap.Int64("snapshot_version", snap.Version),
			zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

// CompactAll trims every document that has a snapshot.
func (c *Compactor) CompactAll(ctx context.Context) (int64, error) {
	ids, err := c.snapStore.Documents(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, id := range ids {
		deleted, err := c.CompactDocument(ctx, id)
		if err != nil {
			c.logger.Error("Compaction failed",
				zap.String("document_id", id),
				zap.Error(err))
			continue
		}
		total += deleted
	}
	return total, nil
}

// Schedule runs compaction periodically until Stop is called.
func (c *Compactor) Schedule() {
	go func() {
		ticker := time.NewTicker(c.options.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), c.options.Interval/2)
				if _, err := c.CompactAll(ctx); err != nil {
					c.logger.Error("Scheduled compaction failed", zap.Error(err))
				}
				cancel()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop halts scheduled compaction.
func (c *Compactor) Stop() {
	close(c.stopCh)
}
