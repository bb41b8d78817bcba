package hub

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"collabtext/internal/broadcast"
	"collabtext/internal/domain"
	"collabtext/internal/history"
	"collabtext/internal/store"
)

// Registry maps document ids to their hubs. Creation is lazy: the first
// join seeds the hub's history from the latest snapshot and the persisted
// operations that follow it.
type Registry struct {
	mu   sync.Mutex
	hubs map[string]*Hub

	nodeID    string
	opStore   store.OperationStore
	snapStore store.SnapshotStore
	caster    broadcast.Broadcaster
	options   *Options
	logger    *zap.Logger
}

// NewRegistry creates a hub registry. caster may be nil for single-node
// deployments without a relay.
func NewRegistry(nodeID string, opStore store.OperationStore, snapStore store.SnapshotStore,
	caster broadcast.Broadcaster, options *Options, logger *zap.Logger) *Registry {
	if options == nil {
		options = DefaultOptions()
	}
	return &Registry{
		hubs:      make(map[string]*Hub),
		nodeID:    nodeID,
		opStore:   opStore,
		snapStore: snapStore,
		caster:    caster,
		options:   options,
		logger:    logger,
	}
}

// GetOrCreate returns the document's hub, creating and seeding it if
// needed. The registry lock covers seeding so no document ever gets two
// hubs.
func (r *Registry) GetOrCreate(ctx context.Context, documentID string) (*Hub, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.hubs[documentID]; ok {
		return h, nil
	}

	hist, err := r.seedHistory(ctx, documentID)
	if err != nil {
		return nil, err
	}

	h := newHub(documentID, r.nodeID, hist, r.opStore, r.snapStore, r.caster,
		r.options, r.remove, r.logger)
	if r.caster != nil {
		unsubscribe, err := r.caster.Subscribe(ctx, documentID, h.handleRemote)
		if err != nil {
			return nil, domain.WrapError(domain.CodeInternal, "failed to subscribe hub to relay", err)
		}
		h.unsubscribe = unsubscribe
	}
	r.hubs[documentID] = h
	go h.run()

	r.logger.Info("Hub created",
		zap.String("document_id", documentID),
		zap.Int64("version", hist.CurrentVersion()),
		zap.Int64("floor", hist.Floor()))
	return h, nil
}

// Get returns the document's hub if one is live.
func (r *Registry) Get(documentID string) (*Hub, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.hubs[documentID]
	if !ok {
		return nil, domain.NewError(domain.CodeUnknownDocument, "document "+documentID+" has no live hub")
	}
	return h, nil
}

// Len returns the number of live hubs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hubs)
}

// Close shuts down every hub.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	hubs := make([]*Hub, 0, len(r.hubs))
	for _, h := range r.hubs {
		hubs = append(hubs, h)
	}
	r.mu.Unlock()

	for _, h := range hubs {
		h.Shutdown(ctx)
	}
}

// seedHistory rebuilds a document's in-memory history from the durable
// stores: latest snapshot first, then every persisted operation past it.
func (r *Registry) seedHistory(ctx context.Context, documentID string) (*history.History, error) {
	var snapshotText string
	var snapshotVersion int64

	snap, err := r.snapStore.Latest(ctx, documentID)
	if err != nil {
		return nil, domain.WrapError(domain.CodeStoreUnavailable, "failed to load latest snapshot", err)
	}
	if snap != nil {
		snapshotText = snap.Text
		snapshotVersion = snap.Version
	}

	ops, err := r.opStore.LoadSince(ctx, documentID, snapshotVersion)
	if err != nil {
		return nil, domain.WrapError(domain.CodeStoreUnavailable, "failed to load persisted operations", err)
	}

	hist := history.New(documentID, r.options.HistoryWindow)
	if err := hist.Seed(snapshotText, snapshotVersion, ops); err != nil {
		return nil, domain.WrapError(domain.CodeInternal, "persisted history is inconsistent", err)
	}
	return hist, nil
}

// remove forgets a terminated hub. A replacement hub created between the
// termination and this callback is left alone.
func (r *Registry) remove(documentID string, h *Hub) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.hubs[documentID]; ok && current == h {
		delete(r.hubs, documentID)
	}
}
