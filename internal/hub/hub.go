// Package hub hosts the per-document authority that serializes concurrent
// edits. Every state change of one document flows through its hub's worker
// goroutine, which gives the operation log a total order without locking
// the history.
package hub

import (
	"context"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"collabtext/internal/broadcast"
	"collabtext/internal/domain"
	"collabtext/internal/history"
	"collabtext/internal/ot"
	"collabtext/internal/store"
)

// DefaultQueueSize bounds the hub's inbound queue.
const DefaultQueueSize = 1024

// DefaultIdleGrace is how long a hub without subscribers lingers before it
// terminates, so a quick reconnect does not reload the history.
const DefaultIdleGrace = 30 * time.Second

// Hub lifecycle states.
const (
	stateNew = iota
	stateActive
	stateDraining
	stateTerminated
)

type reqKind int

const (
	reqJoin reqKind = iota
	reqLeave
	reqSubmit
	reqBatch
	reqSync
	reqPresence
	reqStats
	reqRemote
	reqShutdown
)

// request is one message into the hub worker. reply is buffered so the
// worker never blocks on a caller that gave up waiting.
type request struct {
	kind      reqKind
	ctx       context.Context
	sess      *domain.Session
	out       *Outbound
	sessionID string
	op        *domain.OperationPayload
	batch     *domain.BatchPayload
	known     int64
	presence  domain.Presence
	remote    *broadcast.Frame
	reply     chan response
}

type response struct {
	join  *JoinResult
	ops   []*domain.Operation
	batch *domain.BatchResultPayload
	sync  *domain.SyncResponsePayload
	stats *domain.StatsPayload
	err   error
}

// JoinResult initializes a freshly joined session.
type JoinResult struct {
	CurrentVersion int64
	SnapshotText   string
	ActiveUsers    []domain.Presence
}

// subscriber is the hub's weak reference to a session: its id, a presence
// copy for join/sync responses, and the outbound send handle. out is nil
// for pull-only sessions, which fetch updates through Sync instead.
type subscriber struct {
	sessionID string
	presence  domain.Presence
	out       *Outbound
}

// Options configures a hub.
type Options struct {
	QueueSize     int
	HistoryWindow int64
	IdleGrace     time.Duration
}

// DefaultOptions returns the default hub options.
func DefaultOptions() *Options {
	return &Options{
		QueueSize:     DefaultQueueSize,
		HistoryWindow: history.DefaultWindow,
		IdleGrace:     DefaultIdleGrace,
	}
}

// Hub is the single-writer authority for one document.
type Hub struct {
	documentID string
	nodeID     string

	history   *history.History
	opStore   store.OperationStore
	snapStore store.SnapshotStore
	caster    broadcast.Broadcaster
	logger    *zap.Logger

	inbound     chan *request
	done        chan struct{}
	idleTimer   *time.Timer
	idleGrace   time.Duration
	state       int
	subscribers map[string]*subscriber

	storeHealthy bool
	unsubscribe  func()
	onTerminate  func(documentID string, h *Hub)
}

// newHub wires a hub around a seeded history. The registry is the only
// caller; it subscribes the hub to the broadcaster and starts the worker.
func newHub(documentID, nodeID string, hist *history.History, opStore store.OperationStore,
	snapStore store.SnapshotStore, caster broadcast.Broadcaster, options *Options,
	onTerminate func(string, *Hub), logger *zap.Logger) *Hub {
	if options == nil {
		options = DefaultOptions()
	}
	h := &Hub{
		documentID:   documentID,
		nodeID:       nodeID,
		history:      hist,
		opStore:      opStore,
		snapStore:    snapStore,
		caster:       caster,
		logger:       logger,
		inbound:      make(chan *request, options.QueueSize),
		done:         make(chan struct{}),
		idleGrace:    options.IdleGrace,
		state:        stateNew,
		subscribers:  make(map[string]*subscriber),
		storeHealthy: true,
		onTerminate:  onTerminate,
	}
	// The timer starts armed: a hub whose first join never arrives drains
	// itself after the grace period instead of leaking.
	h.idleTimer = time.NewTimer(options.IdleGrace)
	return h
}

// DocumentID returns the id of the document this hub serializes.
func (h *Hub) DocumentID() string {
	return h.documentID
}

// Done is closed once the hub has terminated.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Join registers the session and its outbound handle and returns the state
// a client needs to initialize. out may be nil for pull-only sessions.
func (h *Hub) Join(ctx context.Context, sess *domain.Session, out *Outbound) (*JoinResult, error) {
	resp, err := h.send(ctx, &request{kind: reqJoin, sess: sess, out: out})
	if err != nil {
		return nil, err
	}
	return resp.join, nil
}

// Leave unregisters the session. Unknown sessions are ignored.
func (h *Hub) Leave(ctx context.Context, sessionID string) error {
	_, err := h.send(ctx, &request{kind: reqLeave, sessionID: sessionID})
	return err
}

// Submit validates, transforms, persists and broadcasts one operation. The
// result is the run of accepted operations: usually one, two when a
// concurrent insert split the delete.
func (h *Hub) Submit(ctx context.Context, sessionID string, op *domain.OperationPayload) ([]*domain.Operation, error) {
	resp, err := h.send(ctx, &request{kind: reqSubmit, ctx: ctx, sessionID: sessionID, op: op})
	if err != nil {
		return nil, err
	}
	return resp.ops, nil
}

// SubmitBatch processes an ordered run of operations sharing one base
// version. A failed element is reported by index and does not roll back
// earlier accepted elements.
func (h *Hub) SubmitBatch(ctx context.Context, sessionID string, batch *domain.BatchPayload) (*domain.BatchResultPayload, error) {
	resp, err := h.send(ctx, &request{kind: reqBatch, ctx: ctx, sessionID: sessionID, batch: batch})
	if err != nil {
		return nil, err
	}
	return resp.batch, nil
}

// Sync returns everything past knownVersion. Below the retained floor the
// response degrades to a full snapshot.
func (h *Hub) Sync(ctx context.Context, knownVersion int64) (*domain.SyncResponsePayload, error) {
	resp, err := h.send(ctx, &request{kind: reqSync, known: knownVersion})
	if err != nil {
		return nil, err
	}
	return resp.sync, nil
}

// UpdatePresence broadcasts the session's cursor state. Presence bypasses
// the history and consumes no version.
func (h *Hub) UpdatePresence(ctx context.Context, sessionID string, p domain.Presence) error {
	_, err := h.send(ctx, &request{kind: reqPresence, sessionID: sessionID, presence: p})
	return err
}

// Stats reports the hub's share of the document statistics.
func (h *Hub) Stats(ctx context.Context) (*domain.StatsPayload, error) {
	resp, err := h.send(ctx, &request{kind: reqStats})
	if err != nil {
		return nil, err
	}
	return resp.stats, nil
}

// Shutdown terminates the hub regardless of subscribers.
func (h *Hub) Shutdown(ctx context.Context) {
	select {
	case h.inbound <- &request{kind: reqShutdown}:
	case <-h.done:
	case <-ctx.Done():
	}
}

// send enqueues a request and waits for the worker's reply. A full inbound
// queue surfaces as OVERLOADED once the caller's deadline expires.
func (h *Hub) send(ctx context.Context, req *request) (response, error) {
	req.reply = make(chan response, 1)

	select {
	case h.inbound <- req:
	case <-h.done:
		return response{}, domain.NewError(domain.CodeUnknownDocument, "document "+h.documentID+" is no longer served")
	case <-ctx.Done():
		return response{}, domain.NewError(domain.CodeOverloaded, "document "+h.documentID+" is overloaded")
	}

	select {
	case resp := <-req.reply:
		return resp, resp.err
	case <-h.done:
		// The worker may have answered just before terminating.
		select {
		case resp := <-req.reply:
			return resp, resp.err
		default:
		}
		return response{}, domain.NewError(domain.CodeUnknownDocument, "document "+h.documentID+" is no longer served")
	case <-ctx.Done():
		return response{}, domain.NewError(domain.CodeOverloaded, "document "+h.documentID+" did not answer in time")
	}
}

// handleRemote enqueues a relayed frame without blocking; relays are lossy
// by contract and clients reconcile through sync.
func (h *Hub) handleRemote(frame *broadcast.Frame) {
	select {
	case h.inbound <- &request{kind: reqRemote, remote: frame}:
	case <-h.done:
	default:
	}
}

// run is the hub worker. It is the only goroutine that touches the history
// and the subscriber set.
func (h *Hub) run() {
	for {
		select {
		case req := <-h.inbound:
			h.dispatch(req)
		case <-h.idleTimer.C:
			if len(h.subscribers) == 0 {
				h.terminate()
			}
		}
		if h.state == stateTerminated {
			return
		}
	}
}

func (h *Hub) dispatch(req *request) {
	switch req.kind {
	case reqJoin:
		h.handleJoin(req)
	case reqLeave:
		h.handleLeave(req)
	case reqSubmit:
		h.handleSubmit(req)
	case reqBatch:
		h.handleBatch(req)
	case reqSync:
		h.handleSync(req)
	case reqPresence:
		h.handlePresence(req)
	case reqStats:
		h.handleStats(req)
	case reqRemote:
		h.relayRemote(req.remote)
	case reqShutdown:
		h.terminate()
	}
}

func (h *Hub) reply(req *request, resp response) {
	if req.reply != nil {
		req.reply <- resp
	}
}

func (h *Hub) handleJoin(req *request) {
	h.state = stateActive
	if !h.idleTimer.Stop() {
		select {
		case <-h.idleTimer.C:
		default:
		}
	}

	h.subscribers[req.sess.ID] = &subscriber{
		sessionID: req.sess.ID,
		presence:  req.sess.Presence(),
		out:       req.out,
	}

	h.logger.Info("Session joined document",
		zap.String("document_id", h.documentID),
		zap.String("session_id", req.sess.ID),
		zap.String("user_id", req.sess.UserID),
		zap.Int64("version", h.history.CurrentVersion()))

	result := &JoinResult{
		CurrentVersion: h.history.CurrentVersion(),
		SnapshotText:   h.history.CurrentText(),
		ActiveUsers:    h.presences(),
	}
	h.reply(req, response{join: result})

	joined := &domain.ServerMessage{
		Type: domain.MsgUserJoined,
		Data: domain.UserPayload{UserID: req.sess.UserID, ActiveUsers: h.userIDs()},
	}
	h.fanOut(joined, req.sess.ID)
	h.publish(joined)
}

func (h *Hub) handleLeave(req *request) {
	sub, ok := h.subscribers[req.sessionID]
	if ok {
		delete(h.subscribers, req.sessionID)
		if sub.out != nil {
			sub.out.Close()
		}
		left := &domain.ServerMessage{
			Type: domain.MsgUserLeft,
			Data: domain.UserPayload{UserID: sub.presence.UserID, ActiveUsers: h.userIDs()},
		}
		h.fanOut(left, "")
		h.publish(left)

		h.logger.Info("Session left document",
			zap.String("document_id", h.documentID),
			zap.String("session_id", req.sessionID))
	}
	h.reply(req, response{})
	h.armIdleTimerIfEmpty()
}

func (h *Hub) handleSubmit(req *request) {
	sub, ok := h.subscribers[req.sessionID]
	if !ok {
		h.reply(req, response{err: domain.NewError(domain.CodeSessionClosed,
			"session "+req.sessionID+" is not subscribed to document "+h.documentID)})
		return
	}
	if err := req.ctx.Err(); err != nil {
		h.reply(req, response{err: domain.WrapError(domain.CodeOverloaded, "submit abandoned before processing", err)})
		return
	}

	accepted, err := h.accept(req.ctx, sub, req.op)
	if err != nil {
		h.reply(req, response{err: err})
		return
	}
	h.maybeTruncate(req.ctx)
	h.reply(req, response{ops: accepted})
}

func (h *Hub) handleBatch(req *request) {
	sub, ok := h.subscribers[req.sessionID]
	if !ok {
		h.reply(req, response{err: domain.NewError(domain.CodeSessionClosed,
			"session "+req.sessionID+" is not subscribed to document "+h.documentID)})
		return
	}

	result := &domain.BatchResultPayload{
		BatchID:  req.batch.BatchID,
		Accepted: []*domain.Operation{},
		Rejected: []domain.BatchRejection{},
	}

	// Elements already accepted sit in the history, so each later element
	// is transformed against both the intervening operations and its
	// earlier batch siblings by the same fold.
	for i := range req.batch.Ops {
		p := req.batch.Ops[i]
		p.BaseVersion = req.batch.BaseVersion
		accepted, err := h.accept(req.ctx, sub, &p)
		if err != nil {
			result.Rejected = append(result.Rejected, domain.BatchRejection{
				Index:  i,
				Reason: err.Error(),
			})
			if domain.IsCode(err, domain.CodeStaleBase) || domain.IsCode(err, domain.CodeStoreUnavailable) {
				// Nothing later in the batch can fare better.
				for j := i + 1; j < len(req.batch.Ops); j++ {
					result.Rejected = append(result.Rejected, domain.BatchRejection{
						Index:  j,
						Reason: err.Error(),
					})
				}
				break
			}
			continue
		}
		result.Accepted = append(result.Accepted, accepted...)
	}

	result.FinalVersion = h.history.CurrentVersion()
	h.maybeTruncate(req.ctx)
	h.reply(req, response{batch: result})
}

// accept runs the submit pipeline for one client operation: validate,
// transform, clip, persist, append, fan out. It returns the accepted run.
func (h *Hub) accept(ctx context.Context, sub *subscriber, p *domain.OperationPayload) ([]*domain.Operation, error) {
	op := p.Operation(sub.presence.UserID)
	if err := op.Validate(); err != nil {
		return nil, err
	}
	if err := h.ensureStore(ctx); err != nil {
		return nil, err
	}

	run, err := h.history.TransformAgainstNew(op, p.BaseVersion)
	if err != nil {
		return nil, err
	}

	accepted := make([]*domain.Operation, 0, len(run))
	for _, piece := range run {
		docLen := utf8.RuneCountInString(h.history.CurrentText())
		piece = ot.Clip(piece, docLen)
		if err := piece.Validate(); err != nil {
			// Clipping must leave a structurally valid operation behind;
			// anything else is a transformer bug.
			h.logger.Error("Transformed operation violates invariants",
				zap.String("document_id", h.documentID),
				zap.Any("operation", piece),
				zap.Error(err))
			return accepted, domain.WrapError(domain.CodeInternal, "transformed operation violates invariants", err)
		}

		piece.ID = domain.NewOperationID()
		piece.Timestamp = time.Now()
		piece.Version = h.history.CurrentVersion() + 1

		if err := h.opStore.Append(ctx, h.documentID, piece); err != nil {
			h.storeHealthy = false
			h.logger.Error("Operation store append failed",
				zap.String("document_id", h.documentID),
				zap.Int64("version", piece.Version),
				zap.Error(err))
			return accepted, domain.WrapError(domain.CodeStoreUnavailable, "failed to persist operation", err)
		}
		if err := h.history.Append(piece); err != nil {
			// The store accepted a version the in-memory history refuses:
			// the two have diverged and this hub cannot be trusted.
			h.logger.Error("History corruption detected",
				zap.String("document_id", h.documentID),
				zap.Error(err))
			h.terminate()
			return accepted, domain.WrapError(domain.CodeInternal, "history corruption detected", err)
		}

		msg := &domain.ServerMessage{Type: domain.MsgOperation, Data: piece}
		h.fanOut(msg, sub.sessionID)
		h.publish(msg)
		accepted = append(accepted, piece)
	}
	return accepted, nil
}

// ensureStore health-checks the operation store after a failed append and
// refuses submits until it answers again.
func (h *Hub) ensureStore(ctx context.Context) error {
	if h.storeHealthy {
		return nil
	}
	if err := h.opStore.Ping(ctx); err != nil {
		return domain.WrapError(domain.CodeStoreUnavailable, "operation store is unavailable", err)
	}
	h.storeHealthy = true
	return nil
}

func (h *Hub) handleSync(req *request) {
	resp := &domain.SyncResponsePayload{
		CurrentVersion: h.history.CurrentVersion(),
		ActiveUsers:    h.presences(),
	}
	if req.known < h.history.Floor() {
		// Below the retained floor there is no incremental path; hand the
		// client the full text to rebase on.
		resp.SnapshotText = h.history.CurrentText()
		resp.Resynced = true
		resp.OperationsSince = []*domain.Operation{}
	} else {
		resp.OperationsSince = h.history.Since(req.known)
		if resp.OperationsSince == nil {
			resp.OperationsSince = []*domain.Operation{}
		}
	}
	h.reply(req, response{sync: resp})
}

func (h *Hub) handlePresence(req *request) {
	sub, ok := h.subscribers[req.sessionID]
	if !ok {
		h.reply(req, response{err: domain.NewError(domain.CodeSessionClosed,
			"session "+req.sessionID+" is not subscribed to document "+h.documentID)})
		return
	}
	sub.presence = req.presence
	h.reply(req, response{})

	msg := &domain.ServerMessage{Type: domain.MsgPresence, Data: req.presence}
	h.fanOut(msg, req.sessionID)
	h.publish(msg)
}

func (h *Hub) handleStats(req *request) {
	h.reply(req, response{stats: &domain.StatsPayload{
		DocumentID:      h.documentID,
		TotalOperations: h.history.CurrentVersion(),
		ActiveUsers:     len(h.subscribers),
	}})
}

// relayRemote fans a frame from another node out to local subscribers.
func (h *Hub) relayRemote(frame *broadcast.Frame) {
	if frame == nil || frame.NodeID == h.nodeID || frame.Message == nil {
		return
	}
	h.fanOut(frame.Message, "")
}

// fanOut sends msg to every subscriber except excludeSessionID. A
// subscriber whose outbound queue is full is dropped on the spot; it will
// resync after reconnecting.
func (h *Hub) fanOut(msg *domain.ServerMessage, excludeSessionID string) {
	var dropped []*subscriber
	for id, sub := range h.subscribers {
		if id == excludeSessionID || sub.out == nil {
			continue
		}
		if !sub.out.TrySend(msg) {
			dropped = append(dropped, sub)
		}
	}

	for _, sub := range dropped {
		// The recursive fan-out below may have removed this one already.
		if _, still := h.subscribers[sub.sessionID]; !still {
			continue
		}
		delete(h.subscribers, sub.sessionID)
		sub.out.Close()
		h.logger.Warn("Dropping slow subscriber",
			zap.String("document_id", h.documentID),
			zap.String("session_id", sub.sessionID),
			zap.String("user_id", sub.presence.UserID))
		left := &domain.ServerMessage{
			Type: domain.MsgUserLeft,
			Data: domain.UserPayload{UserID: sub.presence.UserID, ActiveUsers: h.userIDs()},
		}
		h.fanOut(left, "")
		h.publish(left)
	}
	if len(dropped) > 0 {
		h.armIdleTimerIfEmpty()
	}
}

// publish relays msg to peer nodes through the broadcaster.
func (h *Hub) publish(msg *domain.ServerMessage) {
	if h.caster == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame := &broadcast.Frame{NodeID: h.nodeID, DocumentID: h.documentID, Message: msg}
	if err := h.caster.Publish(ctx, frame); err != nil {
		h.logger.Warn("Failed to relay frame to peer nodes",
			zap.String("document_id", h.documentID),
			zap.Error(err))
	}
}

// maybeTruncate trims the retained window once it outgrows the configured
// size. The truncated prefix is only dropped after a snapshot at the cut
// version has been persisted.
func (h *Hub) maybeTruncate(ctx context.Context) {
	if !h.history.NeedsTruncation() {
		return
	}
	cut := h.history.TruncationTarget()
	text, err := h.history.TextAt(cut)
	if err != nil {
		h.logger.Error("Failed to compute truncation snapshot",
			zap.String("document_id", h.documentID),
			zap.Int64("version", cut),
			zap.Error(err))
		return
	}
	if _, err := h.snapStore.Create(ctx, h.documentID, text, cut); err != nil {
		h.logger.Warn("Snapshot store rejected truncation snapshot; keeping history",
			zap.String("document_id", h.documentID),
			zap.Int64("version", cut),
			zap.Error(err))
		return
	}
	if err := h.history.TruncateTo(cut); err != nil {
		h.logger.Error("History truncation failed",
			zap.String("document_id", h.documentID),
			zap.Int64("version", cut),
			zap.Error(err))
		return
	}
	h.logger.Info("History window truncated",
		zap.String("document_id", h.documentID),
		zap.Int64("floor", cut),
		zap.Int64("version", h.history.CurrentVersion()))
}

func (h *Hub) armIdleTimerIfEmpty() {
	if len(h.subscribers) > 0 || h.state == stateTerminated {
		return
	}
	h.state = stateDraining
	if !h.idleTimer.Stop() {
		select {
		case <-h.idleTimer.C:
		default:
		}
	}
	h.idleTimer.Reset(h.idleGrace)
}

// terminate moves the hub to its terminal state: subscribers are cut off,
// the broadcaster subscription is dropped and the registry forgets the hub.
func (h *Hub) terminate() {
	if h.state == stateTerminated {
		return
	}
	h.state = stateTerminated
	close(h.done)

	for id, sub := range h.subscribers {
		if sub.out != nil {
			sub.out.Close()
		}
		delete(h.subscribers, id)
	}
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	if h.onTerminate != nil {
		h.onTerminate(h.documentID, h)
	}

	h.logger.Info("Hub terminated",
		zap.String("document_id", h.documentID),
		zap.Int64("version", h.history.CurrentVersion()))
}

func (h *Hub) presences() []domain.Presence {
	out := make([]domain.Presence, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		out = append(out, sub.presence)
	}
	return out
}

func (h *Hub) userIDs() []string {
	seen := make(map[string]struct{}, len(h.subscribers))
	out := make([]string, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		if _, ok := seen[sub.presence.UserID]; ok {
			continue
		}
		seen[sub.presence.UserID] = struct{}{}
		out = append(out, sub.presence.UserID)
	}
	return out
}
