// Package http serves the pull (request/response) surface. It mirrors the
// WebSocket transport for clients without a push channel: same semantics,
// same error codes.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"collabtext/internal/domain"
	"collabtext/internal/hub"
	"collabtext/internal/session"
)

// Handler exposes the collaboration engine over plain HTTP.
type Handler struct {
	registry      *hub.Registry
	sessions      *session.Manager
	submitTimeout time.Duration
	logger        *zap.Logger
}

// NewHandler creates the pull-surface handler.
func NewHandler(registry *hub.Registry, sessions *session.Manager,
	submitTimeout time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		registry:      registry,
		sessions:      sessions,
		submitTimeout: submitTimeout,
		logger:        logger,
	}
}

type joinRequest struct {
	UserID string `json:"user_id"`
}

type joinResponse struct {
	Session        *domain.Session   `json:"session"`
	CurrentVersion int64             `json:"current_version"`
	SnapshotText   string            `json:"snapshot_text"`
	ActiveUsers    []domain.Presence `json:"active_users"`
}

// HandleJoin is POST /api/documents/{id}/join.
func (h *Handler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["id"]
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, domain.NewError(domain.CodeInvalidType, "user_id is required"))
		return
	}

	docHub, err := h.registry.GetOrCreate(r.Context(), documentID)
	if err != nil {
		writeError(w, err)
		return
	}

	sess := h.sessions.Open(documentID, req.UserID)
	joined, err := docHub.Join(r.Context(), sess, nil)
	if err != nil {
		h.sessions.Close(sess.ID)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, joinResponse{
		Session:        sess,
		CurrentVersion: joined.CurrentVersion,
		SnapshotText:   joined.SnapshotText,
		ActiveUsers:    joined.ActiveUsers,
	})
}

type leaveRequest struct {
	SessionID string `json:"session_id"`
}

// HandleLeave is POST /api/documents/{id}/leave.
func (h *Handler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["id"]
	var req leaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, domain.NewError(domain.CodeInvalidType, "session_id is required"))
		return
	}

	docHub, err := h.registry.Get(documentID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := docHub.Leave(r.Context(), req.SessionID); err != nil {
		writeError(w, err)
		return
	}
	h.sessions.Close(req.SessionID)
	w.WriteHeader(http.StatusNoContent)
}

type submitRequest struct {
	SessionID string `json:"session_id"`
	domain.OperationPayload
}

type submitResponse struct {
	Accepted       []*domain.Operation `json:"accepted"`
	CurrentVersion int64               `json:"current_version"`
}

// HandleSubmit is POST /api/documents/{id}/operations.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["id"]
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, domain.NewError(domain.CodeInvalidType, "session_id and operation are required"))
		return
	}

	docHub, err := h.registry.Get(documentID)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := h.submitContext(r)
	defer cancel()
	accepted, err := docHub.Submit(ctx, req.SessionID, &req.OperationPayload)
	if err != nil {
		writeError(w, err)
		return
	}
	h.sessions.Touch(req.SessionID)

	var current int64
	if n := len(accepted); n > 0 {
		current = accepted[n-1].Version
	}
	writeJSON(w, http.StatusOK, submitResponse{Accepted: accepted, CurrentVersion: current})
}

type batchRequest struct {
	SessionID string `json:"session_id"`
	domain.BatchPayload
}

// HandleBatch is POST /api/documents/{id}/operations/batch.
func (h *Handler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["id"]
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, domain.NewError(domain.CodeInvalidType, "session_id and batch are required"))
		return
	}

	docHub, err := h.registry.Get(documentID)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := h.submitContext(r)
	defer cancel()
	result, err := docHub.SubmitBatch(ctx, req.SessionID, &req.BatchPayload)
	if err != nil {
		writeError(w, err)
		return
	}
	h.sessions.Touch(req.SessionID)
	writeJSON(w, http.StatusOK, result)
}

type syncRequest struct {
	SessionID    string `json:"session_id,omitempty"`
	KnownVersion int64  `json:"known_version"`
}

// HandleSync is POST /api/documents/{id}/sync.
func (h *Handler) HandleSync(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["id"]
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewError(domain.CodeInvalidType, "malformed sync request"))
		return
	}

	docHub, err := h.registry.Get(documentID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := docHub.Sync(r.Context(), req.KnownVersion)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.SessionID != "" {
		h.sessions.Touch(req.SessionID)
	}
	writeJSON(w, http.StatusOK, resp)
}

type cursorRequest struct {
	SessionID string `json:"session_id"`
	domain.CursorPayload
}

// HandleCursor is POST /api/documents/{id}/cursor.
func (h *Handler) HandleCursor(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["id"]
	var req cursorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		writeError(w, domain.NewError(domain.CodeInvalidType, "session_id is required"))
		return
	}

	docHub, err := h.registry.Get(documentID)
	if err != nil {
		writeError(w, err)
		return
	}

	sess, err := h.sessions.UpdateCursor(req.SessionID, req.Position, req.SelectionStart, req.SelectionEnd)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := docHub.UpdatePresence(r.Context(), req.SessionID, sess.Presence()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type usersResponse struct {
	ActiveUsers []domain.Presence `json:"active_users"`
}

// HandleUsers is GET /api/documents/{id}/users.
func (h *Handler) HandleUsers(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["id"]
	active := h.sessions.ActiveForDocument(documentID)
	presences := make([]domain.Presence, 0, len(active))
	for _, sess := range active {
		presences = append(presences, sess.Presence())
	}
	writeJSON(w, http.StatusOK, usersResponse{ActiveUsers: presences})
}

// HandleStats is GET /api/documents/{id}/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["id"]
	docHub, err := h.registry.Get(documentID)
	if err != nil {
		writeError(w, err)
		return
	}

	stats, err := docHub.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	// Activity is session data: the manager owns it, the hub does not.
	for _, sess := range h.sessions.ActiveForDocument(documentID) {
		if sess.LastActivity.After(stats.LastActivity) {
			stats.LastActivity = sess.LastActivity
			stats.MostActiveUser = sess.UserID
		}
	}
	writeJSON(w, http.StatusOK, stats)
}

// Register mounts every pull-surface route.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/documents/{id}/join", h.HandleJoin).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{id}/leave", h.HandleLeave).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{id}/operations", h.HandleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{id}/operations/batch", h.HandleBatch).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{id}/sync", h.HandleSync).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{id}/cursor", h.HandleCursor).Methods(http.MethodPost)
	r.HandleFunc("/api/documents/{id}/users", h.HandleUsers).Methods(http.MethodGet)
	r.HandleFunc("/api/documents/{id}/stats", h.HandleStats).Methods(http.MethodGet)
}

func (h *Handler) submitContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.submitTimeout)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps a domain error code onto an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case domain.CodeInvalidPosition, domain.CodeInvalidType:
		status = http.StatusBadRequest
	case domain.CodeStaleBase:
		status = http.StatusConflict
	case domain.CodeUnknownDocument:
		status = http.StatusNotFound
	case domain.CodeSessionClosed:
		status = http.StatusGone
	case domain.CodeOverloaded, domain.CodeStoreUnavailable:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, domain.ErrorPayload{Code: code, Message: err.Error()})
}
