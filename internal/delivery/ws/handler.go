// Package ws serves the bidirectional session transport.
package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabtext/internal/domain"
	"collabtext/internal/hub"
	"collabtext/internal/session"
)

// Handler upgrades HTTP requests into collaboration sessions.
type Handler struct {
	registry *hub.Registry
	sessions *session.Manager

	queueSize     int
	submitTimeout time.Duration
	logger        *zap.Logger
	upgrader      websocket.Upgrader
}

// NewHandler creates the WebSocket handler.
func NewHandler(registry *hub.Registry, sessions *session.Manager, queueSize int,
	submitTimeout time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		registry:      registry,
		sessions:      sessions,
		queueSize:     queueSize,
		submitTimeout: submitTimeout,
		logger:        logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin checks belong to the outer HTTP layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// HandleConnect is GET /ws/documents/{id}?user_id=…
func (h *Handler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	documentID := mux.Vars(r)["id"]
	userID := r.URL.Query().Get("user_id")
	if documentID == "" || userID == "" {
		http.Error(w, "document id and user_id are required", http.StatusBadRequest)
		return
	}

	docHub, err := h.registry.GetOrCreate(r.Context(), documentID)
	if err != nil {
		h.logger.Error("Failed to obtain hub",
			zap.String("document_id", documentID),
			zap.Error(err))
		http.Error(w, "document unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	sess := h.sessions.Open(documentID, userID)
	out := hub.NewOutbound(h.queueSize)

	joined, err := docHub.Join(r.Context(), sess, out)
	if err != nil {
		h.logger.Error("Join failed",
			zap.String("document_id", documentID),
			zap.String("session_id", sess.ID),
			zap.Error(err))
		h.sessions.Close(sess.ID)
		conn.WriteJSON(domain.ErrorMessage(err))
		conn.Close()
		return
	}

	active := make([]domain.Presence, 0, len(joined.ActiveUsers))
	active = append(active, joined.ActiveUsers...)
	out.TrySend(&domain.ServerMessage{
		Type: domain.MsgConnected,
		Data: domain.ConnectedPayload{
			DocumentID:     documentID,
			SessionID:      sess.ID,
			CurrentVersion: joined.CurrentVersion,
			SnapshotText:   joined.SnapshotText,
			ActiveUsers:    active,
		},
	})

	client := newClient(conn, sess, docHub, h.sessions, out, h.submitTimeout, h.logger)
	client.start()
}

// Register mounts the handler on the router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/ws/documents/{id}", h.HandleConnect).Methods(http.MethodGet)
}
