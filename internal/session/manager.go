// Package session tracks live client sessions across all documents.
package session

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"

	"collabtext/internal/domain"
)

// palette is the set of presence colors. A user's color is a stable hash of
// the user id, so reconnecting keeps the color.
var palette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4",
	"#FFEAA7", "#DDA0DD", "#98D8C8", "#F7DC6F",
}

// DefaultIdleTimeout is how long a session may stay silent before the
// sweeper tears it down.
const DefaultIdleTimeout = 30 * time.Minute

// DefaultSweepInterval is how often the idle sweeper runs.
const DefaultSweepInterval = time.Minute

// Options configures a Manager.
type Options struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// DefaultOptions returns the default manager options.
func DefaultOptions() *Options {
	return &Options{
		IdleTimeout:   DefaultIdleTimeout,
		SweepInterval: DefaultSweepInterval,
	}
}

// ExpireFunc is called for each session the idle sweeper tears down, after
// the session has been removed from the manager.
type ExpireFunc func(sess *domain.Session)

// Manager owns every live session. Hubs never hold sessions directly; they
// work with session ids and outbound send handles.
type Manager struct {
	mu         sync.RWMutex
	sessions   map[string]*domain.Session
	byDocument map[string]map[string]struct{}

	options  *Options
	onExpire ExpireFunc
	logger   *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewManager creates a session manager. onExpire may be nil.
func NewManager(options *Options, onExpire ExpireFunc, logger *zap.Logger) *Manager {
	if options == nil {
		options = DefaultOptions()
	}
	return &Manager{
		sessions:   make(map[string]*domain.Session),
		byDocument: make(map[string]map[string]struct{}),
		options:    options,
		onExpire:   onExpire,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// ColorFor returns the palette color deterministically derived from userID.
func ColorFor(userID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return palette[h.Sum32()%uint32(len(palette))]
}

// Open creates a session for (documentID, userID).
func (m *Manager) Open(documentID, userID string) *domain.Session {
	now := time.Now()
	sess := &domain.Session{
		ID:           domain.NewSessionID(),
		DocumentID:   documentID,
		UserID:       userID,
		Color:        ColorFor(userID),
		JoinedAt:     now,
		LastActivity: now,
		Active:       true,
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	if m.byDocument[documentID] == nil {
		m.byDocument[documentID] = make(map[string]struct{})
	}
	m.byDocument[documentID][sess.ID] = struct{}{}
	m.mu.Unlock()

	m.logger.Info("Session opened",
		zap.String("session_id", sess.ID),
		zap.String("document_id", documentID),
		zap.String("user_id", userID))
	return sess
}

// Get returns a copy of the session.
func (m *Manager) Get(sessionID string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, domain.NewError(domain.CodeSessionClosed, "session "+sessionID+" is not active")
	}
	c := *sess
	return &c, nil
}

// Touch refreshes the session's activity timestamp.
func (m *Manager) Touch(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[sessionID]; ok {
		sess.LastActivity = time.Now()
	}
}

// UpdateCursor moves the session's cursor and selection. The selection is
// normalized so start never exceeds end.
func (m *Manager) UpdateCursor(sessionID string, position, selStart, selEnd int) (*domain.Session, error) {
	if selStart > selEnd {
		selStart, selEnd = selEnd, selStart
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, domain.NewError(domain.CodeSessionClosed, "session "+sessionID+" is not active")
	}
	sess.CursorPosition = position
	sess.SelectionStart = selStart
	sess.SelectionEnd = selEnd
	sess.LastActivity = time.Now()
	c := *sess
	return &c, nil
}

// Close destroys the session.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		sess.Active = false
		delete(m.sessions, sessionID)
		if ids := m.byDocument[sess.DocumentID]; ids != nil {
			delete(ids, sessionID)
			if len(ids) == 0 {
				delete(m.byDocument, sess.DocumentID)
			}
		}
	}
	m.mu.Unlock()

	if ok {
		m.logger.Info("Session closed",
			zap.String("session_id", sessionID),
			zap.String("document_id", sess.DocumentID))
	}
}

// ActiveForDocument returns deep copies of the document's live sessions.
func (m *Manager) ActiveForDocument(documentID string) []*domain.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*domain.Session, 0, len(m.byDocument[documentID]))
	for id := range m.byDocument[documentID] {
		sess := m.sessions[id]
		if sess == nil {
			continue
		}
		var c domain.Session
		if err := copier.Copy(&c, sess); err != nil {
			continue
		}
		out = append(out, &c)
	}
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CleanupIdle removes every session idle for longer than the timeout and
// returns how many were removed. Expired sessions are reported through the
// manager's ExpireFunc.
func (m *Manager) CleanupIdle(now time.Time) int {
	cutoff := now.Add(-m.options.IdleTimeout)

	m.mu.Lock()
	var expired []*domain.Session
	for id, sess := range m.sessions {
		if sess.LastActivity.Before(cutoff) {
			sess.Active = false
			expired = append(expired, sess)
			delete(m.sessions, id)
			if ids := m.byDocument[sess.DocumentID]; ids != nil {
				delete(ids, id)
				if len(ids) == 0 {
					delete(m.byDocument, sess.DocumentID)
				}
			}
		}
	}
	m.mu.Unlock()

	for _, sess := range expired {
		m.logger.Info("Idle session expired",
			zap.String("session_id", sess.ID),
			zap.String("document_id", sess.DocumentID),
			zap.Time("last_activity", sess.LastActivity))
		if m.onExpire != nil {
			m.onExpire(sess)
		}
	}
	return len(expired)
}

// StartSweeper runs CleanupIdle periodically until Stop is called.
func (m *Manager) StartSweeper() {
	go func() {
		ticker := time.NewTicker(m.options.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.CleanupIdle(time.Now())
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts the idle sweeper.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}
