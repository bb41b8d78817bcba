package domain

import "time"

// Session is one live participant of a document: one (document, user,
// connection) triple. Sessions are owned by the session manager; hubs hold
// only session ids and outbound send handles.
type Session struct {
	ID             string    `json:"id"`
	DocumentID     string    `json:"document_id"`
	UserID         string    `json:"user_id"`
	CursorPosition int       `json:"cursor_position"`
	SelectionStart int       `json:"selection_start"`
	SelectionEnd   int       `json:"selection_end"`
	Color          string    `json:"color"`
	JoinedAt       time.Time `json:"joined_at"`
	LastActivity   time.Time `json:"last_activity"`
	Active         bool      `json:"active"`
}

// Presence returns the session's ephemeral cursor state.
func (s *Session) Presence() Presence {
	return Presence{
		UserID:         s.UserID,
		Color:          s.Color,
		Cursor:         s.CursorPosition,
		SelectionStart: s.SelectionStart,
		SelectionEnd:   s.SelectionEnd,
	}
}
