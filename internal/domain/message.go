package domain

import (
	"encoding/json"
	"time"
)

// Message types sent by clients.
const (
	MsgOperation   = "operation"
	MsgBatch       = "batch"
	MsgCursor      = "cursor"
	MsgSyncRequest = "sync_request"
	MsgPing        = "ping"
)

// Message types sent to clients. MsgOperation is shared: the server echoes
// accepted operations under the same discriminator.
const (
	MsgConnected    = "connected"
	MsgBatchResult  = "batch_result"
	MsgPresence     = "presence"
	MsgUserJoined   = "user_joined"
	MsgUserLeft     = "user_left"
	MsgSyncResponse = "sync_response"
	MsgError        = "error"
	MsgPong         = "pong"
)

// ClientMessage is an inbound frame. Data is decoded according to Type once
// the frame reaches the dispatcher, so the core only ever sees typed
// payloads.
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ServerMessage is an outbound frame.
type ServerMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// OperationPayload is the client's description of a single edit.
type OperationPayload struct {
	OpType      OperationType `json:"op_type"`
	Position    int           `json:"position"`
	Content     string        `json:"content,omitempty"`
	Length      int           `json:"length,omitempty"`
	BaseVersion int64         `json:"base_version"`
}

// Operation converts the payload into an untransformed Operation authored
// by the given user.
func (p *OperationPayload) Operation(author string) *Operation {
	return &Operation{
		Type:     p.OpType,
		Position: p.Position,
		Content:  p.Content,
		Length:   p.Length,
		Author:   author,
	}
}

// BatchPayload is an ordered run of operations sharing one base version.
type BatchPayload struct {
	BatchID     string             `json:"batch_id,omitempty"`
	BaseVersion int64              `json:"base_version"`
	Ops         []OperationPayload `json:"ops"`
}

// CursorPayload is a presence update.
type CursorPayload struct {
	Position       int `json:"position"`
	SelectionStart int `json:"selection_start"`
	SelectionEnd   int `json:"selection_end"`
}

// SyncRequestPayload asks for every operation past a known version.
type SyncRequestPayload struct {
	KnownVersion int64 `json:"known_version"`
}

// Presence is a user's cursor state as broadcast to peers.
type Presence struct {
	UserID         string `json:"user_id"`
	Color          string `json:"color"`
	Cursor         int    `json:"cursor"`
	SelectionStart int    `json:"selection_start"`
	SelectionEnd   int    `json:"selection_end"`
}

// ConnectedPayload initializes a freshly joined client.
type ConnectedPayload struct {
	DocumentID     string     `json:"document_id"`
	SessionID      string     `json:"session_id"`
	CurrentVersion int64      `json:"current_version"`
	SnapshotText   string     `json:"snapshot_text,omitempty"`
	ActiveUsers    []Presence `json:"active_users"`
}

// BatchRejection reports one failed batch element by index.
type BatchRejection struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// BatchResultPayload reports the outcome of a batch submission.
type BatchResultPayload struct {
	BatchID      string           `json:"batch_id,omitempty"`
	Accepted     []*Operation     `json:"accepted"`
	Rejected     []BatchRejection `json:"rejected"`
	FinalVersion int64            `json:"final_version"`
}

// UserPayload announces a join or leave together with the remaining roster.
type UserPayload struct {
	UserID      string   `json:"user_id"`
	ActiveUsers []string `json:"active_users"`
}

// SyncResponsePayload is the pull-mode catch-up answer. SnapshotText is set
// only when KnownVersion fell below the retained floor and the client must
// rebase on a full snapshot.
type SyncResponsePayload struct {
	CurrentVersion  int64        `json:"current_version"`
	OperationsSince []*Operation `json:"operations_since"`
	ActiveUsers     []Presence   `json:"active_users"`
	SnapshotText    string       `json:"snapshot_text,omitempty"`
	Resynced        bool         `json:"resynced,omitempty"`
}

// ErrorPayload surfaces a failed request to the submitter.
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// StatsPayload summarizes collaboration activity on one document.
type StatsPayload struct {
	DocumentID      string    `json:"document_id"`
	TotalOperations int64     `json:"total_operations"`
	ActiveUsers     int       `json:"active_users"`
	LastActivity    time.Time `json:"last_activity"`
	MostActiveUser  string    `json:"most_active_user,omitempty"`
}

// ErrorMessage builds an error frame from a domain error.
func ErrorMessage(err error) *ServerMessage {
	code := CodeOf(err)
	return &ServerMessage{
		Type: MsgError,
		Data: ErrorPayload{Code: code, Message: err.Error()},
	}
}
