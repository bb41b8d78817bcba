package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"collabtext/internal/broadcast"
	"collabtext/internal/domain"
	"collabtext/internal/hub"
	"collabtext/internal/session"
	"collabtext/internal/store"
)

// wireMessage is a ServerMessage as it arrives over the wire, with the
// payload still raw.
type wireMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	registry := hub.NewRegistry("node-1",
		store.NewMemoryOperationStore(), store.NewMemorySnapshotStore(),
		broadcast.NewMemoryBroadcaster(),
		&hub.Options{QueueSize: 64, HistoryWindow: 1000, IdleGrace: time.Hour},
		zap.NewNop())
	sessions := session.NewManager(nil, nil, zap.NewNop())

	router := mux.NewRouter()
	NewHandler(registry, sessions, 64, 5*time.Second, zap.NewNop()).Register(router)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		registry.Close(ctx)
		sessions.Stop()
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server, doc, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/documents/" + doc + "?user_id=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) *wireMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wireMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return &msg
}

func readFrameOfType(t *testing.T, conn *websocket.Conn, msgType string) *wireMessage {
	t.Helper()
	for i := 0; i < 10; i++ {
		msg := readFrame(t, conn)
		if msg.Type == msgType {
			return msg
		}
	}
	t.Fatalf("no %s frame within 10 frames", msgType)
	return nil
}

func writeFrame(t *testing.T, conn *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(domain.ClientMessage{Type: msgType, Data: data}))
}

func TestConnectDeliversDocumentState(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv, "doc-1", "alice")

	msg := readFrame(t, conn)
	require.Equal(t, domain.MsgConnected, msg.Type)

	var connected domain.ConnectedPayload
	require.NoError(t, json.Unmarshal(msg.Data, &connected))
	assert.Equal(t, "doc-1", connected.DocumentID)
	assert.NotEmpty(t, connected.SessionID)
	assert.Equal(t, int64(0), connected.CurrentVersion)
	require.Len(t, connected.ActiveUsers, 1)
	assert.Equal(t, "alice", connected.ActiveUsers[0].UserID)
}

func TestConnectRequiresUserID(t *testing.T) {
	srv := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/documents/doc-1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestOperationRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	alice := dial(t, srv, "doc-1", "alice")
	readFrameOfType(t, alice, domain.MsgConnected)
	bob := dial(t, srv, "doc-1", "bob")
	readFrameOfType(t, bob, domain.MsgConnected)
	readFrameOfType(t, alice, domain.MsgUserJoined)

	writeFrame(t, alice, domain.MsgOperation, domain.OperationPayload{
		OpType: domain.OpInsert, Position: 0, Content: "hello", BaseVersion: 0,
	})

	// The submitter gets its accepted operation back with the assigned
	// version; the peer receives the same frame via fan-out.
	for _, conn := range []*websocket.Conn{alice, bob} {
		msg := readFrameOfType(t, conn, domain.MsgOperation)
		var op domain.Operation
		require.NoError(t, json.Unmarshal(msg.Data, &op))
		assert.Equal(t, int64(1), op.Version)
		assert.Equal(t, "hello", op.Content)
		assert.Equal(t, "alice", op.Author)
	}
}

func TestSyncRequestRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	conn := dial(t, srv, "doc-1", "alice")
	readFrameOfType(t, conn, domain.MsgConnected)

	writeFrame(t, conn, domain.MsgOperation, domain.OperationPayload{
		OpType: domain.OpInsert, Position: 0, Content: "abc", BaseVersion: 0,
	})
	readFrameOfType(t, conn, domain.MsgOperation)

	writeFrame(t, conn, domain.MsgSyncRequest, domain.SyncRequestPayload{KnownVersion: 0})
	msg := readFrameOfType(t, conn, domain.MsgSyncResponse)

	var resp domain.SyncResponsePayload
	require.NoError(t, json.Unmarshal(msg.Data, &resp))
	assert.Equal(t, int64(1), resp.CurrentVersion)
	require.Len(t, resp.OperationsSince, 1)
	assert.Equal(t, "abc", resp.OperationsSince[0].Content)
}

func TestStaleSubmitGetsErrorFrame(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv, "doc-1", "alice")
	readFrameOfType(t, conn, domain.MsgConnected)

	writeFrame(t, conn, domain.MsgOperation, domain.OperationPayload{
		OpType: "replace", Position: 0, Content: "x",
	})

	msg := readFrameOfType(t, conn, domain.MsgError)
	var payload domain.ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, domain.CodeInvalidType, payload.Code)
}

func TestCursorBroadcast(t *testing.T) {
	srv := newTestServer(t)

	alice := dial(t, srv, "doc-1", "alice")
	readFrameOfType(t, alice, domain.MsgConnected)
	bob := dial(t, srv, "doc-1", "bob")
	readFrameOfType(t, bob, domain.MsgConnected)

	writeFrame(t, alice, domain.MsgCursor, domain.CursorPayload{
		Position: 3, SelectionStart: 1, SelectionEnd: 5,
	})

	msg := readFrameOfType(t, bob, domain.MsgPresence)
	var p domain.Presence
	require.NoError(t, json.Unmarshal(msg.Data, &p))
	assert.Equal(t, "alice", p.UserID)
	assert.Equal(t, 3, p.Cursor)
}

func TestPingPong(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv, "doc-1", "alice")
	readFrameOfType(t, conn, domain.MsgConnected)

	require.NoError(t, conn.WriteJSON(domain.ClientMessage{Type: domain.MsgPing}))
	readFrameOfType(t, conn, domain.MsgPong)
}

func TestDisconnectNotifiesPeers(t *testing.T) {
	srv := newTestServer(t)

	alice := dial(t, srv, "doc-1", "alice")
	readFrameOfType(t, alice, domain.MsgConnected)
	bob := dial(t, srv, "doc-1", "bob")
	readFrameOfType(t, bob, domain.MsgConnected)
	readFrameOfType(t, alice, domain.MsgUserJoined)

	require.NoError(t, bob.Close())

	msg := readFrameOfType(t, alice, domain.MsgUserLeft)
	var payload domain.UserPayload
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, "bob", payload.UserID)
	assert.Equal(t, []string{"alice"}, payload.ActiveUsers)
}
