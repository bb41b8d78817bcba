package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"collabtext/internal/domain"
	"collabtext/internal/hub"
	"collabtext/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client pumps one WebSocket connection: inbound frames are dispatched to
// the document hub, outbound frames are drained from the hub's send handle.
type Client struct {
	conn     *websocket.Conn
	sess     *domain.Session
	docHub   *hub.Hub
	sessions *session.Manager
	out      *hub.Outbound

	submitTimeout time.Duration
	logger        *zap.Logger
	closeOnce     sync.Once
}

// newClient wires a connection to its session, hub and outbound handle.
func newClient(conn *websocket.Conn, sess *domain.Session, docHub *hub.Hub,
	sessions *session.Manager, out *hub.Outbound, submitTimeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		conn:          conn,
		sess:          sess,
		docHub:        docHub,
		sessions:      sessions,
		out:           out,
		submitTimeout: submitTimeout,
		logger:        logger,
	}
}

// start launches the read and write pumps.
func (c *Client) start() {
	go c.writeLoop()
	go c.readLoop()
}

// readLoop consumes frames from the wire until the connection dies, then
// tears the session down.
func (c *Client) readLoop() {
	defer c.close()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket read failed",
					zap.String("session_id", c.sess.ID),
					zap.String("document_id", c.sess.DocumentID),
					zap.Error(err))
			}
			return
		}

		var msg domain.ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError(domain.NewError(domain.CodeInvalidType, "malformed frame"))
			continue
		}
		c.sessions.Touch(c.sess.ID)
		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *domain.ClientMessage) {
	switch msg.Type {
	case domain.MsgOperation:
		var p domain.OperationPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			c.sendError(domain.NewError(domain.CodeInvalidType, "malformed operation payload"))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.submitTimeout)
		accepted, err := c.docHub.Submit(ctx, c.sess.ID, &p)
		cancel()
		if err != nil {
			c.sendError(err)
			return
		}
		// The submitter learns its assigned versions through the same
		// operation frames its peers receive via fan-out.
		for _, op := range accepted {
			c.send(&domain.ServerMessage{Type: domain.MsgOperation, Data: op})
		}

	case domain.MsgBatch:
		var p domain.BatchPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			c.sendError(domain.NewError(domain.CodeInvalidType, "malformed batch payload"))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.submitTimeout)
		result, err := c.docHub.SubmitBatch(ctx, c.sess.ID, &p)
		cancel()
		if err != nil {
			c.sendError(err)
			return
		}
		c.send(&domain.ServerMessage{Type: domain.MsgBatchResult, Data: result})

	case domain.MsgCursor:
		var p domain.CursorPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			c.sendError(domain.NewError(domain.CodeInvalidType, "malformed cursor payload"))
			return
		}
		sess, err := c.sessions.UpdateCursor(c.sess.ID, p.Position, p.SelectionStart, p.SelectionEnd)
		if err != nil {
			c.sendError(err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.submitTimeout)
		err = c.docHub.UpdatePresence(ctx, c.sess.ID, sess.Presence())
		cancel()
		if err != nil {
			c.sendError(err)
		}

	case domain.MsgSyncRequest:
		var p domain.SyncRequestPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			c.sendError(domain.NewError(domain.CodeInvalidType, "malformed sync payload"))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.submitTimeout)
		resp, err := c.docHub.Sync(ctx, p.KnownVersion)
		cancel()
		if err != nil {
			c.sendError(err)
			return
		}
		c.send(&domain.ServerMessage{Type: domain.MsgSyncResponse, Data: resp})

	case domain.MsgPing:
		c.send(&domain.ServerMessage{Type: domain.MsgPong})

	default:
		c.sendError(domain.NewError(domain.CodeInvalidType, "unknown message type "+msg.Type))
	}
}

// writeLoop drains the outbound handle onto the wire and keeps the
// connection alive with protocol pings.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.out.C():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub dropped or closed this session.
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) send(msg *domain.ServerMessage) {
	c.out.TrySend(msg)
}

func (c *Client) sendError(err error) {
	c.out.TrySend(domain.ErrorMessage(err))
}

// close tears the session down once: hub unsubscription, session removal,
// outbound shutdown.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.docHub.Leave(ctx, c.sess.ID); err != nil {
			c.logger.Warn("Failed to leave hub",
				zap.String("session_id", c.sess.ID),
				zap.Error(err))
		}
		c.sessions.Close(c.sess.ID)
		c.out.Close()
		c.conn.Close()
	})
}
