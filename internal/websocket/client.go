package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"relay-backend/internal/models"
	"relay-backend/internal/worker"
)

// Client is one live socket. It implements relay.Connection.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	id        uuid.UUID
	sessionID uuid.UUID

	writeMu sync.Mutex
}

func (c *Client) ID() uuid.UUID        { return c.id }
func (c *Client) SessionID() uuid.UUID { return c.sessionID }

// Emit delivers msg to the client's session rather than to this socket alone,
// so a client that reconnected with its token still receives a reply that was
// in flight.
func (c *Client) Emit(ctx context.Context, msg models.WSMessage) {
	c.hub.SendToSession(ctx, c.sessionID, msg)
}

// send writes msg to this socket only.
func (c *Client) send(msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.logger.Error("failed to encode event", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	if err := c.write(data); err != nil {
		c.hub.logger.Debug("write to client failed",
			zap.String("connection_id", c.id.String()),
			zap.Error(err),
		)
	}
}

// write serializes writers; gorilla connections allow only one at a time.
func (c *Client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop() {
	defer func() {
		c.hub.unregisterClient(c)
		c.hub.manager.OnDisconnect(c)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("socket closed unexpectedly",
					zap.String("connection_id", c.id.String()),
					zap.Error(err),
				)
			}
			return
		}

		var msg models.InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError(models.CodeInvalidPayload, "Messages must be JSON objects with a type and payload.")
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg models.InboundMessage) {
	switch msg.Type {
	case models.EventPrompt:
		text, ok := promptText(msg.Payload)
		if !ok {
			c.sendError(models.CodeInvalidPayload, "Prompt payload must be a string.")
			return
		}

		err := c.hub.pool.Submit(worker.Job{
			SessionID: c.sessionID,
			Run: func(ctx context.Context) {
				c.hub.manager.OnPrompt(ctx, c, text)
			},
		})
		switch {
		case errors.Is(err, worker.ErrQueueFull):
			c.sendError(models.CodeAIUnavailable, "Too many prompts waiting for a reply.")
		case err != nil:
			c.sendError(models.CodeAIUnavailable, "The server is shutting down.")
		}
	default:
		c.hub.logger.Debug("ignoring unknown event",
			zap.String("connection_id", c.id.String()),
			zap.String("type", msg.Type),
		)
	}
}

func (c *Client) sendError(code, message string) {
	c.send(models.WSMessage{
		Type:    models.EventAIError,
		Payload: models.ErrorPayload{Code: code, Message: message},
	})
}

// promptText decodes a prompt payload. Any string is accepted, including an
// empty one; a missing or non-string payload is not.
func promptText(payload json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return "", false
	}
	var text string
	if err := json.Unmarshal(trimmed, &text); err != nil {
		return "", false
	}
	return text, true
}
