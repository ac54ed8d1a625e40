// Package relay mediates between prompt events from connected clients and the
// generative text service, keeping each session's conversation context.
package relay

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"relay-backend/internal/conversation"
	"relay-backend/internal/models"
	"relay-backend/internal/services"
)

// Generator produces a reply for a conversation. *services.GeminiService
// satisfies it.
type Generator interface {
	Generate(ctx context.Context, turns []models.Turn) (string, error)
}

// Connection is the client side of a session as seen by the manager.
type Connection interface {
	ID() uuid.UUID
	SessionID() uuid.UUID
	// Emit delivers an event to the connection's session. Delivery to a
	// session with no live connection is silently dropped.
	Emit(ctx context.Context, msg models.WSMessage)
}

type Manager struct {
	store     *conversation.Store
	generator Generator
	timeout   time.Duration
	logger    *zap.Logger
}

func NewManager(store *conversation.Store, generator Generator, timeout time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		store:     store,
		generator: generator,
		timeout:   timeout,
		logger:    logger,
	}
}

func (m *Manager) OnConnect(conn Connection) {
	log := m.store.Attach(conn.SessionID())
	m.logger.Info("client connected",
		zap.String("session_id", conn.SessionID().String()),
		zap.String("connection_id", conn.ID().String()),
		zap.Int("turns", log.Len()),
	)
}

func (m *Manager) OnDisconnect(conn Connection) {
	m.store.Detach(conn.SessionID())
	m.logger.Info("client disconnected",
		zap.String("session_id", conn.SessionID().String()),
		zap.String("connection_id", conn.ID().String()),
	)
}

// OnPrompt records text as a user turn, asks the generator for a reply using
// the whole session log and emits either ai-response or ai-error. The model
// turn is appended only on success, ahead of the ai-response event.
func (m *Manager) OnPrompt(ctx context.Context, conn Connection, text string) error {
	log := m.store.Log(conn.SessionID())
	history := log.AppendAndSnapshot(models.UserTurn(text))

	reply, err := m.generate(ctx, history)
	if err != nil {
		se := services.AsServiceError(err)
		m.logger.Warn("generation failed",
			zap.String("session_id", conn.SessionID().String()),
			zap.String("kind", string(se.Kind)),
			zap.Error(se.Err),
		)
		conn.Emit(ctx, models.WSMessage{
			Type:    models.EventAIError,
			Payload: errorPayload(se),
		})
		return se
	}

	// Record before emitting so the transcript already holds the reply when
	// the client sees it.
	log.Append(models.ModelTurn(reply))
	conn.Emit(ctx, models.WSMessage{Type: models.EventAIResponse, Payload: reply})

	m.logger.Debug("relayed reply",
		zap.String("session_id", conn.SessionID().String()),
		zap.Int("turns", log.Len()),
	)
	return nil
}

// History returns the session's turns, or false when the session is unknown.
func (m *Manager) History(sessionID uuid.UUID) ([]models.Turn, bool) {
	log, ok := m.store.Lookup(sessionID)
	if !ok {
		return nil, false
	}
	return log.Snapshot(), true
}

type generateResult struct {
	reply string
	err   error
}

// generate bounds the call by the manager timeout even when the generator
// does not honor cancellation.
func (m *Manager) generate(ctx context.Context, history []models.Turn) (string, error) {
	callCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	done := make(chan generateResult, 1)
	go func() {
		reply, err := m.generator.Generate(callCtx, history)
		done <- generateResult{reply: reply, err: err}
	}()

	select {
	case res := <-done:
		return res.reply, res.err
	case <-callCtx.Done():
		return "", callCtx.Err()
	}
}

func errorPayload(se *services.ServiceError) models.ErrorPayload {
	switch se.Kind {
	case services.KindTimeout:
		return models.ErrorPayload{Code: models.CodeAITimeout, Message: "The assistant took too long to answer. Please try again."}
	case services.KindEmptyReply:
		return models.ErrorPayload{Code: models.CodeAIEmptyReply, Message: "The assistant returned an empty answer."}
	case services.KindCanceled:
		return models.ErrorPayload{Code: models.CodeAICanceled, Message: "The request was canceled."}
	default:
		return models.ErrorPayload{Code: models.CodeAIUnavailable, Message: "The assistant is unavailable right now."}
	}
}
