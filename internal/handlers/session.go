package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"relay-backend/internal/middleware"
	"relay-backend/internal/models"
)

type historySource interface {
	History(sessionID uuid.UUID) ([]models.Turn, bool)
}

type connectionCounter interface {
	Connections() int
}

type sessionCounter interface {
	Len() int
}

type SessionHandler struct {
	history     historySource
	connections connectionCounter
	sessions    sessionCounter
	scope       string
}

func NewSessionHandler(history historySource, connections connectionCounter, sessions sessionCounter, scope string) *SessionHandler {
	return &SessionHandler{
		history:     history,
		connections: connections,
		sessions:    sessions,
		scope:       scope,
	}
}

// History returns the turns of the session named by the bearer token, so a
// reloaded client can render the conversation again.
func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.GetSessionID(r.Context())
	if sessionID == uuid.Nil {
		writeJSON(w, http.StatusUnauthorized, errorResp("UNAUTHORIZED", "Missing session", r))
		return
	}

	turns, ok := h.history.History(sessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Session not found", r))
		return
	}
	if turns == nil {
		turns = []models.Turn{}
	}

	writeJSON(w, http.StatusOK, models.HistoryResponse{SessionID: sessionID, Turns: turns})
}

func (h *SessionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.StatsResponse{
		Sessions:    h.sessions.Len(),
		Connections: h.connections.Connections(),
		Scope:       h.scope,
	})
}
