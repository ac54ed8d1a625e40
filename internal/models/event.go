package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Event names carried in WSMessage.Type.
const (
	EventPrompt     = "prompt"
	EventSession    = "session"
	EventAIResponse = "ai-response"
	EventAIError    = "ai-error"
)

// Error codes carried in ai-error payloads.
const (
	CodeAIUnavailable  = "AI_UNAVAILABLE"
	CodeAITimeout      = "AI_TIMEOUT"
	CodeAIEmptyReply   = "AI_EMPTY_REPLY"
	CodeAICanceled     = "AI_CANCELED"
	CodeInvalidPayload = "INVALID_PAYLOAD"
)

// WSMessage is the envelope for every server→client event.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// InboundMessage is the envelope as read from a client; the payload is decoded
// per event type.
type InboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type SessionInfo struct {
	SessionID uuid.UUID `json:"session_id"`
	Token     string    `json:"token"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HistoryResponse is returned by the session transcript endpoint.
type HistoryResponse struct {
	SessionID uuid.UUID `json:"session_id"`
	Turns     []Turn    `json:"turns"`
}

type StatsResponse struct {
	Sessions    int    `json:"sessions"`
	Connections int    `json:"connections"`
	Scope       string `json:"scope"`
}

type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
