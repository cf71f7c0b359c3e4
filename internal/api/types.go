package api

import (
	"time"

	"github.com/clementinec/wrtvoice/domain/entities"
)

// StartSessionRequest configures a new dialogue session. Both fields are
// optional; out-of-range timeouts are clamped to the server's bounds.
type StartSessionRequest struct {
	TranscriptionModel   string  `json:"transcription_model,omitempty"`
	PhraseTimeoutSeconds float64 `json:"phrase_timeout_seconds,omitempty"`
}

// StartSessionResponse carries the created session and the bot's opening
// message when the server is configured to greet.
type StartSessionResponse struct {
	SessionID            string  `json:"session_id"`
	PhraseTimeoutSeconds float64 `json:"phrase_timeout_seconds"`
	InitialMessage       string  `json:"initial_message,omitempty"`
}

// EndSessionResponse returns the finished conversation.
type EndSessionResponse struct {
	SessionID string                      `json:"session_id"`
	Turns     []entities.ConversationTurn `json:"turns"`
}

// SessionSummary is a listing entry for an archived session.
type SessionSummary struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	TurnCount int       `json:"turn_count"`
}

// ListSessionsResponse wraps the archive listing.
type ListSessionsResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
