package websocket

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Supported message types
const (
	// Outbound
	MessageTypeReady               MessageType = "ready"
	MessageTypeStatus              MessageType = "status"
	MessageTypeTranscription       MessageType = "transcription"
	MessageTypeBotResponseChunk    MessageType = "bot_response_chunk"
	MessageTypeBotResponseComplete MessageType = "bot_response_complete"
	MessageTypeBotResponse         MessageType = "bot_response"
	MessageTypeError               MessageType = "error"

	// Inbound control
	MessageTypeEndSession MessageType = "end_session"
)

// ReadyMessage signals that the session is attached and listening can begin.
type ReadyMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Message   string      `json:"message,omitempty"`
}

// StatusMessage reports a session status transition. RemainingSeconds is
// present only while pausing.
type StatusMessage struct {
	Type             MessageType `json:"type"`
	Status           string      `json:"status"`
	RemainingSeconds *float64    `json:"remaining_seconds,omitempty"`
}

// TranscriptionMessage carries a live partial or final transcript update.
// Sent only when the text changed.
type TranscriptionMessage struct {
	Type           MessageType `json:"type"`
	Text           string      `json:"text"`
	PhraseComplete bool        `json:"phrase_complete"`
	Timestamp      string      `json:"timestamp"`
}

// BotResponseChunkMessage is one incremental fragment of the bot's reply.
type BotResponseChunkMessage struct {
	Type      MessageType `json:"type"`
	Chunk     string      `json:"chunk"`
	Timestamp string      `json:"timestamp"`
}

// BotResponseCompleteMessage carries the full accumulated reply and
// terminates a responding episode.
type BotResponseCompleteMessage struct {
	Type      MessageType `json:"type"`
	Text      string      `json:"text"`
	Timestamp string      `json:"timestamp"`
}

// BotResponseMessage is the non-streaming fallback reply, used when
// streaming failed after producing partial text.
type BotResponseMessage struct {
	Type      MessageType `json:"type"`
	Text      string      `json:"text"`
	Timestamp string      `json:"timestamp"`
}

// ErrorMessage reports a session-scoped error to the client.
type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// ControlMessage is an inbound text-frame control request.
type ControlMessage struct {
	Type MessageType `json:"type"`
}

// ParseControlMessage decodes an inbound text frame.
func ParseControlMessage(payload []byte) (ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return ControlMessage{}, fmt.Errorf("invalid control message: %w", err)
	}
	if msg.Type == "" {
		return ControlMessage{}, fmt.Errorf("control message missing type field")
	}
	return msg, nil
}

func formatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339)
}
