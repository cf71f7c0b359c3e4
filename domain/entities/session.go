package entities

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the status of a dialogue session. A session is in
// exactly one status at any instant.
type SessionStatus string

const (
	StatusIdle       SessionStatus = "idle"
	StatusListening  SessionStatus = "listening"
	StatusPausing    SessionStatus = "pausing"
	StatusAnalyzing  SessionStatus = "analyzing"
	StatusResponding SessionStatus = "responding"
)

// ErrInvalidTransition is returned when a status change is not in the
// transition table.
var ErrInvalidTransition = errors.New("invalid session status transition")

// transitions is the closed set of allowed status changes. Ending a session
// (any status back to idle) is always permitted and handled by ForceIdle.
var transitions = map[SessionStatus][]SessionStatus{
	StatusIdle:       {StatusListening},
	StatusListening:  {StatusPausing},
	StatusPausing:    {StatusListening, StatusAnalyzing},
	StatusAnalyzing:  {StatusResponding, StatusListening},
	StatusResponding: {StatusListening},
}

// CanTransition reports whether the status change is in the transition table.
func (s SessionStatus) CanTransition(to SessionStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Speaker identifies who produced a conversation turn.
type Speaker string

const (
	SpeakerStudent Speaker = "student"
	SpeakerBot     Speaker = "bot"
)

// ConversationTurn is a single utterance in the dialogue. Turns are immutable
// once appended; append order is chronological order.
type ConversationTurn struct {
	Speaker              Speaker   `json:"speaker"`
	Text                 string    `json:"text"`
	Timestamp            time.Time `json:"timestamp"`
	AudioDurationSeconds *float64  `json:"audio_duration_seconds,omitempty"`
}

// DialogueSession holds the per-session conversation state: turn history,
// current status and the live partial transcript. It is owned by a single
// orchestrator for its entire lifetime and must only be mutated through it.
type DialogueSession struct {
	ID                string             `json:"id"`
	Status            SessionStatus      `json:"status"`
	Turns             []ConversationTurn `json:"turns"`
	PendingTranscript string             `json:"-"`
	StartedAt         time.Time          `json:"started_at"`
}

// NewDialogueSession creates an idle session with a fresh identifier.
func NewDialogueSession() *DialogueSession {
	return &DialogueSession{
		ID:        uuid.New().String(),
		Status:    StatusIdle,
		Turns:     make([]ConversationTurn, 0),
		StartedAt: time.Now(),
	}
}

// Transition moves the session to the given status, rejecting any change
// not in the transition table.
func (s *DialogueSession) Transition(to SessionStatus) error {
	if !s.Status.CanTransition(to) {
		return ErrInvalidTransition
	}
	s.Status = to
	return nil
}

// ForceIdle ends the session regardless of current status.
func (s *DialogueSession) ForceIdle() {
	s.Status = StatusIdle
}

// AppendStudentTurn appends a transcribed student phrase together with the
// duration of the audio it was recognized from.
func (s *DialogueSession) AppendStudentTurn(text string, audioDuration time.Duration) ConversationTurn {
	seconds := math.Round(audioDuration.Seconds()*100) / 100
	turn := ConversationTurn{
		Speaker:              SpeakerStudent,
		Text:                 text,
		Timestamp:            time.Now(),
		AudioDurationSeconds: &seconds,
	}
	s.Turns = append(s.Turns, turn)
	return turn
}

// AppendBotTurn appends a completed bot reply.
func (s *DialogueSession) AppendBotTurn(text string) ConversationTurn {
	turn := ConversationTurn{
		Speaker:   SpeakerBot,
		Text:      text,
		Timestamp: time.Now(),
	}
	s.Turns = append(s.Turns, turn)
	return turn
}

// Snapshot returns a copy of the turn history.
func (s *DialogueSession) Snapshot() []ConversationTurn {
	turns := make([]ConversationTurn, len(s.Turns))
	copy(turns, s.Turns)
	return turns
}
