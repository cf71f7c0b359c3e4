package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/clementinec/wrtvoice/domain/entities"
)

// ErrTranscriptNotFound is returned when no archived transcript exists for
// the requested session.
var ErrTranscriptNotFound = errors.New("transcript not found")

// TranscriptRecord is the full ordered turn sequence of an ended session,
// handed off for external persistence.
type TranscriptRecord struct {
	SessionID    string                      `json:"session_id"`
	StartedAt    time.Time                   `json:"started_at"`
	EndedAt      time.Time                   `json:"ended_at"`
	Turns        []entities.ConversationTurn `json:"turns"`
	TurnCount    int                         `json:"turn_count"`
	StudentTurns int                         `json:"student_turns"`
	BotTurns     int                         `json:"bot_turns"`
}

// TranscriptSummary is a listing entry for an archived transcript.
type TranscriptSummary struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	TurnCount int       `json:"turn_count"`
}

// TranscriptArchive stores completed session transcripts.
type TranscriptArchive interface {
	Save(ctx context.Context, record TranscriptRecord) error
	List(ctx context.Context) ([]TranscriptSummary, error)
	Load(ctx context.Context, sessionID string) (TranscriptRecord, error)
}

// NewTranscriptRecord builds a record from an ended session's turns.
func NewTranscriptRecord(sessionID string, startedAt time.Time, turns []entities.ConversationTurn) TranscriptRecord {
	record := TranscriptRecord{
		SessionID: sessionID,
		StartedAt: startedAt,
		EndedAt:   time.Now(),
		Turns:     turns,
		TurnCount: len(turns),
	}
	for _, turn := range turns {
		if turn.Speaker == entities.SpeakerStudent {
			record.StudentTurns++
		} else {
			record.BotTurns++
		}
	}
	return record
}
