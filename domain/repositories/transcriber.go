package repositories

import (
	"context"
	"errors"
)

// ErrEmptyTranscript indicates the recognizer found no speech in the audio.
var ErrEmptyTranscript = errors.New("no speech detected in audio")

// AudioConfig describes the audio handed to the recognizer.
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
	Model      string `json:"model"`
}

// Transcriber abstracts the external speech recognition collaborator.
// Implementations must be safe for concurrent use; the orchestrator submits
// at most one outstanding request per session.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, config AudioConfig) (string, error)
}
