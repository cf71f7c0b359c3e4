package stt

import (
	"context"

	"go.uber.org/zap"

	"github.com/clementinec/wrtvoice/domain/repositories"
)

// MockTranscriber is a placeholder recognizer for running the server
// without Google credentials.
type MockTranscriber struct {
	logger *zap.Logger
}

// NewMockTranscriber creates a new mock transcriber.
func NewMockTranscriber(logger *zap.Logger) *MockTranscriber {
	return &MockTranscriber{logger: logger}
}

// Transcribe implements repositories.Transcriber.
func (m *MockTranscriber) Transcribe(ctx context.Context, audio []byte, config repositories.AudioConfig) (string, error) {
	m.logger.Info("Processing speech-to-text",
		zap.Int("audioSize", len(audio)),
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding))

	// Mock transcription based on audio size
	switch {
	case len(audio) > 100000:
		return "I have been thinking about why the seasons change and I am not sure my explanation is right.", nil
	case len(audio) > 20000:
		return "Could you explain that part again?", nil
	case len(audio) > 1000:
		return "I think the answer is gravity.", nil
	default:
		return "", repositories.ErrEmptyTranscript
	}
}
