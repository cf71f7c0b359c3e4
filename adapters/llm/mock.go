package llm

import (
	"context"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clementinec/wrtvoice/domain/entities"
	"github.com/clementinec/wrtvoice/domain/repositories"
)

// MockGenerator is a placeholder generator for running the server without
// an API key. Responses stream word by word with a small delay.
type MockGenerator struct {
	logger *zap.Logger
}

// NewMockGenerator creates a new mock generator.
func NewMockGenerator(logger *zap.Logger) *MockGenerator {
	return &MockGenerator{logger: logger}
}

// Stream implements repositories.Generator.
func (m *MockGenerator) Stream(ctx context.Context, history []entities.ConversationTurn, input string) (repositories.FragmentStream, error) {
	m.logger.Info("Generating mock response",
		zap.Int("historyLength", len(history)),
		zap.String("input", input))

	response := "That is an interesting thought. What makes you believe that is true?"
	if strings.Contains(strings.ToLower(input), "hello") {
		response = "Hello! What question has been on your mind today?"
	}

	return &mockStream{ctx: ctx, words: strings.SplitAfter(response, " ")}, nil
}

type mockStream struct {
	ctx   context.Context
	words []string
	index int
}

func (s *mockStream) Recv() (string, error) {
	if s.index >= len(s.words) {
		return "", io.EOF
	}
	select {
	case <-s.ctx.Done():
		return "", s.ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	word := s.words[s.index]
	s.index++
	return word, nil
}

func (s *mockStream) Close() error { return nil }
