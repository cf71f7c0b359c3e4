// Package llm adapts response generators to the Generator port. Gemini and
// any OpenAI-compatible endpoint (including a local Ollama server) are
// supported backends.
package llm

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/clementinec/wrtvoice/domain/entities"
	"github.com/clementinec/wrtvoice/domain/repositories"
)

// GeminiGenerator streams responses from Google's Gemini API.
type GeminiGenerator struct {
	client       *genai.Client
	logger       *zap.Logger
	model        string
	systemPrompt string
}

// NewGeminiGenerator creates a new Gemini generator instance.
func NewGeminiGenerator(model, systemPrompt string, logger *zap.Logger) (*GeminiGenerator, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiGenerator{
		client:       client,
		logger:       logger,
		model:        model,
		systemPrompt: systemPrompt,
	}, nil
}

// Stream implements repositories.Generator.
func (g *GeminiGenerator) Stream(ctx context.Context, history []entities.ConversationTurn, input string) (repositories.FragmentStream, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	contents = append(contents, convertTurnsToGeminiFormat(history)...)
	contents = append(contents, genai.NewContentFromText(input, genai.RoleUser))

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(g.systemPrompt, genai.RoleUser),
	}

	seq := g.client.Models.GenerateContentStream(ctx, g.model, contents, config)
	next, stop := iter.Pull2(seq)
	return &geminiStream{next: next, stop: stop}, nil
}

// geminiStream adapts the pull side of the genai response sequence to the
// FragmentStream interface.
type geminiStream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()
}

func (s *geminiStream) Recv() (string, error) {
	for {
		resp, err, ok := s.next()
		if !ok {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("failed to receive response: %w", err)
		}
		if text := responseText(resp); text != "" {
			return text, nil
		}
	}
}

func (s *geminiStream) Close() error {
	s.stop()
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
	}
	return text
}

// convertTurnsToGeminiFormat converts conversation turns to Gemini format
func convertTurnsToGeminiFormat(turns []entities.ConversationTurn) []*genai.Content {
	var contents []*genai.Content
	for _, turn := range turns {
		role := genai.RoleUser
		if turn.Speaker == entities.SpeakerBot {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, genai.Role(role)))
	}
	return contents
}
