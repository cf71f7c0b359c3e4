package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clementinec/wrtvoice/domain/entities"
	"github.com/clementinec/wrtvoice/domain/repositories"
)

// ErrSessionNotFound is returned when no live session exists for an ID.
var ErrSessionNotFound = errors.New("session not found")

// RegistryConfig bounds the per-session phrase timeout and describes the
// audio handed to the recognizer.
type RegistryConfig struct {
	MinPhraseTimeout     time.Duration
	MaxPhraseTimeout     time.Duration
	DefaultPhraseTimeout time.Duration
	SampleRate           int
	Encoding             string
	Language             string
	DefaultModel         string
	OpeningPrompt        string
}

// StartOptions is the caller-supplied session configuration.
type StartOptions struct {
	TranscriptionModel   string
	PhraseTimeoutSeconds float64
}

// Registry maps session identifiers to live orchestrators. Sessions are
// independently addressable and share nothing; there is no package-level
// current session.
type Registry struct {
	transcriber repositories.Transcriber
	generator   repositories.Generator
	archive     repositories.TranscriptArchive
	config      RegistryConfig
	logger      *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Orchestrator
}

// NewRegistry creates a registry.
func NewRegistry(
	transcriber repositories.Transcriber,
	generator repositories.Generator,
	archive repositories.TranscriptArchive,
	config RegistryConfig,
	logger *zap.Logger,
) *Registry {
	return &Registry{
		transcriber: transcriber,
		generator:   generator,
		archive:     archive,
		config:      config,
		logger:      logger,
		sessions:    make(map[string]*Orchestrator),
	}
}

// Start creates a session. An out-of-range phrase timeout is clamped to the
// configured bounds, never rejected. When an opening prompt is configured
// the generator seeds the first bot turn; a failure there only skips the
// greeting.
func (r *Registry) Start(ctx context.Context, opts StartOptions) (*Orchestrator, string, error) {
	timeout := r.ClampPhraseTimeout(opts.PhraseTimeoutSeconds)

	audioConfig := repositories.AudioConfig{
		SampleRate: r.config.SampleRate,
		Encoding:   r.config.Encoding,
		Language:   r.config.Language,
		Model:      opts.TranscriptionModel,
	}
	if audioConfig.Model == "" {
		audioConfig.Model = r.config.DefaultModel
	}

	// 16-bit mono PCM.
	bytesPerSecond := r.config.SampleRate * 2

	orch := NewOrchestrator(r.transcriber, r.generator, audioConfig, timeout, bytesPerSecond, r.logger)

	var greeting string
	if r.config.OpeningPrompt != "" {
		greeting = r.openingTurn(ctx)
		if greeting != "" {
			if err := orch.SeedBotTurn(greeting); err != nil {
				r.logger.Warn("Failed to seed opening turn", zap.Error(err))
			}
		}
	}

	r.mu.Lock()
	r.sessions[orch.ID()] = orch
	r.mu.Unlock()

	r.logger.Info("Session started",
		zap.String("sessionID", orch.ID()),
		zap.Duration("phraseTimeout", timeout),
		zap.String("model", audioConfig.Model))
	return orch, greeting, nil
}

// Get returns the live session for the ID.
func (r *Registry) Get(id string) (*Orchestrator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	orch, ok := r.sessions[id]
	return orch, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// End tears down the session and hands its transcript to the archive. A
// transport disconnect and an explicit end request both land here; ending
// an already-ended session reports ErrSessionNotFound.
func (r *Registry) End(ctx context.Context, id string) ([]entities.ConversationTurn, error) {
	r.mu.Lock()
	orch, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	startedAt := orch.StartedAt()
	turns, err := orch.End()
	if err != nil {
		return nil, err
	}

	record := repositories.NewTranscriptRecord(id, startedAt, turns)
	if err := r.archive.Save(ctx, record); err != nil {
		r.logger.Error("Failed to archive transcript",
			zap.String("sessionID", id),
			zap.Error(err))
	}
	return turns, nil
}

// ClampPhraseTimeout maps the requested timeout in seconds onto the
// configured closed bound. Zero or negative requests take the default.
func (r *Registry) ClampPhraseTimeout(seconds float64) time.Duration {
	if seconds <= 0 {
		return r.config.DefaultPhraseTimeout
	}
	timeout := time.Duration(seconds * float64(time.Second))
	if timeout < r.config.MinPhraseTimeout {
		return r.config.MinPhraseTimeout
	}
	if timeout > r.config.MaxPhraseTimeout {
		return r.config.MaxPhraseTimeout
	}
	return timeout
}

// openingTurn asks the generator for the greeting that opens the dialogue.
func (r *Registry) openingTurn(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	stream, err := r.generator.Stream(ctx, nil, r.config.OpeningPrompt)
	if err != nil {
		r.logger.Warn("Opening turn generation failed", zap.Error(err))
		return ""
	}
	defer stream.Close()

	var full strings.Builder
	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			r.logger.Warn("Opening turn stream failed", zap.Error(err))
			return ""
		}
		full.WriteString(fragment)
	}
	return strings.TrimSpace(full.String())
}
