package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/clementinec/wrtvoice/domain/repositories"
)

type memoryArchive struct {
	mu      sync.Mutex
	records []repositories.TranscriptRecord
}

func (m *memoryArchive) Save(_ context.Context, record repositories.TranscriptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

func (m *memoryArchive) List(_ context.Context) ([]repositories.TranscriptSummary, error) {
	return nil, nil
}

func (m *memoryArchive) Load(_ context.Context, _ string) (repositories.TranscriptRecord, error) {
	return repositories.TranscriptRecord{}, repositories.ErrTranscriptNotFound
}

func (m *memoryArchive) saved() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func newTestRegistry(archive repositories.TranscriptArchive) *Registry {
	return NewRegistry(
		&fakeTranscriber{text: "hello"},
		&fakeGenerator{fragments: []string{"hi"}},
		archive,
		RegistryConfig{
			MinPhraseTimeout:     4 * time.Second,
			MaxPhraseTimeout:     30 * time.Second,
			DefaultPhraseTimeout: 5 * time.Second,
			SampleRate:           16000,
			Encoding:             "LINEAR16",
			Language:             "en-US",
			DefaultModel:         "latest_short",
		},
		zap.NewNop(),
	)
}

func TestClampPhraseTimeout(t *testing.T) {
	registry := newTestRegistry(&memoryArchive{})

	tests := []struct {
		requested float64
		want      time.Duration
	}{
		{0.2, 4 * time.Second},  // below minimum: clamped, not rejected
		{0, 5 * time.Second},    // unset: default
		{-1, 5 * time.Second},   // nonsense: default
		{7.5, 7500 * time.Millisecond},
		{120, 30 * time.Second}, // above maximum
	}
	for _, tt := range tests {
		if got := registry.ClampPhraseTimeout(tt.requested); got != tt.want {
			t.Errorf("ClampPhraseTimeout(%v) = %v, want %v", tt.requested, got, tt.want)
		}
	}
}

func TestStartAppliesClampedTimeout(t *testing.T) {
	registry := newTestRegistry(&memoryArchive{})

	orch, _, err := registry.Start(context.Background(), StartOptions{PhraseTimeoutSeconds: 0.2})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := orch.PhraseTimeout(); got != 4*time.Second {
		t.Errorf("Effective timeout = %v, want the configured minimum of 4s", got)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	registry := newTestRegistry(&memoryArchive{})
	ctx := context.Background()

	first, _, _ := registry.Start(ctx, StartOptions{})
	second, _, _ := registry.Start(ctx, StartOptions{})

	if first.ID() == second.ID() {
		t.Fatal("Sessions must have distinct identifiers")
	}

	first.IngestAudio([]byte("only first"), time.Now())
	if second.Status() != first.Status() {
		// Both listen independently; mutating one must not touch the other.
		t.Errorf("Unexpected status divergence: %s vs %s", first.Status(), second.Status())
	}
	if len(second.Turns()) != 0 {
		t.Error("Second session picked up turns from the first")
	}
	if registry.Count() != 2 {
		t.Errorf("Count = %d, want 2", registry.Count())
	}
}

func TestEndArchivesTranscript(t *testing.T) {
	archive := &memoryArchive{}
	registry := newTestRegistry(archive)
	ctx := context.Background()

	orch, _, _ := registry.Start(ctx, StartOptions{})
	notifier := &captureNotifier{}
	orch.Attach(notifier)

	turns, err := registry.End(ctx, orch.ID())
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if turns == nil {
		t.Error("End returned nil turn sequence")
	}
	if archive.saved() != 1 {
		t.Errorf("Archived %d records, want 1", archive.saved())
	}

	if _, ok := registry.Get(orch.ID()); ok {
		t.Error("Ended session still resolvable")
	}
	if _, err := registry.End(ctx, orch.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Second End error = %v, want ErrSessionNotFound", err)
	}
}
