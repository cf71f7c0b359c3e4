package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clementinec/wrtvoice/domain/entities"
	"github.com/clementinec/wrtvoice/domain/repositories"
	"github.com/clementinec/wrtvoice/internal/segmenter"
)

// ErrSessionClosed is returned for operations on an ended session.
var ErrSessionClosed = errors.New("session closed")

// pausingNotifyInterval throttles pausing countdown updates to the
// transport while silence is elapsing.
const pausingNotifyInterval = 500 * time.Millisecond

// Notifier delivers session events to the transport. Calls are made in
// production order; implementations serialize delivery (the websocket client
// does so through its buffered send channel). Remaining is meaningful only
// for the pausing status.
type Notifier interface {
	Status(status entities.SessionStatus, remaining time.Duration)
	Transcription(text string, final bool)
	ResponseChunk(chunk string, timestamp time.Time)
	ResponseComplete(text string, timestamp time.Time)
	Response(text string, timestamp time.Time)
	Error(message string)
}

// nopNotifier swallows events produced before a transport attaches.
type nopNotifier struct{}

func (nopNotifier) Status(entities.SessionStatus, time.Duration) {}
func (nopNotifier) Transcription(string, bool)                   {}
func (nopNotifier) ResponseChunk(string, time.Time)              {}
func (nopNotifier) ResponseComplete(string, time.Time)           {}
func (nopNotifier) Response(string, time.Time)                   {}
func (nopNotifier) Error(string)                                 {}

// Orchestrator drives one dialogue session through the listening, pausing,
// analyzing and responding cycle. All session mutations pass through its
// mutex: audio ingestion, tick evaluation and turn appends are serialized,
// so exactly one mutation is in flight at a time. Collaborator calls run in
// goroutines and re-enter through the mutex; an epoch counter lets results
// that arrive after the session moved on be discarded instead of applied.
type Orchestrator struct {
	logger      *zap.Logger
	transcriber repositories.Transcriber
	generator   repositories.Generator
	audioConfig repositories.AudioConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu              sync.Mutex
	session         *entities.DialogueSession
	seg             *segmenter.Segmenter
	notifier        Notifier
	epoch           uint64
	partialInFlight bool
	lastPausingSent time.Time
	closed          bool
}

// NewOrchestrator creates an idle session with the given, already clamped,
// phrase timeout. bytesPerSecond converts buffered audio to durations.
func NewOrchestrator(
	transcriber repositories.Transcriber,
	generator repositories.Generator,
	audioConfig repositories.AudioConfig,
	phraseTimeout time.Duration,
	bytesPerSecond int,
	logger *zap.Logger,
) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		logger:      logger,
		transcriber: transcriber,
		generator:   generator,
		audioConfig: audioConfig,
		ctx:         ctx,
		cancel:      cancel,
		session:     entities.NewDialogueSession(),
		seg:         segmenter.New(phraseTimeout, bytesPerSecond),
		notifier:    nopNotifier{},
	}
}

// ID returns the session identifier.
func (o *Orchestrator) ID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session.ID
}

// Status returns the current session status.
func (o *Orchestrator) Status() entities.SessionStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session.Status
}

// Turns returns a copy of the turn history.
func (o *Orchestrator) Turns() []entities.ConversationTurn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session.Snapshot()
}

// StartedAt returns the session creation time.
func (o *Orchestrator) StartedAt() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session.StartedAt
}

// PhraseTimeout returns the effective, clamped silence timeout.
func (o *Orchestrator) PhraseTimeout() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.seg.Timeout()
}

// SeedBotTurn appends an opening bot turn. Only valid before the transport
// attaches, while the session is still idle.
func (o *Orchestrator) SeedBotTurn(text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrSessionClosed
	}
	if o.session.Status != entities.StatusIdle {
		return entities.ErrInvalidTransition
	}
	o.session.AppendBotTurn(text)
	return nil
}

// Attach binds the transport notifier and starts listening.
func (o *Orchestrator) Attach(n Notifier) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrSessionClosed
	}
	o.notifier = n
	if o.session.Status == entities.StatusIdle {
		if err := o.session.Transition(entities.StatusListening); err != nil {
			return err
		}
		n.Status(entities.StatusListening, 0)
	}
	return nil
}

// IngestAudio appends one transport audio chunk to the current phrase. A
// chunk arriving during a pause resumes listening with a full countdown;
// chunks arriving while the session is analyzing or responding are buffered
// into the next phrase so no speech is lost.
func (o *Orchestrator) IngestAudio(payload []byte, now time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrSessionClosed
	}

	o.seg.Ingest(entities.AudioChunk{Payload: payload, ArrivedAt: now})

	switch o.session.Status {
	case entities.StatusPausing:
		// Resumption: countdown display resets, phrase continues.
		if err := o.session.Transition(entities.StatusListening); err != nil {
			return err
		}
		o.notifier.Status(entities.StatusListening, 0)
	case entities.StatusAnalyzing, entities.StatusResponding, entities.StatusIdle:
		// Buffered for the next phrase; no status change, no live transcript.
		return nil
	}

	o.maybeTranscribePartialLocked()
	return nil
}

// Tick evaluates the silence countdown. Invoked on a fixed sub-second
// cadence by the transport layer; safe to call when nothing is pending.
func (o *Orchestrator) Tick(now time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}

	// While the bot's turn is in flight the accumulated audio belongs to the
	// next phrase; its countdown starts once the session listens again.
	switch o.session.Status {
	case entities.StatusAnalyzing, entities.StatusResponding, entities.StatusIdle:
		return
	}

	update := o.seg.Tick(now)
	switch update.Kind {
	case segmenter.UpdateNone:
		return

	case segmenter.UpdatePausing:
		if o.session.Status == entities.StatusListening {
			if err := o.session.Transition(entities.StatusPausing); err != nil {
				o.logger.Error("Status transition rejected", zap.Error(err))
				return
			}
			o.notifier.Status(entities.StatusPausing, update.Remaining)
			o.lastPausingSent = now
			return
		}
		if now.Sub(o.lastPausingSent) >= pausingNotifyInterval {
			o.notifier.Status(entities.StatusPausing, update.Remaining)
			o.lastPausingSent = now
		}

	case segmenter.UpdateFinalize:
		// The tick cadence normally observes at least one pausing update
		// first; pass through pausing when it did not.
		if o.session.Status == entities.StatusListening {
			if err := o.session.Transition(entities.StatusPausing); err != nil {
				o.logger.Error("Status transition rejected", zap.Error(err))
				return
			}
		}
		if err := o.session.Transition(entities.StatusAnalyzing); err != nil {
			o.logger.Error("Status transition rejected", zap.Error(err))
			return
		}
		o.notifier.Status(entities.StatusAnalyzing, 0)
		o.epoch++
		go o.transcribePhrase(o.epoch, update.Audio, update.AudioDuration)
	}
}

// End tears the session down: cancels any in-flight generation, flushes the
// segmenter (unfinalized audio is discarded, not transcribed) and returns
// the full ordered turn sequence for external persistence.
func (o *Orchestrator) End() ([]entities.ConversationTurn, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrSessionClosed
	}
	o.closed = true
	o.epoch++
	o.cancel()
	o.seg.Flush()
	o.session.ForceIdle()
	o.logger.Info("Session ended",
		zap.String("sessionID", o.session.ID),
		zap.Int("turns", len(o.session.Turns)))
	return o.session.Snapshot(), nil
}

// maybeTranscribePartialLocked submits the accumulated phrase audio for a
// live partial transcription. At most one request is outstanding; further
// partial updates while one is in flight are skipped. Caller holds o.mu.
func (o *Orchestrator) maybeTranscribePartialLocked() {
	if o.partialInFlight {
		return
	}
	audio := o.seg.PendingAudio()
	if len(audio) == 0 {
		return
	}
	o.partialInFlight = true
	epoch := o.epoch

	go func() {
		text, err := o.transcriber.Transcribe(o.ctx, audio, o.audioConfig)

		o.mu.Lock()
		defer o.mu.Unlock()
		o.partialInFlight = false
		if o.closed || epoch != o.epoch {
			// The phrase finalized or the session ended while the
			// recognizer was busy; the result no longer applies.
			return
		}
		if err != nil {
			o.logger.Debug("Partial transcription failed", zap.Error(err))
			return
		}
		text = strings.TrimSpace(text)
		// Identical consecutive transcriptions produce no duplicate emission.
		if text == "" || text == o.session.PendingTranscript {
			return
		}
		o.session.PendingTranscript = text
		o.notifier.Transcription(text, false)
	}()
}

// transcribePhrase runs the finalize-path transcription off the state
// machine and re-enters through the mutex with the result.
func (o *Orchestrator) transcribePhrase(epoch uint64, audio []byte, audioDuration time.Duration) {
	text, err := o.transcriber.Transcribe(o.ctx, audio, o.audioConfig)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || epoch != o.epoch {
		// Session ended while analyzing; the late result is discarded.
		return
	}

	text = strings.TrimSpace(text)
	if err != nil || text == "" {
		// Fail-soft: the phrase is discarded, no turn is recorded and the
		// session resumes listening.
		if err != nil {
			o.logger.Warn("Transcription failed, discarding phrase",
				zap.String("sessionID", o.session.ID),
				zap.Error(err))
		}
		o.session.PendingTranscript = ""
		o.resumeListeningLocked()
		return
	}

	// Always emitted, even when a live partial already showed the same text:
	// the final flag is what closes the phrase on the client side.
	o.notifier.Transcription(text, true)
	o.session.PendingTranscript = ""

	history := o.session.Snapshot()
	o.session.AppendStudentTurn(text, audioDuration)

	if err := o.session.Transition(entities.StatusResponding); err != nil {
		o.logger.Error("Status transition rejected", zap.Error(err))
		return
	}
	o.notifier.Status(entities.StatusResponding, 0)

	o.logger.Info("Phrase transcribed",
		zap.String("sessionID", o.session.ID),
		zap.String("text", text))

	go o.respond(epoch, history, text)
}

// respond opens the generation stream for one responding episode and relays
// its fragments. Only notifier delivery runs outside the mutex; every
// session mutation re-enters through it.
func (o *Orchestrator) respond(epoch uint64, history []entities.ConversationTurn, input string) {
	o.mu.Lock()
	notifier := o.notifier
	o.mu.Unlock()

	stream, err := o.generator.Stream(o.ctx, history, input)
	if err != nil {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.closed || epoch != o.epoch {
			return
		}
		o.logger.Error("Failed to open generation stream",
			zap.String("sessionID", o.session.ID),
			zap.Error(err))
		notifier.Error("generation unavailable")
		o.resumeListeningLocked()
		return
	}

	relay := NewStreamingResponseRelay(o.logger)
	full, relayErr := relay.Run(o.ctx, stream, func(fragment string) {
		// Fragments already forwarded stay valid after a cancellation, but
		// none may follow it.
		if !o.episodeActive(epoch) {
			return
		}
		notifier.ResponseChunk(fragment, time.Now())
	})

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || epoch != o.epoch {
		// Cancelled mid-episode: fragments already forwarded remain valid,
		// but no completion turn is appended.
		return
	}

	if relayErr != nil {
		if full != "" {
			// Partial text is promoted to a completed bot turn rather than
			// silently dropped; fallback to non-streaming semantics.
			o.session.AppendBotTurn(full)
			notifier.Response(full, time.Now())
		} else {
			notifier.Error("generation failed")
		}
		o.resumeListeningLocked()
		return
	}

	o.session.AppendBotTurn(full)
	notifier.ResponseComplete(full, time.Now())
	o.resumeListeningLocked()
}

// episodeActive reports whether the responding episode is still current.
func (o *Orchestrator) episodeActive(epoch uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.closed && epoch == o.epoch
}

// resumeListeningLocked returns the session to listening after an analyzing
// or responding episode. Caller holds o.mu.
func (o *Orchestrator) resumeListeningLocked() {
	if err := o.session.Transition(entities.StatusListening); err != nil {
		o.logger.Error("Status transition rejected", zap.Error(err))
		return
	}
	o.notifier.Status(entities.StatusListening, 0)
}
