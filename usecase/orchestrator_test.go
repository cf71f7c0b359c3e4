package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/clementinec/wrtvoice/domain/entities"
	"github.com/clementinec/wrtvoice/domain/repositories"
)

var base = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func atSec(seconds float64) time.Time {
	return base.Add(time.Duration(seconds * float64(time.Second)))
}

// fakeTranscriber returns a fixed text and records the audio it was given.
type fakeTranscriber struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
	audio [][]byte
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio []byte, _ repositories.AudioConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.audio = append(f.audio, audio)
	return f.text, f.err
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeGenerator hands out scripted streams.
type fakeGenerator struct {
	mu        sync.Mutex
	fragments []string
	finalErr  error
	openErr   error
	streams   []*channelStream
}

func (f *fakeGenerator) Stream(_ context.Context, _ []entities.ConversationTurn, _ string) (repositories.FragmentStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	stream := newChannelStream()
	f.streams = append(f.streams, stream)
	go func() {
		for _, fragment := range f.fragments {
			stream.ch <- fragmentOrErr{fragment: fragment}
		}
		if f.finalErr != nil {
			stream.ch <- fragmentOrErr{err: f.finalErr}
		} else if len(f.fragments) > 0 {
			stream.ch <- fragmentOrErr{err: io.EOF}
		}
		// With nothing scripted the stream stays open so tests can hold a
		// responding episode and feed it manually.
	}()
	return stream, nil
}

type fragmentOrErr struct {
	fragment string
	err      error
}

// channelStream blocks Recv until a fragment is supplied, letting tests hold
// a responding episode open.
type channelStream struct {
	ch chan fragmentOrErr
}

func newChannelStream() *channelStream {
	return &channelStream{ch: make(chan fragmentOrErr, 16)}
}

func (s *channelStream) Recv() (string, error) {
	item := <-s.ch
	return item.fragment, item.err
}

func (s *channelStream) Close() error { return nil }

// captureNotifier records every event in production order.
type notifierEvent struct {
	kind      string
	status    entities.SessionStatus
	remaining time.Duration
	text      string
	final     bool
}

type captureNotifier struct {
	mu     sync.Mutex
	events []notifierEvent
}

func (c *captureNotifier) Status(status entities.SessionStatus, remaining time.Duration) {
	c.record(notifierEvent{kind: "status", status: status, remaining: remaining})
}
func (c *captureNotifier) Transcription(text string, final bool) {
	c.record(notifierEvent{kind: "transcription", text: text, final: final})
}
func (c *captureNotifier) ResponseChunk(chunk string, _ time.Time) {
	c.record(notifierEvent{kind: "chunk", text: chunk})
}
func (c *captureNotifier) ResponseComplete(text string, _ time.Time) {
	c.record(notifierEvent{kind: "complete", text: text})
}
func (c *captureNotifier) Response(text string, _ time.Time) {
	c.record(notifierEvent{kind: "response", text: text})
}
func (c *captureNotifier) Error(message string) {
	c.record(notifierEvent{kind: "error", text: message})
}

func (c *captureNotifier) record(e notifierEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureNotifier) snapshot() []notifierEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notifierEvent, len(c.events))
	copy(out, c.events)
	return out
}

func (c *captureNotifier) count(kind string) int {
	n := 0
	for _, e := range c.snapshot() {
		if e.kind == kind {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func newTestOrchestrator(transcriber repositories.Transcriber, generator repositories.Generator) (*Orchestrator, *captureNotifier) {
	orch := NewOrchestrator(
		transcriber,
		generator,
		repositories.AudioConfig{SampleRate: 16000, Encoding: "LINEAR16", Language: "en-US"},
		2*time.Second,
		32000,
		zap.NewNop(),
	)
	notifier := &captureNotifier{}
	if err := orch.Attach(notifier); err != nil {
		panic(err)
	}
	return orch, notifier
}

func TestAttachStartsListening(t *testing.T) {
	orch, notifier := newTestOrchestrator(&fakeTranscriber{text: "hi"}, &fakeGenerator{})

	if orch.Status() != entities.StatusListening {
		t.Errorf("Status after attach = %s, want listening", orch.Status())
	}
	events := notifier.snapshot()
	if len(events) != 1 || events[0].status != entities.StatusListening {
		t.Errorf("Attach events = %v, want a single listening status", events)
	}
}

func TestFullPhraseCycle(t *testing.T) {
	transcriber := &fakeTranscriber{text: "I think AI creates jobs"}
	generator := &fakeGenerator{fragments: []string{"What evidence ", "supports that?"}}
	orch, notifier := newTestOrchestrator(transcriber, generator)

	if err := orch.IngestAudio([]byte("speech"), atSec(0)); err != nil {
		t.Fatalf("IngestAudio: %v", err)
	}

	// Live partial transcription runs off the ingest.
	waitFor(t, "partial transcription", func() bool {
		return notifier.count("transcription") == 1
	})

	// Silence countdown.
	orch.Tick(atSec(1.0))
	if orch.Status() != entities.StatusPausing {
		t.Fatalf("Status after silent tick = %s, want pausing", orch.Status())
	}

	// Timeout reached: finalize, analyze, respond, return to listening.
	orch.Tick(atSec(2.5))
	if orch.Status() != entities.StatusAnalyzing {
		t.Fatalf("Status after finalize tick = %s, want analyzing", orch.Status())
	}

	waitFor(t, "cycle completion", func() bool {
		return orch.Status() == entities.StatusListening && notifier.count("complete") == 1
	})

	turns := orch.Turns()
	if len(turns) != 2 {
		t.Fatalf("Turn count = %d, want student + bot", len(turns))
	}
	if turns[0].Speaker != entities.SpeakerStudent || turns[0].Text != "I think AI creates jobs" {
		t.Errorf("Student turn = %+v", turns[0])
	}
	if turns[0].AudioDurationSeconds == nil {
		t.Error("Student turn missing audio duration")
	}
	if turns[1].Speaker != entities.SpeakerBot || turns[1].Text != "What evidence supports that?" {
		t.Errorf("Bot turn = %+v", turns[1])
	}

	if got := notifier.count("chunk"); got != 2 {
		t.Errorf("Forwarded %d chunks, want 2", got)
	}
	// One live partial, then the finalize-path transcription that closes the
	// phrase. Only the latter is marked final, even though the text matches.
	var transcriptions []notifierEvent
	for _, e := range notifier.snapshot() {
		if e.kind == "transcription" {
			transcriptions = append(transcriptions, e)
		}
	}
	if len(transcriptions) != 2 {
		t.Fatalf("Transcription messages = %d, want partial + final", len(transcriptions))
	}
	if transcriptions[0].final {
		t.Error("Live partial transcription marked final")
	}
	if !transcriptions[1].final {
		t.Error("Finalize-path transcription not marked final")
	}
}

func TestDuplicateTranscriptionsSuppressed(t *testing.T) {
	transcriber := &fakeTranscriber{text: "same words"}
	orch, notifier := newTestOrchestrator(transcriber, &fakeGenerator{})

	orch.IngestAudio([]byte("a"), atSec(0))
	waitFor(t, "first partial", func() bool { return transcriber.callCount() == 1 })

	orch.IngestAudio([]byte("b"), atSec(0.5))
	waitFor(t, "second partial", func() bool { return transcriber.callCount() == 2 })

	if got := notifier.count("transcription"); got != 1 {
		t.Errorf("Transcription messages = %d, want 1 for identical texts", got)
	}
}

func TestEmptyTranscriptionFailSoft(t *testing.T) {
	transcriber := &fakeTranscriber{text: "", err: repositories.ErrEmptyTranscript}
	orch, notifier := newTestOrchestrator(transcriber, &fakeGenerator{})

	orch.IngestAudio([]byte("noise"), atSec(0))
	orch.Tick(atSec(2.5))

	waitFor(t, "return to listening", func() bool {
		return orch.Status() == entities.StatusListening && notifier.count("status") >= 3
	})

	if turns := orch.Turns(); len(turns) != 0 {
		t.Errorf("Discarded phrase recorded %d turns, want 0", len(turns))
	}
	if notifier.count("complete") != 0 || notifier.count("response") != 0 {
		t.Error("No bot response may be generated for a discarded phrase")
	}
}

func TestPausingNotificationsThrottled(t *testing.T) {
	orch, notifier := newTestOrchestrator(&fakeTranscriber{text: "x"}, &fakeGenerator{})

	orch.IngestAudio([]byte("a"), atSec(0))
	orch.Tick(atSec(0.3)) // first pausing, notified
	orch.Tick(atSec(0.5)) // 200ms later, throttled
	orch.Tick(atSec(0.7)) // 400ms later, throttled
	orch.Tick(atSec(0.9)) // 600ms later, notified

	pausing := 0
	for _, e := range notifier.snapshot() {
		if e.kind == "status" && e.status == entities.StatusPausing {
			pausing++
		}
	}
	if pausing != 2 {
		t.Errorf("Pausing notifications = %d, want 2 (throttled to 500ms)", pausing)
	}
}

func TestAudioDuringRespondingIsRetained(t *testing.T) {
	transcriber := &fakeTranscriber{text: "first phrase"}
	generator := &fakeGenerator{}
	orch, notifier := newTestOrchestrator(transcriber, generator)

	orch.IngestAudio([]byte("first"), atSec(0))
	orch.Tick(atSec(2.5))

	waitFor(t, "responding episode", func() bool {
		return orch.Status() == entities.StatusResponding
	})

	// Speech arriving while the bot holds the floor is buffered, with no
	// status regression and no live transcript.
	transcriptionsBefore := notifier.count("transcription")
	if err := orch.IngestAudio([]byte("second"), atSec(3.0)); err != nil {
		t.Fatalf("IngestAudio during responding: %v", err)
	}
	if orch.Status() != entities.StatusResponding {
		t.Errorf("Status changed to %s on buffered audio", orch.Status())
	}
	if notifier.count("transcription") != transcriptionsBefore {
		t.Error("Buffered audio must not trigger live transcription")
	}

	// Release the generation stream.
	generator.mu.Lock()
	stream := generator.streams[0]
	generator.mu.Unlock()
	stream.ch <- fragmentOrErr{fragment: "reply"}
	stream.ch <- fragmentOrErr{err: io.EOF}

	waitFor(t, "back to listening", func() bool {
		return orch.Status() == entities.StatusListening
	})

	// Segmentation resumes with the buffered audio and finalizes it.
	orch.Tick(atSec(6.0))
	waitFor(t, "second phrase transcribed", func() bool {
		// Partial calls may vary; the finalize path sends the buffered audio.
		transcriber.mu.Lock()
		defer transcriber.mu.Unlock()
		for _, audio := range transcriber.audio {
			if string(audio) == "second" {
				return true
			}
		}
		return false
	})
}

func TestGenerationFailurePromotesPartialText(t *testing.T) {
	transcriber := &fakeTranscriber{text: "question"}
	generator := &fakeGenerator{fragments: []string{"partial answer "}, finalErr: errors.New("upstream reset")}
	orch, notifier := newTestOrchestrator(transcriber, generator)

	orch.IngestAudio([]byte("a"), atSec(0))
	orch.Tick(atSec(2.5))

	waitFor(t, "fallback response", func() bool {
		return notifier.count("response") == 1 && orch.Status() == entities.StatusListening
	})

	turns := orch.Turns()
	if len(turns) != 2 {
		t.Fatalf("Turn count = %d, want student + partial bot turn", len(turns))
	}
	if turns[1].Text != "partial answer " {
		t.Errorf("Partial bot turn text = %q", turns[1].Text)
	}
	if notifier.count("complete") != 0 {
		t.Error("No streaming completion may follow a failed stream")
	}
}

func TestGenerationFailureWithoutFragments(t *testing.T) {
	transcriber := &fakeTranscriber{text: "question"}
	generator := &fakeGenerator{openErr: errors.New("connection refused")}
	orch, notifier := newTestOrchestrator(transcriber, generator)

	orch.IngestAudio([]byte("a"), atSec(0))
	orch.Tick(atSec(2.5))

	waitFor(t, "error surfaced", func() bool {
		return notifier.count("error") == 1 && orch.Status() == entities.StatusListening
	})

	turns := orch.Turns()
	if len(turns) != 1 || turns[0].Speaker != entities.SpeakerStudent {
		t.Errorf("Turns after failed generation = %+v, want only the student turn", turns)
	}
}

func TestEndDuringRespondingCancelsStream(t *testing.T) {
	transcriber := &fakeTranscriber{text: "question"}
	generator := &fakeGenerator{}
	orch, notifier := newTestOrchestrator(transcriber, generator)

	orch.IngestAudio([]byte("a"), atSec(0))
	orch.Tick(atSec(2.5))
	waitFor(t, "responding episode", func() bool {
		return orch.Status() == entities.StatusResponding
	})

	turns, err := orch.End()
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if len(turns) != 1 {
		t.Errorf("End returned %d turns, want the student turn only", len(turns))
	}

	// Let the stream finish late; its completion must be discarded.
	generator.mu.Lock()
	stream := generator.streams[0]
	generator.mu.Unlock()
	stream.ch <- fragmentOrErr{fragment: "too late"}
	stream.ch <- fragmentOrErr{err: io.EOF}

	time.Sleep(50 * time.Millisecond)
	if notifier.count("complete") != 0 {
		t.Error("A cancelled episode must not emit a completion")
	}

	if _, err := orch.End(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Second End error = %v, want ErrSessionClosed", err)
	}
	if err := orch.IngestAudio([]byte("x"), atSec(10)); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("IngestAudio after End error = %v, want ErrSessionClosed", err)
	}
}

func TestLateTranscriptionAfterEndIsDiscarded(t *testing.T) {
	gate := make(chan struct{})
	transcriber := &gatedTranscriber{gate: gate, text: "late result"}
	orch, notifier := newTestOrchestrator(transcriber, &fakeGenerator{})

	orch.IngestAudio([]byte("a"), atSec(0))
	orch.Tick(atSec(2.5))
	waitFor(t, "transcription in flight", func() bool { return transcriber.started() })

	if _, err := orch.End(); err != nil {
		t.Fatalf("End: %v", err)
	}
	close(gate)

	time.Sleep(50 * time.Millisecond)
	for _, e := range notifier.snapshot() {
		if e.kind == "status" && e.status == entities.StatusResponding {
			t.Error("Late transcription was applied to a closed session")
		}
	}
}

// gatedTranscriber blocks until its gate is closed.
type gatedTranscriber struct {
	mu      sync.Mutex
	gate    chan struct{}
	text    string
	inCall  bool
}

func (g *gatedTranscriber) Transcribe(_ context.Context, _ []byte, _ repositories.AudioConfig) (string, error) {
	g.mu.Lock()
	g.inCall = true
	g.mu.Unlock()
	<-g.gate
	return g.text, nil
}

func (g *gatedTranscriber) started() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inCall
}
