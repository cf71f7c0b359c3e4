// Package segmenter decides where one spoken phrase ends and the next
// begins. A phrase is a contiguous span of speech bounded by silence of at
// least the configured timeout; the segmenter is a silence-timeout state
// machine driven by audio arrivals and periodic ticks.
package segmenter

import (
	"time"

	"github.com/clementinec/wrtvoice/domain/entities"
)

// UpdateKind discriminates the single result of an Ingest or Tick call.
type UpdateKind int

const (
	// UpdateNone: nothing pending, nothing to report.
	UpdateNone UpdateKind = iota
	// UpdatePartial: audio was appended to the current phrase.
	UpdatePartial
	// UpdatePausing: silence detected, countdown to finalize in progress.
	UpdatePausing
	// UpdateFinalize: the phrase is closed; Audio holds its full payload.
	UpdateFinalize
)

// Update is the discriminated result of one segmenter call. Every call
// returns exactly one Update, never a collection.
type Update struct {
	Kind UpdateKind

	// Remaining is the countdown until finalize. Valid for UpdatePausing.
	Remaining time.Duration

	// Audio is the finalized phrase payload. Valid for UpdateFinalize.
	Audio []byte

	// AudioDuration is the playback duration of Audio.
	// Valid for UpdateFinalize.
	AudioDuration time.Duration
}

// Segmenter accumulates audio chunks and closes a phrase once the gap since
// the most recently ingested chunk reaches the timeout. It is not safe for
// concurrent use; callers serialize Ingest and Tick through a single writer.
type Segmenter struct {
	timeout        time.Duration
	bytesPerSecond int

	// lastAudioAt is zero when no phrase is pending. Invariant: it is
	// non-zero exactly when the buffer holds audio.
	lastAudioAt time.Time
	buf         phraseBuffer
}

// New creates a segmenter. bytesPerSecond converts buffered byte counts to
// audio durations (sample rate times bytes per sample for raw PCM).
func New(timeout time.Duration, bytesPerSecond int) *Segmenter {
	return &Segmenter{
		timeout:        timeout,
		bytesPerSecond: bytesPerSecond,
	}
}

// Ingest appends a chunk to the current phrase and restarts the silence
// countdown. A chunk arriving during a pause extends the countdown back to
// the full timeout without clearing the buffer, so a phrase survives
// mid-sentence pauses intact.
func (s *Segmenter) Ingest(chunk entities.AudioChunk) Update {
	s.buf.append(chunk.Payload)
	// The countdown is measured from the chunk just appended, never from a
	// timestamp captured before the append.
	s.lastAudioAt = chunk.ArrivedAt
	return Update{Kind: UpdatePartial}
}

// Tick evaluates the silence countdown at the given instant. Safe to call
// when no audio is pending.
func (s *Segmenter) Tick(now time.Time) Update {
	if s.lastAudioAt.IsZero() {
		return Update{Kind: UpdateNone}
	}
	elapsed := now.Sub(s.lastAudioAt)
	if elapsed >= s.timeout {
		audio := s.buf.snapshot()
		duration := s.buf.duration(s.bytesPerSecond)
		s.buf.clear()
		s.lastAudioAt = time.Time{}
		return Update{Kind: UpdateFinalize, Audio: audio, AudioDuration: duration}
	}
	return Update{Kind: UpdatePausing, Remaining: s.timeout - elapsed}
}

// PendingAudio returns a copy of the audio accumulated so far without
// closing the phrase. Used for live partial transcription.
func (s *Segmenter) PendingAudio() []byte {
	if s.buf.size == 0 {
		return nil
	}
	return s.buf.snapshot()
}

// Pending reports whether unfinalized audio is buffered.
func (s *Segmenter) Pending() bool {
	return !s.lastAudioAt.IsZero()
}

// Timeout returns the configured silence timeout.
func (s *Segmenter) Timeout() time.Duration {
	return s.timeout
}

// Flush discards any unfinalized audio. Called on session teardown; the
// discarded audio is never transcribed.
func (s *Segmenter) Flush() {
	s.buf.clear()
	s.lastAudioAt = time.Time{}
}

// phraseBuffer is the ordered audio accumulated since the last finalize.
// Owned exclusively by the segmenter.
type phraseBuffer struct {
	chunks [][]byte
	size   int
}

func (b *phraseBuffer) append(payload []byte) {
	chunk := make([]byte, len(payload))
	copy(chunk, payload)
	b.chunks = append(b.chunks, chunk)
	b.size += len(chunk)
}

func (b *phraseBuffer) snapshot() []byte {
	out := make([]byte, 0, b.size)
	for _, chunk := range b.chunks {
		out = append(out, chunk...)
	}
	return out
}

func (b *phraseBuffer) duration(bytesPerSecond int) time.Duration {
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(float64(b.size) / float64(bytesPerSecond) * float64(time.Second))
}

func (b *phraseBuffer) clear() {
	b.chunks = nil
	b.size = 0
}
