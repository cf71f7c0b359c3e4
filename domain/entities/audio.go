package entities

import "time"

// AudioChunk is one raw audio payload received from the transport together
// with its arrival timestamp. Chunks are immutable and consumed exactly once
// by the phrase segmenter.
type AudioChunk struct {
	Payload   []byte
	ArrivedAt time.Time
}
