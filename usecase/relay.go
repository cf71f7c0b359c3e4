package usecase

import (
	"context"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/clementinec/wrtvoice/domain/repositories"
)

// StreamingResponseRelay consumes one generation stream and forwards each
// fragment to the transport in arrival order while accumulating the full
// reply. One relay serves exactly one responding episode; its accumulation
// buffer never outlives the episode.
type StreamingResponseRelay struct {
	logger *zap.Logger
}

// NewStreamingResponseRelay creates a relay.
func NewStreamingResponseRelay(logger *zap.Logger) *StreamingResponseRelay {
	return &StreamingResponseRelay{logger: logger}
}

// Run drains the stream, calling forward for every non-empty fragment as it
// arrives. It returns the accumulated full text; on a mid-stream failure or
// cancellation the text gathered so far is returned alongside the error so
// the caller can fall back to non-streaming semantics instead of dropping it.
func (r *StreamingResponseRelay) Run(ctx context.Context, stream repositories.FragmentStream, forward func(fragment string)) (string, error) {
	defer stream.Close()

	var full strings.Builder
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("Generation stream cancelled")
			return full.String(), ctx.Err()
		default:
		}

		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return full.String(), nil
		}
		if err != nil {
			r.logger.Warn("Generation stream failed mid-sequence", zap.Error(err))
			return full.String(), err
		}
		if fragment == "" {
			continue
		}

		full.WriteString(fragment)
		forward(fragment)
	}
}
