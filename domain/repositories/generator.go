package repositories

import (
	"context"

	"github.com/clementinec/wrtvoice/domain/entities"
)

// Generator abstracts the external language model collaborator. Stream opens
// one reply stream for the given student input; the history passed in does
// not include that input.
type Generator interface {
	Stream(ctx context.Context, history []entities.ConversationTurn, input string) (FragmentStream, error)
}

// FragmentStream is a lazy, finite, non-restartable sequence of reply text
// fragments. Recv returns io.EOF when the sequence is exhausted. Close
// releases the underlying stream and is safe to call after an error.
type FragmentStream interface {
	Recv() (string, error)
	Close() error
}
