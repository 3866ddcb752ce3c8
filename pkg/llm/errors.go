package llm

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrModelUnavailable is returned when the Ollama backend cannot be
	// reached, rejects the request, or does not answer within the
	// configured timeout.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrDimensionMismatch is returned when the embedding model produces
	// vectors of a different dimension than configured.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// wrapModelErr classifies backend failures. Caller cancellation passes
// through untouched so it is not mistaken for an outage.
func wrapModelErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
}
