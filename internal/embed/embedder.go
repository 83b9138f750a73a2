// Package embed provides text embedding clients for semantic retrieval.
//
// The only production implementation talks to an Ollama server; every call
// goes through a circuit breaker so a down embedder degrades retrieval to
// keyword-only instead of stalling it.
package embed

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the embedding backend cannot serve
// requests, either because it is unreachable or because the circuit breaker
// has opened. Callers fall back to keyword-only retrieval.
var ErrUnavailable = errors.New("embedding backend unavailable")

// Embedder generates embedding vectors for text.
type Embedder interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float64, error)

	// Model returns the embedding model identifier, used for cache
	// staleness checks.
	Model() string
}
