// Package embed provides the multi-provider embedding abstraction.
//
// Two backends are supported: a hosted OpenAI-compatible API and a local
// Ollama runtime. Providers report their output vector width so callers can
// route storage and search to the matching dimension slot; widths outside
// the supported set are rejected at resolution time rather than silently
// coerced.
package embed

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrUnsupportedDimension indicates the resolved model produces a vector
	// width outside the supported set.
	ErrUnsupportedDimension = errors.New("unsupported embedding dimension")

	// ErrMissingAPIKey indicates hosted-API resolution has no credential.
	ErrMissingAPIKey = errors.New("missing embedding API key")

	// ErrBackendUnavailable indicates the embedding backend cannot be
	// reached or is not ready.
	ErrBackendUnavailable = errors.New("embedding backend unavailable")

	// ErrUnknownProvider indicates an unrecognized provider name.
	ErrUnknownProvider = errors.New("unknown embedding provider")
)

// SupportedDimensions are the vector widths the chunk store can hold.
var SupportedDimensions = []int{384, 768, 1024, 1536}

// Embedder generates fixed-width embedding vectors for text.
type Embedder interface {
	// Embed generates embeddings for one or more texts, one vector per
	// input, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector width this embedder produces.
	Dimensions() int

	// Name returns the model identifier actually used.
	Name() string
}

// ValidateDimension checks that a model's vector width is storable.
func ValidateDimension(model string, dim int) error {
	if !slices.Contains(SupportedDimensions, dim) {
		return fmt.Errorf("%w: model %q produces %d-dimensional vectors, supported widths are %v",
			ErrUnsupportedDimension, model, dim, SupportedDimensions)
	}
	return nil
}
