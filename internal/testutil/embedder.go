package testutil

import (
	"context"
	"fmt"
	"hash/fnv"
)

// FakeEmbedder produces deterministic vectors of a fixed width. The vector
// for a given input is stable across calls, so distance comparisons in tests
// are reproducible without a model.
type FakeEmbedder struct {
	Dim int

	// Err, when set, is returned from every Embed call.
	Err error

	// Calls counts Embed invocations.
	Calls int
}

// Embed returns one deterministic vector per input text.
func (f *FakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = deterministicVector(text, f.Dim)
	}
	return out, nil
}

// Dimensions reports the fixed vector width.
func (f *FakeEmbedder) Dimensions() int { return f.Dim }

// Name identifies the fake in logs and errors.
func (f *FakeEmbedder) Name() string { return fmt.Sprintf("fake-%d", f.Dim) }

func deterministicVector(text string, dim int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, dim)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed>>33)) / float32(1<<31)
	}
	return vec
}
