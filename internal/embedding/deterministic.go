package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// DeterministicEmbedder is an in-process Gateway for tests and offline
// fixtures: it maps text to a fixed-dimension unit vector derived from an
// FNV hash, so the same input always yields the same output without any
// network call, grounded in the teacher's test-only fake embedder idiom.
type DeterministicEmbedder struct {
	dim int
}

// NewDeterministicEmbedder builds a DeterministicEmbedder of the given
// output dimension.
func NewDeterministicEmbedder(dim int) *DeterministicEmbedder {
	if dim <= 0 {
		dim = 8
	}
	return &DeterministicEmbedder{dim: dim}
}

func (d *DeterministicEmbedder) Name() string  { return "deterministic-fake" }
func (d *DeterministicEmbedder) Dimension() int { return d.dim }

// EmbedDocuments embeds each text independently and deterministically.
func (d *DeterministicEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.vector(t)
	}
	return out, nil
}

// EmbedQuery embeds a single query deterministically.
func (d *DeterministicEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return d.vector(text), nil
}

func (d *DeterministicEmbedder) vector(text string) []float32 {
	v := make([]float32, d.dim)
	var sumSq float64
	seed := text
	for i := range v {
		h := fnv.New64a()
		h.Write([]byte(seed))
		sum := h.Sum64()
		val := float64(sum%2000) - 1000
		v[i] = float32(val)
		sumSq += val * val
		seed = seed + string(rune('a'+i%26))
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		norm = 1
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
