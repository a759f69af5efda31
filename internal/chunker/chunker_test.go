package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkEmptyInput(t *testing.T) {
	out := Chunk("", Config{ChunkSize: 100})
	assert.Empty(t, out)

	out = Chunk("   \n\t  ", Config{ChunkSize: 100})
	assert.Empty(t, out)
}

func TestChunkSmallerThanChunkSize(t *testing.T) {
	out := Chunk("hello world", Config{ChunkSize: 1000})
	require.Len(t, out, 1)
	assert.Equal(t, "hello world", out[0].Text)
	assert.Equal(t, 0, out[0].Index)
}

func TestChunkDeterministic(t *testing.T) {
	text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 50)
	cfg := Config{ChunkSize: 200, ChunkOverlap: 40}
	a := Chunk(text, cfg)
	b := Chunk(text, cfg)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Text, b[i].Text)
	}
}

func TestChunkRespectsSizeBound(t *testing.T) {
	text := strings.Repeat("word ", 1000)
	cfg := Config{ChunkSize: 300, ChunkOverlap: 50}
	out := Chunk(text, cfg)
	require.NotEmpty(t, out)
	for _, c := range out {
		assert.LessOrEqual(t, len(c.Text), cfg.ChunkSize+len(cfg.Separators))
	}
}

func TestChunkOverlapClampedWhenInvalid(t *testing.T) {
	cfg := Config{ChunkSize: 100, ChunkOverlap: 500}.normalized()
	assert.Equal(t, 20, cfg.ChunkOverlap)

	cfg = Config{ChunkSize: 100, ChunkOverlap: -5}.normalized()
	assert.Equal(t, 20, cfg.ChunkOverlap)
}

func TestChunkIndicesAreContiguous(t *testing.T) {
	text := strings.Repeat("lorem ipsum dolor sit amet ", 80)
	out := Chunk(text, Config{ChunkSize: 150, ChunkOverlap: 30})
	for i, c := range out {
		assert.Equal(t, i, c.Index)
	}
}

func TestChunkOversizedFragmentEscapeHatch(t *testing.T) {
	// A single run with no whitespace at all and chunk_size smaller than it
	// must still emit something (caller accepts oversized fragments is N/A
	// here because "" separator guarantees sub-chunking, but a separator
	// list without "" disables that fallback).
	text := strings.Repeat("x", 500)
	out := Chunk(text, Config{ChunkSize: 100, Separators: []string{"\n"}})
	require.NotEmpty(t, out)
	joined := ""
	for _, c := range out {
		joined += c.Text
	}
	assert.Equal(t, text, joined)
}
