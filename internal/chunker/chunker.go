// Package chunker implements C1: deterministic, size-bounded recursive text
// splitting with a sliding overlap, grounded in the teacher's
// textsplitters recursive/fixed-window separator cascade.
package chunker

import (
	"strings"
)

// Config controls chunk boundaries. Zero-value Separators falls back to the
// default cascade.
type Config struct {
	ChunkSize     int
	ChunkOverlap  int
	Separators    []string
	KeepSeparator bool
}

// DefaultSeparators is the separator cascade used when Config.Separators is
// empty: paragraph, then line, then word, then character.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Chunk is one emitted fragment together with its position in the stream.
type Chunk struct {
	Index      int
	Text       string
	TokenCount int
}

func (c Config) normalized() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1200
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = c.ChunkSize / 5
	}
	if len(c.Separators) == 0 {
		c.Separators = DefaultSeparators
	}
	return c
}

// Chunk splits text into an ordered sequence of size-bounded, overlap
// preserving fragments. Deterministic for a given cfg.
func Chunk(text string, cfg Config) []Chunk {
	cfg = cfg.normalized()
	if strings.TrimSpace(text) == "" {
		return nil
	}

	fragments := split(text, cfg.Separators, cfg)
	merged := merge(fragments, cfg)

	out := make([]Chunk, 0, len(merged))
	for i, t := range merged {
		if strings.TrimSpace(t) == "" {
			continue
		}
		out = append(out, Chunk{Index: len(out), Text: t, TokenCount: estimateTokens(t)})
		_ = i
	}
	return out
}

// split recursively breaks text on the first separator; any resulting
// fragment still over chunk_size is recursed on the remaining separators.
func split(text string, seps []string, cfg Config) []string {
	if text == "" {
		return nil
	}
	if len(text) <= cfg.ChunkSize || len(seps) == 0 {
		return []string{text}
	}

	sep := seps[0]
	rest := seps[1:]

	var parts []string
	if sep == "" {
		// Character-level fallback: split into chunk_size-sized runs.
		runes := []rune(text)
		for i := 0; i < len(runes); i += cfg.ChunkSize {
			end := i + cfg.ChunkSize
			if end > len(runes) {
				end = len(runes)
			}
			parts = append(parts, string(runes[i:end]))
		}
		return parts
	}

	raw := strings.Split(text, sep)
	for i, p := range raw {
		if cfg.KeepSeparator && i < len(raw)-1 {
			p = p + sep
		}
		if p == "" {
			continue
		}
		if len(p) > cfg.ChunkSize {
			parts = append(parts, split(p, rest, cfg)...)
		} else {
			parts = append(parts, p)
		}
	}
	return parts
}

// merge greedily packs fragments up to chunk_size, carrying a sliding
// overlap of chunk_overlap characters across the boundary between chunks.
func merge(fragments []string, cfg Config) []string {
	var out []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		out = append(out, cur.String())
		cur.Reset()
	}

	for _, f := range fragments {
		if strings.TrimSpace(f) == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(f) > cfg.ChunkSize {
			prev := cur.String()
			flush()
			if cfg.ChunkOverlap > 0 {
				cur.WriteString(tailOverlap(prev, cfg.ChunkOverlap))
			}
		}
		cur.WriteString(f)
	}
	flush()
	return out
}

// tailOverlap returns the last n characters of s, rune-safe.
func tailOverlap(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

// estimateTokens uses the same chars/4 (rounded up) heuristic the summarizer
// falls back to when no model-specific tokenizer is wired.
func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}
