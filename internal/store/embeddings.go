package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// OwnerKind enumerates what an Embedding row is attached to.
type OwnerKind string

const (
	OwnerKindChunk    OwnerKind = "chunk"
	OwnerKindTreeNode OwnerKind = "tree_node"
)

// Embedding is a single stored vector for a chunk or tree node.
type Embedding struct {
	EmbeddingID string
	DatasetID   string
	OwnerKind   OwnerKind
	OwnerID     string
	Model       string
	Dimension   int
	Vector      []float32
	Metadata    map[string]any
	CreatedAt   time.Time
}

// ScoredResult pairs an owner ID with its cosine distance to a query
// vector ([0,2], ascending: most similar first).
type ScoredResult struct {
	OwnerID  string
	Distance float64
}

// EmbeddingRepo persists and searches embeddings, grounded in the
// teacher's pgVector (postgres_vector.go): pgvector literal encoding and
// the `<=>` cosine-distance operator.
type EmbeddingRepo struct{ db DBTX }

// NewEmbeddingRepo builds an EmbeddingRepo over db (a pool or an active tx).
func NewEmbeddingRepo(db DBTX) *EmbeddingRepo { return &EmbeddingRepo{db: db} }

// Upsert inserts or replaces the embedding for (owner_kind, owner_id, model).
func (r *EmbeddingRepo) Upsert(ctx context.Context, e Embedding) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
INSERT INTO embeddings(embedding_id, dataset_id, owner_kind, owner_id, model, dimension, vector, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7::vector, $8)
ON CONFLICT (owner_kind, owner_id, model) DO UPDATE SET
  vector = EXCLUDED.vector, dimension = EXCLUDED.dimension, metadata = EXCLUDED.metadata
`, e.EmbeddingID, e.DatasetID, string(e.OwnerKind), e.OwnerID, e.Model, e.Dimension, vectorLiteral(e.Vector), meta)
	return err
}

// UpsertBatch upserts multiple embeddings; callers typically run this
// inside a transaction alongside the owning rows' inserts.
func (r *EmbeddingRepo) UpsertBatch(ctx context.Context, embeddings []Embedding) error {
	for _, e := range embeddings {
		if err := r.Upsert(ctx, e); err != nil {
			return fmt.Errorf("upsert embedding %s: %w", e.EmbeddingID, err)
		}
	}
	return nil
}

// ChunkEmbedding returns a chunk's stored vector and model name, used by
// the Tree Builder CLI path to recover already-embedded leaf vectors
// without re-calling the embedding gateway. The vector is cast to text so
// pgx decodes it without a pgvector-aware type registration, mirroring
// vectorLiteral's encoding on the write side.
func (r *EmbeddingRepo) ChunkEmbedding(ctx context.Context, chunkID string) ([]float32, string, error) {
	var raw string
	var model string
	err := r.db.QueryRow(ctx, `
SELECT vector::text, model FROM embeddings WHERE owner_kind = 'chunk' AND owner_id = $1
`, chunkID).Scan(&raw, &model)
	if err != nil {
		return nil, "", fmt.Errorf("chunk embedding %s: %w", chunkID, err)
	}
	vec, err := parseVectorLiteral(raw)
	if err != nil {
		return nil, "", fmt.Errorf("parse chunk embedding %s: %w", chunkID, err)
	}
	return vec, model, nil
}

// parseVectorLiteral parses a pgvector text literal ("[1,2,3]") back into
// a float32 slice, the inverse of vectorLiteral.
func parseVectorLiteral(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(p), "%g", &f); err != nil {
			return nil, fmt.Errorf("parse component %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

// SearchTreeNodes ranks tree nodes of the given kinds in a dataset by
// cosine distance to query, returning up to limit results ascending by
// distance (most similar first). Used by collapsed-mode search to find
// candidate summary/root nodes.
func (r *EmbeddingRepo) SearchTreeNodes(ctx context.Context, datasetID string, kinds []NodeKind, query []float32, limit int) ([]ScoredResult, error) {
	kindStrs := make([]string, len(kinds))
	for i, k := range kinds {
		kindStrs[i] = string(k)
	}
	rows, err := r.db.Query(ctx, `
SELECT e.owner_id, e.vector <=> $1::vector AS distance
FROM embeddings e
JOIN tree_nodes tn ON tn.node_id = e.owner_id
WHERE e.owner_kind = 'tree_node' AND e.dataset_id = $2 AND tn.kind = ANY($3)
ORDER BY distance ASC
LIMIT $4
`, vectorLiteral(query), datasetID, kindStrs, limit)
	if err != nil {
		return nil, err
	}
	return scanScored(rows)
}

// RankNodesByIDs ranks a specific set of tree nodes by cosine distance to
// query, returning up to limit results ascending by distance. Used by
// traversal-mode descent to score one level's children without rescanning
// the whole dataset.
func (r *EmbeddingRepo) RankNodesByIDs(ctx context.Context, datasetID string, nodeIDs []string, query []float32, limit int) ([]ScoredResult, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `
SELECT e.owner_id, e.vector <=> $1::vector AS distance
FROM embeddings e
WHERE e.owner_kind = 'tree_node' AND e.dataset_id = $2 AND e.owner_id = ANY($3)
ORDER BY distance ASC
LIMIT $4
`, vectorLiteral(query), datasetID, nodeIDs, limit)
	if err != nil {
		return nil, err
	}
	return scanScored(rows)
}

// SearchChunks ranks chunks in a dataset by cosine distance to query among
// chunkIDs (when non-empty, restricts to that set); used by both search
// modes' final leaf-gathering step.
func (r *EmbeddingRepo) SearchChunks(ctx context.Context, datasetID string, chunkIDs []string, query []float32, limit int) ([]ScoredResult, error) {
	var rows interface {
		Next() bool
		Scan(dest ...any) error
		Err() error
		Close()
	}
	var err error
	if len(chunkIDs) > 0 {
		rows, err = r.db.Query(ctx, `
SELECT e.owner_id, e.vector <=> $1::vector AS distance
FROM embeddings e
WHERE e.owner_kind = 'chunk' AND e.dataset_id = $2 AND e.owner_id = ANY($3)
ORDER BY distance ASC
LIMIT $4
`, vectorLiteral(query), datasetID, chunkIDs, limit)
	} else {
		rows, err = r.db.Query(ctx, `
SELECT e.owner_id, e.vector <=> $1::vector AS distance
FROM embeddings e
WHERE e.owner_kind = 'chunk' AND e.dataset_id = $2
ORDER BY distance ASC
LIMIT $3
`, vectorLiteral(query), datasetID, limit)
	}
	if err != nil {
		return nil, err
	}
	return scanScored(rows)
}

func scanScored(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}) ([]ScoredResult, error) {
	defer rows.Close()
	var out []ScoredResult
	for rows.Next() {
		var s ScoredResult
		if err := rows.Scan(&s.OwnerID, &s.Distance); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// vectorLiteral encodes a float32 vector as a pgvector text literal,
// identical in shape to the teacher's toVectorLiteral.
func vectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", x)
	}
	b.WriteByte(']')
	return b.String()
}
