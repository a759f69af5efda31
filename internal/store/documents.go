package store

import (
	"context"
	"encoding/json"
	"time"
)

// Document is a single ingested source document.
type Document struct {
	DocID     string
	DatasetID string
	SourceURI string
	Checksum  string
	CreatedAt time.Time
}

// Chunk is one ordered fragment of a Document.
type Chunk struct {
	ChunkID    string
	DocID      string
	Index      int
	Text       string
	TokenCount int
	Metadata   map[string]any
	CreatedAt  time.Time
}

// DocumentRepo persists documents and their chunks.
type DocumentRepo struct{ db DBTX }

// NewDocumentRepo builds a DocumentRepo over db (a pool or an active tx).
func NewDocumentRepo(db DBTX) *DocumentRepo { return &DocumentRepo{db: db} }

// UpsertDocument inserts doc, updating source_uri/checksum on conflict.
func (r *DocumentRepo) UpsertDocument(ctx context.Context, doc Document) error {
	_, err := r.db.Exec(ctx, `
INSERT INTO documents(doc_id, dataset_id, source_uri, checksum)
VALUES ($1, $2, $3, $4)
ON CONFLICT (doc_id) DO UPDATE SET source_uri = EXCLUDED.source_uri, checksum = EXCLUDED.checksum
`, doc.DocID, doc.DatasetID, doc.SourceURI, doc.Checksum)
	return err
}

// InsertChunks inserts chunks for a document, skipping rows whose
// (doc_id, index) already exists (chunks are immutable after ingest).
func (r *DocumentRepo) InsertChunks(ctx context.Context, chunks []Chunk) error {
	for _, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return err
		}
		_, err = r.db.Exec(ctx, `
INSERT INTO chunks(chunk_id, doc_id, chunk_index, text, token_count, metadata)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (doc_id, chunk_index) DO NOTHING
`, c.ChunkID, c.DocID, c.Index, c.Text, c.TokenCount, meta)
		if err != nil {
			return err
		}
	}
	return nil
}

// ChunksByDocument returns a document's chunks ordered by index.
func (r *DocumentRepo) ChunksByDocument(ctx context.Context, docID string) ([]Chunk, error) {
	rows, err := r.db.Query(ctx, `
SELECT chunk_id, doc_id, chunk_index, text, token_count, metadata, created_at
FROM chunks WHERE doc_id = $1 ORDER BY chunk_index ASC
`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		var meta []byte
		if err := rows.Scan(&c.ChunkID, &c.DocID, &c.Index, &c.Text, &c.TokenCount, &meta, &c.CreatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &c.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ChunkTextsByIDs returns the text of each chunk in ids, keyed by chunk_id;
// ids with no matching chunk are absent from the map.
func (r *DocumentRepo) ChunkTextsByIDs(ctx context.Context, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	rows, err := r.db.Query(ctx, `SELECT chunk_id, text FROM chunks WHERE chunk_id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string, len(ids))
	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, err
		}
		out[id] = text
	}
	return out, rows.Err()
}

// ChunksByIDs returns the full chunk record for each id, keyed by chunk_id,
// used by retrieval to hydrate {doc_id, index, text} alongside a ranked
// owner_id/distance pair.
func (r *DocumentRepo) ChunksByIDs(ctx context.Context, ids []string) (map[string]Chunk, error) {
	if len(ids) == 0 {
		return map[string]Chunk{}, nil
	}
	rows, err := r.db.Query(ctx, `
SELECT chunk_id, doc_id, chunk_index, text, token_count, metadata, created_at
FROM chunks WHERE chunk_id = ANY($1)
`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Chunk, len(ids))
	for rows.Next() {
		var c Chunk
		var meta []byte
		if err := rows.Scan(&c.ChunkID, &c.DocID, &c.Index, &c.Text, &c.TokenCount, &meta, &c.CreatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &c.Metadata); err != nil {
				return nil, err
			}
		}
		out[c.ChunkID] = c
	}
	return out, rows.Err()
}
