// Package ingest implements the ingest_chunks_and_embeddings operation:
// run the chunker (C1) then the embedding gateway (C2) over a document's
// raw text, and persist the Document, Chunks, and chunk Embeddings in one
// transaction, grounded in the teacher's internal/rag/ingest staged
// pipeline + single-transaction persistence idiom.
package ingest

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"raptorsvc/internal/chunker"
	"raptorsvc/internal/embedding"
	"raptorsvc/internal/store"
)

// Result is the ingest operation's return value: the persisted chunks
// together with their leaf embeddings, ready to hand to the Tree Builder.
type Result struct {
	Chunks      []store.Chunk
	LeafVectors [][]float32
}

// Service wires the chunker and embedding gateway to the store.
type Service struct {
	pool     *pgxpool.Pool
	embedder embedding.Gateway
}

// NewService builds a Service.
func NewService(pool *pgxpool.Pool, embedder embedding.Gateway) *Service {
	return &Service{pool: pool, embedder: embedder}
}

// IngestChunksAndEmbeddings splits text into chunks, embeds them, and
// persists Document+Chunks+Embeddings(chunk) in one transaction.
func (s *Service) IngestChunksAndEmbeddings(ctx context.Context, documentID, datasetID, sourceURI, text string, chunkCfg chunker.Config) (Result, error) {
	if documentID == "" || datasetID == "" {
		return Result{}, fmt.Errorf("ingest: document_id and dataset_id are required")
	}

	fragments := chunker.Chunk(text, chunkCfg)
	if len(fragments) == 0 {
		return Result{}, fmt.Errorf("ingest: document %q produced no chunks", documentID)
	}

	texts := make([]string, len(fragments))
	for i, f := range fragments {
		texts[i] = f.Text
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: embed chunks: %w", err)
	}
	if len(vectors) != len(fragments) {
		return Result{}, fmt.Errorf("ingest: expected %d chunk vectors, got %d", len(fragments), len(vectors))
	}

	chunks := make([]store.Chunk, len(fragments))
	for i, f := range fragments {
		chunks[i] = store.Chunk{
			ChunkID:    chunkID(documentID, i),
			DocID:      documentID,
			Index:      f.Index,
			Text:       f.Text,
			TokenCount: f.TokenCount,
		}
	}

	err = store.WithTx(ctx, s.pool, func(ctx context.Context, db store.DBTX) error {
		docRepo := store.NewDocumentRepo(db)
		embRepo := store.NewEmbeddingRepo(db)

		if err := docRepo.UpsertDocument(ctx, store.Document{
			DocID: documentID, DatasetID: datasetID, SourceURI: sourceURI,
		}); err != nil {
			return fmt.Errorf("upsert document: %w", err)
		}
		if err := docRepo.InsertChunks(ctx, chunks); err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}

		embeddings := make([]store.Embedding, len(chunks))
		for i, c := range chunks {
			embeddings[i] = store.Embedding{
				EmbeddingID: embeddingID(string(store.OwnerKindChunk), c.ChunkID),
				DatasetID:   datasetID,
				OwnerKind:   store.OwnerKindChunk,
				OwnerID:     c.ChunkID,
				Model:       s.embedder.Name(),
				Dimension:   len(vectors[i]),
				Vector:      vectors[i],
			}
		}
		if err := embRepo.UpsertBatch(ctx, embeddings); err != nil {
			return fmt.Errorf("upsert chunk embeddings: %w", err)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	return Result{Chunks: chunks, LeafVectors: vectors}, nil
}

// chunkID deterministically derives a chunk's ID from its document and
// position, mirroring internal/raptor's leafNodeID scheme.
func chunkID(documentID string, index int) string {
	return fmt.Sprintf("%s::chunk::%06d", documentID, index)
}

// embeddingID deterministically derives an embedding row's ID from the
// owner kind and ID, matching internal/raptor's scheme.
func embeddingID(ownerKind, ownerID string) string {
	return fmt.Sprintf("%s::%s", ownerKind, ownerID)
}
