package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// schemaDDL creates the pgvector extension and the full relational schema:
// documents, chunks, trees, tree_nodes, tree_edges, tree_node_chunks, and
// embeddings, grounded in original_source/infra/db/models/raptor.py's
// SQLAlchemy ORM column and index definitions.
const schemaDDL = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS documents (
  doc_id      TEXT PRIMARY KEY,
  dataset_id  TEXT NOT NULL,
  source_uri  TEXT NOT NULL DEFAULT '',
  checksum    TEXT NOT NULL DEFAULT '',
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_documents_dataset ON documents(dataset_id);

CREATE TABLE IF NOT EXISTS chunks (
  chunk_id    TEXT PRIMARY KEY,
  doc_id      TEXT NOT NULL REFERENCES documents(doc_id) ON DELETE CASCADE,
  chunk_index INTEGER NOT NULL,
  text        TEXT NOT NULL,
  token_count INTEGER NOT NULL DEFAULT 0,
  metadata    JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE(doc_id, chunk_index)
);
CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id);

CREATE TABLE IF NOT EXISTS trees (
  tree_id     TEXT PRIMARY KEY,
  doc_id      TEXT NOT NULL REFERENCES documents(doc_id) ON DELETE CASCADE,
  dataset_id  TEXT NOT NULL,
  params      JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_trees_dataset ON trees(dataset_id);
CREATE INDEX IF NOT EXISTS idx_trees_doc ON trees(doc_id);

CREATE TABLE IF NOT EXISTS tree_nodes (
  node_id     TEXT PRIMARY KEY,
  tree_id     TEXT NOT NULL REFERENCES trees(tree_id) ON DELETE CASCADE,
  level       INTEGER NOT NULL,
  kind        TEXT NOT NULL CHECK (kind IN ('leaf', 'summary', 'root')),
  text        TEXT NOT NULL,
  metadata    JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_tree_nodes_tree ON tree_nodes(tree_id);
CREATE INDEX IF NOT EXISTS idx_tree_nodes_tree_level ON tree_nodes(tree_id, level);
CREATE INDEX IF NOT EXISTS idx_tree_nodes_kind ON tree_nodes(kind);

CREATE TABLE IF NOT EXISTS tree_edges (
  parent_id   TEXT NOT NULL REFERENCES tree_nodes(node_id) ON DELETE CASCADE,
  child_id    TEXT NOT NULL REFERENCES tree_nodes(node_id) ON DELETE CASCADE,
  PRIMARY KEY (parent_id, child_id)
);
CREATE INDEX IF NOT EXISTS idx_tree_edges_parent ON tree_edges(parent_id);
CREATE INDEX IF NOT EXISTS idx_tree_edges_child ON tree_edges(child_id);

CREATE TABLE IF NOT EXISTS tree_node_chunks (
  node_id     TEXT NOT NULL REFERENCES tree_nodes(node_id) ON DELETE CASCADE,
  chunk_id    TEXT NOT NULL REFERENCES chunks(chunk_id) ON DELETE CASCADE,
  rank        INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (node_id, chunk_id)
);
CREATE INDEX IF NOT EXISTS idx_tree_node_chunks_node ON tree_node_chunks(node_id);
CREATE INDEX IF NOT EXISTS idx_tree_node_chunks_chunk ON tree_node_chunks(chunk_id);

CREATE TABLE IF NOT EXISTS embeddings (
  embedding_id TEXT PRIMARY KEY,
  dataset_id   TEXT NOT NULL,
  owner_kind   TEXT NOT NULL CHECK (owner_kind IN ('chunk', 'tree_node')),
  owner_id     TEXT NOT NULL,
  model        TEXT NOT NULL,
  dimension    INTEGER NOT NULL,
  vector       vector NOT NULL,
  metadata     JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE(owner_kind, owner_id, model)
);
CREATE INDEX IF NOT EXISTS idx_embeddings_owner ON embeddings(owner_kind, owner_id);
CREATE INDEX IF NOT EXISTS idx_embeddings_dataset_owner ON embeddings(dataset_id, owner_kind, owner_id);
CREATE INDEX IF NOT EXISTS idx_embeddings_hnsw ON embeddings USING hnsw (vector vector_cosine_ops);
`

// DBTX is the subset of pgx's pool/transaction surface the repositories
// depend on, letting every repository method run inside or outside an
// explicit transaction uniformly (satisfied by both *pgxpool.Pool and
// pgx.Tx).
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// EnsureSchema creates the extension, tables, and indexes if absent. It is
// idempotent and safe to call on every process start.
func EnsureSchema(ctx context.Context, db DBTX) error {
	_, err := db.Exec(ctx, schemaDDL)
	return err
}
