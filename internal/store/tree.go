package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// NodeKind enumerates the position of a TreeNode in its tree.
type NodeKind string

const (
	NodeKindLeaf    NodeKind = "leaf"
	NodeKindSummary NodeKind = "summary"
	NodeKindRoot    NodeKind = "root"
)

// Tree is a single RAPTOR build's root record for a document.
type Tree struct {
	TreeID    string
	DocID     string
	DatasetID string
	Params    map[string]any
	CreatedAt time.Time
}

// TreeNode is a single node (leaf, summary, or root) within a Tree.
type TreeNode struct {
	NodeID    string
	TreeID    string
	Level     int
	Kind      NodeKind
	Text      string
	Metadata  map[string]any
	CreatedAt time.Time
}

// NodeChunkLink ranks a node's member leaf chunks.
type NodeChunkLink struct {
	NodeID  string
	ChunkID string
	Rank    int
}

// TreeRepo persists trees, nodes, edges, and node-chunk links.
type TreeRepo struct{ db DBTX }

// NewTreeRepo builds a TreeRepo over db (a pool or an active tx).
func NewTreeRepo(db DBTX) *TreeRepo { return &TreeRepo{db: db} }

// InsertTree inserts a tree row, no-op if tree_id already exists (build
// retry uses deterministic tree IDs, so a retried build after a partial
// failure can safely re-run from the top).
func (r *TreeRepo) InsertTree(ctx context.Context, t Tree) error {
	params, err := json.Marshal(t.Params)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
INSERT INTO trees(tree_id, doc_id, dataset_id, params)
VALUES ($1, $2, $3, $4)
ON CONFLICT (tree_id) DO NOTHING
`, t.TreeID, t.DocID, t.DatasetID, params)
	return err
}

// InsertNode inserts a node, no-op if node_id already exists.
func (r *TreeRepo) InsertNode(ctx context.Context, n TreeNode) error {
	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
INSERT INTO tree_nodes(node_id, tree_id, level, kind, text, metadata)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (node_id) DO NOTHING
`, n.NodeID, n.TreeID, n.Level, string(n.Kind), n.Text, meta)
	return err
}

// SetNodeKind updates a node's kind (used to promote the final topmost
// node to kind=root).
func (r *TreeRepo) SetNodeKind(ctx context.Context, nodeID string, kind NodeKind) error {
	_, err := r.db.Exec(ctx, `UPDATE tree_nodes SET kind = $2 WHERE node_id = $1`, nodeID, string(kind))
	return err
}

// InsertEdge inserts a parent->child edge, no-op if it already exists.
func (r *TreeRepo) InsertEdge(ctx context.Context, parentID, childID string) error {
	_, err := r.db.Exec(ctx, `
INSERT INTO tree_edges(parent_id, child_id) VALUES ($1, $2)
ON CONFLICT (parent_id, child_id) DO NOTHING
`, parentID, childID)
	return err
}

// InsertNodeChunkLinks inserts NodeChunkLinks for a single node in rank order.
func (r *TreeRepo) InsertNodeChunkLinks(ctx context.Context, nodeID string, chunkIDs []string) error {
	for rank, chunkID := range chunkIDs {
		_, err := r.db.Exec(ctx, `
INSERT INTO tree_node_chunks(node_id, chunk_id, rank) VALUES ($1, $2, $3)
ON CONFLICT (node_id, chunk_id) DO NOTHING
`, nodeID, chunkID, rank)
		if err != nil {
			return err
		}
	}
	return nil
}

// ChildrenOf returns the child nodes of parentID, grounded in
// retrieval_repo.py's get_node_children join.
func (r *TreeRepo) ChildrenOf(ctx context.Context, parentID string) ([]TreeNode, error) {
	rows, err := r.db.Query(ctx, `
SELECT tn.node_id, tn.tree_id, tn.level, tn.kind, tn.text, tn.metadata, tn.created_at
FROM tree_edges te JOIN tree_nodes tn ON tn.node_id = te.child_id
WHERE te.parent_id = $1
`, parentID)
	if err != nil {
		return nil, err
	}
	return scanNodes(rows)
}

// LeafChunkIDs returns the chunk IDs linked to nodeID, in rank order.
func (r *TreeRepo) LeafChunkIDs(ctx context.Context, nodeID string) ([]string, error) {
	rows, err := r.db.Query(ctx, `
SELECT chunk_id FROM tree_node_chunks WHERE node_id = $1 ORDER BY rank ASC
`, nodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// LatestRoot returns the most recently built tree's root node for a
// dataset, tie-broken deterministically by tree_id, as the entry point for
// traversal-mode search.
func (r *TreeRepo) LatestRoot(ctx context.Context, datasetID string) (TreeNode, bool, error) {
	row := r.db.QueryRow(ctx, `
SELECT tn.node_id, tn.tree_id, tn.level, tn.kind, tn.text, tn.metadata, tn.created_at
FROM tree_nodes tn JOIN trees t ON t.tree_id = tn.tree_id
WHERE t.dataset_id = $1 AND tn.kind = 'root'
ORDER BY t.created_at DESC, t.tree_id ASC
LIMIT 1
`, datasetID)
	n, err := scanNode(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TreeNode{}, false, nil
		}
		return TreeNode{}, false, err
	}
	return n, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (TreeNode, error) {
	var n TreeNode
	var kind string
	var meta []byte
	if err := row.Scan(&n.NodeID, &n.TreeID, &n.Level, &kind, &n.Text, &meta, &n.CreatedAt); err != nil {
		return TreeNode{}, err
	}
	n.Kind = NodeKind(kind)
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &n.Metadata)
	}
	return n, nil
}

type rowsScanner interface {
	rowScanner
	Next() bool
	Err() error
	Close()
}

func scanNodes(rows rowsScanner) ([]TreeNode, error) {
	defer rows.Close()
	var out []TreeNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
