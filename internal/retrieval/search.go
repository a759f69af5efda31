package retrieval

import (
	"context"
	"fmt"

	"raptorsvc/internal/store"
)

// searchCollapsed implements collapsed-mode search: rank summary/root nodes
// by distance, gather their leaf-chunk unions, then rank those chunks by
// distance.
func (e *Engine) searchCollapsed(ctx context.Context, req Request, query []float32) ([]ResultChunk, error) {
	embRepo := store.NewEmbeddingRepo(e.pool)
	treeRepo := store.NewTreeRepo(e.pool)

	nodeHits, err := embRepo.SearchTreeNodes(ctx, req.DatasetID, []store.NodeKind{store.NodeKindSummary, store.NodeKindRoot}, query, req.ExpandK)
	if err != nil {
		return nil, fmt.Errorf("search summary nodes: %w", err)
	}
	if len(nodeHits) == 0 {
		return nil, nil
	}

	seen := map[string]struct{}{}
	var candidateChunkIDs []string
	for _, hit := range nodeHits {
		ids, err := treeRepo.LeafChunkIDs(ctx, hit.OwnerID)
		if err != nil {
			return nil, fmt.Errorf("gather leaf chunks for node %s: %w", hit.OwnerID, err)
		}
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			candidateChunkIDs = append(candidateChunkIDs, id)
		}
	}
	if len(candidateChunkIDs) == 0 {
		return nil, nil
	}

	chunkHits, err := embRepo.SearchChunks(ctx, req.DatasetID, candidateChunkIDs, query, req.TopK)
	if err != nil {
		return nil, fmt.Errorf("rank candidate chunks: %w", err)
	}
	return e.hydrateChunks(ctx, chunkHits)
}

// searchTraversal implements traversal-mode search: descend the most
// recent tree, pruning to the top per_level_k children at each level, then
// gather leaf chunks under the final frontier.
func (e *Engine) searchTraversal(ctx context.Context, req Request, query []float32) ([]ResultChunk, error) {
	treeRepo := store.NewTreeRepo(e.pool)
	embRepo := store.NewEmbeddingRepo(e.pool)

	root, ok, err := treeRepo.LatestRoot(ctx, req.DatasetID)
	if err != nil {
		return nil, fmt.Errorf("find latest root: %w", err)
	}
	if !ok {
		return nil, nil
	}

	perLevelK := req.TopK
	frontier := []store.TreeNode{root}
	level := 0
	for {
		if req.LevelsCap > 0 && level >= req.LevelsCap {
			break
		}
		var children []store.TreeNode
		for _, n := range frontier {
			kids, err := treeRepo.ChildrenOf(ctx, n.NodeID)
			if err != nil {
				return nil, fmt.Errorf("children of %s: %w", n.NodeID, err)
			}
			children = append(children, kids...)
		}
		if len(children) == 0 {
			break
		}

		ranked, err := rankNodesByDistance(ctx, embRepo, req.DatasetID, children, query, perLevelK)
		if err != nil {
			return nil, err
		}
		frontier = ranked
		level++
	}

	var leafChunkIDs []string
	seen := map[string]struct{}{}
	for _, n := range frontier {
		ids, err := treeRepo.LeafChunkIDs(ctx, n.NodeID)
		if err != nil {
			return nil, fmt.Errorf("gather leaf chunks for node %s: %w", n.NodeID, err)
		}
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			leafChunkIDs = append(leafChunkIDs, id)
		}
	}
	if len(leafChunkIDs) == 0 {
		return nil, nil
	}

	chunkHits, err := embRepo.SearchChunks(ctx, req.DatasetID, leafChunkIDs, query, req.TopK)
	if err != nil {
		return nil, fmt.Errorf("rank final frontier chunks: %w", err)
	}
	return e.hydrateChunks(ctx, chunkHits)
}

// rankNodesByDistance scores candidate nodes by cosine distance to query
// and returns the top limit, ascending distance.
func rankNodesByDistance(ctx context.Context, embRepo *store.EmbeddingRepo, datasetID string, candidates []store.TreeNode, query []float32, limit int) ([]store.TreeNode, error) {
	ids := make([]string, len(candidates))
	byID := make(map[string]store.TreeNode, len(candidates))
	for i, n := range candidates {
		ids[i] = n.NodeID
		byID[n.NodeID] = n
	}

	hits, err := embRepo.RankNodesByIDs(ctx, datasetID, ids, query, limit)
	if err != nil {
		return nil, fmt.Errorf("rank nodes: %w", err)
	}

	out := make([]store.TreeNode, 0, len(hits))
	for _, h := range hits {
		out = append(out, byID[h.OwnerID])
	}
	return out, nil
}

// hydrateChunks fetches each result's text/doc/index and preserves the
// distance-ascending order already established by the search query.
func (e *Engine) hydrateChunks(ctx context.Context, hits []store.ScoredResult) ([]ResultChunk, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.OwnerID
	}

	docRepo := store.NewDocumentRepo(e.pool)
	chunksByID, err := docRepo.ChunksByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate chunk texts: %w", err)
	}

	out := make([]ResultChunk, 0, len(hits))
	for _, h := range hits {
		c := chunksByID[h.OwnerID]
		out = append(out, ResultChunk{
			ChunkID:  h.OwnerID,
			DocID:    c.DocID,
			Index:    c.Index,
			Text:     c.Text,
			Distance: h.Distance,
		})
	}
	return out, nil
}
