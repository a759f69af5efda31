package raptor

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"raptorsvc/internal/cluster"
	"raptorsvc/internal/embedding"
	"raptorsvc/internal/obs"
	"raptorsvc/internal/store"
	"raptorsvc/internal/summarizer"
)

// Chunk is a single (chunk_id, text) leaf input to a build, paired with
// its already-computed embedding.
type Chunk struct {
	ChunkID string
	Text    string
	Vector  []float32
}

// BuildError wraps a build failure with the {level, tree_id} context
// needed to diagnose and retry a partial build.
type BuildError struct {
	TreeID string
	Level  int
	Err    error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("raptor build failed at tree=%s level=%d: %v", e.TreeID, e.Level, e.Err)
}
func (e *BuildError) Unwrap() error { return e.Err }

// Builder implements C4 over a Postgres pool, an embedding gateway, and a
// summarizer gateway, grounded in the teacher's rag/service functional-
// options + Clock/Logger/Metrics orchestration idiom.
type Builder struct {
	pool       *pgxpool.Pool
	embedder   embedding.Gateway
	summarizer *summarizer.Gateway
	clock      obs.Clock
	log        zerolog.Logger
	metrics    *obs.Metrics
}

// Option configures a Builder.
type Option func(*Builder)

// WithClock overrides the Builder's time source (for tests).
func WithClock(c obs.Clock) Option { return func(b *Builder) { b.clock = c } }

// WithLogger overrides the Builder's logger.
func WithLogger(l zerolog.Logger) Option { return func(b *Builder) { b.log = l } }

// WithMetrics overrides the Builder's metrics sink.
func WithMetrics(m *obs.Metrics) Option { return func(b *Builder) { b.metrics = m } }

// NewBuilder constructs a Builder.
func NewBuilder(pool *pgxpool.Pool, embedder embedding.Gateway, summarizerGW *summarizer.Gateway, opts ...Option) *Builder {
	b := &Builder{
		pool:       pool,
		embedder:   embedder,
		summarizer: summarizerGW,
		clock:      obs.SystemClock{},
		log:        zerolog.Nop(),
		metrics:    nil,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// level is the in-memory working layer between persistence rounds.
type level struct {
	nodeIDs []string
	vectors [][]float32
	texts   []string
}

// Build implements C4's public contract: given a document's chunks and
// their leaf embeddings, persist a RAPTOR tree and return its ID.
func (b *Builder) Build(ctx context.Context, documentID, datasetID string, chunks []Chunk, params Params) (string, error) {
	if len(chunks) == 0 {
		return "", fmt.Errorf("raptor build: no chunks for document %q", documentID)
	}
	if documentID == "" || datasetID == "" {
		return "", fmt.Errorf("raptor build: document_id and dataset_id are required")
	}
	dim := len(chunks[0].Vector)
	for _, c := range chunks {
		if len(c.Vector) != dim {
			return "", fmt.Errorf("raptor build: inconsistent vector dimension for document %q", documentID)
		}
	}

	tID := treeID(documentID)
	leafChunkSets := make(map[string][]string, len(chunks)*2)

	err := store.WithTx(ctx, b.pool, func(ctx context.Context, db store.DBTX) error {
		treeRepo := store.NewTreeRepo(db)
		embRepo := store.NewEmbeddingRepo(db)

		if err := treeRepo.InsertTree(ctx, store.Tree{
			TreeID:    tID,
			DocID:     documentID,
			DatasetID: datasetID,
			Params:    params.asMap(),
		}); err != nil {
			return fmt.Errorf("insert tree: %w", err)
		}

		cur := level{
			nodeIDs: make([]string, len(chunks)),
			vectors: make([][]float32, len(chunks)),
			texts:   make([]string, len(chunks)),
		}
		for i, c := range chunks {
			nodeID := leafNodeID(tID, i)
			cur.nodeIDs[i] = nodeID
			cur.vectors[i] = c.Vector
			cur.texts[i] = c.Text
			leafChunkSets[nodeID] = []string{c.ChunkID}

			if err := treeRepo.InsertNode(ctx, store.TreeNode{
				NodeID: nodeID, TreeID: tID, Level: 0, Kind: store.NodeKindLeaf, Text: c.Text,
			}); err != nil {
				return fmt.Errorf("insert leaf node: %w", err)
			}
			if err := treeRepo.InsertNodeChunkLinks(ctx, nodeID, []string{c.ChunkID}); err != nil {
				return fmt.Errorf("insert leaf links: %w", err)
			}
			if err := embRepo.Upsert(ctx, store.Embedding{
				EmbeddingID: embeddingID(string(store.OwnerKindTreeNode), nodeID),
				DatasetID:   datasetID,
				OwnerKind:   store.OwnerKindTreeNode,
				OwnerID:     nodeID,
				Model:       b.embedder.Name(),
				Dimension:   dim,
				Vector:      c.Vector,
			}); err != nil {
				return fmt.Errorf("insert leaf embedding: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return "", &BuildError{TreeID: tID, Level: 0, Err: err}
	}

	cur := level{
		nodeIDs: make([]string, len(chunks)),
		vectors: make([][]float32, len(chunks)),
		texts:   make([]string, len(chunks)),
	}
	for i, c := range chunks {
		cur.nodeIDs[i] = leafNodeID(tID, i)
		cur.vectors[i] = c.Vector
		cur.texts[i] = c.Text
	}

	lastEmbedAt := time.Time{}
	for lvl := 0; lvl < params.MaxTreeLevels; lvl++ {
		if len(cur.nodeIDs) <= 1 {
			if err := b.promoteRoot(ctx, cur.nodeIDs[0]); err != nil {
				return "", &BuildError{TreeID: tID, Level: lvl, Err: err}
			}
			return tID, nil
		}

		next, err := b.buildLevel(ctx, tID, datasetID, lvl, cur, params, leafChunkSets, &lastEmbedAt)
		if err != nil {
			return "", &BuildError{TreeID: tID, Level: lvl + 1, Err: err}
		}
		cur = next
	}

	// Safety cap reached: the topmost layer's node(s) are still promoted to
	// root rather than treated as a failure.
	if len(cur.nodeIDs) == 1 {
		if err := b.promoteRoot(ctx, cur.nodeIDs[0]); err != nil {
			return "", &BuildError{TreeID: tID, Level: params.MaxTreeLevels, Err: err}
		}
		return tID, nil
	}
	rootID, err := b.forceRoot(ctx, tID, datasetID, params.MaxTreeLevels, cur, leafChunkSets)
	if err != nil {
		return "", &BuildError{TreeID: tID, Level: params.MaxTreeLevels, Err: err}
	}
	if err := b.promoteRoot(ctx, rootID); err != nil {
		return "", &BuildError{TreeID: tID, Level: params.MaxTreeLevels, Err: err}
	}
	return tID, nil
}

// buildLevel runs one pass of cluster -> summarize -> embed -> persist.
func (b *Builder) buildLevel(ctx context.Context, tID, datasetID string, lvl int, cur level, params Params, leafChunkSets map[string][]string, lastEmbedAt *time.Time) (level, error) {
	timer := obs.StartStage(b.clock, b.log, b.metrics, "raptor.level", map[string]string{"tree_id": tID, "level": fmt.Sprintf("%d", lvl)})
	defer timer.Stop()

	clusterCfg := cluster.Config{
		MinK: params.MinK, MaxK: params.MaxK,
		MinClusterSize: params.MinClusterSize, MaxClusterSize: params.MaxClusterSize,
	}
	groups, err := cluster.Assign(cur.vectors, clusterCfg)
	if err != nil {
		return level{}, fmt.Errorf("cluster level %d: %w", lvl, err)
	}

	summaries, err := b.summarizeClusters(ctx, groups, cur.texts, params)
	if err != nil {
		return level{}, fmt.Errorf("summarize level %d: %w", lvl, err)
	}

	if wait := params.embedInterval() - b.clock.Now().Sub(*lastEmbedAt); *lastEmbedAt != (time.Time{}) && wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return level{}, ctx.Err()
		}
	}
	summaryVectors, err := b.embedder.EmbedDocuments(ctx, summaries)
	if err != nil {
		return level{}, fmt.Errorf("embed summaries level %d: %w", lvl, err)
	}
	*lastEmbedAt = b.clock.Now()

	next := level{
		nodeIDs: make([]string, len(groups)),
		vectors: summaryVectors,
		texts:   summaries,
	}

	err = store.WithTx(ctx, b.pool, func(ctx context.Context, db store.DBTX) error {
		treeRepo := store.NewTreeRepo(db)
		embRepo := store.NewEmbeddingRepo(db)

		for gi, members := range groups {
			nodeID, err := summaryNodeID(tID, lvl+1, gi)
			if err != nil {
				return fmt.Errorf("generate summary node id: %w", err)
			}
			next.nodeIDs[gi] = nodeID

			if err := treeRepo.InsertNode(ctx, store.TreeNode{
				NodeID: nodeID, TreeID: tID, Level: lvl + 1, Kind: store.NodeKindSummary, Text: summaries[gi],
			}); err != nil {
				return fmt.Errorf("insert summary node: %w", err)
			}

			var childSets [][]string
			for _, memberIdx := range members {
				childID := cur.nodeIDs[memberIdx]
				if err := treeRepo.InsertEdge(ctx, nodeID, childID); err != nil {
					return fmt.Errorf("insert edge: %w", err)
				}
				childSets = append(childSets, leafChunkSets[childID])
			}
			union := store.UnionLeafChunks(childSets...)
			leafChunkSets[nodeID] = union
			if err := treeRepo.InsertNodeChunkLinks(ctx, nodeID, union); err != nil {
				return fmt.Errorf("insert node-chunk links: %w", err)
			}

			if err := embRepo.Upsert(ctx, store.Embedding{
				EmbeddingID: embeddingID(string(store.OwnerKindTreeNode), nodeID),
				DatasetID:   datasetID,
				OwnerKind:   store.OwnerKindTreeNode,
				OwnerID:     nodeID,
				Model:       b.embedder.Name(),
				Dimension:   len(summaryVectors[gi]),
				Vector:      summaryVectors[gi],
			}); err != nil {
				return fmt.Errorf("insert summary embedding: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return level{}, err
	}
	return next, nil
}

// summarizeClusters summarizes each cluster's member texts in parallel
// under a semaphore of size llm_concurrency, preserving cluster order.
func (b *Builder) summarizeClusters(ctx context.Context, groups [][]int, texts []string, params Params) ([]string, error) {
	sem := semaphore.NewWeighted(int64(params.LLMConcurrency))
	out := make([]string, len(groups))

	g, ctx := errgroup.WithContext(ctx)
	for gi, members := range groups {
		gi, members := gi, members
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			memberTexts := make([]string, len(members))
			for i, idx := range members {
				memberTexts[i] = texts[idx]
			}
			summary, err := b.summarizer.Summarize(ctx, params.SummaryModel, memberTexts, params.MaxTokens)
			if err != nil {
				return fmt.Errorf("cluster %d: %w", gi, err)
			}
			out[gi] = summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// promoteRoot marks the topmost node kind=root.
func (b *Builder) promoteRoot(ctx context.Context, nodeID string) error {
	return store.WithTx(ctx, b.pool, func(ctx context.Context, db store.DBTX) error {
		return store.NewTreeRepo(db).SetNodeKind(ctx, nodeID, store.NodeKindRoot)
	})
}

// forceRoot wraps a max-levels-reached frontier of >1 nodes into a single
// synthetic root so the tree invariant ("exactly one node has kind=root")
// holds even when the safety cap is hit before natural convergence.
func (b *Builder) forceRoot(ctx context.Context, tID, datasetID string, lvl int, cur level, leafChunkSets map[string][]string) (string, error) {
	var rootID string
	err := store.WithTx(ctx, b.pool, func(ctx context.Context, db store.DBTX) error {
		treeRepo := store.NewTreeRepo(db)
		embRepo := store.NewEmbeddingRepo(db)

		id, err := summaryNodeID(tID, lvl+1, 0)
		if err != nil {
			return err
		}
		rootID = id

		combinedText := ""
		for i, t := range cur.texts {
			if i > 0 {
				combinedText += "\n\n"
			}
			combinedText += t
		}
		if err := treeRepo.InsertNode(ctx, store.TreeNode{
			NodeID: rootID, TreeID: tID, Level: lvl + 1, Kind: store.NodeKindSummary, Text: combinedText,
		}); err != nil {
			return err
		}

		var childSets [][]string
		for _, childID := range cur.nodeIDs {
			if err := treeRepo.InsertEdge(ctx, rootID, childID); err != nil {
				return err
			}
			childSets = append(childSets, leafChunkSets[childID])
		}
		union := store.UnionLeafChunks(childSets...)
		if err := treeRepo.InsertNodeChunkLinks(ctx, rootID, union); err != nil {
			return err
		}

		meanVector := averageVectors(cur.vectors)
		return embRepo.Upsert(ctx, store.Embedding{
			EmbeddingID: embeddingID(string(store.OwnerKindTreeNode), rootID),
			DatasetID:   datasetID,
			OwnerKind:   store.OwnerKindTreeNode,
			OwnerID:     rootID,
			Model:       b.embedder.Name(),
			Dimension:   len(meanVector),
			Vector:      meanVector,
		})
	})
	return rootID, err
}

func averageVectors(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	sum := make([]float64, dim)
	for _, v := range vectors {
		for i, f := range v {
			sum[i] += float64(f)
		}
	}
	out := make([]float32, dim)
	for i, s := range sum {
		out[i] = float32(s / float64(len(vectors)))
	}
	return out
}
