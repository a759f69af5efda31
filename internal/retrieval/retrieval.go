// Package retrieval implements C5: query normalization, embedding, and
// two-mode (collapsed/traversal) search over a persisted RAPTOR tree,
// grounded in the teacher's internal/rag/retrieve package's
// options/response/debug-map shape and
// original_source/services/retrieval/retrieval_service.py's staged
// orchestration.
package retrieval

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"raptorsvc/internal/embedding"
	"raptorsvc/internal/obs"
	"raptorsvc/internal/store"
	"raptorsvc/internal/summarizer"
)

// Mode selects the search strategy.
type Mode string

const (
	ModeCollapsed Mode = "collapsed"
	ModeTraversal Mode = "traversal"
)

const (
	queryTokenSoftLimit   = 60
	queryTokenHardLimit   = 300
	queryTokenRewriteTarget = 40
	queryEmbeddingDimension = 1024
)

// Request is the caller-facing search request: dataset, query text, search
// mode, and the knobs that shape candidate gathering and final ranking.
type Request struct {
	DatasetID     string
	Query         string
	Mode          Mode
	TopK          int
	ExpandK       int
	LevelsCap     int
	UseReranker   bool
	RerankerModel string
	RewriteModel  string
}

// normalized fills in the documented defaults.
func (r Request) normalized() Request {
	if r.Mode == "" {
		r.Mode = ModeCollapsed
	}
	if r.TopK <= 0 {
		r.TopK = 8
	}
	if r.ExpandK <= 0 {
		r.ExpandK = 5
	}
	return r
}

// ResultChunk is one ranked leaf chunk in a Response.
type ResultChunk struct {
	ChunkID  string  `json:"chunk_id"`
	DocID    string  `json:"doc_id"`
	Index    int     `json:"index"`
	Text     string  `json:"text"`
	Distance float64 `json:"distance"`
}

// Response is the `{status, chunks}` search result, plus a Debug per-stage
// timing map (rewrite_ms/embed_ms/search_ms) for observability.
type Response struct {
	Status int            `json:"status"`
	Chunks []ResultChunk  `json:"chunks"`
	Debug  map[string]any `json:"debug,omitempty"`
}

// Reranker reorders candidate chunks by an external scoring model.
type Reranker interface {
	Rerank(ctx context.Context, model, query string, chunks []ResultChunk) ([]ResultChunk, error)
}

// Engine implements C5.
type Engine struct {
	pool       *pgxpool.Pool
	embedder   embedding.Gateway
	summarizer *summarizer.Gateway
	reranker   Reranker
	clock      obs.Clock
	log        zerolog.Logger
	metrics    *obs.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithReranker installs an optional reranking collaborator.
func WithReranker(r Reranker) Option { return func(e *Engine) { e.reranker = r } }

// WithClock overrides the Engine's time source (for tests).
func WithClock(c obs.Clock) Option { return func(e *Engine) { e.clock = c } }

// WithLogger overrides the Engine's logger.
func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithMetrics overrides the Engine's metrics sink.
func WithMetrics(m *obs.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// NewEngine constructs an Engine.
func NewEngine(pool *pgxpool.Pool, embedder embedding.Gateway, summarizerGW *summarizer.Gateway, opts ...Option) *Engine {
	e := &Engine{
		pool:       pool,
		embedder:   embedder,
		summarizer: summarizerGW,
		clock:      obs.SystemClock{},
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve implements C5's public contract.
func (e *Engine) Retrieve(ctx context.Context, req Request) (Response, error) {
	req = req.normalized()
	debug := map[string]any{}

	if req.DatasetID == "" {
		return Response{Status: 500, Debug: debug}, &ValidationError{Field: "dataset_id", Reason: "is required"}
	}
	if req.Query == "" {
		return Response{Status: 500, Debug: debug}, &ValidationError{Field: "query", Reason: "is required"}
	}

	normalizedQuery, err := e.normalizeQuery(ctx, req, debug)
	if err != nil {
		return Response{Status: 500, Debug: debug}, err
	}

	embedTimer := obs.StartStage(e.clock, e.log, e.metrics, "retrieve.embed", map[string]string{"dataset_id": req.DatasetID})
	queryVector, err := e.embedder.EmbedQuery(ctx, normalizedQuery)
	debug["embed_ms"] = embedTimer.Stop().Milliseconds()
	if err != nil {
		return Response{Status: 500, Debug: debug}, fmt.Errorf("retrieve: embed query: %w", err)
	}
	if len(queryVector) != queryEmbeddingDimension && e.embedder.Dimension() == queryEmbeddingDimension {
		return Response{Status: 500, Debug: debug}, fmt.Errorf("retrieve: query embedding dimension mismatch: got %d want %d", len(queryVector), queryEmbeddingDimension)
	}

	searchTimer := obs.StartStage(e.clock, e.log, e.metrics, "retrieve.search", map[string]string{"dataset_id": req.DatasetID, "mode": string(req.Mode)})
	var chunks []ResultChunk
	switch req.Mode {
	case ModeTraversal:
		chunks, err = e.searchTraversal(ctx, req, queryVector)
	default:
		chunks, err = e.searchCollapsed(ctx, req, queryVector)
	}
	debug["search_ms"] = searchTimer.Stop().Milliseconds()
	if err != nil {
		return Response{Status: 500, Debug: debug}, fmt.Errorf("retrieve: search: %w", err)
	}

	if req.UseReranker && e.reranker != nil && len(chunks) > 0 {
		reranked, err := e.reranker.Rerank(ctx, req.RerankerModel, req.Query, chunks)
		if err != nil {
			return Response{Status: 500, Debug: debug}, fmt.Errorf("retrieve: rerank: %w", err)
		}
		chunks = reranked
	}

	return Response{Status: 200, Chunks: chunks, Debug: debug}, nil
}

// normalizeQuery applies the soft/hard/target token-count gating rule.
func (e *Engine) normalizeQuery(ctx context.Context, req Request, debug map[string]any) (string, error) {
	tokens := estimateTokens(req.Query)
	if tokens <= queryTokenSoftLimit {
		return req.Query, nil
	}
	if tokens > queryTokenHardLimit {
		return "", errQueryTooLong
	}

	rewriteTimer := obs.StartStage(e.clock, e.log, e.metrics, "retrieve.rewrite", map[string]string{"dataset_id": req.DatasetID})
	rewritten, err := e.summarizer.RewriteQuery(ctx, req.RewriteModel, req.Query, queryTokenRewriteTarget)
	debug["rewrite_ms"] = rewriteTimer.Stop().Milliseconds()
	if err != nil {
		return "", fmt.Errorf("rewrite query: %w", err)
	}
	return rewritten, nil
}

func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}
