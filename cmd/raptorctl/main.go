/*
raptorctl is a thin operator CLI over the three public operations: ingest,
build, retrieve. It reads connection and provider configuration from the
environment (optionally a .env file) the same way the rest of the ambient
config stack does, and is meant for local operation and smoke-testing
rather than as a long-running server.

Usage:

	raptorctl ingest -document-id ID -dataset-id ID [-source-uri URI] -text-file PATH
	raptorctl build -document-id ID -dataset-id ID
	raptorctl retrieve -dataset-id ID -query TEXT [-mode collapsed|traversal] [-top-k N]

Each subcommand loads Config via internal/config.Load, opens the shared
Postgres pool, and wires the gateways its operation needs (ingest: the
embedding gateway; build and retrieve: embedding and summarizer gateways)
from the resolved provider registry before invoking its operation.
*/
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"raptorsvc/internal/chunker"
	"raptorsvc/internal/config"
	"raptorsvc/internal/embedding"
	"raptorsvc/internal/ingest"
	"raptorsvc/internal/obs"
	"raptorsvc/internal/raptor"
	"raptorsvc/internal/retrieval"
	"raptorsvc/internal/store"
	"raptorsvc/internal/summarizer"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "ingest":
		err = runIngest(os.Args[2:])
	case "build":
		err = runBuild(os.Args[2:])
	case "retrieve":
		err = runRetrieve(os.Args[2:])
	case "-h", "-help", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "raptorctl: unknown subcommand %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "raptorctl %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: raptorctl <ingest|build|retrieve> [flags]")
}

// loadEnv resolves Config and opens the shared pool, logger, and metrics
// sink common to every subcommand.
func loadEnv(ctx context.Context) (config.Config, *pgxpool.Pool, zerolog.Logger, *obs.Metrics, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, zerolog.Logger{}, nil, fmt.Errorf("validate config: %w", err)
	}

	logger := obs.NewLogger(cfg.Obs.ServiceName, cfg.Obs.LogLevel)
	metrics := obs.NewMetrics()

	pool, err := store.NewPool(ctx, store.DefaultPoolConfig(cfg.Database.DSN))
	if err != nil {
		return config.Config{}, nil, zerolog.Logger{}, nil, fmt.Errorf("open pool: %w", err)
	}
	if err := store.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return config.Config{}, nil, zerolog.Logger{}, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return cfg, pool, logger, metrics, nil
}

func newEmbeddingGateway(cfg config.Config) *embedding.HTTPGateway {
	return embedding.New(embedding.Config{
		BaseURL:        cfg.Embedding.BaseURL,
		Path:           cfg.Embedding.Path,
		Model:          cfg.Embedding.Model,
		APIKey:         cfg.Embedding.APIKey,
		APIHeader:      cfg.Embedding.APIHeader,
		Dimension:      cfg.Vector.Dimension,
		TimeoutSeconds: cfg.Embedding.TimeoutSeconds,
		RPMLimit:       cfg.Embedding.RPMLimit,
		Concurrency:    cfg.Embedding.Concurrency,
		BatchSize:      cfg.Embedding.BatchSize,
	})
}

// newSummarizerGateway builds the provider registry from whichever API
// keys are configured; an unconfigured provider is simply absent from the
// registry and routing to it fails with ModelNotSupportedError.
func newSummarizerGateway(ctx context.Context, cfg config.Config) (*summarizer.Gateway, error) {
	registry := map[summarizer.Provider]summarizer.ChatModel{}
	if cfg.Summarizer.OpenAIAPIKey != "" {
		registry[summarizer.ProviderOpenAI] = summarizer.NewOpenAIClient(cfg.Summarizer.OpenAIAPIKey, cfg.Summarizer.OpenAIBaseURL, cfg.Summarizer.OpenAIModel)
	}
	if cfg.Summarizer.AnthropicAPIKey != "" {
		registry[summarizer.ProviderAnthropic] = summarizer.NewAnthropicClient(cfg.Summarizer.AnthropicAPIKey, cfg.Summarizer.AnthropicModel)
	}
	if cfg.Summarizer.GoogleAPIKey != "" {
		gc, err := summarizer.NewGeminiClient(ctx, cfg.Summarizer.GoogleAPIKey, cfg.Summarizer.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		registry[summarizer.ProviderGemini] = gc
	}
	return summarizer.New(registry, cfg.Summarizer.RPMLimit), nil
}

func runIngest(args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	documentID := fs.String("document-id", "", "document identifier (required)")
	datasetID := fs.String("dataset-id", "", "dataset identifier (required)")
	sourceURI := fs.String("source-uri", "", "source URI recorded on the document")
	textFile := fs.String("text-file", "", "path to the raw text to chunk (required; '-' for stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *documentID == "" || *datasetID == "" || *textFile == "" {
		return fmt.Errorf("-document-id, -dataset-id, and -text-file are required")
	}

	text, err := readTextFile(*textFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg, pool, _, _, err := loadEnv(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc := ingest.NewService(pool, newEmbeddingGateway(cfg))
	result, err := svc.IngestChunksAndEmbeddings(ctx, *documentID, *datasetID, *sourceURI, text, chunker.Config{
		ChunkSize:     cfg.Chunker.ChunkSize,
		ChunkOverlap:  cfg.Chunker.ChunkOverlap,
		Separators:    cfg.Chunker.Separators,
		KeepSeparator: cfg.Chunker.KeepSeparator,
	})
	if err != nil {
		return err
	}
	fmt.Printf("ingested %d chunks for document %q\n", len(result.Chunks), *documentID)
	return nil
}

func runBuild(args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	documentID := fs.String("document-id", "", "document identifier (required)")
	datasetID := fs.String("dataset-id", "", "dataset identifier (required)")
	summaryModel := fs.String("summary-model", "gpt-4o-mini", "model name routed by the summarizer gateway")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *documentID == "" || *datasetID == "" {
		return fmt.Errorf("-document-id and -dataset-id are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	cfg, pool, logger, metrics, err := loadEnv(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	docRepo := store.NewDocumentRepo(pool)
	embRepo := store.NewEmbeddingRepo(pool)
	chunks, err := docRepo.ChunksByDocument(ctx, *documentID)
	if err != nil {
		return fmt.Errorf("load chunks: %w", err)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("document %q has no ingested chunks; run ingest first", *documentID)
	}

	embedder := newEmbeddingGateway(cfg)
	builderChunks := make([]raptor.Chunk, len(chunks))
	for i, c := range chunks {
		vec, _, err := embRepo.ChunkEmbedding(ctx, c.ChunkID)
		if err != nil {
			return fmt.Errorf("load embedding for chunk %q: %w", c.ChunkID, err)
		}
		builderChunks[i] = raptor.Chunk{ChunkID: c.ChunkID, Text: c.Text, Vector: vec}
	}

	summarizerGW, err := newSummarizerGateway(ctx, cfg)
	if err != nil {
		return err
	}

	params := raptor.DefaultParams()
	params.MinK = cfg.Raptor.MinK
	params.MaxK = cfg.Raptor.MaxK
	params.MaxTokens = cfg.Raptor.MaxTokens
	params.RPMLimit = cfg.Raptor.RPMLimit
	params.LLMConcurrency = cfg.Raptor.LLMConcurrency
	params.MaxTreeLevels = cfg.Raptor.MaxTreeLevels
	params.MinClusterSize = cfg.Raptor.MinClusterSize
	params.MaxClusterSize = cfg.Raptor.MaxClusterSize
	params.SummaryModel = *summaryModel

	builder := raptor.NewBuilder(pool, embedder, summarizerGW,
		raptor.WithLogger(logger), raptor.WithMetrics(metrics))
	treeID, err := builder.Build(ctx, *documentID, *datasetID, builderChunks, params)
	if err != nil {
		return err
	}
	fmt.Printf("built tree %q for document %q (%d leaves)\n", treeID, *documentID, len(builderChunks))
	return nil
}

func runRetrieve(args []string) error {
	fs := flag.NewFlagSet("retrieve", flag.ExitOnError)
	datasetID := fs.String("dataset-id", "", "dataset identifier (required)")
	query := fs.String("query", "", "query text (required)")
	mode := fs.String("mode", "collapsed", "collapsed|traversal")
	topK := fs.Int("top-k", 8, "final chunk count")
	expandK := fs.Int("expand-k", 5, "collapsed-mode summary/root candidate count")
	levelsCap := fs.Int("levels-cap", 0, "traversal-mode max descent depth (0 = unbounded)")
	rewriteModel := fs.String("rewrite-model", "gpt-4o-mini", "model used to rewrite overlong queries")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *datasetID == "" || *query == "" {
		return fmt.Errorf("-dataset-id and -query are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cfg, pool, logger, metrics, err := loadEnv(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	summarizerGW, err := newSummarizerGateway(ctx, cfg)
	if err != nil {
		return err
	}
	engine := retrieval.NewEngine(pool, newEmbeddingGateway(cfg), summarizerGW,
		retrieval.WithLogger(logger), retrieval.WithMetrics(metrics))

	resp, err := engine.Retrieve(ctx, retrieval.Request{
		DatasetID:    *datasetID,
		Query:        *query,
		Mode:         retrieval.Mode(*mode),
		TopK:         *topK,
		ExpandK:      *expandK,
		LevelsCap:    *levelsCap,
		RewriteModel: *rewriteModel,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func readTextFile(path string) (string, error) {
	if path == "-" {
		b, err := os.ReadFile("/dev/stdin")
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %q: %w", path, err)
	}
	return string(b), nil
}
