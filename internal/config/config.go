// Package config loads runtime configuration for the RAPTOR service from
// environment variables, optionally overlaid from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// DatabaseConfig holds the Postgres/pgvector connection settings. cmd/raptorctl
// uses only DSN; the pool is sized by store.DefaultPoolConfig, and MaxConns,
// MinConns, MaxConnLifetimeMin and HealthCheckSec are loaded but not applied.
type DatabaseConfig struct {
	DSN                string
	MaxConns           int32
	MinConns           int32
	MaxConnLifetimeMin int
	HealthCheckSec     int
}

// VectorConfig configures the embeddings table and similarity search.
type VectorConfig struct {
	Dimension int
	Metric    string // "cosine" | "l2" | "ip"
}

// EmbeddingConfig configures the embedding gateway (C2).
type EmbeddingConfig struct {
	BaseURL        string
	Path           string
	Model          string
	APIKey         string
	APIHeader      string
	TimeoutSeconds int
	RPMLimit       int
	Concurrency    int
	BatchSize      int
}

// SummarizerConfig configures the summarizer gateway (C3).
type SummarizerConfig struct {
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	AnthropicAPIKey string
	AnthropicBase   string
	AnthropicModel  string
	GoogleAPIKey    string
	GeminiModel     string
	TimeoutSeconds  int
	RPMLimit        int
	Concurrency     int
	SafetyMargin    int
}

// RaptorConfig configures the tree builder (C4).
type RaptorConfig struct {
	MinK           int
	MaxK           int
	MinClusterSize int
	MaxClusterSize int
	MaxTokens      int
	RPMLimit       int
	LLMConcurrency int
	MaxTreeLevels  int
}

// ChunkerConfig configures the chunker (C1).
type ChunkerConfig struct {
	ChunkSize     int
	ChunkOverlap  int
	Separators    []string
	KeepSeparator bool
}

// ObsConfig configures logging level and optional OTLP export.
type ObsConfig struct {
	ServiceName string
	Environment string
	LogLevel    string
	OTLPEndpoint string
}

// Config is the fully-resolved runtime configuration.
type Config struct {
	Database   DatabaseConfig
	Vector     VectorConfig
	Embedding  EmbeddingConfig
	Summarizer SummarizerConfig
	Raptor     RaptorConfig
	Chunker    ChunkerConfig
	Obs        ObsConfig
}

// Load reads configuration from environment variables (optionally .env).
// Mirrors the teacher's env-first Load() pattern: dotenv overlay, then
// field-by-field os.Getenv reads, with a default used where the variable is
// unset, blank, or (for numbers) unparseable; an explicit "0" is kept.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{}

	cfg.Database.DSN = firstNonEmpty(os.Getenv("DATABASE_DSN"), os.Getenv("DATABASE_URL"))
	cfg.Database.MaxConns = int32(envInt("DATABASE_MAX_CONNS", 50))
	cfg.Database.MinConns = int32(envInt("DATABASE_MIN_CONNS", 20))
	cfg.Database.MaxConnLifetimeMin = envInt("DATABASE_MAX_CONN_LIFETIME_MIN", 60)
	cfg.Database.HealthCheckSec = envInt("DATABASE_HEALTH_CHECK_SEC", 30)

	cfg.Vector.Dimension = envInt("VECTOR_DIMENSION", 1024)
	cfg.Vector.Metric = firstNonEmpty(os.Getenv("VECTOR_METRIC"), "cosine")

	cfg.Embedding.BaseURL = firstNonEmpty(os.Getenv("EMBEDDING_BASE_URL"), "https://api.openai.com")
	cfg.Embedding.Path = firstNonEmpty(os.Getenv("EMBEDDING_PATH"), "/v1/embeddings")
	cfg.Embedding.Model = firstNonEmpty(os.Getenv("EMBEDDING_MODEL"), "text-embedding-3-large")
	cfg.Embedding.APIKey = os.Getenv("EMBEDDING_API_KEY")
	cfg.Embedding.APIHeader = firstNonEmpty(os.Getenv("EMBEDDING_API_HEADER"), "Authorization")
	cfg.Embedding.TimeoutSeconds = envInt("EMBEDDING_TIMEOUT_SECONDS", 60)
	cfg.Embedding.RPMLimit = envInt("EMBEDDING_RPM_LIMIT", 3000)
	cfg.Embedding.Concurrency = envInt("EMBEDDING_CONCURRENCY", 4)
	cfg.Embedding.BatchSize = envInt("EMBEDDING_BATCH_SIZE", 96)

	cfg.Summarizer.OpenAIAPIKey = os.Getenv("SUMMARIZER_OPENAI_API_KEY")
	cfg.Summarizer.OpenAIBaseURL = os.Getenv("SUMMARIZER_OPENAI_BASE_URL")
	cfg.Summarizer.OpenAIModel = firstNonEmpty(os.Getenv("SUMMARIZER_OPENAI_MODEL"), "gpt-4o-mini")
	cfg.Summarizer.AnthropicAPIKey = os.Getenv("SUMMARIZER_ANTHROPIC_API_KEY")
	cfg.Summarizer.AnthropicBase = os.Getenv("SUMMARIZER_ANTHROPIC_BASE_URL")
	cfg.Summarizer.AnthropicModel = firstNonEmpty(os.Getenv("SUMMARIZER_ANTHROPIC_MODEL"), "claude-3-5-haiku")
	cfg.Summarizer.GoogleAPIKey = os.Getenv("SUMMARIZER_GOOGLE_API_KEY")
	cfg.Summarizer.GeminiModel = firstNonEmpty(os.Getenv("SUMMARIZER_GEMINI_MODEL"), "gemini-1.5-flash")
	cfg.Summarizer.TimeoutSeconds = envInt("SUMMARIZER_TIMEOUT_SECONDS", 60)
	cfg.Summarizer.RPMLimit = envInt("SUMMARIZER_RPM_LIMIT", 3000)
	cfg.Summarizer.Concurrency = envInt("SUMMARIZER_CONCURRENCY", 4)
	cfg.Summarizer.SafetyMargin = envInt("SUMMARIZER_SAFETY_MARGIN_TOKENS", 768)

	cfg.Raptor.MinK = envInt("RAPTOR_MIN_K", 2)
	cfg.Raptor.MaxK = envInt("RAPTOR_MAX_K", 50)
	cfg.Raptor.MinClusterSize = envInt("RAPTOR_MIN_CLUSTER_SIZE", 2)
	cfg.Raptor.MaxClusterSize = envInt("RAPTOR_MAX_CLUSTER_SIZE", 100)
	cfg.Raptor.MaxTokens = envInt("RAPTOR_MAX_TOKENS", 512)
	cfg.Raptor.RPMLimit = envInt("RAPTOR_RPM_LIMIT", 3)
	cfg.Raptor.LLMConcurrency = envInt("RAPTOR_LLM_CONCURRENCY", 3)
	cfg.Raptor.MaxTreeLevels = envInt("RAPTOR_MAX_TREE_LEVELS", 10)

	cfg.Chunker.ChunkSize = envInt("CHUNKER_CHUNK_SIZE", 1200)
	cfg.Chunker.ChunkOverlap = envInt("CHUNKER_CHUNK_OVERLAP", 200)
	cfg.Chunker.KeepSeparator = envBool("CHUNKER_KEEP_SEPARATOR", false)
	if v := os.Getenv("CHUNKER_SEPARATORS"); v != "" {
		cfg.Chunker.Separators = strings.Split(v, "|")
	} else {
		cfg.Chunker.Separators = []string{"\n\n", "\n", " ", ""}
	}

	cfg.Obs.ServiceName = firstNonEmpty(os.Getenv("APP_SERVICE_NAME"), "raptorsvc")
	cfg.Obs.Environment = firstNonEmpty(os.Getenv("APP_ENVIRONMENT"), "dev")
	cfg.Obs.LogLevel = firstNonEmpty(os.Getenv("APP_LOG_LEVEL"), "info")
	cfg.Obs.OTLPEndpoint = os.Getenv("APP_OTLP_ENDPOINT")

	if cfg.Database.DSN == "" {
		return Config{}, errors.New("DATABASE_DSN is required (set in .env or environment)")
	}
	if cfg.Embedding.APIKey == "" {
		return Config{}, errors.New("EMBEDDING_API_KEY is required (set in .env or environment)")
	}

	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

// Validate checks cross-field invariants not expressible as simple defaults.
func (c Config) Validate() error {
	if c.Vector.Dimension <= 0 {
		return fmt.Errorf("vector dimension must be positive, got %d", c.Vector.Dimension)
	}
	if c.Chunker.ChunkSize <= 0 {
		return fmt.Errorf("chunker chunk_size must be positive, got %d", c.Chunker.ChunkSize)
	}
	return nil
}
