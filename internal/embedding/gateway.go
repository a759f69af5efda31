// Package embedding implements C2: an HTTP embedding gateway with per-
// instance rate limiting, bounded concurrency, and exponential-backoff
// retry, grounded in the teacher's internal/embedding/client.go request
// shape and internal/rag/embedder's rate-limited-call idiom.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/semaphore"

	"raptorsvc/internal/rate"
)

// Config configures an HTTP-backed Gateway.
type Config struct {
	BaseURL        string
	Path           string
	Model          string
	APIKey         string
	APIHeader      string
	Dimension      int
	TimeoutSeconds int
	RPMLimit       int
	Concurrency    int
	BatchSize      int
}

// Gateway is the embedding gateway contract (C2).
type Gateway interface {
	// EmbedDocuments embeds corpus text (chunks, summaries).
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single user query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Name() string
}

// HTTPGateway implements Gateway against an OpenAI-compatible embeddings
// endpoint: POST {base_url}{path} {"model","input"} -> {"data":[{"embedding"}]}.
type HTTPGateway struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	policy  rate.RetryPolicy
}

// New builds an HTTPGateway from cfg.
func New(cfg Config) *HTTPGateway {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 96
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 60
	}
	if cfg.APIHeader == "" {
		cfg.APIHeader = "Authorization"
	}
	return &HTTPGateway{
		cfg: cfg,
		client: &http.Client{
			Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(cfg.RPMLimit),
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		policy:  rate.DefaultRetryPolicy(),
	}
}

// Name returns the configured model name.
func (g *HTTPGateway) Name() string { return g.cfg.Model }

// Dimension returns the declared output dimension.
func (g *HTTPGateway) Dimension() int { return g.cfg.Dimension }

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// EmbedDocuments embeds texts in provider-sized batches issued sequentially
// under the interval limiter; outputs preserve input order exactly.
func (g *HTTPGateway) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.cfg.BatchSize {
		end := start + g.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := g.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedQuery embeds a single query string.
func (g *HTTPGateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 vector, got %d", len(vecs))
	}
	return vecs[0], nil
}

func (g *HTTPGateway) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var result [][]float32
	err := rate.Do(ctx, g.policy, func(ctx context.Context, attempt int) error {
		vecs, retryAfter, err := g.doRequest(ctx, texts)
		if err != nil {
			return err
		}
		if retryAfter > 0 {
			return rate.WithRetryAfter(fmt.Errorf("rate limited"), retryAfter)
		}
		result = vecs
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, v := range result {
		if err := validateFinite(v); err != nil {
			return nil, rate.Permanent(err)
		}
	}
	return result, nil
}

func (g *HTTPGateway) doRequest(ctx context.Context, texts []string) ([][]float32, time.Duration, error) {
	body, err := json.Marshal(embedReq{Model: g.cfg.Model, Input: texts})
	if err != nil {
		return nil, 0, rate.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	url := g.cfg.BaseURL + g.cfg.Path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, rate.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIHeader == "Authorization" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	} else {
		req.Header.Set(g.cfg.APIHeader, g.cfg.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("transport error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		if d, ok := rate.ParseRetryAfter(resp.Header); ok {
			return nil, d, nil
		}
		return nil, 0, fmt.Errorf("rate limited (429)")
	}
	if err := rate.ClassifyHTTPStatus(resp.StatusCode); err != nil {
		b, _ := io.ReadAll(resp.Body)
		wrapped := fmt.Errorf("embedding provider status %d: %s", resp.StatusCode, string(b))
		if rate.IsPermanent(err) {
			return nil, 0, rate.Permanent(wrapped)
		}
		return nil, 0, wrapped
	}

	var er embedResp
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, 0, fmt.Errorf("decode response: %w", err)
	}
	if len(er.Data) != len(texts) {
		return nil, 0, rate.Permanent(fmt.Errorf("expected %d embeddings, got %d", len(texts), len(er.Data)))
	}

	vecs := make([][]float32, len(texts))
	for _, d := range er.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, 0, rate.Permanent(fmt.Errorf("embedding index %d out of range", d.Index))
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, 0, nil
}

func validateFinite(v []float32) error {
	for _, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return fmt.Errorf("embedding contains non-finite value")
		}
	}
	return nil
}
