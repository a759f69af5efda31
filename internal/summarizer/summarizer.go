// Package summarizer implements C3: a rate-limited, retried gateway that
// turns a cluster of source texts into a single bounded-length summary,
// routing by model name across an OpenAI-compatible, an Anthropic, and a
// Gemini backend, grounded in the teacher's internal/anthropic and
// internal/llm/gemini.go provider clients.
package summarizer

import (
	"context"
	"fmt"
	"strings"

	"raptorsvc/internal/rate"
)

// Provider identifies a chat backend.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
)

// ChatModel is the minimal contract every backend client implements: send a
// single prompt, get back plain text, bounded by max_tokens.
type ChatModel interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// errModelNotSupported and errContextLimitExceeded are the two permanent,
// pre-I/O failure modes a request can hit before any provider is called.
var (
	errModelNotSupported    = fmt.Errorf("model not supported")
	errContextLimitExceeded = fmt.Errorf("context limit exceeded")
)

// ModelNotSupportedError wraps an unrecognized model name.
type ModelNotSupportedError struct{ Model string }

func (e *ModelNotSupportedError) Error() string {
	return fmt.Sprintf("model not supported: %q", e.Model)
}
func (e *ModelNotSupportedError) Unwrap() error { return errModelNotSupported }

// ContextLimitExceededError wraps a request that would overflow the
// model's context window.
type ContextLimitExceededError struct {
	Model              string
	InputTokens        int
	MaxTokens          int
	SafetyMargin       int
	ContextWindow      int
}

func (e *ContextLimitExceededError) Error() string {
	return fmt.Sprintf("context limit exceeded for %q: input=%d max_tokens=%d safety_margin=%d window=%d",
		e.Model, e.InputTokens, e.MaxTokens, e.SafetyMargin, e.ContextWindow)
}
func (e *ContextLimitExceededError) Unwrap() error { return errContextLimitExceeded }

const safetyMargin = 768

// contextWindows maps exact model names to their context window in tokens.
// A prefix match falls back to contextWindowFallback; no prefix match at
// all is model-not-supported.
var contextWindows = map[string]int{
	"gpt-4o":            128000,
	"gpt-4o-mini":        128000,
	"gpt-4.1":            1047576,
	"o1":                 200000,
	"o3":                 200000,
	"claude-3-5-sonnet":  200000,
	"claude-3-5-haiku":   200000,
	"claude-3-opus":      200000,
	"gemini-1.5-pro":     2000000,
	"gemini-1.5-flash":   1000000,
	"gemini-2.0-flash":   1000000,
}

const contextWindowFallback = 32000

// routingTable maps model name prefixes to providers, checked in order.
var routingTable = []struct {
	prefix   string
	provider Provider
}{
	{"gpt-", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"claude-", ProviderAnthropic},
	{"gemini-", ProviderGemini},
}

// normalizeModel trims, lowercases, and collapses separators in a model
// name before routing or context-window lookup.
func normalizeModel(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, "_", "-")
	n = strings.Join(strings.Fields(n), "-")
	return n
}

// routeProvider returns the provider for a normalized model name, or
// ModelNotSupportedError if no prefix matches.
func routeProvider(model string) (Provider, error) {
	for _, r := range routingTable {
		if strings.HasPrefix(model, r.prefix) {
			return r.provider, nil
		}
	}
	return "", &ModelNotSupportedError{Model: model}
}

// contextWindowFor returns the context window for a normalized model name,
// falling back to contextWindowFallback when the prefix is recognized but
// the exact model is not tabulated.
func contextWindowFor(model string) int {
	if w, ok := contextWindows[model]; ok {
		return w
	}
	return contextWindowFallback
}

// estimateTokens is the shared chars/4-rounded-up heuristic tokenizer used
// across the stack absent a model-specific tokenizer.
func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}

// Gateway is the summarizer contract (C3), including the query-rewrite
// variant used by C5.
type Gateway struct {
	registry map[Provider]ChatModel
	policy   rate.RetryPolicy
	limiters map[Provider]*rate.Limiter
}

// New builds a Gateway from a provider registry. Callers construct one
// ChatModel per provider (OpenAIClient, AnthropicClient, GeminiClient, or a
// test double) and pass them in; Gateway only does routing, context-limit
// checks, rate limiting, retries, and the prompt templates. rpmLimit is the
// requests-per-minute budget enforced independently per provider, mirroring
// the embedding gateway's interval limiter (rpmLimit <= 0 disables it).
func New(registry map[Provider]ChatModel, rpmLimit int) *Gateway {
	limiters := make(map[Provider]*rate.Limiter, len(registry))
	for p := range registry {
		limiters[p] = rate.NewLimiter(rpmLimit)
	}
	return &Gateway{registry: registry, policy: rate.DefaultRetryPolicy(), limiters: limiters}
}

// classifyAPIError wraps err as permanent when statusCode is an auth
// failure or any other non-429 4xx, leaving it transient (retried) for 5xx
// and 429, using the same classification the embedding gateway applies to
// HTTP responses.
func classifyAPIError(err error, statusCode int) error {
	if classified := rate.ClassifyHTTPStatus(statusCode); classified != nil && rate.IsPermanent(classified) {
		return rate.Permanent(err)
	}
	return err
}

// Summarize produces a single bounded-length summary of texts using model.
func (g *Gateway) Summarize(ctx context.Context, model string, texts []string, maxTokens int) (string, error) {
	if len(texts) == 0 {
		return "", fmt.Errorf("summarize: no input texts")
	}
	prompt := clusterPrompt(texts)
	return g.complete(ctx, model, prompt, maxTokens)
}

// RewriteQuery condenses an overlong query into a concise, self-contained
// search query, reusing the same routing, context-limit, and retry policy.
func (g *Gateway) RewriteQuery(ctx context.Context, model string, query string, maxTokens int) (string, error) {
	prompt := rewritePrompt(query)
	return g.complete(ctx, model, prompt, maxTokens)
}

func (g *Gateway) complete(ctx context.Context, model string, prompt string, maxTokens int) (string, error) {
	normalized := normalizeModel(model)
	provider, err := routeProvider(normalized)
	if err != nil {
		return "", err
	}
	client, ok := g.registry[provider]
	if !ok {
		return "", &ModelNotSupportedError{Model: model}
	}

	window := contextWindowFor(normalized)
	inputTokens := estimateTokens(prompt)
	if inputTokens+maxTokens+safetyMargin > window {
		return "", &ContextLimitExceededError{
			Model:         model,
			InputTokens:   inputTokens,
			MaxTokens:     maxTokens,
			SafetyMargin:  safetyMargin,
			ContextWindow: window,
		}
	}

	if err := g.limiters[provider].Wait(ctx); err != nil {
		return "", err
	}

	var result string
	err = rate.Do(ctx, g.policy, func(ctx context.Context, attempt int) error {
		out, err := client.Complete(ctx, prompt, maxTokens)
		if err != nil {
			return err
		}
		result = out
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// clusterPrompt builds the enumerated "[#i] text" summarization prompt.
func clusterPrompt(texts []string) string {
	var b strings.Builder
	b.WriteString("Summarize the following passages faithfully. Use only information present in them. ")
	b.WriteString("Omit any chain-of-thought or reasoning markers. Use \"unknown\" for uncertain facts.\n\n")
	for i, t := range texts {
		fmt.Fprintf(&b, "[#%d] %s\n\n", i+1, t)
	}
	return b.String()
}

// rewritePrompt builds the query-condensation prompt used by C5.
func rewritePrompt(query string) string {
	var b strings.Builder
	b.WriteString("Rewrite the following user question as a concise, self-contained search query. ")
	b.WriteString("Preserve all entities and constraints; do not answer the question.\n\n")
	b.WriteString(query)
	return b.String()
}
