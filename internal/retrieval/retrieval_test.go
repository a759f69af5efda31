package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raptorsvc/internal/obs"
	"raptorsvc/internal/summarizer"
)

func TestRequestNormalizedAppliesDefaults(t *testing.T) {
	r := Request{DatasetID: "ds", Query: "q"}.normalized()
	assert.Equal(t, ModeCollapsed, r.Mode)
	assert.Equal(t, 8, r.TopK)
	assert.Equal(t, 5, r.ExpandK)
}

func TestRequestNormalizedPreservesExplicitValues(t *testing.T) {
	r := Request{DatasetID: "ds", Query: "q", Mode: ModeTraversal, TopK: 3, ExpandK: 2}.normalized()
	assert.Equal(t, ModeTraversal, r.Mode)
	assert.Equal(t, 3, r.TopK)
	assert.Equal(t, 2, r.ExpandK)
}

func TestEstimateTokensRoundsUpCharsOverFour(t *testing.T) {
	assert.Equal(t, 0, estimateTokens(""))
	assert.Equal(t, 1, estimateTokens("abcd"))
	assert.Equal(t, 2, estimateTokens("abcde"))
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Field: "query", Reason: "exceeds hard token limit"}
	assert.Contains(t, err.Error(), "query")
	assert.Contains(t, err.Error(), "exceeds hard token limit")
}

type fakeRewriteModel struct {
	response string
	calls    int
}

func (f *fakeRewriteModel) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	f.calls++
	return f.response, nil
}

func newTestEngine(fake *fakeRewriteModel) *Engine {
	gw := summarizer.New(map[summarizer.Provider]summarizer.ChatModel{
		summarizer.ProviderOpenAI: fake,
	}, 0)
	return &Engine{summarizer: gw, clock: obs.SystemClock{}, log: zerolog.Nop()}
}

func TestNormalizeQueryUnderSoftLimitPassesThrough(t *testing.T) {
	e := newTestEngine(&fakeRewriteModel{})
	debug := map[string]any{}
	out, err := e.normalizeQuery(context.Background(), Request{Query: "short query"}, debug)
	require.NoError(t, err)
	assert.Equal(t, "short query", out)
	assert.NotContains(t, debug, "rewrite_ms")
}

func TestNormalizeQueryBetweenSoftAndHardLimitRewrites(t *testing.T) {
	fake := &fakeRewriteModel{response: "condensed query"}
	e := newTestEngine(fake)
	debug := map[string]any{}

	// queryTokenSoftLimit=60 tokens ~ 240 chars; queryTokenHardLimit=300 ~ 1200 chars.
	query := strings.Repeat("w", 60*4+4)
	out, err := e.normalizeQuery(context.Background(), Request{Query: query, RewriteModel: "gpt-4o-mini"}, debug)
	require.NoError(t, err)
	assert.Equal(t, "condensed query", out)
	assert.Equal(t, 1, fake.calls)
	assert.Contains(t, debug, "rewrite_ms")
}

func TestNormalizeQueryOverHardLimitFailsBeforeIO(t *testing.T) {
	fake := &fakeRewriteModel{response: "unused"}
	e := newTestEngine(fake)
	debug := map[string]any{}

	query := strings.Repeat("w", 300*4+40)
	_, err := e.normalizeQuery(context.Background(), Request{Query: query, RewriteModel: "gpt-4o-mini"}, debug)
	require.Error(t, err)
	assert.Same(t, errQueryTooLong, err)
	assert.Equal(t, 0, fake.calls)
}

func TestRetrieveRejectsMissingDatasetID(t *testing.T) {
	e := newTestEngine(&fakeRewriteModel{})
	resp, err := e.Retrieve(context.Background(), Request{Query: "q"})
	require.Error(t, err)
	assert.Equal(t, 500, resp.Status)
}

func TestRetrieveRejectsMissingQuery(t *testing.T) {
	e := newTestEngine(&fakeRewriteModel{})
	resp, err := e.Retrieve(context.Background(), Request{DatasetID: "ds"})
	require.Error(t, err)
	assert.Equal(t, 500, resp.Status)
}
