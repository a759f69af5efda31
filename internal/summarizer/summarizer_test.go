package summarizer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raptorsvc/internal/rate"
)

type fakeChatModel struct {
	calls     int
	failTimes int
	fail      error
	response  string
}

func (f *fakeChatModel) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	f.calls++
	if f.failTimes > 0 {
		f.failTimes--
		return "", errors.New("connection reset by peer")
	}
	if f.fail != nil {
		return "", f.fail
	}
	return f.response, nil
}

func TestSummarizeRoutesByModelPrefix(t *testing.T) {
	openai := &fakeChatModel{response: "summary-openai"}
	anthropic := &fakeChatModel{response: "summary-anthropic"}
	gemini := &fakeChatModel{response: "summary-gemini"}
	g := New(map[Provider]ChatModel{
		ProviderOpenAI:    openai,
		ProviderAnthropic: anthropic,
		ProviderGemini:    gemini,
	}, 0)

	out, err := g.Summarize(context.Background(), "gpt-4o-mini", []string{"a", "b"}, 100)
	require.NoError(t, err)
	assert.Equal(t, "summary-openai", out)
	assert.Equal(t, 1, openai.calls)

	out, err = g.Summarize(context.Background(), "Claude-3-5-Sonnet", []string{"a"}, 100)
	require.NoError(t, err)
	assert.Equal(t, "summary-anthropic", out)

	out, err = g.Summarize(context.Background(), "gemini-1.5-flash", []string{"a"}, 100)
	require.NoError(t, err)
	assert.Equal(t, "summary-gemini", out)
}

func TestSummarizeUnknownModelFailsBeforeIO(t *testing.T) {
	openai := &fakeChatModel{response: "x"}
	g := New(map[Provider]ChatModel{ProviderOpenAI: openai}, 0)

	_, err := g.Summarize(context.Background(), "llama-3-70b", []string{"a"}, 100)
	require.Error(t, err)
	var mnse *ModelNotSupportedError
	require.ErrorAs(t, err, &mnse)
	assert.Equal(t, 0, openai.calls)
}

func TestSummarizeContextLimitExceededFailsBeforeIO(t *testing.T) {
	openai := &fakeChatModel{response: "x"}
	g := New(map[Provider]ChatModel{ProviderOpenAI: openai}, 0)

	huge := strings.Repeat("word ", 50000) // ~62500 tokens, exceeds gpt-4o-mini's window combined with maxTokens
	_, err := g.Summarize(context.Background(), "gpt-4o-mini", []string{huge}, 128000)
	require.Error(t, err)
	var cle *ContextLimitExceededError
	require.ErrorAs(t, err, &cle)
	assert.Equal(t, 0, openai.calls)
}

func TestSummarizeRetriesTransientThenSucceeds(t *testing.T) {
	model := &fakeChatModel{failTimes: 2, response: "ok"}
	g := New(map[Provider]ChatModel{ProviderOpenAI: model}, 0)
	g.policy.BaseDelay = 0
	g.policy.MaxDelay = 0

	out, err := g.Summarize(context.Background(), "gpt-4o", []string{"a"}, 50)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, model.calls)
}

func TestSummarizePermanentAuthErrorFailsAfterOneAttempt(t *testing.T) {
	model := &fakeChatModel{fail: rate.Permanent(errors.New("401 unauthorized"))}
	g := New(map[Provider]ChatModel{ProviderOpenAI: model}, 0)
	g.policy.BaseDelay = 0
	g.policy.MaxDelay = 0

	_, err := g.Summarize(context.Background(), "gpt-4o", []string{"a"}, 50)
	require.Error(t, err)
	assert.True(t, rate.IsPermanent(err))
	assert.Equal(t, 1, model.calls)
}

func TestRewriteQueryUsesSameRouting(t *testing.T) {
	model := &fakeChatModel{response: "condensed query"}
	g := New(map[Provider]ChatModel{ProviderGemini: model}, 0)

	out, err := g.RewriteQuery(context.Background(), "gemini-1.5-pro", "a very long rambling question about many things", 50)
	require.NoError(t, err)
	assert.Equal(t, "condensed query", out)
}

func TestNormalizeModel(t *testing.T) {
	assert.Equal(t, "gpt-4o-mini", normalizeModel("  GPT_4o Mini  "))
	assert.Equal(t, "claude-3-5-sonnet", normalizeModel("Claude-3-5-Sonnet"))
}
