package raptor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raptorsvc/internal/rate"
	"raptorsvc/internal/summarizer"
)

type fakeChatModel struct {
	prefix string
}

func (f *fakeChatModel) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return fmt.Sprintf("%s:%s", f.prefix, prompt), nil
}

func TestSummarizeClustersPreservesClusterOrder(t *testing.T) {
	gw := summarizer.New(map[summarizer.Provider]summarizer.ChatModel{
		summarizer.ProviderOpenAI: &fakeChatModel{prefix: "s"},
	}, 0)
	b := &Builder{summarizer: gw}

	texts := []string{"alpha", "beta", "gamma", "delta"}
	groups := [][]int{{0, 1}, {2}, {3}}
	params := Params{LLMConcurrency: 2, MaxTokens: 50, SummaryModel: "gpt-4o-mini"}

	out, err := b.summarizeClusters(context.Background(), groups, texts, params)
	require.NoError(t, err)
	require.Len(t, out, 3)
	for _, s := range out {
		assert.Contains(t, s, "s:")
	}
	assert.Contains(t, out[0], "alpha")
	assert.Contains(t, out[0], "beta")
	assert.Contains(t, out[1], "gamma")
	assert.NotContains(t, out[1], "delta")
	assert.Contains(t, out[2], "delta")
	assert.NotContains(t, out[2], "gamma")
}

type failingChatModel struct{}

func (failingChatModel) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return "", rate.Permanent(fmt.Errorf("boom"))
}

func TestSummarizeClustersPropagatesFailure(t *testing.T) {
	gw := summarizer.New(map[summarizer.Provider]summarizer.ChatModel{
		summarizer.ProviderOpenAI: failingChatModel{},
	}, 0)
	gw2 := gw
	b := &Builder{summarizer: gw2}

	_, err := b.summarizeClusters(context.Background(), [][]int{{0}}, []string{"x"}, Params{LLMConcurrency: 1, MaxTokens: 10, SummaryModel: "gpt-4o-mini"})
	require.Error(t, err)
}
