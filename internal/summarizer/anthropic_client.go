package summarizer

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient is a ChatModel backed by the Anthropic Messages API,
// grounded in the teacher's internal/anthropic proxy (x-api-key header,
// anthropic-version negotiation) but using the official SDK instead of a
// hand-rolled HTTP request.
type AnthropicClient struct {
	client anthropic.Client
	model  string
}

// NewAnthropicClient builds an AnthropicClient for model, authenticated
// with apiKey.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Complete sends prompt as a single user message and returns the reply text.
func (c *AnthropicClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		wrapped := fmt.Errorf("anthropic completion: %w", err)
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", classifyAPIError(wrapped, apiErr.StatusCode)
		}
		return "", wrapped
	}
	var out string
	for _, block := range resp.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	if out == "" {
		return "", fmt.Errorf("anthropic completion: no text content returned")
	}
	return out, nil
}
