package summarizer

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// GeminiClient is a ChatModel backed by the Gemini generateContent API,
// grounded in the teacher's internal/llm/gemini.go client construction.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient builds a GeminiClient for model, authenticated with apiKey.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Complete sends prompt as plain text content and returns the reply text.
func (c *GeminiClient) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
	})
	if err != nil {
		wrapped := fmt.Errorf("gemini completion: %w", err)
		var apiErr *genai.APIError
		if errors.As(err, &apiErr) {
			return "", classifyAPIError(wrapped, apiErr.Code)
		}
		return "", wrapped
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini completion: no text returned")
	}
	return text, nil
}
