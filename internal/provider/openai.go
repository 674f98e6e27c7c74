package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIAdapter talks to any OpenAI-compatible chat completions endpoint.
type OpenAIAdapter struct {
	baseURL string
}

// NewOpenAIAdapter creates an OpenAIAdapter. baseURL is everything before
// "/chat/completions", e.g. "https://api.openai.com/v1".
func NewOpenAIAdapter(baseURL string) *OpenAIAdapter {
	return &OpenAIAdapter{baseURL: baseOr(baseURL, defaultOpenAIBaseURL)}
}

// Name implements Adapter.
func (o *OpenAIAdapter) Name() string {
	return "openai"
}

// --- Wire types ---

type openaiRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

// openaiResponse only declares the path we read: choices[0].message.content.
// Content is a pointer so "field absent" and "field empty" both show up
// as something we can check for.
type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// BuildRequest implements Adapter. The full history is forwarded.
func (o *OpenAIAdapter) BuildRequest(ctx context.Context, call Call) (*http.Request, error) {
	req, err := newJSONRequest(ctx, o.baseURL+"/chat/completions", openaiRequest{
		Model:       call.Model,
		Messages:    call.Messages,
		Temperature: defaultTemperature,
	})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", call.APIKey))
	return req, nil
}

// ParseReply implements Adapter.
func (o *OpenAIAdapter) ParseReply(raw []byte) string {
	var resp openaiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return echoRaw(raw)
	}
	if len(resp.Choices) == 0 {
		return echoRaw(raw)
	}
	content := resp.Choices[0].Message.Content
	if content == nil || *content == "" {
		return echoRaw(raw)
	}
	return *content
}
