package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const defaultLocalBaseURL = "http://localhost:11434"

// LocalAdapter talks to a local model gateway (Ollama or anything that
// speaks its /api/chat protocol). Used for dev and lab machines where the
// study runs open models next to the server.
type LocalAdapter struct {
	baseURL string
}

// NewLocalAdapter creates a LocalAdapter.
func NewLocalAdapter(baseURL string) *LocalAdapter {
	return &LocalAdapter{baseURL: baseOr(baseURL, defaultLocalBaseURL)}
}

// Name implements Adapter.
func (l *LocalAdapter) Name() string {
	return "local"
}

type localRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// localResponse covers both gateway styles: /api/chat answers in
// message.content, /api/generate-style proxies answer in "response".
type localResponse struct {
	Message *struct {
		Content string `json:"content"`
	} `json:"message"`
	Response string `json:"response"`
}

// BuildRequest implements Adapter. Messages pass through untouched and
// streaming is always off; we want a single JSON object back.
func (l *LocalAdapter) BuildRequest(ctx context.Context, call Call) (*http.Request, error) {
	req, err := newJSONRequest(ctx, l.baseURL+"/api/chat", localRequest{
		Model:    call.Model,
		Messages: call.Messages,
		Stream:   false,
	})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", call.APIKey))
	return req, nil
}

// ParseReply implements Adapter.
func (l *LocalAdapter) ParseReply(raw []byte) string {
	var resp localResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return echoRaw(raw)
	}
	if resp.Message != nil && resp.Message.Content != "" {
		return resp.Message.Content
	}
	if resp.Response != "" {
		return resp.Response
	}
	return echoRaw(raw)
}
