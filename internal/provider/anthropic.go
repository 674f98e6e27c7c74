package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

const defaultAnthropicBaseURL = "https://api.anthropic.com/v1"

// anthropicAPIVersion pins the Anthropic API behavior. Anthropic requires
// this header on every request; they version with a date header instead
// of the URL path.
const anthropicAPIVersion = "2023-06-01"

// defaultMaxTokens is sent on every request. Anthropic rejects requests
// without max_tokens.
const defaultMaxTokens = 1024

// ---------------------------------------------------------------------------
// AnthropicAdapter struct + constructor
// ---------------------------------------------------------------------------

// AnthropicAdapter talks to Anthropic's Messages API.
type AnthropicAdapter struct {
	baseURL string // e.g. "https://api.anthropic.com/v1"
}

// NewAnthropicAdapter creates an AnthropicAdapter.
func NewAnthropicAdapter(baseURL string) *AnthropicAdapter {
	return &AnthropicAdapter{baseURL: baseOr(baseURL, defaultAnthropicBaseURL)}
}

// Name implements Adapter.
func (a *AnthropicAdapter) Name() string {
	return "anthropic"
}

// ---------------------------------------------------------------------------
// Anthropic wire types (unexported)
// ---------------------------------------------------------------------------

// anthropicRequest is the request body for /v1/messages.
//
// Key differences from the OpenAI shape:
//   - "system" is a top-level string, not a message
//   - "max_tokens" is REQUIRED
type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicResponse: "content" is an array of blocks because replies can
// mix text and tool_use. We only read text blocks.
type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ---------------------------------------------------------------------------
// Request translation
// ---------------------------------------------------------------------------

// toAnthropicRequest pulls system turns out into the top-level "system"
// string and passes user/assistant turns through unchanged (Anthropic
// uses the same role names we do).
func toAnthropicRequest(call Call) *anthropicRequest {
	ar := &anthropicRequest{
		Model:     call.Model,
		MaxTokens: defaultMaxTokens,
	}

	var systemParts []string
	for _, msg := range call.Messages {
		if msg.Role == RoleSystem {
			systemParts = append(systemParts, msg.Content)
			continue
		}
		ar.Messages = append(ar.Messages, anthropicMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	if len(systemParts) > 0 {
		ar.System = strings.Join(systemParts, "\n")
	}

	return ar
}

// ---------------------------------------------------------------------------
// Adapter methods
// ---------------------------------------------------------------------------

// BuildRequest implements Adapter. Auth is a custom x-api-key header,
// not "Authorization: Bearer".
func (a *AnthropicAdapter) BuildRequest(ctx context.Context, call Call) (*http.Request, error) {
	req, err := newJSONRequest(ctx, a.baseURL+"/messages", toAnthropicRequest(call))
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", call.APIKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	return req, nil
}

// ParseReply implements Adapter. We loop for the first text block rather
// than trusting content[0], in case other block types come first.
func (a *AnthropicAdapter) ParseReply(raw []byte) string {
	var resp anthropicResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return echoRaw(raw)
	}
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text
		}
	}
	return echoRaw(raw)
}
