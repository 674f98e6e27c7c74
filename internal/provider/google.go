package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const defaultGoogleBaseURL = "https://api.google.ai/gemini/v1"

// ---------------------------------------------------------------------------
// GoogleAdapter struct + constructor
// ---------------------------------------------------------------------------

// GoogleAdapter talks to a Gemini-shaped chat endpoint: an OpenAI-like
// {model, messages} request, answered with a "candidates" array.
type GoogleAdapter struct {
	baseURL string // everything before "/chat"
}

// NewGoogleAdapter creates a GoogleAdapter.
func NewGoogleAdapter(baseURL string) *GoogleAdapter {
	return &GoogleAdapter{baseURL: baseOr(baseURL, defaultGoogleBaseURL)}
}

// Name implements Adapter.
func (g *GoogleAdapter) Name() string {
	return "google"
}

// ---------------------------------------------------------------------------
// Gemini wire types (unexported, only this file uses them)
// ---------------------------------------------------------------------------

type geminiRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

// geminiResponse keeps candidate content as raw JSON because its shape
// depends on the API version behind the endpoint:
//
//	{"candidates":[{"content":"Hello"}]}                          // flat string
//	{"candidates":[{"content":{"parts":[{"text":"Hello"}]}}]}     // generateContent style
//
// ParseReply tries both before giving up.
type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiCandidate struct {
	Content json.RawMessage `json:"content"`
}

// geminiContent is the structured form: Gemini uses "parts" because it
// supports multimodal input. For text replies every part has a Text.
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

// ---------------------------------------------------------------------------
// Adapter methods
// ---------------------------------------------------------------------------

// BuildRequest implements Adapter.
func (g *GoogleAdapter) BuildRequest(ctx context.Context, call Call) (*http.Request, error) {
	req, err := newJSONRequest(ctx, g.baseURL+"/chat", geminiRequest{
		Model:    call.Model,
		Messages: call.Messages,
	})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", call.APIKey))
	return req, nil
}

// ParseReply implements Adapter.
func (g *GoogleAdapter) ParseReply(raw []byte) string {
	var resp geminiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return echoRaw(raw)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content) == 0 {
		return echoRaw(raw)
	}

	if text := candidateText(resp.Candidates[0].Content); text != "" {
		return text
	}
	return echoRaw(raw)
}

// candidateText extracts text from either content shape, or returns ""
// when neither matches.
func candidateText(content json.RawMessage) string {
	// Shape 1: a plain string.
	var flat string
	if err := json.Unmarshal(content, &flat); err == nil {
		return flat
	}

	// Shape 2: {parts:[{text}]}. Multi-part text replies are joined in order.
	var structured geminiContent
	if err := json.Unmarshal(content, &structured); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range structured.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}
