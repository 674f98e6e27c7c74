package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const defaultInferenceBaseURL = "https://api-inference.huggingface.co/models"

// InferenceAdapter talks to Hugging Face-style inference endpoints, which
// serve single-prompt text generation models.
//
// These endpoints take one prompt, not a conversation, so only the latest
// user message is forwarded; earlier turns are dropped on purpose. Models
// behind this adapter answer every turn without memory of the previous ones.
type InferenceAdapter struct {
	baseURL string
}

// NewInferenceAdapter creates an InferenceAdapter. The model id is
// appended to baseURL as a path, e.g. {baseURL}/meta-llama/Llama-3-70b-chat-hf.
func NewInferenceAdapter(baseURL string) *InferenceAdapter {
	return &InferenceAdapter{baseURL: baseOr(baseURL, defaultInferenceBaseURL)}
}

// Name implements Adapter.
func (h *InferenceAdapter) Name() string {
	return "meta"
}

type inferenceRequest struct {
	Inputs string `json:"inputs"`
}

// inferenceResponse is an array of generations; we use the first.
// Errors come back as an object instead ({"error": "Model is loading"}),
// which fails to unmarshal into a slice and falls through to the echo.
type inferenceResponse []struct {
	GeneratedText *string `json:"generated_text"`
}

// BuildRequest implements Adapter.
func (h *InferenceAdapter) BuildRequest(ctx context.Context, call Call) (*http.Request, error) {
	prompt := latestUserContent(call.Messages)
	if prompt == "" {
		return nil, errors.New("no user message to send")
	}

	url := fmt.Sprintf("%s/%s", h.baseURL, strings.TrimLeft(call.Model, "/"))

	req, err := newJSONRequest(ctx, url, inferenceRequest{Inputs: prompt})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", call.APIKey))
	return req, nil
}

// ParseReply implements Adapter.
func (h *InferenceAdapter) ParseReply(raw []byte) string {
	var resp inferenceResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return echoRaw(raw)
	}
	if len(resp) == 0 || resp[0].GeneratedText == nil || *resp[0].GeneratedText == "" {
		return echoRaw(raw)
	}
	return *resp[0].GeneratedText
}
