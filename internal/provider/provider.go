// Package provider defines the Adapter interface and one adapter per
// upstream LLM API family.
//
// An adapter only knows two things about its upstream: how to shape an
// outgoing request, and where the reply text lives in the response. The
// HTTP round trip itself is shared (see Invoke), so every adapter gets the
// same timeout and error classification for free.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Adapter is the interface that every upstream family must satisfy.
type Adapter interface {
	// Name returns the provider identifier, e.g. "openai" or "meta".
	// It matches persona.Provider values and is used as a metrics label.
	Name() string

	// BuildRequest turns a uniform Call into the upstream's wire format:
	// URL, headers (including auth) and JSON body, all carried by the
	// returned *http.Request. The request is bound to ctx so a timeout or
	// client disconnect aborts the upstream call.
	BuildRequest(ctx context.Context, call Call) (*http.Request, error)

	// ParseReply extracts the reply text from a raw response body. It
	// never fails: when the expected field is missing, it returns the raw
	// body instead, so the participant (and whoever is debugging) sees
	// what the upstream actually said.
	ParseReply(raw []byte) string
}

// Call is one upstream invocation.
type Call struct {
	Model    string    // provider-specific model id
	APIKey   string    // resolved credential; never logged
	Messages []Message // conversation, oldest first
}

// Message is a single conversation turn in the common role + content
// shape. Adapters translate it into whatever their upstream expects.
type Message struct {
	Role    string `json:"role"`    // "user", "assistant" (or "system")
	Content string `json:"content"` // the message text
}

// Roles used by the chat router.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// defaultTemperature is sent to upstreams that model sampling temperature.
const defaultTemperature = 0.7

// New creates the adapter for a provider name. An empty baseURL selects
// the adapter's public default endpoint.
//
// The constructors map avoids an if/else chain and makes adding a new
// upstream a one-line change.
func New(name, baseURL string) (Adapter, error) {
	type factory func(baseURL string) Adapter

	constructors := map[string]factory{
		"openai":    func(u string) Adapter { return NewOpenAIAdapter(u) },
		"meta":      func(u string) Adapter { return NewInferenceAdapter(u) },
		"google":    func(u string) Adapter { return NewGoogleAdapter(u) },
		"anthropic": func(u string) Adapter { return NewAnthropicAdapter(u) },
		"local":     func(u string) Adapter { return NewLocalAdapter(u) },
	}

	f, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return f(baseURL), nil
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

// baseOr trims a trailing slash from baseURL, or returns def when empty.
func baseOr(baseURL, def string) string {
	if baseURL == "" {
		return def
	}
	return strings.TrimRight(baseURL, "/")
}

// newJSONRequest marshals body and builds a POST request carrying it.
func newJSONRequest(ctx context.Context, url string, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// echoRaw is the fallback reply for a response whose expected field is
// missing. JSON bodies are compacted (the same text JSON.stringify would
// give for the parsed value); anything else is returned verbatim.
func echoRaw(raw []byte) string {
	trimmed := bytes.TrimSpace(raw)
	if json.Valid(trimmed) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err == nil {
			return buf.String()
		}
	}
	return string(trimmed)
}

// latestUserContent returns the content of the newest user turn, or ""
// if there is none.
func latestUserContent(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
