// Package chatclient is a small client for the persona gateway's HTTP API,
// used by the participant tooling and the personactl CLI.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrNoResponse matches every non-2xx answer from the gateway:
//
//	errors.Is(err, chatclient.ErrNoResponse)
var ErrNoResponse = errors.New("failed to get response from LLM")

// APIError is returned when the gateway answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Detail     string // from the body's "detail" or "error" field, if any
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s (status %d)", ErrNoResponse, e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d): %s", ErrNoResponse, e.StatusCode, e.Detail)
}

// Is makes every APIError match ErrNoResponse.
func (e *APIError) Is(target error) bool {
	return target == ErrNoResponse
}

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Persona is one entry of the persona directory.
type Persona struct {
	Nickname    string `json:"nickname"`
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`
}

// Client talks to one gateway. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client, e.g. to set a timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a Client for the gateway at baseURL, e.g.
// "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Nickname string    `json:"nickname"`
	Message  string    `json:"message,omitempty"`
	Messages []Message `json:"messages,omitempty"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

// SendMessage sends a single user turn to the persona and returns its
// reply. Failures the gateway reports inline (unknown nickname, missing
// key, upstream down) come back as reply text, not as an error.
func (c *Client) SendMessage(ctx context.Context, userInput, nickname string) (string, error) {
	return c.chat(ctx, chatRequest{Nickname: nickname, Message: userInput})
}

// Send sends a whole conversation, oldest turn first. The newest user
// turn is the one being answered.
func (c *Client) Send(ctx context.Context, nickname string, messages []Message) (string, error) {
	return c.chat(ctx, chatRequest{Nickname: nickname, Messages: messages})
}

func (c *Client) chat(ctx context.Context, body chatRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp chatResponse
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	return resp.Reply, nil
}

// Personas lists the personas the gateway offers, sorted by nickname.
func (c *Client) Personas(ctx context.Context) ([]Persona, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/personas", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	var resp struct {
		Personas []Persona `json:"personas"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Personas, nil
}

// do sends req and decodes a 2xx JSON body into out.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Detail: errorDetail(resp.Body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// errorDetail pulls a human-readable message out of an error body. The
// gateway uses {"detail"}; proxies in front of it often use {"error"}.
func errorDetail(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return ""
	}

	var parsed struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return ""
	}
	if parsed.Detail != "" {
		return parsed.Detail
	}
	return parsed.Error
}
