package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sungwoonpark0502/PRL-User-LLM-Experiment/internal/config"
	"github.com/sungwoonpark0502/PRL-User-LLM-Experiment/internal/metrics"
	"github.com/sungwoonpark0502/PRL-User-LLM-Experiment/internal/persona"
	"github.com/sungwoonpark0502/PRL-User-LLM-Experiment/internal/provider"
	"github.com/sungwoonpark0502/PRL-User-LLM-Experiment/internal/secret"
)

var testPersonas = []persona.Mapping{
	{Nickname: "Sarah", Provider: persona.OpenAI, Model: "gpt-4o", CredentialKey: "OPENAI_API_KEY", Description: "analytical"},
	{Nickname: "Peter", Provider: persona.OpenAI, Model: "gpt-3.5-turbo", CredentialKey: "PETER_API_KEY"},
	{Nickname: "James", Provider: persona.MetaInference, Model: "meta-llama/Llama-3-70b-chat-hf", CredentialKey: "HF_API_KEY"},
	{Nickname: "Emily", Provider: persona.Google, Model: "gemini-1.5-pro", CredentialKey: "GEMINI_API_KEY"},
	{Nickname: "Alex", Provider: persona.LocalGateway, Model: "llama3", CredentialKey: "OLLAMA_API_KEY"},
}

var allSecrets = secret.Static{
	"OPENAI_API_KEY": "sk-sarah",
	"PETER_API_KEY":  "sk-peter",
	"HF_API_KEY":     "hf-test",
	"GEMINI_API_KEY": "gm-test",
	"OLLAMA_API_KEY": "ol-test",
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			AllowedOrigins: []string{"http://localhost:3001"},
		},
		Upstream: config.UpstreamConfig{Timeout: 2 * time.Second},
	}
}

// newTestServer wires every adapter to upstreamURL. tweak, if non-nil,
// can adjust the config and deps before the server is built.
func newTestServer(t *testing.T, upstreamURL string, secrets secret.Source, tweak func(*config.Config, *Deps)) *Server {
	t.Helper()

	reg, err := persona.NewStatic(testPersonas)
	require.NoError(t, err)

	adapters := make(map[persona.Provider]provider.Adapter)
	for _, p := range persona.Providers {
		a, err := provider.New(string(p), upstreamURL)
		require.NoError(t, err)
		adapters[p] = a
	}

	cfg := testConfig()
	deps := Deps{
		Personas: reg,
		Secrets:  secrets,
		Adapters: adapters,
		Metrics:  metrics.New(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if tweak != nil {
		tweak(cfg, &deps)
	}
	return New(cfg, deps)
}

func postChat(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func replyOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Reply
}

// countingUpstream fails the test if any request reaches it.
func countingUpstream(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"choices":[{"message":{"content":"should not be here"}}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, "", allSecrets, nil)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestChat_SarahEndToEnd(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-sarah", r.Header.Get("Authorization"))

		var body struct {
			Model    string             `json:"model"`
			Messages []provider.Message `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o", body.Model)
		assert.Equal(t, []provider.Message{{Role: "user", Content: "2+2?"}}, body.Messages)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"4"}}]}`))
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream.URL, allSecrets, nil)
	rec := postChat(t, s, `{"nickname":"Sarah","messages":[{"role":"user","content":"2+2?"}]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reply":"4"}`, rec.Body.String())
	assert.Equal(t, 1.0, s.deps.Metrics.ChatCount("openai", "ok"))
}

func TestChat_SingleMessageShape(t *testing.T) {
	var got []provider.Message
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []provider.Message `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got = body.Messages
		w.Write([]byte(`{"choices":[{"message":{"content":"hello"}}]}`))
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream.URL, allSecrets, nil)
	reply := replyOf(t, postChat(t, s, `{"nickname":"Sarah","message":"hi"}`))

	assert.Equal(t, "hello", reply)
	assert.Equal(t, []provider.Message{{Role: "user", Content: "hi"}}, got)
}

func TestChat_UnknownNickname(t *testing.T) {
	upstream, hits := countingUpstream(t)
	s := newTestServer(t, upstream.URL, allSecrets, nil)

	for _, nickname := range []string{"Zog", "sarah", ""} {
		t.Run(nickname, func(t *testing.T) {
			body := fmt.Sprintf(`{"nickname":%q,"message":"hi"}`, nickname)
			reply := replyOf(t, postChat(t, s, body))
			assert.Equal(t, "Unknown LLM nickname: "+nickname, reply)
		})
	}

	assert.Zero(t, hits.Load())
	assert.Equal(t, 3.0, s.deps.Metrics.ChatCount("none", "unknown_persona"))
}

func TestChat_MissingCredential(t *testing.T) {
	upstream, hits := countingUpstream(t)

	tests := []struct {
		name    string
		secrets secret.Static
	}{
		{"absent", secret.Static{}},
		{"empty", secret.Static{"OPENAI_API_KEY": ""}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, upstream.URL, tc.secrets, nil)
			reply := replyOf(t, postChat(t, s, `{"nickname":"Sarah","message":"hi"}`))

			assert.Equal(t, "API Key not configured for nickname: Sarah", reply)
			assert.NotContains(t, reply, "OPENAI_API_KEY")
			assert.Equal(t, 1.0, s.deps.Metrics.ChatCount("openai", "missing_credential"))
		})
	}

	assert.Zero(t, hits.Load())
}

func TestChat_NoAdapter(t *testing.T) {
	upstream, hits := countingUpstream(t)
	s := newTestServer(t, upstream.URL, allSecrets, func(_ *config.Config, d *Deps) {
		delete(d.Adapters, persona.Google)
	})

	reply := replyOf(t, postChat(t, s, `{"nickname":"Emily","message":"hi"}`))

	assert.Equal(t, "LLM provider not available for nickname: Emily", reply)
	assert.Zero(t, hits.Load())
}

func TestChat_RawEchoOnUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "invalid key"}}`))
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream.URL, allSecrets, nil)
	reply := replyOf(t, postChat(t, s, `{"nickname":"Sarah","message":"hi"}`))

	assert.Equal(t, `{"error":{"message":"invalid key"}}`, reply)
}

func TestChat_EmptyUpstreamBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream.URL, allSecrets, nil)
	reply := replyOf(t, postChat(t, s, `{"nickname":"Alex","message":"hi"}`))

	assert.Equal(t, "Default fallback reply.", reply)
}

func TestChat_InferenceForwardsOnlyLatestMessage(t *testing.T) {
	var inputs string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/meta-llama/Llama-3-70b-chat-hf", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Len(t, body, 1, "only inputs is sent")
		inputs, _ = body["inputs"].(string)
		w.Write([]byte(`[{"generated_text":"a poem"}]`))
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream.URL, allSecrets, nil)
	reply := replyOf(t, postChat(t, s, `{"nickname":"James","messages":[
		{"role":"user","content":"first question"},
		{"role":"assistant","content":"first answer"},
		{"role":"user","content":"write a poem"}
	]}`))

	assert.Equal(t, "a poem", reply)
	assert.Equal(t, "write a poem", inputs)
	assert.NotContains(t, inputs, "first")
}

func TestChat_UpstreamTimeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream.URL, allSecrets, func(c *config.Config, _ *Deps) {
		c.Upstream.Timeout = 50 * time.Millisecond
	})
	reply := replyOf(t, postChat(t, s, `{"nickname":"Sarah","message":"hi"}`))

	assert.Equal(t, "LLM API call timed out.", reply)
	assert.Equal(t, 1.0, s.deps.Metrics.ChatCount("openai", "upstream_timeout"))
}

func TestChat_UpstreamUnreachable(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()

	s := newTestServer(t, url, allSecrets, nil)
	reply := replyOf(t, postChat(t, s, `{"nickname":"Sarah","message":"hi"}`))

	assert.Equal(t, "LLM API call failed.", reply)
	assert.Equal(t, 1.0, s.deps.Metrics.ChatCount("openai", "upstream_unreachable"))
}

type brokenRegistry struct{}

func (brokenRegistry) Resolve(context.Context, string) (persona.Mapping, error) {
	return persona.Mapping{}, errors.New("connection refused")
}

func (brokenRegistry) List(context.Context) ([]persona.Mapping, error) {
	return nil, errors.New("connection refused")
}

func TestChat_RegistryError(t *testing.T) {
	s := newTestServer(t, "", allSecrets, func(_ *config.Config, d *Deps) {
		d.Personas = brokenRegistry{}
	})

	reply := replyOf(t, postChat(t, s, `{"nickname":"Sarah","message":"hi"}`))
	assert.Equal(t, "LLM API call failed.", reply)
	assert.Equal(t, 1.0, s.deps.Metrics.ChatCount("none", "registry_error"))

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/personas", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestChat_BadRequests(t *testing.T) {
	upstream, hits := countingUpstream(t)
	s := newTestServer(t, upstream.URL, allSecrets, nil)

	tests := []struct {
		name       string
		body       string
		wantDetail string
	}{
		{"not json", `nickname=Sarah`, "invalid request body"},
		{"wrong type", `{"nickname":"Sarah","messages":"hi"}`, "invalid request body"},
		{"no message", `{"nickname":"Sarah"}`, "user message"},
		{"blank message", `{"nickname":"Sarah","message":"   "}`, "user message"},
		{"assistant only", `{"nickname":"Sarah","messages":[{"role":"assistant","content":"hi"}]}`, "user message"},
		{"bad role", `{"nickname":"Sarah","messages":[{"role":"robot","content":"hi"}]}`, `unsupported role "robot"`},
		// Shape is checked before the nickname, so even Zog gets a 400.
		{"unknown nickname no content", `{"nickname":"Zog"}`, "user message"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := postChat(t, s, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Contains(t, resp.Detail, tc.wantDetail)
		})
	}

	assert.Zero(t, hits.Load())
}

func TestNormalizeMessages(t *testing.T) {
	user := func(c string) provider.Message { return provider.Message{Role: provider.RoleUser, Content: c} }
	bot := func(c string) provider.Message { return provider.Message{Role: provider.RoleAssistant, Content: c} }

	tests := []struct {
		name string
		req  chatRequest
		want []provider.Message
	}{
		{"message only", chatRequest{Message: "hi"}, []provider.Message{user("hi")}},
		{"messages only", chatRequest{Messages: []provider.Message{user("a"), bot("b"), user("c")}},
			[]provider.Message{user("a"), bot("b"), user("c")}},
		{"message appended", chatRequest{Message: "c", Messages: []provider.Message{user("a"), bot("b")}},
			[]provider.Message{user("a"), bot("b"), user("c")}},
		{"duplicate not appended", chatRequest{Message: "c", Messages: []provider.Message{user("a"), bot("b"), user("c")}},
			[]provider.Message{user("a"), bot("b"), user("c")}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := normalizeMessages(tc.req)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

// Two personas on the same provider, different keys and models. Each
// reply must come back with its own request's credential.
func TestChat_ConcurrentRequestsStayIndependent(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		content := body.Model + "|" + r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]string{"content": content}}},
		})
	}))
	defer upstream.Close()

	s := newTestServer(t, upstream.URL, allSecrets, nil)

	want := map[string]string{
		"Sarah": "gpt-4o|Bearer sk-sarah",
		"Peter": "gpt-3.5-turbo|Bearer sk-peter",
	}

	const perPersona = 25
	var wg sync.WaitGroup
	for nickname, expected := range want {
		nickname, expected := nickname, expected
		for i := 0; i < perPersona; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				body := fmt.Sprintf(`{"nickname":%q,"message":"hi"}`, nickname)
				req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
				rec := httptest.NewRecorder()
				s.ServeHTTP(rec, req)

				var resp chatResponse
				assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, expected, resp.Reply)
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, float64(2*perPersona), s.deps.Metrics.ChatCount("openai", "ok"))
}

func TestPersonas(t *testing.T) {
	s := newTestServer(t, "", allSecrets, nil)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/personas", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp personasResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	var nicknames []string
	for _, p := range resp.Personas {
		nicknames = append(nicknames, p.Nickname)
	}
	assert.Equal(t, []string{"Alex", "Emily", "James", "Peter", "Sarah"}, nicknames)
	assert.Equal(t, "analytical", resp.Personas[4].Description)
	assert.Equal(t, "Sarah", resp.Personas[4].DisplayName)

	// The directory must not reveal what is behind a nickname.
	for _, leak := range []string{"gpt-4o", "openai", "OPENAI_API_KEY", "sk-sarah"} {
		assert.NotContains(t, rec.Body.String(), leak)
	}
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, "", allSecrets, nil)

	t.Run("preflight from allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
		req.Header.Set("Origin", "http://localhost:3001")
		req.Header.Set("Access-Control-Request-Method", "POST")
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "http://localhost:3001", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	})

	t.Run("simple request from allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://localhost:3001")
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "http://localhost:3001", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("other origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, "", allSecrets, func(c *config.Config, _ *Deps) {
		c.Server.RateLimitPerSecond = 0.01
		c.Server.RateLimitBurst = 2
	})

	send := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"nickname":"Zog","message":"hi"}`))
		req.RemoteAddr = remoteAddr
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("192.0.2.1:1000").Code)
	assert.Equal(t, http.StatusOK, send("192.0.2.1:1001").Code, "port is not part of the key")

	rec := send("192.0.2.1:1002")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "100", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"detail":"rate limit exceeded"}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, send("192.0.2.2:1000").Code, "other clients have their own bucket")

	// Only /api/chat is limited.
	health := httptest.NewRequest(http.MethodGet, "/health", nil)
	health.RemoteAddr = "192.0.2.1:1003"
	hrec := httptest.NewRecorder()
	s.ServeHTTP(hrec, health)
	assert.Equal(t, http.StatusOK, hrec.Code)
}

func TestIPLimiterSweepsIdleClients(t *testing.T) {
	l := newIPLimiter(1, 1)
	now := time.Now()
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("192.0.2.1"))
	assert.False(t, l.allow("192.0.2.1"))

	now = now.Add(limiterIdleTTL + time.Minute)
	assert.True(t, l.allow("192.0.2.2"))

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.clients, "192.0.2.1")
	assert.Contains(t, l.clients, "192.0.2.2")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, "", allSecrets, nil)
	postChat(t, s, `{"nickname":"Zog","message":"hi"}`)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `personagate_chat_requests_total{outcome="unknown_persona",provider="none"} 1`)
}
