package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sungwoonpark0502/PRL-User-LLM-Experiment/internal/persona"
	"github.com/sungwoonpark0502/PRL-User-LLM-Experiment/internal/provider"
)

// maxRequestBytes caps the chat request body. A long conversation is a
// few hundred KB at most.
const maxRequestBytes = 1 << 20

// Replies for outcomes that never reach an upstream, or never come back
// from one. They go out as ordinary {"reply"} bodies with a 200, which is
// what the participant frontend renders in the chat panel.
const (
	replyUnknownPersona  = "Unknown LLM nickname: %s"
	replyMissingKey      = "API Key not configured for nickname: %s"
	replyNoAdapter       = "LLM provider not available for nickname: %s"
	replyUpstreamFailed  = "LLM API call failed."
	replyUpstreamTimeout = "LLM API call timed out."
	replyEmpty           = "Default fallback reply."
)

// Outcome labels for personagate_chat_requests_total.
const (
	outcomeOK                = "ok"
	outcomeUnknownPersona    = "unknown_persona"
	outcomeMissingCredential = "missing_credential"
	outcomeNoAdapter         = "no_adapter"
	outcomeRegistryError     = "registry_error"
)

// chatRequest accepts both request shapes the frontends send: a single
// "message" string, or a full "messages" history.
type chatRequest struct {
	Nickname string             `json:"nickname"`
	Message  string             `json:"message,omitempty"`
	Messages []provider.Message `json:"messages,omitempty"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type personaInfo struct {
	Nickname    string `json:"nickname"`
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`
}

type personasResponse struct {
	Personas []personaInfo `json:"personas"`
}

// handleHealth is a basic liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePersonas handles GET /api/personas. Only the participant-facing
// fields are listed; provider, model and credential stay server-side.
func (s *Server) handlePersonas(w http.ResponseWriter, r *http.Request) {
	mappings, err := s.deps.Personas.List(r.Context())
	if err != nil {
		s.deps.Logger.Error("listing personas", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "failed to list personas"})
		return
	}

	out := personasResponse{Personas: make([]personaInfo, 0, len(mappings))}
	for _, m := range mappings {
		out.Personas = append(out.Personas, personaInfo{
			Nickname:    m.Nickname,
			DisplayName: m.DisplayName,
			Description: m.Description,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleChat handles POST /api/chat.
//
// Only a body that is not a chat request at all gets an HTTP error.
// Everything that goes wrong after that (unknown nickname, missing key,
// upstream down or slow) is reported as a normal reply.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "invalid request body: " + err.Error()})
		return
	}

	msgs, err := normalizeMessages(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: err.Error()})
		return
	}

	reply, label, outcome := s.chat(r.Context(), req.Nickname, msgs)
	s.deps.Metrics.ObserveChat(label, outcome)
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
}

// chat routes one conversation to the persona's upstream. It returns the
// reply text plus the provider and outcome labels for metrics.
func (s *Server) chat(ctx context.Context, nickname string, msgs []provider.Message) (reply, providerLabel, outcome string) {
	log := s.deps.Logger.With("nickname", nickname)

	m, err := s.deps.Personas.Resolve(ctx, nickname)
	switch {
	case errors.Is(err, persona.ErrNotFound):
		return fmt.Sprintf(replyUnknownPersona, nickname), "none", outcomeUnknownPersona
	case err != nil:
		log.Error("resolving persona", "error", err)
		return replyUpstreamFailed, "none", outcomeRegistryError
	}
	providerLabel = string(m.Provider)

	// Fail closed: no key means no call, never a different persona.
	key, ok := s.deps.Secrets.Secret(m.CredentialKey)
	if !ok {
		log.Warn("credential not configured", "provider", m.Provider)
		return fmt.Sprintf(replyMissingKey, nickname), providerLabel, outcomeMissingCredential
	}

	adapter, ok := s.deps.Adapters[m.Provider]
	if !ok {
		log.Error("no adapter wired for provider", "provider", m.Provider)
		return fmt.Sprintf(replyNoAdapter, nickname), providerLabel, outcomeNoAdapter
	}

	ctx, cancel := context.WithTimeout(ctx, s.upstreamTimeout)
	defer cancel()

	start := time.Now()
	text, err := provider.Invoke(ctx, s.deps.Client, adapter, provider.Call{
		Model:    m.Model,
		APIKey:   key,
		Messages: msgs,
	})
	s.deps.Metrics.ObserveUpstream(providerLabel, time.Since(start))

	if err != nil {
		kind := provider.KindUnreachable
		var upErr *provider.UpstreamError
		if errors.As(err, &upErr) {
			kind = upErr.Kind
		}
		log.Error("upstream call failed", "provider", m.Provider, "model", m.Model, "kind", kind, "error", err)

		if kind == provider.KindTimeout {
			return replyUpstreamTimeout, providerLabel, string(kind)
		}
		return replyUpstreamFailed, providerLabel, string(kind)
	}

	log.Debug("upstream replied", "provider", m.Provider, "model", m.Model, "duration", time.Since(start))
	if text == "" {
		text = replyEmpty
	}
	return text, providerLabel, outcomeOK
}

// normalizeMessages folds both request shapes into one history, oldest
// first. When both are present, "message" is the newest user turn unless
// the history already ends with it.
func normalizeMessages(req chatRequest) ([]provider.Message, error) {
	msgs := make([]provider.Message, 0, len(req.Messages)+1)
	for i, m := range req.Messages {
		switch m.Role {
		case provider.RoleUser, provider.RoleAssistant, provider.RoleSystem:
		default:
			return nil, fmt.Errorf("messages[%d]: unsupported role %q", i, m.Role)
		}
		msgs = append(msgs, m)
	}

	if req.Message != "" {
		last := len(msgs) - 1
		if last < 0 || msgs[last].Role != provider.RoleUser || msgs[last].Content != req.Message {
			msgs = append(msgs, provider.Message{Role: provider.RoleUser, Content: req.Message})
		}
	}

	for _, m := range msgs {
		if m.Role == provider.RoleUser && strings.TrimSpace(m.Content) != "" {
			return msgs, nil
		}
	}
	return nil, errors.New("request must include a user message")
}

// writeJSON sets the content type, writes the status, and encodes v.
// Headers must be set before the first write.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
