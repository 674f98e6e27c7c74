package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveChat(t *testing.T) {
	m := New()

	m.ObserveChat("openai", "ok")
	m.ObserveChat("openai", "ok")
	m.ObserveChat("none", "unknown_persona")

	assert.Equal(t, 2.0, m.ChatCount("openai", "ok"))
	assert.Equal(t, 1.0, m.ChatCount("none", "unknown_persona"))
	assert.Equal(t, 0.0, m.ChatCount("google", "ok"))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveChat("meta", "upstream_timeout")
	m.ObserveUpstream("meta", 1500*time.Millisecond)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `personagate_chat_requests_total{outcome="upstream_timeout",provider="meta"} 1`)
	assert.Contains(t, string(body), `personagate_upstream_duration_seconds_count{provider="meta"} 1`)
}

func TestNewIsIsolated(t *testing.T) {
	// Two instances must not panic on duplicate registration.
	a, b := New(), New()
	a.ObserveChat("openai", "ok")
	assert.Equal(t, 0.0, b.ChatCount("openai", "ok"))
}
