package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/dnaeon/go-vcr.v4/pkg/cassette"
	"gopkg.in/dnaeon/go-vcr.v4/pkg/recorder"
)

// scrubAuth keeps credentials out of cassettes on disk.
func scrubAuth(i *cassette.Interaction) error {
	i.Request.Headers.Del("Authorization")
	i.Request.Headers.Del("x-api-key")
	return nil
}

// TestOpenAI_RecordReplay records one round trip against a stub upstream,
// shuts the upstream down, then replays the cassette. The replayed reply
// must be identical: extraction depends only on the stored body.
func TestOpenAI_RecordReplay(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"chatcmpl-1","choices":[{"index":0,"message":{"role":"assistant","content":"4"}}]}`))
	}))

	cassettePath := filepath.Join(t.TempDir(), "openai_chat")
	matcher := recorder.WithMatcher(cassette.NewDefaultMatcher(cassette.WithIgnoreAuthorization()))

	call := Call{
		Model:    "gpt-4o",
		APIKey:   "sk-live-do-not-record",
		Messages: []Message{{Role: RoleUser, Content: "2+2?"}},
	}
	adapter := NewOpenAIAdapter(upstream.URL)

	// --- Record ---
	rec, err := recorder.New(cassettePath,
		recorder.WithMode(recorder.ModeRecordOnly),
		recorder.WithHook(scrubAuth, recorder.BeforeSaveHook),
		recorder.WithSkipRequestLatency(true),
		matcher,
	)
	require.NoError(t, err)

	reply, err := Invoke(context.Background(), rec.GetDefaultClient(), adapter, call)
	require.NoError(t, err)
	assert.Equal(t, "4", reply)
	require.NoError(t, rec.Stop())

	upstream.Close()

	// --- Replay, with the upstream gone ---
	rep, err := recorder.New(cassettePath,
		recorder.WithMode(recorder.ModeReplayOnly),
		recorder.WithSkipRequestLatency(true),
		matcher,
	)
	require.NoError(t, err)
	defer rep.Stop()

	replayed, err := Invoke(context.Background(), rep.GetDefaultClient(), adapter, call)
	require.NoError(t, err)
	assert.Equal(t, reply, replayed)

	// The key never made it to disk.
	c, err := cassette.Load(cassettePath)
	require.NoError(t, err)
	require.Len(t, c.Interactions, 1)
	assert.Empty(t, c.Interactions[0].Request.Headers.Get("Authorization"))
}
