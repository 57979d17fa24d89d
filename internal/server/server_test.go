package server

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mubot/mu/internal/conversation"
	"github.com/mubot/mu/internal/log"
	"github.com/mubot/mu/internal/testutil"
)

// readSSE drains the response body and parses it as an SSE event stream.
func readSSE(t *testing.T, resp *http.Response) []testutil.SSEEvent {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return testutil.ParseSSEEvents(t, string(body))
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	store := conversation.NewMemoryStore()
	logger := log.NewNop()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing engine", Config{Store: store, Logger: logger}},
		{"missing store", Config{Engine: engine, Logger: logger}},
		{"missing logger", Config{Engine: engine, Store: store}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &fakeEngine{}, conversation.NewMemoryStore())

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"), path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &fakeEngine{}, conversation.NewMemoryStore())

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestUnknownRoute(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, &fakeEngine{}, conversation.NewMemoryStore())

	resp, err := http.Get(ts.URL + "/api/v1/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
