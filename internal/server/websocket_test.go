package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsight/fleetsight/internal/analytics"
)

func TestCheckOrigin(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/ws/events", nil)
	assert.True(t, srv.checkOrigin(req), "no Origin header should be allowed")

	req.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, srv.checkOrigin(req), "default allowlist should include localhost:3000")

	req.Header.Set("Origin", "http://evil.example.com")
	assert.False(t, srv.checkOrigin(req))

	srv.config.Server.AllowedOrigins = []string{"https://fleet.example.com"}
	req.Header.Set("Origin", "https://fleet.example.com")
	assert.True(t, srv.checkOrigin(req))
	req.Header.Set("Origin", "http://localhost:3000")
	assert.False(t, srv.checkOrigin(req), "explicit allowlist replaces the default")

	srv.config.Server.AllowedOrigins = []string{"*"}
	req.Header.Set("Origin", "http://anywhere.example.com")
	assert.True(t, srv.checkOrigin(req))
}

func TestEventStreamBroadcast(t *testing.T) {
	srv, mux := newTestServer(t)

	ts := httptest.NewServer(mux)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the hub a moment to register the client.
	time.Sleep(50 * time.Millisecond)

	srv.hub.broadcastRunCompleted(&analytics.Result{
		RunID:     "run-ws",
		Anomalous: []string{"device-03"},
		Duration:  42 * time.Millisecond,
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypeRunCompleted, msg.Type)

	payload, ok := msg.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "run-ws", payload["run_id"])
}

func TestEventStreamRejectsBadOrigin(t *testing.T) {
	_, mux := newTestServer(t)

	ts := httptest.NewServer(mux)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"
	header := http.Header{"Origin": []string{"http://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
}
