package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStripHopByHopHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "close, X-Custom-Hop")
	h.Set("Keep-Alive", "timeout=5")
	h.Set("Transfer-Encoding", "chunked")
	h.Set("X-Custom-Hop", "should-go")
	h.Set("Content-Type", "application/json")

	stripHopByHopHeaders(h)

	require.Empty(t, h.Get("Connection"))
	require.Empty(t, h.Get("Keep-Alive"))
	require.Empty(t, h.Get("Transfer-Encoding"))
	require.Empty(t, h.Get("X-Custom-Hop"))
	require.Equal(t, "application/json", h.Get("Content-Type"))
}

func TestIsWebSocketUpgrade(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://v1.echo.example.com/", nil)
	require.False(t, isWebSocketUpgrade(req))

	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	require.True(t, isWebSocketUpgrade(req))

	req.Header.Set("Sec-WebSocket-Version", "8")
	require.False(t, isWebSocketUpgrade(req))
}
