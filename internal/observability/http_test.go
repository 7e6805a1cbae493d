package observability

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientMetaFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws", nil)
	req.RemoteAddr = "10.0.0.9:51234"
	req.Header.Set("X-Request-ID", "req-7")
	req.Header.Set("X-Device-ID", "tablet")
	req.Header.Set("User-Agent", "portal-app/1.0")

	meta := ClientMetaFromRequest(req)

	assert.Equal(t, ClientMeta{RequestID: "req-7", DeviceID: "tablet", IP: "10.0.0.9", UserAgent: "portal-app/1.0"}, meta)
}

func TestClientIPPrefersProxyHeaders(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.9:51234"

	req.Header.Set("X-Real-IP", "198.51.100.4")
	assert.Equal(t, "198.51.100.4", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientIP(req))
}

func TestTraceIDOutsideSpanIsEmpty(t *testing.T) {
	assert.Empty(t, TraceIDFromContext(context.Background()))
}
