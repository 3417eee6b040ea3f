package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketlane/api/internal/platform/requestctx"
)

func TestWriteError_Envelope(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{TraceID: "trace-1"})

	rr := httptest.NewRecorder()
	WriteError(ctx, rr, NewError("insufficient_stock", "not enough\nstock", http.StatusConflict).
		WithDetails(map[string]any{"product_id": "p1", "status": 999}))

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	assert.Equal(t, "insufficient_stock", payload["error"])
	assert.Equal(t, "not enough stock", payload["message"])
	assert.EqualValues(t, http.StatusConflict, payload["status"])
	assert.Equal(t, "req-1", payload["request_id"])
	assert.Equal(t, "trace-1", payload["trace_id"])
	assert.Equal(t, "p1", payload["product_id"])
}

func TestWriteError_RetryAfter(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(context.Background(), rr, NewError("store_unavailable", "try again", http.StatusServiceUnavailable).
		WithRetryAfter(1500*time.Millisecond))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "2", rr.Header().Get("Retry-After"))
}

func TestNewError_DefaultsStatus(t *testing.T) {
	err := NewError("boom", "boom", 0)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
}
