package httptransport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"example.com/fitsync/internal/platform/logger"
)

func TestNewServerAppliesTimeouts(t *testing.T) {
	srv := NewServer(ServerConfig{Address: ":0", ReadTimeout: time.Second, WriteTimeout: 2 * time.Second, IdleTimeout: 3 * time.Second}, http.NotFoundHandler())
	require.Equal(t, ":0", srv.Addr)
	require.Equal(t, time.Second, srv.ReadTimeout)
	require.Equal(t, 2*time.Second, srv.WriteTimeout)
	require.Equal(t, 3*time.Second, srv.IdleTimeout)
	require.Equal(t, time.Second, srv.ReadHeaderTimeout)
}

func TestRequestLoggerContinuesIncomingTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	var traceID string
	h := RequestLogger(logger.NewNop(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = trace.SpanContextFromContext(r.Context()).TraceID().String()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/progress", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", traceID)
}

func TestRequestLoggerPassesThrough(t *testing.T) {
	h := RequestLogger(logger.NewNop(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))
	require.Equal(t, http.StatusTeapot, rr.Code)
}
