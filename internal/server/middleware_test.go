package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/internal/ctxkeys"
)

func TestWithRequestLoggingGeneratesTraceID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ctxkeys.TraceID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	handler := WithRequestLogging(inner, zap.NewNop())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get("X-Trace-ID"))
}

func TestWithRequestLoggingPropagatesTraceID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ctxkeys.TraceID(r.Context())
	})

	handler := WithRequestLogging(inner, zap.NewNop())

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Header.Set("X-Trace-ID", "trace-42")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, "trace-42", seen)
	assert.Equal(t, "trace-42", w.Header().Get("X-Trace-ID"))
}
