package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/completion-relay/internal/api/handler"
)

type nopProducer struct{}

func (nopProducer) Push(context.Context, []byte) error { return nil }

func newTestEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return SetupRouter(&handler.Dependencies{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Queue:       nopProducer{},
		TopicPrefix: "jobs/",
	})
}

func TestSetupRouter_Health(t *testing.T) {
	r := newTestEngine()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "completion-api-service", body["service"])
}

func TestSetupRouter_HealthReportsDependencies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := SetupRouter(&handler.Dependencies{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Queue:  nopProducer{},
		HealthChecks: map[string]func(ctx context.Context) error{
			"redis": func(context.Context) error { return nil },
			"mqtt":  func(context.Context) error { return errors.New("connection refused") },
		},
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "ok", body.Dependencies["redis"])
	assert.Equal(t, "connection refused", body.Dependencies["mqtt"])
}

func TestSetupRouter_Routes(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{
			name:       "submit completion",
			method:     http.MethodPost,
			path:       "/api/v1/completions",
			body:       `{"prompts":[{"role":"user","content":"hi"}]}`,
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "get job without ledger",
			method:     http.MethodGet,
			path:       "/api/v1/jobs/6f1c1f4e-3b0e-4a57-9c53-0b9f8f3f8a10",
			wantStatus: http.StatusNotImplemented,
		},
		{
			name:       "list jobs without ledger",
			method:     http.MethodGet,
			path:       "/api/v1/jobs",
			wantStatus: http.StatusNotImplemented,
		},
		{
			name:       "stream without subscriber",
			method:     http.MethodGet,
			path:       "/api/v1/jobs/6f1c1f4e-3b0e-4a57-9c53-0b9f8f3f8a10/stream",
			wantStatus: http.StatusNotImplemented,
		},
		{
			name:       "unknown route",
			method:     http.MethodGet,
			path:       "/api/v1/unknown",
			wantStatus: http.StatusNotFound,
		},
	}

	r := newTestEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	r := newTestEngine()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/v1/completions", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}
