package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/korthq/bx/testing/testcontext"
)

func TestNewRouter_Health(t *testing.T) {
	ctx := testcontext.Background()

	r, err := NewRouter(ctx, Config{
		Name:    "test-service",
		Version: "1.2.3",
		Env:     "test",
	})
	assert.NilError(t, err)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	assert.Check(t, cmp.Equal(w.Code, http.StatusOK))
	assert.Check(t, cmp.Equal(w.Header().Get("Cache-Control"), "no-store"))
	assert.Check(t, w.Header().Get("X-Request-ID") != "")

	var body struct {
		RequestTS string `json:"request_ts"`
		Status    string `json:"status"`
		Uptime    string `json:"uptime"`
		Version   string `json:"version"`
		Env       string `json:"env"`
	}
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Check(t, cmp.Equal(body.Status, "UP"))
	assert.Check(t, cmp.Equal(body.Version, "1.2.3"))
	assert.Check(t, cmp.Equal(body.Env, "test"))
	assert.Check(t, body.Uptime != "")
	assert.Check(t, body.RequestTS != "")
}

func TestNewRouter_CORS(t *testing.T) {
	ctx := testcontext.Background()

	r, err := NewRouter(ctx, Config{
		Name:           "test-service",
		AllowedOrigins: []string{"https://app.example.com"},
	})
	assert.NilError(t, err)

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/health", nil)
		req.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Check(t, cmp.Equal(w.Header().Get("Access-Control-Allow-Origin"), "https://app.example.com"))
	})

	t.Run("other origin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/health", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Check(t, cmp.Equal(w.Header().Get("Access-Control-Allow-Origin"), ""))
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/health", nil)
		req.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Check(t, cmp.Equal(w.Code, http.StatusNoContent))
	})
}
