package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"conductor/src/handler/admin"
	"conductor/src/handler/policy"
	"conductor/src/handler/registry"
	"conductor/src/handler/worktree"
)

// DummyResponseWriter implements http.ResponseWriter but discards all data.
// This eliminates overhead from httptest.NewRecorder() in benchmarks.
type DummyResponseWriter struct{}

func (d *DummyResponseWriter) Header() http.Header {
	return http.Header{}
}

func (d *DummyResponseWriter) Write(data []byte) (int, error) {
	return len(data), nil
}

func (d *DummyResponseWriter) WriteHeader(statusCode int) {}

// setupBenchmarkRouter wraps SetupRouter with benchmark mode configuration
// over a fresh in-memory Admin.
func setupBenchmarkRouter(b *testing.B) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = io.Discard

	dir := b.TempDir()
	provider, err := policy.NewFileProvider("")
	if err != nil {
		b.Fatal(err)
	}
	reg, err := registry.New(dir, provider)
	if err != nil {
		b.Fatal(err)
	}
	store := worktree.NewStore(dir + "/worktrees.json")
	mgr := worktree.NewManager(store)

	return SetupRouter(admin.New(reg, mgr), "", true, false)
}

// benchmarkRequest executes an HTTP request against the router for
// benchmarking. It recreates the request body for each iteration since HTTP
// request bodies can only be read once.
func benchmarkRequest(b *testing.B, router *gin.Engine, method, path string, body []byte) {
	w := new(DummyResponseWriter)
	for b.Loop() {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewBuffer(body)
		}
		req, _ := http.NewRequest(method, path, bodyReader)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		router.ServeHTTP(w, req)
	}
}

// BenchmarkListSessions benchmarks the empty-registry list path.
func BenchmarkListSessions(b *testing.B) {
	router := setupBenchmarkRouter(b)
	benchmarkRequest(b, router, http.MethodGet, "/sessions", nil)
}

// BenchmarkCreateAndKillSession benchmarks the create-then-kill round trip
// for a short-lived shell session, each iteration using a distinct name so
// the registry's duplicate-name check never trips.
func BenchmarkCreateAndKillSession(b *testing.B) {
	router := setupBenchmarkRouter(b)
	w := new(DummyResponseWriter)

	i := 0
	for b.Loop() {
		i++
		name := fmt.Sprintf("bench-%d", i)
		body, _ := json.Marshal(map[string]interface{}{
			"name":    name,
			"command": "true",
		})
		createReq, _ := http.NewRequest(http.MethodPost, "/sessions", bytes.NewBuffer(body))
		createReq.Header.Set("Content-Type", "application/json")
		createReq.Header.Set("X-Conductor-Source", "cli")
		router.ServeHTTP(w, createReq)

		killReq, _ := http.NewRequest(http.MethodDelete, "/sessions/"+name, nil)
		router.ServeHTTP(w, killReq)
	}
}

// BenchmarkWorktreeWarnings benchmarks the health-report path over an
// empty worktree store.
func BenchmarkWorktreeWarnings(b *testing.B) {
	router := setupBenchmarkRouter(b)
	benchmarkRequest(b, router, http.MethodGet, "/worktrees/warnings", nil)
}
