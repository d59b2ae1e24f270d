package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"

	"finagent-gateway/internal/client"
	"finagent-gateway/internal/config"
	"finagent-gateway/internal/metrics"
	"finagent-gateway/internal/service"
)

// writeBundle lays out a built frontend in a temp dir. It deliberately
// contains files whose names collide with the proxied routes.
func writeBundle(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string][]byte{
		"index.html":      []byte(indexHTML),
		"static/logo.png": logoPNG,
		"health":          []byte("shadow"),
		"api/analyze":     []byte("shadow"),
	}
	for name, data := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func newGateway(t *testing.T, baseURL string, metricsEnabled bool) *echo.Echo {
	t.Helper()
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			BaseURL:         baseURL,
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
		Static:  config.StaticConfig{Dir: writeBundle(t), Index: "index.html"},
		Metrics: config.MetricsConfig{Enabled: metricsEnabled, Path: "/metrics"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	bc, err := client.NewBackendClient(cfg, logger, m)
	if err != nil {
		t.Fatalf("NewBackendClient: %v", err)
	}

	proxy := NewProxyHandler(service.NewProxyService(bc, logger), logger)
	static := NewStaticHandler(cfg, logger)

	e := echo.New()
	RegisterRoutes(e, cfg, m, proxy, static)
	return e
}

// echoUpstream mirrors the analyze request body back inside the reply.
func echoUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/analyze":
			var in struct {
				Message string `json:"message"`
			}
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				w.WriteHeader(http.StatusUnprocessableEntity)
				_, _ = w.Write([]byte(`{"detail":"invalid body"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"text": "re: " + in.Message, "status": "success"})
		case "/health":
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"Not Found"}`))
		}
	}))
}

func TestRegisterRoutes_Wiring(t *testing.T) {
	upstream := echoUpstream(t)
	defer upstream.Close()

	e := newGateway(t, upstream.URL, false)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"POST /api/analyze", http.MethodPost, "/api/analyze", `{"message":"hi"}`, http.StatusOK, `{"status":"success","text":"re: hi"}` + "\n"},
		{"GET /health", http.MethodGet, "/health", "", http.StatusOK, `{"status":"ok"}`},
		{"GET / serves index", http.MethodGet, "/", "", http.StatusOK, indexHTML},
		{"GET unmatched serves index", http.MethodGet, "/anything-unmatched", "", http.StatusOK, indexHTML},
		{"GET nested route serves index", http.MethodGet, "/chat/history/3", "", http.StatusOK, indexHTML},
		{"GET static file", http.MethodGet, "/static/logo.png", "", http.StatusOK, string(logoPNG)},
		{"GET /metrics disabled serves index", http.MethodGet, "/metrics", "", http.StatusOK, indexHTML},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.body != "" {
				req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Body.String(); got != tt.wantBody {
				t.Errorf("body = %q, want %q", got, tt.wantBody)
			}
		})
	}
}

func TestRegisterRoutes_ProxyNotShadowedByBundle(t *testing.T) {
	upstream := echoUpstream(t)
	defer upstream.Close()

	e := newGateway(t, upstream.URL, false)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	if rec.Body.String() == "shadow" {
		t.Error("GET /health was served from the bundle")
	}

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(`{"message":"x"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Body.String() == "shadow" {
		t.Error("POST /api/analyze was served from the bundle")
	}
}

func TestRegisterRoutes_BackendDown(t *testing.T) {
	e := newGateway(t, "http://127.0.0.1:1", false)

	tests := []struct {
		method string
		path   string
		want   string
	}{
		{http.MethodPost, "/api/analyze", `{"error":"Bad Gateway","message":"Failed to connect to backend service"}`},
		{http.MethodGet, "/health", `{"error":"Bad Gateway","message":"Backend is not available"}`},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(`{"message":"x"}`))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadGateway {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
			}
			if got := strings.TrimSpace(rec.Body.String()); got != tt.want {
				t.Errorf("body = %q, want %q", got, tt.want)
			}
		})
	}

	// The SPA keeps working while the backend is down.
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rec.Code != http.StatusOK || rec.Body.String() != indexHTML {
		t.Errorf("GET / = %d %q, want 200 entry document", rec.Code, rec.Body.String())
	}
}

func TestRegisterRoutes_HeadRequests(t *testing.T) {
	upstream := echoUpstream(t)
	defer upstream.Close()

	e := newGateway(t, upstream.URL, false)

	for _, path := range []string{"/", "/static/logo.png", "/chat/history/3", "/health"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, path, http.NoBody))
			if rec.Code != http.StatusOK {
				t.Errorf("HEAD %s status = %d, want %d", path, rec.Code, http.StatusOK)
			}
		})
	}
}

func TestRegisterRoutes_TrailingSlash(t *testing.T) {
	upstream := echoUpstream(t)
	defer upstream.Close()

	e := newGateway(t, upstream.URL, false)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/", http.NoBody))
	if rec.Code != http.StatusOK || rec.Body.String() != `{"status":"ok"}` {
		t.Errorf("GET /health/ = %d %q, want proxied health reply", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/api/analyze/", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if want := `{"status":"success","text":"re: hi"}` + "\n"; rec.Code != http.StatusOK || rec.Body.String() != want {
		t.Errorf("POST /api/analyze/ = %d %q, want %q", rec.Code, rec.Body.String(), want)
	}

	// The root path keeps its slash and still gets the entry document.
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if rec.Code != http.StatusOK || rec.Body.String() != indexHTML {
		t.Errorf("GET / = %d %q, want entry document", rec.Code, rec.Body.String())
	}
}

func TestRegisterRoutes_MetricsEndpoint(t *testing.T) {
	upstream := echoUpstream(t)
	defer upstream.Close()

	e := newGateway(t, upstream.URL, true)

	// Generate one upstream call so the upstream series exist.
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "finagent_gateway_upstream_responses_total") {
		t.Error("expected finagent_gateway_upstream_responses_total in /metrics output")
	}
}

func TestRegisterRoutes_ConcurrentAnalyzeNoCrossTalk(t *testing.T) {
	upstream := echoUpstream(t)
	defer upstream.Close()

	e := newGateway(t, upstream.URL, false)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := fmt.Sprintf("query-%d", i)
			body, _ := json.Marshal(map[string]string{"message": msg})

			req := httptest.NewRequest(http.MethodPost, "/api/analyze", bytes.NewReader(body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			var out struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
				errs <- fmt.Errorf("%s: unmarshal %q: %w", msg, rec.Body.String(), err)
				return
			}
			if out.Text != "re: "+msg {
				errs <- fmt.Errorf("%s: got text %q", msg, out.Text)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}
