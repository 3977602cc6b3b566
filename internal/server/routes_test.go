package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/finqa-go/internal/system"
)

func newRoutedServer(t *testing.T, cfg *Config) *Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	cfg.MetricsRegistry = reg
	cfg.MetricsGatherer = reg
	s, err := New(&fakeAnalyzer{}, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.stopRL)
	return s
}

// TestRoutes_AuthScope verifies that /api/v1 requires the token while the
// probe endpoints do not.
func TestRoutes_AuthScope(t *testing.T) {
	t.Parallel()

	s := newRoutedServer(t, &Config{APIKey: "secret"})
	h := s.Handler()

	cases := []struct {
		method, path, body string
		auth               bool
		want               int
	}{
		{http.MethodPost, "/api/v1/analyze", `{"query":"q"}`, false, http.StatusUnauthorized},
		{http.MethodPost, "/api/v1/analyze", `{"query":"q"}`, true, http.StatusOK},
		{http.MethodGet, "/api/v1/status", "", false, http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/status", "", true, http.StatusOK},
		{http.MethodGet, "/api/health", "", false, http.StatusOK},
		{http.MethodGet, "/api/ready", "", false, http.StatusOK},
		{http.MethodGet, "/metrics", "", false, http.StatusOK},
		{http.MethodGet, "/api/v1/analyze", "", true, http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
		if tc.auth {
			req.Header.Set("Authorization", "Bearer secret")
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Errorf("%s %s auth=%v: expected %d, got %d", tc.method, tc.path, tc.auth, tc.want, w.Code)
		}
	}
}

func TestRoutes_RequestID(t *testing.T) {
	t.Parallel()

	h := newRoutedServer(t, &Config{}).Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if w.Header().Get(requestIDHeader) == "" {
		t.Error("expected a generated request ID")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(requestIDHeader, "client-id-1")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get(requestIDHeader); got != "client-id-1" {
		t.Errorf("client request ID not echoed, got %q", got)
	}
}

func TestRoutes_NewDefaults(t *testing.T) {
	t.Parallel()

	s := newRoutedServer(t, &Config{})
	if s.httpServer.Addr != "127.0.0.1:8000" {
		t.Errorf("addr = %q", s.httpServer.Addr)
	}
	if s.cfg.WriteTimeout <= s.cfg.AnalyzeTimeout {
		t.Errorf("write timeout %v must exceed analyze timeout %v", s.cfg.WriteTimeout, s.cfg.AnalyzeTimeout)
	}
}

// ---------------------------------------------------------------------------
// CORS
// ---------------------------------------------------------------------------

func TestCORS(t *testing.T) {
	t.Parallel()

	h := corsMiddleware([]string{"http://localhost:3000"}, okHandler)

	cases := []struct {
		name       string
		method     string
		origin     string
		preflight  bool
		wantStatus int
		wantAllow  string
	}{
		{"allowed simple", http.MethodPost, "http://localhost:3000", false, http.StatusOK, "http://localhost:3000"},
		{"allowed preflight", http.MethodOptions, "http://localhost:3000", true, http.StatusNoContent, "http://localhost:3000"},
		{"other origin", http.MethodPost, "http://evil.example", false, http.StatusOK, ""},
		{"no origin", http.MethodGet, "", false, http.StatusOK, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(tc.method, "/api/v1/analyze", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			if tc.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tc.wantStatus {
				t.Errorf("status: expected %d, got %d", tc.wantStatus, w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tc.wantAllow {
				t.Errorf("Allow-Origin: expected %q, got %q", tc.wantAllow, got)
			}
		})
	}
}

func TestCORS_WildcardAndDisabled(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://anything.example")

	w := httptest.NewRecorder()
	corsMiddleware([]string{"*"}, okHandler).ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "http://anything.example" {
		t.Error("wildcard should allow any origin")
	}

	w = httptest.NewRecorder()
	corsMiddleware(nil, okHandler).ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("empty allow-list must not set CORS headers")
	}
}

// ---------------------------------------------------------------------------
// Pingers
// ---------------------------------------------------------------------------

type fakeIndexChecker struct{ err error }

func (f fakeIndexChecker) CheckIndex() error { return f.err }

type fakeHealthCheck struct{ err error }

func (f fakeHealthCheck) HealthCheck(_ context.Context) error { return f.err }

func TestIndexPinger(t *testing.T) {
	t.Parallel()

	if err := NewIndexPinger(fakeIndexChecker{}).Ping(t.Context()); err != nil {
		t.Errorf("healthy index: %v", err)
	}
	p := NewIndexPinger(fakeIndexChecker{err: errors.New("missing sidecar")})
	if p.Name() != "index" || p.Ping(t.Context()) == nil {
		t.Error("inconsistent index must fail readiness")
	}
}

func TestLLMPinger_PrefersHealthCheck(t *testing.T) {
	t.Parallel()

	if err := NewLLMPinger(nil, fakeHealthCheck{}, "ollama").Ping(t.Context()); err != nil {
		t.Errorf("healthy backend: %v", err)
	}
	err := NewLLMPinger(nil, fakeHealthCheck{err: errors.New("refused")}, "ollama").Ping(t.Context())
	if err == nil || !strings.Contains(err.Error(), "ollama") {
		t.Errorf("expected named failure, got %v", err)
	}
	if NewLLMPinger(nil, nil, "ark").Ping(t.Context()) == nil {
		t.Error("pinger without probe or model must fail")
	}
}

func TestMultiPinger(t *testing.T) {
	t.Parallel()

	m := NewMultiPinger(&fakePinger{name: "llm"}, &fakePinger{name: "index", err: errors.New("down")})
	err := m.Ping(t.Context())
	if err == nil || !strings.HasPrefix(err.Error(), "index:") {
		t.Errorf("expected index failure, got %v", err)
	}
}

var _ Analyzer = (*system.System)(nil)
