package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/finqa-go/internal/system"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8000).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It
	// must exceed AnalyzeTimeout.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// AnalyzeTimeout bounds one POST /api/v1/analyze turn (default: 5m).
	AnalyzeTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [slog.Default] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on
	// /api/v1/analyze (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all /api/v1/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// CORSOrigins lists the origins allowed to call the API from a
	// browser. "*" allows any origin. Empty disables CORS headers.
	CORSOrigins []string
	// MetricsRegistry receives the HTTP metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Analyzer is what the handlers need from the application.
// *system.System satisfies it; tests inject a fake.
type Analyzer interface {
	Analyze(ctx context.Context, req system.AnalysisRequest) (*system.AnalysisResult, error)
	Status() (*system.Status, error)
}

// Server is the HTTP transport in front of an Analyzer.
type Server struct {
	// analyzer answers questions and reports status.
	analyzer Analyzer
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// analyzeRequest is the JSON body for POST /api/v1/analyze.
type analyzeRequest struct {
	// Query is the financial question.
	Query string `json:"query"`
	// UserID optionally scopes history when SessionID is absent.
	UserID string `json:"user_id,omitempty"`
	// SessionID continues an existing conversation.
	SessionID string `json:"session_id,omitempty"`
}

// errorResponse is the JSON body of every non-2xx API response.
type errorResponse struct {
	Error string `json:"error"`
}
