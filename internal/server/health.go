package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/finqa-go/internal/logging"
	"github.com/54b3r/finqa-go/internal/version"
)

// probeTimeout bounds each dependency probe run by /api/ready.
const probeTimeout = 5 * time.Second

// Pinger reports whether one dependency (the chat model, the vector index,
// Qdrant) is usable. Implementations must be safe for concurrent use.
type Pinger interface {
	Ping(ctx context.Context) error
	// Name labels the dependency in readiness output, e.g. "llm" or "index".
	Name() string
}

// MultiPinger runs several probes as one. Used by `finqa serve` for the
// startup check.
type MultiPinger struct {
	pingers []Pinger
}

// NewMultiPinger returns a MultiPinger over pingers.
func NewMultiPinger(pingers ...Pinger) *MultiPinger {
	return &MultiPinger{pingers: pingers}
}

// Ping probes every dependency concurrently and joins the failures, each
// prefixed with the dependency name.
func (m *MultiPinger) Ping(ctx context.Context) error {
	errs := make([]error, len(m.pingers))
	var g errgroup.Group
	for i, p := range m.pingers {
		g.Go(func() error {
			if err := p.Ping(ctx); err != nil {
				errs[i] = fmt.Errorf("%s: %w", p.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Name implements Pinger.
func (m *MultiPinger) Name() string { return "multi" }

type readyCheck struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type readyResponse struct {
	Ready  bool         `json:"ready"`
	Checks []readyCheck `json:"checks"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// handleHealth is the liveness probe. It never touches dependencies.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: version.Version})
}

// handleReady probes every registered dependency in parallel, each under
// probeTimeout. It answers 200 when all succeed and 503 otherwise; checks
// keep registration order.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	checks := make([]readyCheck, len(s.pingers))
	var g errgroup.Group
	for i, p := range s.pingers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			defer cancel()

			start := time.Now()
			err := p.Ping(ctx)
			checks[i] = readyCheck{Name: p.Name(), OK: err == nil, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				checks[i].Error = err.Error()
				log.Warn("readiness probe failed",
					slog.String("dependency", p.Name()),
					slog.Any("error", err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	resp := readyResponse{Ready: true, Checks: checks}
	for _, c := range checks {
		if !c.OK {
			resp.Ready = false
		}
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
