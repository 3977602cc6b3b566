package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/finqa-go/internal/logging"
	"github.com/54b3r/finqa-go/internal/system"
)

// maxRequestBody caps the analyze request body.
const maxRequestBody = 1 << 20

// Outcome label values for analyze metrics.
const (
	outcomeOK      = "ok"
	outcomeInvalid = "invalid"
	outcomeTimeout = "timeout"
	outcomeError   = "error"
)

// handleAnalyze handles POST /api/v1/analyze. A blank query is rejected with
// 400; otherwise the turn always produces an answer unless retrieval fails.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	start := time.Now()

	s.metrics.analyzeInFlight.Inc()
	defer s.metrics.analyzeInFlight.Dec()

	outcome := outcomeOK
	defer func() {
		s.metrics.analyzeRequestsTotal.WithLabelValues(outcome).Inc()
		s.metrics.analyzeDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	var req analyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		outcome = outcomeInvalid
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		outcome = outcomeInvalid
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.AnalyzeTimeout)
	defer cancel()

	res, err := s.analyzer.Analyze(ctx, system.AnalysisRequest{
		Query:     req.Query,
		UserID:    req.UserID,
		SessionID: req.SessionID,
	})
	switch {
	case err == nil:
	case errors.Is(err, system.ErrEmptyQuery):
		outcome = outcomeInvalid
		writeError(w, http.StatusBadRequest, "query is required")
		return
	case errors.Is(err, context.DeadlineExceeded):
		outcome = outcomeTimeout
		log.Warn("analyze: timed out", slog.Duration("timeout", s.cfg.AnalyzeTimeout))
		writeError(w, http.StatusGatewayTimeout, "analysis timed out")
		return
	default:
		outcome = outcomeError
		log.Error("analyze: failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// handleStatus handles GET /api/v1/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.analyzer.Status()
	if err != nil {
		logging.FromContext(r.Context()).Error("status: failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
