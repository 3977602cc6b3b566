package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/finqa-go/internal/agent"
	"github.com/54b3r/finqa-go/internal/logging"
	"github.com/54b3r/finqa-go/internal/provider"
	"github.com/54b3r/finqa-go/internal/rag"
	"github.com/54b3r/finqa-go/internal/server"
	"github.com/54b3r/finqa-go/internal/system"
	"github.com/54b3r/finqa-go/internal/tracing"
)

// rule separates answers in terminal output.
var rule = strings.Repeat("-", 60)

// openSystem sets up tracing and opens the System described by the
// environment. The returned cleanup flushes traces and closes the system.
func openSystem(ctx context.Context, log *slog.Logger, reg prometheus.Registerer, rebuild bool) (*system.System, *provider.Config, func(), error) {
	flush := tracing.Setup(log)

	sys, pcfg, err := system.OpenFromEnv(logging.WithLogger(ctx, log), system.EnvOptions{
		Logger:       log,
		Registerer:   reg,
		ForceRebuild: rebuild,
	})
	if err != nil {
		flush()
		return nil, nil, nil, err
	}
	cleanup := func() {
		if err := sys.Close(); err != nil {
			log.Warn("system: close failed", slog.Any("error", err))
		}
		flush()
	}
	return sys, pcfg, cleanup, nil
}

// buildPingers returns the readiness probes for serve: the chat model, the
// index consistency check and, for the Qdrant backend, Qdrant itself.
func buildPingers(sys *system.System, pcfg *provider.Config) []server.Pinger {
	pingers := []server.Pinger{
		server.NewLLMPinger(sys.ChatModel(), provider.NewHealthCheck(pcfg), string(pcfg.Backend)),
		server.NewIndexPinger(sys),
	}
	if q, ok := sys.Index().(*rag.QdrantIndex); ok {
		pingers = append(pingers, server.NewQdrantPinger(q.Client()))
	}
	return pingers
}

// printResult renders one answer the way the REPL and ask show it.
func printResult(w io.Writer, res *system.AnalysisResult, showEvaluation bool) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, res.Analysis)
	fmt.Fprintln(w)

	fmt.Fprint(w, "confidence: ")
	confidenceColor(res.Confidence).Fprintln(w, res.Confidence)

	sources := "not labeled"
	if len(res.Sources) > 0 {
		sources = strings.Join(res.Sources, ", ")
	}
	fmt.Fprintf(w, "sources: %s", sources)
	if res.CitationMode == agent.CitationFallback {
		color.New(color.Faint).Fprint(w, " (unverified, taken from retrieved context)")
	}
	fmt.Fprintln(w)

	if showEvaluation && res.Evaluation != "" {
		fmt.Fprintln(w)
		color.New(color.Faint).Fprintln(w, res.Evaluation)
	}
	fmt.Fprintln(w, rule)
}

func confidenceColor(c agent.Confidence) *color.Color {
	switch c {
	case agent.ConfidenceHigh:
		return color.New(color.FgGreen, color.Bold)
	case agent.ConfidenceMedium:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}
