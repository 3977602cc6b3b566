package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/finqa-go/internal/config"
	"github.com/54b3r/finqa-go/internal/logging"
	"github.com/54b3r/finqa-go/internal/server"
)

// NewServeCmd constructs the `finqa serve` command, which opens the
// knowledge base and starts the HTTP API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the finqa HTTP API server",
		Long: `Start the finqa HTTP API server.

The knowledge base is loaded from INDEX_PATH, or built from DATA_PDF_DIR and
DATA_QA_DIR when no saved index exists. The state file is written on
shutdown.

Endpoints:
  POST /api/v1/analyze   {"query": "...", "session_id": "..."}
  GET  /api/v1/status
  GET  /api/health, /api/ready, /metrics

Examples:
  finqa serve
  finqa serve --port 9000
  MODEL_PROVIDER=openai finqa serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if !cmd.Flags().Changed("host") {
				host = config.String("FINQA_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = config.Int("FINQA_PORT", port)
			}

			sys, pcfg, cleanup, err := openSystem(ctx, log, prometheus.DefaultRegisterer, false)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer cleanup()
			defer func() {
				if err := sys.SaveState(); err != nil {
					log.Warn("serve: failed to save state", slog.Any("error", err))
				} else {
					log.Info("serve: state saved")
				}
			}()

			pingers := buildPingers(sys, pcfg)
			checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := server.NewMultiPinger(pingers...).Ping(checkCtx); err != nil {
				log.Warn("serve: dependency not ready at startup", slog.Any("error", err))
			}
			cancel()

			srv, err := server.New(sys, &server.Config{
				Host:        host,
				Port:        port,
				Logger:      log,
				Pingers:     pingers,
				APIKey:      config.String("FINQA_API_KEY", ""),
				RateLimit:   float64(config.Float32("FINQA_RATE_LIMIT_RPS", 0)),
				RateBurst:   config.Int("FINQA_RATE_LIMIT_BURST", 0),
				CORSOrigins: config.List("FINQA_CORS_ORIGINS"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (env FINQA_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8000, "TCP port to listen on (env FINQA_PORT)")

	return cmd
}
