// Package tracing wires optional Langfuse tracing into every eino model call
// made by the generation and evaluation stages.
package tracing

import (
	"log/slog"
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

const defaultHost = "http://localhost:3000"

// Setup registers a Langfuse handler as an eino global callback when
// LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY are set. The returned flush
// function is always safe to call and must run before process exit.
func Setup(log *slog.Logger) func() {
	publicKey := os.Getenv("LANGFUSE_PUBLIC_KEY")
	secretKey := os.Getenv("LANGFUSE_SECRET_KEY")
	if publicKey == "" || secretKey == "" {
		log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY or LANGFUSE_SECRET_KEY not set"))
		return func() {}
	}

	host := os.Getenv("LANGFUSE_HOST")
	if host == "" {
		host = defaultHost
	}

	handler, flush := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: publicKey,
		SecretKey: secretKey,
		Name:      "finqa",
	})
	callbacks.AppendGlobalHandlers(handler)
	log.Info("langfuse tracing enabled", slog.String("host", host))

	return flush
}
