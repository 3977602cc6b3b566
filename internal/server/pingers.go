package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/finqa-go/internal/provider"
)

// LLMPinger probes the chat model backend. It satisfies the Pinger
// interface and is used by GET /api/ready.
type LLMPinger struct {
	// model is probed with a one-token Generate when no health check exists.
	model model.BaseChatModel
	// healthCheck is a token-free probe; nil for backends without one.
	healthCheck provider.HealthChecker
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger constructs an LLMPinger for the given model and backend name.
func NewLLMPinger(m model.BaseChatModel, hc provider.HealthChecker, name string) *LLMPinger {
	return &LLMPinger{model: m, healthCheck: hc, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping probes the LLM backend. The token-free health check is preferred;
// otherwise a single-token Generate call is made.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if p.healthCheck != nil {
		if err := p.healthCheck.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s health check failed: %w", p.name, err)
		}
		return nil
	}
	if p.model == nil {
		return fmt.Errorf("%s: no health check or model to probe", p.name)
	}

	slog.Debug("pinger: using Generate-based health check, tokens will be consumed",
		slog.String("backend", p.name),
	)
	resp, err := p.model.Generate(ctx, []*schema.Message{schema.UserMessage("ping")}, model.WithMaxTokens(1))
	if err != nil {
		return fmt.Errorf("generate failed: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("generate returned nil response")
	}
	return nil
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
type QdrantPinger struct {
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if _, err := p.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// indexChecker reports whether the knowledge base can serve searches.
// *system.System satisfies it.
type indexChecker interface {
	CheckIndex() error
}

// IndexPinger fails while the index is inconsistent, e.g. after loading a
// blob without its metadata sidecar.
type IndexPinger struct {
	index indexChecker
}

// NewIndexPinger constructs an IndexPinger.
func NewIndexPinger(c indexChecker) *IndexPinger {
	return &IndexPinger{index: c}
}

// Name returns the dependency label used in readiness responses.
func (p *IndexPinger) Name() string { return "index" }

// Ping returns the index consistency error, if any.
func (p *IndexPinger) Ping(_ context.Context) error {
	return p.index.CheckIndex()
}
