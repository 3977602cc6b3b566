package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HealthChecker probes a backend without spending tokens.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// httpHealthCheck issues a GET against a cheap listing endpoint.
type httpHealthCheck struct {
	url    string
	token  string
	client *http.Client
}

// NewHealthCheck returns a token-free probe for backends that expose one
// (Ollama's tag listing, OpenAI's model listing). It returns nil for the
// others so callers can fall back to a Generate probe.
func NewHealthCheck(cfg *Config) HealthChecker {
	client := &http.Client{Timeout: 5 * time.Second}
	switch cfg.Backend {
	case BackendOllama:
		return &httpHealthCheck{url: strings.TrimRight(cfg.Ollama.Host, "/") + "/api/tags", client: client}
	case BackendOpenAI:
		base := cfg.OpenAI.BaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		return &httpHealthCheck{url: strings.TrimRight(base, "/") + "/models", token: cfg.OpenAI.APIKey, client: client}
	default:
		return nil
	}
}

func (h *httpHealthCheck) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("provider: failed to build health request: %w", err)
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: health request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider: health check returned status %d", resp.StatusCode)
	}
	return nil
}
