package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenAIBackend embeds text with the OpenAI (or Azure OpenAI) embeddings
// REST API, one text per request. It is safe for concurrent use.
type OpenAIBackend struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	azure      bool
	apiVersion string
	client     *http.Client
}

// OpenAIConfig holds the settings for constructing an OpenAIBackend.
type OpenAIConfig struct {
	// BaseURL is "https://api.openai.com/v1" for OpenAI or
	// "https://<resource>.openai.azure.com/openai" for Azure.
	BaseURL string
	APIKey  string
	// Model is the embedding model, or the deployment name on Azure.
	Model string
	// Dimensions requests a shortened vector (0 = model default).
	Dimensions int
	// Azure switches to api-key auth and deployment-scoped URLs.
	Azure      bool
	APIVersion string
}

// NewOpenAIBackend constructs an OpenAIBackend from cfg.
func NewOpenAIBackend(cfg *OpenAIConfig) *OpenAIBackend {
	return &OpenAIBackend{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		azure:      cfg.Azure,
		apiVersion: cfg.APIVersion,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

type openaiEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (b *OpenAIBackend) endpoint() string {
	if b.azure {
		return b.baseURL + "/deployments/" + b.model + "/embeddings?api-version=" + b.apiVersion
	}
	return b.baseURL + "/embeddings"
}

// Embed returns the embedding of text.
func (b *OpenAIBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(openaiEmbedRequest{
		Input:      []string{text},
		Model:      b.model,
		Dimensions: b.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedder: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai embedder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.azure {
		req.Header.Set("api-key", b.apiKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai embedder: request failed: %w", err)
	}
	defer resp.Body.Close()

	var result openaiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("openai embedder: decode response (HTTP %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if result.Error != nil {
			msg = result.Error.Message
		}
		return nil, fmt.Errorf("openai embedder: %s", msg)
	}

	if len(result.Data) != 1 {
		return nil, fmt.Errorf("openai embedder: expected 1 embedding, got %d", len(result.Data))
	}
	return result.Data[0].Embedding, nil
}
