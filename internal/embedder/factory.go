package embedder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/54b3r/finqa-go/internal/config"
)

const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"
)

// BackendFromEnv resolves the embedding backend from the environment,
// inheriting chat provider credentials when embedding-specific overrides
// are not set.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER, else MODEL_PROVIDER, else ollama
//  2. EMBEDDING_MODEL overrides the backend's default model
//  3. EMBEDDING_API_KEY overrides the inherited API key
//  4. EMBEDDING_ENDPOINT overrides the inherited endpoint
//  5. EMBEDDING_DIMENSIONS requests a vector size (openai/azure/hash)
func BackendFromEnv() (Backend, error) {
	backend := config.String("EMBEDDING_PROVIDER", config.String("MODEL_PROVIDER", "ollama"))

	switch backend {
	case "ollama":
		return NewOllamaBackend(&OllamaConfig{
			Host:  config.String("EMBEDDING_ENDPOINT", config.String("OLLAMA_HOST", "http://localhost:11434")),
			Model: config.String("EMBEDDING_MODEL", defaultOllamaModel),
		}), nil

	case "openai":
		apiKey := config.String("EMBEDDING_API_KEY", config.String("OPENAI_API_KEY", ""))
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		return NewOpenAIBackend(&OpenAIConfig{
			BaseURL:    config.String("EMBEDDING_ENDPOINT", "https://api.openai.com/v1"),
			APIKey:     apiKey,
			Model:      config.String("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: config.Int("EMBEDDING_DIMENSIONS", 0),
		}), nil

	case "azure":
		apiKey := config.String("EMBEDDING_API_KEY", config.String("AZURE_OPENAI_API_KEY", ""))
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		endpoint := config.String("EMBEDDING_ENDPOINT", config.String("AZURE_OPENAI_ENDPOINT", ""))
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		return NewOpenAIBackend(&OpenAIConfig{
			BaseURL:    endpoint + "/openai",
			APIKey:     apiKey,
			Model:      config.String("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: config.Int("EMBEDDING_DIMENSIONS", 0),
			Azure:      true,
			APIVersion: config.String("AZURE_OPENAI_API_VERSION", "2024-06-01"),
		}), nil

	case "hash":
		return NewHashBackend(config.Int("EMBEDDING_DIMENSIONS", 0)), nil

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q (valid values: ollama, openai, azure, hash)", backend)
	}
}

// NewFromEnv resolves the backend and probes its dimension.
func NewFromEnv(ctx context.Context, log *slog.Logger) (*Embedder, error) {
	ValidateModel(log)

	backend, err := BackendFromEnv()
	if err != nil {
		return nil, err
	}
	return New(ctx, backend, Options{
		Concurrency: config.Int("EMBED_CONCURRENCY", DefaultConcurrency),
		Logger:      log,
	})
}
