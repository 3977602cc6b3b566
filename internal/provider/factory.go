package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"

	"github.com/54b3r/finqa-go/internal/config"
)

// DefaultModel is the chat model used when MODEL_NAME is unset.
const DefaultModel = "qwen3:4b"

// ConfigFromEnv resolves the provider configuration from the environment.
//
// Environment variables:
//
//	MODEL_PROVIDER = ollama | openai | azure | ark | gemini (default: ollama)
//	MODEL_NAME     = model / deployment name (default: qwen3:4b)
//
//	Ollama: OLLAMA_HOST (default: http://localhost:11434)
//	OpenAI: OPENAI_API_KEY, OPENAI_BASE_URL
//	Azure:  AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_DEPLOYMENT,
//	        AZURE_OPENAI_API_VERSION (default: 2024-06-01)
//	Ark:    ARK_API_KEY, ARK_BASE_URL
//	Gemini: GOOGLE_API_KEY
func ConfigFromEnv() *Config {
	name := config.String("MODEL_NAME", DefaultModel)
	return &Config{
		Backend: Backend(config.String("MODEL_PROVIDER", string(BackendOllama))),
		Ollama: ProviderOllama{
			Host:  config.String("OLLAMA_HOST", "http://localhost:11434"),
			Model: name,
		},
		OpenAI: ProviderOpenAI{
			APIKey:  config.String("OPENAI_API_KEY", ""),
			Model:   name,
			BaseURL: config.String("OPENAI_BASE_URL", ""),
		},
		AzureOpenAI: ProviderAzureOpenAI{
			APIKey:     config.String("AZURE_OPENAI_API_KEY", ""),
			Endpoint:   config.String("AZURE_OPENAI_ENDPOINT", ""),
			Deployment: config.String("AZURE_OPENAI_DEPLOYMENT", name),
			APIVersion: config.String("AZURE_OPENAI_API_VERSION", "2024-06-01"),
		},
		Ark: ProviderArk{
			APIKey:  config.String("ARK_API_KEY", ""),
			Model:   name,
			BaseURL: config.String("ARK_BASE_URL", ""),
		},
		Gemini: ProviderGemini{
			APIKey: config.String("GOOGLE_API_KEY", ""),
			Model:  name,
		},
	}
}

// NewFromEnv constructs the chat model described by the environment.
func NewFromEnv(ctx context.Context) (model.BaseChatModel, *Config, error) {
	cfg := ConfigFromEnv()
	m, err := New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return m, cfg, nil
}

// New validates cfg and constructs the matching backend so configuration
// errors surface at startup rather than on the first turn.
func New(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		m   model.BaseChatModel
		err error
	)
	switch cfg.Backend {
	case BackendOllama:
		m, err = newOllama(ctx, cfg)
	case BackendOpenAI:
		m, err = newOpenAI(ctx, cfg)
	case BackendAzure:
		m, err = newAzure(ctx, cfg)
	case BackendArk:
		m, err = newArk(ctx, cfg)
	case BackendGemini:
		m, err = newGemini(ctx, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("provider: failed to construct %s model: %w", cfg.Backend, err)
	}
	return m, nil
}
