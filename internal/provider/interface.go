// Package provider selects and constructs the chat model used by the
// generation and confidence-evaluation stages. Every backend is an eino
// [model.BaseChatModel]; the pipeline depends only on Generate, so any
// model family works.
// Supported backends: Ollama, OpenAI, Azure OpenAI, Volcengine Ark, Google Gemini.
package provider

import (
	"errors"
	"fmt"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API or any OpenAI-compatible endpoint.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendArk selects Volcengine Ark.
	BackendArk Backend = "ark"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// Config holds the provider selection plus per-backend settings.
// Generation parameters (max tokens, temperature) are not part of it: each
// pipeline stage passes its own per call.
type Config struct {
	Backend Backend

	Ollama      ProviderOllama
	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Ark         ProviderArk
	Gemini      ProviderGemini
}

// ProviderOllama holds Ollama settings.
type ProviderOllama struct {
	Host  string
	Model string
}

// ProviderOpenAI holds OpenAI settings. BaseURL is optional.
type ProviderOpenAI struct {
	APIKey  string
	Model   string
	BaseURL string
}

// ProviderAzureOpenAI holds Azure OpenAI settings.
type ProviderAzureOpenAI struct {
	APIKey     string
	Endpoint   string
	Deployment string
	APIVersion string
}

// ProviderArk holds Volcengine Ark settings.
type ProviderArk struct {
	APIKey  string
	Model   string
	BaseURL string
}

// ProviderGemini holds Google Gemini settings.
type ProviderGemini struct {
	APIKey string
	Model  string
}

// ModelName returns the model identifier the selected backend will use.
func (c *Config) ModelName() string {
	switch c.Backend {
	case BackendOllama:
		return c.Ollama.Model
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.AzureOpenAI.Deployment
	case BackendArk:
		return c.Ark.Model
	case BackendGemini:
		return c.Gemini.Model
	default:
		return ""
	}
}

// Validate reports the first missing setting for the selected backend,
// naming the env var that supplies it.
func (c *Config) Validate() error {
	var missing []string
	require := func(v, env string) {
		if v == "" {
			missing = append(missing, env)
		}
	}

	switch c.Backend {
	case BackendOllama:
		require(c.Ollama.Host, "OLLAMA_HOST")
		require(c.Ollama.Model, "MODEL_NAME")
	case BackendOpenAI:
		require(c.OpenAI.APIKey, "OPENAI_API_KEY")
		require(c.OpenAI.Model, "MODEL_NAME")
	case BackendAzure:
		require(c.AzureOpenAI.APIKey, "AZURE_OPENAI_API_KEY")
		require(c.AzureOpenAI.Endpoint, "AZURE_OPENAI_ENDPOINT")
		require(c.AzureOpenAI.Deployment, "AZURE_OPENAI_DEPLOYMENT")
	case BackendArk:
		require(c.Ark.APIKey, "ARK_API_KEY")
		require(c.Ark.Model, "MODEL_NAME")
	case BackendGemini:
		require(c.Gemini.APIKey, "GOOGLE_API_KEY")
		require(c.Gemini.Model, "MODEL_NAME")
	default:
		return fmt.Errorf("provider: unknown backend %q (valid values: ollama, openai, azure, ark, gemini)", c.Backend)
	}

	if len(missing) > 0 {
		return fmt.Errorf("provider: %s backend: %w: %v", c.Backend, errMissingSetting, missing)
	}
	return nil
}

var errMissingSetting = errors.New("missing required setting")
