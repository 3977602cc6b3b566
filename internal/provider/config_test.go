package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		// ── Ollama ────────────────────────────────────────────────────────────
		{
			name: "ollama/valid",
			cfg: Config{
				Backend: BackendOllama,
				Ollama:  ProviderOllama{Host: "http://localhost:11434", Model: "qwen3:4b"},
			},
		},
		{
			name:    "ollama/missing model",
			cfg:     Config{Backend: BackendOllama, Ollama: ProviderOllama{Host: "http://localhost:11434"}},
			wantErr: "MODEL_NAME",
		},

		// ── OpenAI ────────────────────────────────────────────────────────────
		{
			name: "openai/valid",
			cfg: Config{
				Backend: BackendOpenAI,
				OpenAI:  ProviderOpenAI{APIKey: "sk-test", Model: "gpt-4o"},
			},
		},
		{
			name:    "openai/missing api key",
			cfg:     Config{Backend: BackendOpenAI, OpenAI: ProviderOpenAI{Model: "gpt-4o"}},
			wantErr: "OPENAI_API_KEY",
		},

		// ── Azure ─────────────────────────────────────────────────────────────
		{
			name: "azure/valid",
			cfg: Config{
				Backend: BackendAzure,
				AzureOpenAI: ProviderAzureOpenAI{
					APIKey:     "key",
					Endpoint:   "https://my.openai.azure.com",
					Deployment: "gpt-4o",
				},
			},
		},
		{
			name: "azure/missing endpoint",
			cfg: Config{
				Backend:     BackendAzure,
				AzureOpenAI: ProviderAzureOpenAI{APIKey: "key", Deployment: "gpt-4o"},
			},
			wantErr: "AZURE_OPENAI_ENDPOINT",
		},
		{
			name: "azure/missing deployment",
			cfg: Config{
				Backend:     BackendAzure,
				AzureOpenAI: ProviderAzureOpenAI{APIKey: "key", Endpoint: "https://my.openai.azure.com"},
			},
			wantErr: "AZURE_OPENAI_DEPLOYMENT",
		},

		// ── Ark ───────────────────────────────────────────────────────────────
		{
			name: "ark/valid",
			cfg:  Config{Backend: BackendArk, Ark: ProviderArk{APIKey: "ak", Model: "doubao-pro"}},
		},
		{
			name:    "ark/missing api key",
			cfg:     Config{Backend: BackendArk, Ark: ProviderArk{Model: "doubao-pro"}},
			wantErr: "ARK_API_KEY",
		},

		// ── Gemini ────────────────────────────────────────────────────────────
		{
			name: "gemini/valid",
			cfg:  Config{Backend: BackendGemini, Gemini: ProviderGemini{APIKey: "AIza-test", Model: "gemini-2.0-flash"}},
		},
		{
			name:    "gemini/missing api key",
			cfg:     Config{Backend: BackendGemini, Gemini: ProviderGemini{Model: "gemini-2.0-flash"}},
			wantErr: "GOOGLE_API_KEY",
		},

		{
			name:    "unknown backend",
			cfg:     Config{Backend: "bedrock"},
			wantErr: "unknown backend",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestConfigValidate_MissingIsSentinel(t *testing.T) {
	t.Parallel()

	cfg := Config{Backend: BackendOpenAI}
	if err := cfg.Validate(); !errors.Is(err, errMissingSetting) {
		t.Errorf("expected errMissingSetting, got %v", err)
	}
}

func TestConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "")
	t.Setenv("MODEL_NAME", "")
	t.Setenv("OLLAMA_HOST", "")

	cfg := ConfigFromEnv()
	if cfg.Backend != BackendOllama {
		t.Errorf("Backend: expected ollama, got %q", cfg.Backend)
	}
	if cfg.ModelName() != DefaultModel {
		t.Errorf("ModelName: expected %q, got %q", DefaultModel, cfg.ModelName())
	}
	if cfg.Ollama.Host != "http://localhost:11434" {
		t.Errorf("Ollama.Host: got %q", cfg.Ollama.Host)
	}
}

func TestOllamaHealthCheck(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hc := NewHealthCheck(&Config{Backend: BackendOllama, Ollama: ProviderOllama{Host: srv.URL + "/"}})
	if hc == nil {
		t.Fatal("expected a health checker for ollama")
	}
	if err := hc.HealthCheck(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewHealthCheck_Unsupported(t *testing.T) {
	t.Parallel()

	if hc := NewHealthCheck(&Config{Backend: BackendGemini}); hc != nil {
		t.Errorf("expected nil health checker for gemini, got %T", hc)
	}
}
