// Package config provides layered configuration for finqa.
// Precedence: defaults → YAML file → .env file → process environment.
// Every YAML value is exported as an env var only when that var is unset,
// so the environment always wins.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. FINQA_CONFIG environment variable
//  3. ~/.finqa/config.yaml
//  4. ./finqa.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
type Config struct {
	// Model configures the LLM chat model provider.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding backend.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Index configures where the knowledge base lives and how it is built.
	Index IndexConfig `yaml:"index"`

	// Qdrant configures the optional remote index backend.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Pipeline tunes the per-turn retrieve → generate → evaluate stages.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// History configures conversation history persistence.
	History HistoryConfig `yaml:"history"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// ModelConfig holds LLM chat model settings.
type ModelConfig struct {
	// Provider selects the backend: ollama, openai, azure, ark, gemini.
	Provider string `yaml:"provider"`
	// Name is the model identifier passed to the backend.
	Name string `yaml:"name"`

	Ollama OllamaConfig `yaml:"ollama"`
	OpenAI OpenAIConfig `yaml:"openai"`
	Azure  AzureConfig  `yaml:"azure"`
	Ark    ArkConfig    `yaml:"ark"`
	Gemini GeminiConfig `yaml:"gemini"`
}

// OllamaConfig holds Ollama settings shared by chat and embedding.
type OllamaConfig struct {
	Host string `yaml:"host"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey prefer env var OPENAI_API_KEY.
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// APIKey prefer env var AZURE_OPENAI_API_KEY.
	APIKey     string `yaml:"api_key"`
	Endpoint   string `yaml:"endpoint"`
	Deployment string `yaml:"deployment"`
	APIVersion string `yaml:"api_version"`
}

// ArkConfig holds Volcengine Ark provider settings.
type ArkConfig struct {
	// APIKey prefer env var ARK_API_KEY.
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	// APIKey prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key"`
}

// EmbeddingConfig holds embedding backend settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai, azure).
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// APIKey prefer env var EMBEDDING_API_KEY.
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`
	// Concurrency bounds the batch embedding worker pool.
	Concurrency int `yaml:"concurrency"`
}

// IndexConfig holds knowledge base paths and chunking settings.
type IndexConfig struct {
	// Backend is flat (local file) or qdrant.
	Backend      string `yaml:"backend"`
	Path         string `yaml:"path"`
	StatePath    string `yaml:"state_path"`
	PDFDir       string `yaml:"pdf_dir"`
	QADir        string `yaml:"qa_dir"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	// FetchManifest lists the documents `finqa index fetch` downloads.
	FetchManifest  string `yaml:"fetch_manifest"`
	FetchUserAgent string `yaml:"fetch_user_agent"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
	// APIKey prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	TLS    bool   `yaml:"tls"`
}

// PipelineConfig tunes the turn pipeline.
type PipelineConfig struct {
	TopK                  int     `yaml:"top_k"`
	HistoryWindow         int     `yaml:"history_window"`
	HistoryTokenBudget    int     `yaml:"history_token_budget"`
	GenerationMaxTokens   int     `yaml:"generation_max_tokens"`
	GenerationTemperature float32 `yaml:"generation_temperature"`
	EvaluationMaxTokens   int     `yaml:"evaluation_max_tokens"`
	EvaluationTemperature float32 `yaml:"evaluation_temperature"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var FINQA_API_KEY.
	APIKey         string   `yaml:"api_key"`
	RateLimitRPS   float32  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
	CORSOrigins    []string `yaml:"cors_origins"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HistoryConfig holds conversation history settings.
type HistoryConfig struct {
	// DBPath is the SQLite database path. "disabled" keeps history in memory.
	DBPath string `yaml:"db_path"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	PublicKey string `yaml:"public_key"`
	SecretKey string `yaml:"secret_key"`
	Host      string `yaml:"host"`
}

// envMapping maps YAML config fields to their env var names.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_NAME", func(c *Config) string { return c.Model.Name }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_BASE_URL", func(c *Config) string { return c.Model.OpenAI.BaseURL }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"ARK_API_KEY", func(c *Config) string { return c.Model.Ark.APIKey }},
	{"ARK_BASE_URL", func(c *Config) string { return c.Model.Ark.BaseURL }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"EMBED_CONCURRENCY", func(c *Config) string { return intStr(c.Embedding.Concurrency) }},
	{"INDEX_BACKEND", func(c *Config) string { return c.Index.Backend }},
	{"INDEX_PATH", func(c *Config) string { return c.Index.Path }},
	{"SYSTEM_STATE_PATH", func(c *Config) string { return c.Index.StatePath }},
	{"DATA_PDF_DIR", func(c *Config) string { return c.Index.PDFDir }},
	{"DATA_QA_DIR", func(c *Config) string { return c.Index.QADir }},
	{"CHUNK_SIZE", func(c *Config) string { return intStr(c.Index.ChunkSize) }},
	{"CHUNK_OVERLAP", func(c *Config) string { return intStr(c.Index.ChunkOverlap) }},
	{"FETCH_MANIFEST", func(c *Config) string { return c.Index.FetchManifest }},
	{"FETCH_USER_AGENT", func(c *Config) string { return c.Index.FetchUserAgent }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"RETRIEVAL_TOP_K", func(c *Config) string { return intStr(c.Pipeline.TopK) }},
	{"HISTORY_WINDOW", func(c *Config) string { return intStr(c.Pipeline.HistoryWindow) }},
	{"HISTORY_TOKEN_BUDGET", func(c *Config) string { return intStr(c.Pipeline.HistoryTokenBudget) }},
	{"GENERATION_MAX_TOKENS", func(c *Config) string { return intStr(c.Pipeline.GenerationMaxTokens) }},
	{"GENERATION_TEMPERATURE", func(c *Config) string { return float32Str(c.Pipeline.GenerationTemperature) }},
	{"EVALUATION_MAX_TOKENS", func(c *Config) string { return intStr(c.Pipeline.EvaluationMaxTokens) }},
	{"EVALUATION_TEMPERATURE", func(c *Config) string { return float32Str(c.Pipeline.EvaluationTemperature) }},
	{"FINQA_HOST", func(c *Config) string { return c.Server.Host }},
	{"FINQA_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"FINQA_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"FINQA_RATE_LIMIT_RPS", func(c *Config) string { return float32Str(c.Server.RateLimitRPS) }},
	{"FINQA_RATE_LIMIT_BURST", func(c *Config) string { return intStr(c.Server.RateLimitBurst) }},
	{"FINQA_CORS_ORIGINS", func(c *Config) string { return strings.Join(c.Server.CORSOrigins, ",") }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"FINQA_HISTORY_DB", func(c *Config) string { return c.History.DBPath }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// Load reads the YAML config file and the optional .env file, applying their
// values as environment variables without overwriting existing ones.
// It returns the YAML path that was loaded, or "" if none was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	if err := loadDotEnv(log); err != nil {
		return "", err
	}

	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if _, set := os.LookupEnv(m.envKey); set {
			continue
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: failed to set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// loadDotEnv loads FINQA_ENV_FILE (default ./.env) when it exists.
// godotenv never overrides variables that are already present.
func loadDotEnv(log *slog.Logger) error {
	path := os.Getenv("FINQA_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	log.Debug("config: loaded env file", slog.String("path", path))
	return nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("FINQA_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".finqa", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("finqa.yaml"); err == nil {
		return "finqa.yaml"
	}

	return ""
}

func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
