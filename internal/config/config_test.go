package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// unsetAll clears keys for the duration of the test.
func unsetAll(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	path, err := Load("/nonexistent/path/config.yaml", slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: ollama
  name: qwen3:4b
  ollama:
    host: http://gpu-box:11434
embedding:
  model: nomic-embed-text
  concurrency: 4
index:
  backend: flat
  path: /var/lib/finqa/vector_store.faiss
  chunk_size: 800
pipeline:
  top_k: 10
  generation_temperature: 0.3
  evaluation_max_tokens: 512
server:
  port: 8000
  cors_origins: ["http://localhost:3000", "https://finqa.example"]
logging:
  level: debug
  format: text
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	checks := map[string]string{
		"MODEL_PROVIDER":         "ollama",
		"MODEL_NAME":             "qwen3:4b",
		"OLLAMA_HOST":            "http://gpu-box:11434",
		"EMBEDDING_MODEL":        "nomic-embed-text",
		"EMBED_CONCURRENCY":      "4",
		"INDEX_BACKEND":          "flat",
		"INDEX_PATH":             "/var/lib/finqa/vector_store.faiss",
		"CHUNK_SIZE":             "800",
		"RETRIEVAL_TOP_K":        "10",
		"GENERATION_TEMPERATURE": "0.3",
		"EVALUATION_MAX_TOKENS":  "512",
		"FINQA_PORT":             "8000",
		"FINQA_CORS_ORIGINS":     "http://localhost:3000,https://finqa.example",
		"LOG_LEVEL":              "debug",
		"LOG_FORMAT":             "text",
	}
	keys := make([]string, 0, len(checks))
	for k := range checks {
		keys = append(keys, k)
	}
	unsetAll(t, keys...)

	loaded, err := Load(cfgPath, slog.Default())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	for k, want := range checks {
		if got := os.Getenv(k); got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("model:\n  provider: ollama\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MODEL_PROVIDER", "azure")

	if _, err := Load(cfgPath, slog.Default()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := os.Getenv("MODEL_PROVIDER"); got != "azure" {
		t.Errorf("MODEL_PROVIDER: expected env override %q, got %q", "azure", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(cfgPath, slog.Default()); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

// TestLoad_DotEnv verifies .env values are applied and never override the
// real environment.
func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "finqa.env")
	body := "EMBEDDING_MODEL=bge-m3\nMODEL_NAME=from-dotenv\n"
	if err := os.WriteFile(envPath, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("FINQA_ENV_FILE", envPath)
	t.Setenv("MODEL_NAME", "from-env")
	unsetAll(t, "EMBEDDING_MODEL")

	if _, err := Load("/nonexistent/config.yaml", slog.Default()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := os.Getenv("EMBEDDING_MODEL"); got != "bge-m3" {
		t.Errorf("EMBEDDING_MODEL: expected bge-m3 from .env, got %q", got)
	}
	if got := os.Getenv("MODEL_NAME"); got != "from-env" {
		t.Errorf("MODEL_NAME: expected env to win, got %q", got)
	}
}

func TestFloat32Str(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float32
		want string
	}{
		{0.0, ""},
		{0.1, "0.1"},
		{0.3, "0.3"},
		{1.0, "1"},
	}
	for _, tt := range tests {
		if got := float32Str(tt.in); got != tt.want {
			t.Errorf("float32Str(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("FINQA_TEST_INT", "12")
	t.Setenv("FINQA_TEST_BAD_INT", "twelve")
	t.Setenv("FINQA_TEST_FLOAT", "0.25")
	t.Setenv("FINQA_TEST_LIST", " a, ,b ,c")
	unsetAll(t, "FINQA_TEST_MISSING")

	if got := Int("FINQA_TEST_INT", 1); got != 12 {
		t.Errorf("Int: got %d, want 12", got)
	}
	if got := Int("FINQA_TEST_BAD_INT", 7); got != 7 {
		t.Errorf("Int fallback: got %d, want 7", got)
	}
	if got := Float32("FINQA_TEST_FLOAT", 0); got != 0.25 {
		t.Errorf("Float32: got %v, want 0.25", got)
	}
	if got := String("FINQA_TEST_MISSING", "def"); got != "def" {
		t.Errorf("String fallback: got %q, want def", got)
	}
	if got := List("FINQA_TEST_LIST"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("List: got %v", got)
	}
	if got := List("FINQA_TEST_MISSING"); got != nil {
		t.Errorf("List of unset key: expected nil, got %v", got)
	}
}
