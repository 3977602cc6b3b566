package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOllamaBackend_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "nomic-embed-text" || len(req.Input) != 1 {
			t.Errorf("unexpected request %+v", req)
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{0.1, 0.2, 0.3}}})
	}))
	defer srv.Close()

	b := NewOllamaBackend(&OllamaConfig{Host: srv.URL + "/", Model: "nomic-embed-text"})
	vec, err := b.Embed(context.Background(), "净利润同比增长")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("expected 3 components, got %d", len(vec))
	}
}

func TestOllamaBackend_ErrorBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Error: `model "nomic-embed-text" not found`})
	}))
	defer srv.Close()

	b := NewOllamaBackend(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"})
	_, err := b.Embed(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected server error message, got %v", err)
	}
}

func TestOpenAIBackend_AzureURLAndAuth(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/deployments/emb/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("api-version") != "2024-06-01" {
			t.Errorf("missing api-version, got %q", r.URL.RawQuery)
		}
		if r.Header.Get("api-key") != "k" {
			t.Errorf("expected api-key header")
		}
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1,2],"index":0}]}`))
	}))
	defer srv.Close()

	b := NewOpenAIBackend(&OpenAIConfig{
		BaseURL:    srv.URL + "/openai",
		APIKey:     "k",
		Model:      "emb",
		Azure:      true,
		APIVersion: "2024-06-01",
	})
	vec, err := b.Embed(context.Background(), "x")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 {
		t.Errorf("expected 2 components, got %d", len(vec))
	}
}

func TestOpenAIBackend_BearerAndError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("expected bearer auth, got %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	b := NewOpenAIBackend(&OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "text-embedding-3-small"})
	_, err := b.Embed(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "invalid api key") {
		t.Fatalf("expected API error message, got %v", err)
	}
}

func TestBackendFromEnv(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "hash")
	t.Setenv("EMBEDDING_DIMENSIONS", "32")

	b, err := BackendFromEnv()
	if err != nil {
		t.Fatalf("BackendFromEnv: %v", err)
	}
	vec, err := b.Embed(context.Background(), "x")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 32 {
		t.Errorf("expected 32 components, got %d", len(vec))
	}

	t.Setenv("EMBEDDING_PROVIDER", "openai")
	t.Setenv("EMBEDDING_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := BackendFromEnv(); err == nil {
		t.Error("expected error for openai without an API key")
	}

	t.Setenv("EMBEDDING_PROVIDER", "bedrock")
	if _, err := BackendFromEnv(); err == nil {
		t.Error("expected error for unknown backend")
	}
}
