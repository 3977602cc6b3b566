package system

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/finqa-go/internal/agent"
	"github.com/54b3r/finqa-go/internal/config"
	"github.com/54b3r/finqa-go/internal/embedder"
	"github.com/54b3r/finqa-go/internal/ingestion"
	"github.com/54b3r/finqa-go/internal/provider"
	"github.com/54b3r/finqa-go/internal/rag"
	"github.com/54b3r/finqa-go/internal/store"
)

// Index backends selectable with INDEX_BACKEND.
const (
	BackendFlat   = "flat"
	BackendQdrant = "qdrant"
)

// Defaults for the file locations.
const (
	DefaultIndexPath = "vector_store.faiss"
	DefaultStatePath = "system_state.json"
	historyDisabled  = "disabled"
)

// EnvOptions tunes OpenFromEnv.
type EnvOptions struct {
	Logger *slog.Logger
	// Registerer receives the pipeline metrics. Nil disables them.
	Registerer prometheus.Registerer
	// ForceRebuild rebuilds the index even when a saved one exists.
	ForceRebuild bool
}

// OpenFromEnv builds the chat model, embedder, index, history store and
// ingestion loader from the environment and opens a System over them. The
// returned provider config drives readiness probes.
//
// Environment variables (beyond those read by the provider and embedder
// packages):
//
//	INDEX_BACKEND        = flat | qdrant (default: flat)
//	INDEX_PATH           = index blob path (default: vector_store.faiss)
//	SYSTEM_STATE_PATH    = state file (default: system_state.json)
//	DATA_PDF_DIR, DATA_QA_DIR, CHUNK_SIZE, CHUNK_OVERLAP
//	QDRANT_HOST, QDRANT_PORT, QDRANT_COLLECTION, QDRANT_API_KEY, QDRANT_TLS
//	RETRIEVAL_TOP_K, HISTORY_WINDOW, HISTORY_TOKEN_BUDGET
//	GENERATION_MAX_TOKENS, GENERATION_TEMPERATURE
//	EVALUATION_MAX_TOKENS, EVALUATION_TEMPERATURE
//	FINQA_HISTORY_DB     = SQLite path, or "disabled" for in-memory history
//	                       (default: ~/.finqa/history.db)
func OpenFromEnv(ctx context.Context, opts EnvOptions) (*System, *provider.Config, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	cm, pcfg, err := provider.NewFromEnv(ctx)
	if err != nil {
		return nil, nil, err
	}
	log.Info("system: chat model ready",
		slog.String("provider", string(pcfg.Backend)),
		slog.String("model", pcfg.ModelName()),
	)

	emb, err := embedder.NewFromEnv(ctx, log)
	if err != nil {
		return nil, nil, err
	}

	index, indexPath, err := indexFromEnv(ctx, emb, log)
	if err != nil {
		return nil, nil, err
	}

	history, err := historyFromEnv(log)
	if err != nil {
		closeIndex(index)
		return nil, nil, err
	}

	var metrics *agent.Metrics
	if opts.Registerer != nil {
		metrics = agent.NewMetrics(opts.Registerer)
	}

	sys, err := Open(ctx, Config{
		ChatModel: cm,
		Index:     index,
		Source: ingestion.NewLoader(ingestion.Config{
			PDFDir:       config.String("DATA_PDF_DIR", "data/pdfs"),
			QADir:        config.String("DATA_QA_DIR", "data/qa"),
			ChunkSize:    config.Int("CHUNK_SIZE", ingestion.DefaultChunkSize),
			ChunkOverlap: config.Int("CHUNK_OVERLAP", ingestion.DefaultChunkOverlap),
		}, log),
		History:      history,
		IndexPath:    indexPath,
		StatePath:    config.String("SYSTEM_STATE_PATH", DefaultStatePath),
		ForceRebuild: opts.ForceRebuild,
		Pipeline: agent.Config{
			TopK:          config.Int("RETRIEVAL_TOP_K", agent.DefaultTopK),
			HistoryWindow: config.Int("HISTORY_WINDOW", agent.DefaultHistoryWindow),
			HistoryTokens: config.Int("HISTORY_TOKEN_BUDGET", 0),
			Generation: agent.Sampling{
				MaxTokens:   config.Int("GENERATION_MAX_TOKENS", agent.DefaultGenerationMaxTokens),
				Temperature: config.Float32("GENERATION_TEMPERATURE", agent.DefaultGenerationTemperature),
			},
			Evaluation: agent.Sampling{
				MaxTokens:   config.Int("EVALUATION_MAX_TOKENS", agent.DefaultEvaluationMaxTokens),
				Temperature: config.Float32("EVALUATION_TEMPERATURE", agent.DefaultEvaluationTemperature),
			},
			Metrics: metrics,
		},
		Logger: log,
	})
	if err != nil {
		_ = history.Close()
		closeIndex(index)
		return nil, nil, err
	}
	return sys, pcfg, nil
}

func indexFromEnv(ctx context.Context, emb rag.Embedder, log *slog.Logger) (rag.Index, string, error) {
	backend := strings.ToLower(config.String("INDEX_BACKEND", BackendFlat))
	switch backend {
	case BackendFlat:
		return rag.NewFlatIndex(emb, log), config.String("INDEX_PATH", DefaultIndexPath), nil

	case BackendQdrant:
		qc := rag.QdrantConfig{
			Host:       config.String("QDRANT_HOST", "localhost"),
			Port:       config.Int("QDRANT_PORT", 6334),
			Collection: config.String("QDRANT_COLLECTION", "finqa"),
			APIKey:     config.String("QDRANT_API_KEY", ""),
			UseTLS:     strings.EqualFold(config.String("QDRANT_TLS", "false"), "true"),
		}
		idx, err := rag.NewQdrantIndex(ctx, qc, emb, log)
		if err != nil {
			return nil, "", err
		}
		return idx, fmt.Sprintf("qdrant://%s:%d/%s", qc.Host, qc.Port, qc.Collection), nil

	default:
		return nil, "", fmt.Errorf("system: unknown INDEX_BACKEND %q (valid values: flat, qdrant)", backend)
	}
}

func historyFromEnv(log *slog.Logger) (store.History, error) {
	path := config.String("FINQA_HISTORY_DB", "")
	if strings.EqualFold(path, historyDisabled) {
		log.Info("system: history persistence disabled, using in-memory store")
		return store.NewMemory(), nil
	}
	if path == "" {
		p, err := store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	s, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	log.Info("system: history store opened", slog.String("path", path))
	return s, nil
}

func closeIndex(idx rag.Index) {
	if q, ok := idx.(*rag.QdrantIndex); ok {
		_ = q.Close()
	}
}
