// Package agent implements the question-answering pipeline: a retrieval
// stage over the knowledge base, a generation stage that answers from the
// retrieved context, and an independent confidence evaluation stage, run in
// that order for every turn by the Orchestrator.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/components/model"

	"github.com/54b3r/finqa-go/internal/logging"
	"github.com/54b3r/finqa-go/internal/rag"
	"github.com/54b3r/finqa-go/internal/store"
)

// DefaultHistoryWindow is the number of recent history entries exposed to
// the generation stage.
const DefaultHistoryWindow = 5

// Config holds the dependencies required to construct an Orchestrator.
type Config struct {
	// ChatModel serves both the generation and evaluation stages.
	ChatModel model.BaseChatModel

	// Index is the knowledge base searched by the retrieval stage.
	Index rag.Index

	// History stores conversation entries per session. Defaults to an
	// in-memory store.
	History store.History

	// TopK defaults to DefaultTopK.
	TopK int
	// HistoryWindow defaults to DefaultHistoryWindow.
	HistoryWindow int
	// HistoryTokens trims the window further; zero disables trimming.
	HistoryTokens int

	Generation Sampling
	Evaluation Sampling

	// Metrics is optional.
	Metrics *Metrics
}

type retrievalStage interface {
	Retrieve(ctx context.Context, query string) (*RetrievalOutput, error)
}

type generationStage interface {
	Generate(ctx context.Context, in *RetrievalOutput, history []store.Entry) *GenerationResult
}

type evaluationStage interface {
	Evaluate(ctx context.Context, question, answer string, results []rag.RetrievalResult) *EvaluationResult
}

// Orchestrator runs one turn as RECEIVED → RETRIEVED → GENERATED →
// EVALUATED. Stages run strictly in order and each stage's output feeds
// the next, including substituted error text.
type Orchestrator struct {
	retrieve retrievalStage
	generate generationStage
	evaluate evaluationStage

	history store.History
	window  int
	metrics *Metrics
	now     func() time.Time
}

// New constructs an Orchestrator from cfg.
func New(cfg *Config) (*Orchestrator, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("agent: ChatModel must not be nil")
	}

	r, err := NewRetriever(cfg.Index, cfg.TopK)
	if err != nil {
		return nil, err
	}
	g, err := NewGenerator(cfg.ChatModel, cfg.Generation, cfg.HistoryTokens)
	if err != nil {
		return nil, err
	}
	e, err := NewEvaluator(cfg.ChatModel, cfg.Evaluation)
	if err != nil {
		return nil, err
	}

	history := cfg.History
	if history == nil {
		history = store.NewMemory()
	}
	window := cfg.HistoryWindow
	if window <= 0 {
		window = DefaultHistoryWindow
	}

	return &Orchestrator{
		retrieve: r,
		generate: g,
		evaluate: e,
		history:  history,
		window:   window,
		metrics:  cfg.Metrics,
		now:      time.Now,
	}, nil
}

// History returns the store backing this orchestrator.
func (o *Orchestrator) History() store.History { return o.history }

// Turn answers query within session. Only a retrieval failure returns an
// error; model failures are folded into the result. History persistence
// failures are logged and do not abort the turn.
func (o *Orchestrator) Turn(ctx context.Context, session, query string) (*TurnResult, error) {
	ctx = logging.WithSession(ctx, session)
	log := logging.FromContext(ctx)

	// RECEIVED
	if err := o.history.Append(ctx, session, store.RoleUser, query); err != nil {
		log.Warn("history: failed to persist user entry", slog.Any("error", err))
	}

	start := time.Now()
	retrieved, err := o.retrieve.Retrieve(ctx, query)
	o.observe(stageRetrieval, start)
	if err != nil {
		return nil, err
	}
	// RETRIEVED
	log.Debug("turn: retrieved", slog.Int("results", len(retrieved.Results)))

	window, err := o.history.Recent(ctx, session, o.window)
	if err != nil {
		log.Warn("history: failed to load window, continuing without it", slog.Any("error", err))
		window = nil
	}

	start = time.Now()
	gen := o.generate.Generate(ctx, retrieved, window)
	o.observe(stageGeneration, start)
	if gen.Degraded {
		o.degraded(stageGeneration)
	}
	// GENERATED
	log.Debug("turn: generated",
		slog.String("confidence", string(gen.Confidence)),
		slog.String("citation_mode", string(gen.CitationMode)),
		slog.Int("sources", len(gen.Sources)),
	)

	if err := o.history.Append(ctx, session, store.RoleAssistant, gen.Analysis); err != nil {
		log.Warn("history: failed to persist assistant entry", slog.Any("error", err))
	}

	start = time.Now()
	eval := o.evaluate.Evaluate(ctx, query, gen.Analysis, gen.Results)
	o.observe(stageEvaluation, start)
	if eval.Degraded {
		o.degraded(stageEvaluation)
	}
	// EVALUATED

	res := &TurnResult{
		Query:                query,
		Analysis:             gen.Analysis,
		Confidence:           eval.Confidence,
		GenerationConfidence: gen.Confidence,
		Sources:              gen.Sources,
		CitationMode:         gen.CitationMode,
		Evaluation:           eval.Evaluation,
		Timestamp:            o.now(),
	}
	if o.metrics != nil {
		o.metrics.turnsTotal.WithLabelValues(string(res.Confidence)).Inc()
		o.metrics.citationsTotal.WithLabelValues(string(res.CitationMode)).Inc()
	}
	log.Info("turn: completed",
		slog.String("confidence", string(res.Confidence)),
		slog.String("generation_confidence", string(res.GenerationConfidence)),
		slog.Int("sources", len(res.Sources)),
	)
	return res, nil
}

func (o *Orchestrator) observe(stage string, start time.Time) {
	if o.metrics != nil {
		o.metrics.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

func (o *Orchestrator) degraded(stage string) {
	if o.metrics != nil {
		o.metrics.degradedTotal.WithLabelValues(stage).Inc()
	}
}
