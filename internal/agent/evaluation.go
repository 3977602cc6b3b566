package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/finqa-go/internal/logging"
	"github.com/54b3r/finqa-go/internal/rag"
)

// Default sampling for the evaluation stage.
const (
	DefaultEvaluationMaxTokens   = 512
	DefaultEvaluationTemperature = 0.1
)

// unknownEvalSource stands in for chunks without a source in the
// evaluation prompt.
const unknownEvalSource = "unknown"

// Evaluator is the confidence evaluation stage. It re-judges an answer
// with its own rubric; its default label is medium, not low.
type Evaluator struct {
	model    model.BaseChatModel
	sampling Sampling
}

// NewEvaluator returns an Evaluator. A zero Sampling uses the defaults.
func NewEvaluator(cm model.BaseChatModel, sampling Sampling) (*Evaluator, error) {
	if cm == nil {
		return nil, fmt.Errorf("agent: chat model must not be nil")
	}
	if sampling.MaxTokens <= 0 {
		sampling.MaxTokens = DefaultEvaluationMaxTokens
	}
	if sampling.Temperature <= 0 {
		sampling.Temperature = DefaultEvaluationTemperature
	}
	return &Evaluator{model: cm, sampling: sampling}, nil
}

// Evaluate judges answer against the distinct sources of results.
// A model failure yields an explanatory evaluation and confidence medium.
func (e *Evaluator) Evaluate(ctx context.Context, question, answer string, results []rag.RetrievalResult) *EvaluationResult {
	log := logging.FromContext(ctx)

	prompt := evaluationPrompt(question, answer, evaluationSources(results))
	resp, err := e.model.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)},
		model.WithMaxTokens(e.sampling.MaxTokens),
		model.WithTemperature(e.sampling.Temperature),
	)
	if err != nil || resp == nil {
		if err == nil {
			err = fmt.Errorf("empty response")
		}
		log.Warn("evaluation: model call failed, defaulting confidence", slog.Any("error", err))
		return &EvaluationResult{
			Evaluation: fmt.Sprintf("evaluation failed: %v", err),
			Confidence: evaluationGrammar.fallback,
			Degraded:   true,
		}
	}

	if m := evaluationGrammar.Matches(resp.Content); len(m) > 1 {
		log.Debug("evaluation: conflicting confidence markers", slog.Any("matches", m))
	}
	return &EvaluationResult{
		Evaluation: resp.Content,
		Confidence: evaluationGrammar.Extract(resp.Content),
	}
}

// evaluationSources collapses the sources of results to a set in
// first-seen order, with missing sources shown as unknown.
func evaluationSources(results []rag.RetrievalResult) []string {
	seen := make(map[string]struct{}, len(results))
	var out []string
	for _, r := range results {
		src := r.Metadata.Source()
		if src == "" {
			src = unknownEvalSource
		}
		if _, dup := seen[src]; dup {
			continue
		}
		seen[src] = struct{}{}
		out = append(out, src)
	}
	return out
}
