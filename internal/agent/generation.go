package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/finqa-go/internal/budget"
	"github.com/54b3r/finqa-go/internal/logging"
	"github.com/54b3r/finqa-go/internal/store"
)

// Default sampling for the generation stage.
const (
	DefaultGenerationMaxTokens   = 16384
	DefaultGenerationTemperature = 0.3
)

// Generator is the generation stage. A model failure never surfaces as an
// error: the failure text becomes the analysis and extraction proceeds on
// it, which yields confidence low and no sources.
type Generator struct {
	model         model.BaseChatModel
	sampling      Sampling
	historyTokens int
}

// NewGenerator returns a Generator. A zero Sampling uses the defaults;
// historyTokens <= 0 disables history trimming.
func NewGenerator(cm model.BaseChatModel, sampling Sampling, historyTokens int) (*Generator, error) {
	if cm == nil {
		return nil, fmt.Errorf("agent: chat model must not be nil")
	}
	if sampling.MaxTokens <= 0 {
		sampling.MaxTokens = DefaultGenerationMaxTokens
	}
	if sampling.Temperature <= 0 {
		sampling.Temperature = DefaultGenerationTemperature
	}
	return &Generator{model: cm, sampling: sampling, historyTokens: historyTokens}, nil
}

// Generate answers in.Query from in.Context. history is the read-only
// window of recent entries; it may end with the current query, which is
// not rendered twice. That entry is dropped from the rendered history and
// appears only as the question, so a window of n entries shows the model
// n-1 prior entries.
func (g *Generator) Generate(ctx context.Context, in *RetrievalOutput, history []store.Entry) *GenerationResult {
	log := logging.FromContext(ctx)

	msgs := g.buildMessages(ctx, in, history)

	degraded := false
	var content string
	resp, err := g.model.Generate(ctx, msgs,
		model.WithMaxTokens(g.sampling.MaxTokens),
		model.WithTemperature(g.sampling.Temperature),
	)
	switch {
	case err != nil:
		log.Warn("generation: model call failed, degrading answer", slog.Any("error", err))
		content = fmt.Sprintf("error generating answer: %v", err)
		degraded = true
	case resp == nil:
		log.Warn("generation: model returned no message, degrading answer")
		content = "error generating answer: empty response"
		degraded = true
	default:
		content = resp.Content
	}

	content = ensureAnalysisMarker(content)

	if m := generationGrammar.Matches(content); len(m) > 1 {
		log.Debug("generation: conflicting confidence markers", slog.Any("matches", m))
	}

	res := &GenerationResult{
		Analysis:   content,
		Confidence: generationGrammar.Extract(content),
		Degraded:   degraded,
		Results:    in.Results,
	}
	if degraded {
		res.Sources, res.CitationMode = []string{}, CitationNone
	} else {
		res.Sources, res.CitationMode = validateSources(claimedSources(content), in.Results)
	}
	return res
}

func (g *Generator) buildMessages(ctx context.Context, in *RetrievalOutput, history []store.Entry) []*schema.Message {
	if n := len(history); n > 0 && history[n-1].Role == store.RoleUser && history[n-1].Content == in.Query {
		history = history[:n-1]
	}

	if g.historyTokens > 0 && len(history) > 0 {
		asMsgs := make([]*schema.Message, len(history))
		for i, e := range history {
			if e.Role == store.RoleAssistant {
				asMsgs[i] = schema.AssistantMessage(e.Content, nil)
			} else {
				asMsgs[i] = schema.UserMessage(e.Content)
			}
		}
		kept := budget.TrimHistory(asMsgs, g.historyTokens)
		if dropped := len(history) - len(kept); dropped > 0 {
			logging.FromContext(ctx).Debug("budget: dropped history entries to fit token budget",
				slog.Int("dropped", dropped),
				slog.Int("retained", len(kept)),
				slog.Int("max_tokens", g.historyTokens),
			)
			history = history[dropped:]
		}
	}

	return []*schema.Message{
		schema.SystemMessage(generationSystemPrompt),
		schema.UserMessage(generationUserPrompt(in.Context, in.Query, history)),
	}
}
