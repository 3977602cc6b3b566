package agent

import (
	"time"

	"github.com/54b3r/finqa-go/internal/rag"
)

// Confidence is a discrete self-assessment label extracted from model text.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// CitationMode records where a turn's source list came from.
type CitationMode string

const (
	// CitationModel means every source was claimed by the model and
	// matched a retrieved chunk.
	CitationModel CitationMode = "model"
	// CitationFallback means no claimed source matched and the list is the
	// retrieved sources in first-seen order. It is a best-effort guess.
	CitationFallback CitationMode = "fallback"
	// CitationNone means there were no sources to cite.
	CitationNone CitationMode = "none"
)

// RetrievalOutput is what the retrieval stage hands to generation.
type RetrievalOutput struct {
	// Query is the question as received.
	Query string `json:"query"`
	// Context is the rendered context block; empty when Results is empty.
	Context string `json:"context"`
	// Results are the ranked hits that Context was rendered from.
	Results []rag.RetrievalResult `json:"results"`
}

// GenerationResult is the parsed output of the generation stage.
type GenerationResult struct {
	// Analysis is the model text, always beginning with or containing the
	// analysis marker.
	Analysis     string       `json:"analysis"`
	Confidence   Confidence   `json:"confidence"`
	Sources      []string     `json:"sources"`
	CitationMode CitationMode `json:"citation_mode"`
	// Degraded is set when the model call failed and Analysis carries the
	// error text.
	Degraded bool `json:"degraded"`
	// Results are the retrieval hits the answer was grounded on, kept for
	// the evaluation stage.
	Results []rag.RetrievalResult `json:"-"`
}

// EvaluationResult is the independent re-judgement of an answer.
type EvaluationResult struct {
	Evaluation string     `json:"evaluation"`
	Confidence Confidence `json:"confidence"`
	Degraded   bool       `json:"degraded"`
}

// TurnResult is the final answer for one dialogue turn. Confidence is the
// evaluation stage's label; GenerationConfidence is the model's own.
type TurnResult struct {
	Query                string       `json:"query"`
	Analysis             string       `json:"analysis"`
	Confidence           Confidence   `json:"confidence"`
	GenerationConfidence Confidence   `json:"generation_confidence"`
	Sources              []string     `json:"sources"`
	CitationMode         CitationMode `json:"citation_mode"`
	Evaluation           string       `json:"evaluation"`
	Timestamp            time.Time    `json:"timestamp"`
}

// Sampling bounds one model invocation.
type Sampling struct {
	MaxTokens   int
	Temperature float32
}
