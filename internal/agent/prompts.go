package agent

import (
	"fmt"
	"strings"

	"github.com/54b3r/finqa-go/internal/store"
)

// Markers the model is instructed to emit. Matching is literal and
// case-sensitive.
const (
	markerAnalysis = "[analysis]:"
	markerSources  = "[sources]:"
)

// generationSystemPrompt casts the model as a financial analyst and fixes
// the response format the extractors scan for.
const generationSystemPrompt = `As a financial analyst, answer the question using the provided context:
1. Make sure the answer is accurate and professional
2. Cite the sources of your information
3. Rate your confidence in the answer
4. Keep the answer concise

Answer format:
[analysis]: <detailed analysis>
[sources]: <comma-separated source names, exactly as they appear in the context>
[confidence]: <high/medium/low>`

// evaluationPromptTemplate is filled with question, answer and the distinct
// source list.
const evaluationPromptTemplate = `As a financial quality assessment expert, evaluate the following answer:

Question: %s
Answer: %s
Sources: %s

Evaluation criteria:
1. Relevance of the answer to the question
2. Consistency of the answer with the sources
3. Professionalism and completeness of the answer

Evaluation format:
[logical consistency]: <high/medium/low>
[source reliability]: <high/medium/low>
[overall confidence]: <high/medium/low>`

// generationUserPrompt embeds the context block and the question. Prior
// turns, when present, are rendered ahead of the context so the request
// stays a two-message prompt.
func generationUserPrompt(contextBlock, query string, history []store.Entry) string {
	var sb strings.Builder
	if len(history) > 0 {
		sb.WriteString("Conversation so far:\n")
		for _, e := range history {
			fmt.Fprintf(&sb, "%s: %s\n", e.Role, e.Content)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Context:\n%s\n\nQuestion: %s", contextBlock, query)
	return sb.String()
}

func evaluationPrompt(question, answer string, sources []string) string {
	return fmt.Sprintf(evaluationPromptTemplate, question, answer, strings.Join(sources, ", "))
}
