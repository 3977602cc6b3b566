package agent

import (
	"strings"

	"github.com/54b3r/finqa-go/internal/rag"
)

// maxFallbackSources caps the citation guess used when no claimed source
// matches the retrieved context.
const maxFallbackSources = 10

type markerRule struct {
	marker string
	level  Confidence
}

// markerGrammar maps literal markers to confidence labels. Rules are tried
// in order and the first contained marker wins; fallback applies when none
// match.
type markerGrammar struct {
	rules    []markerRule
	fallback Confidence
}

var (
	generationGrammar = markerGrammar{
		rules: []markerRule{
			{marker: "[confidence]: high", level: ConfidenceHigh},
			{marker: "[confidence]: medium", level: ConfidenceMedium},
		},
		fallback: ConfidenceLow,
	}

	evaluationGrammar = markerGrammar{
		rules: []markerRule{
			{marker: "[overall confidence]: high", level: ConfidenceHigh},
			{marker: "[overall confidence]: low", level: ConfidenceLow},
		},
		fallback: ConfidenceMedium,
	}
)

// Extract returns the label of the first rule whose marker text contains.
func (g markerGrammar) Extract(text string) Confidence {
	for _, r := range g.rules {
		if strings.Contains(text, r.marker) {
			return r.level
		}
	}
	return g.fallback
}

// Matches returns every label whose marker appears in text. More than one
// means the model emitted conflicting markers.
func (g markerGrammar) Matches(text string) []Confidence {
	var out []Confidence
	for _, r := range g.rules {
		if strings.Contains(text, r.marker) {
			out = append(out, r.level)
		}
	}
	return out
}

// ensureAnalysisMarker prepends the analysis marker when the model left it
// out.
func ensureAnalysisMarker(text string) string {
	if strings.Contains(text, markerAnalysis) {
		return text
	}
	return markerAnalysis + " " + text
}

// claimedSources returns the comma-separated names on the line after the
// first sources marker.
func claimedSources(text string) []string {
	_, rest, ok := strings.Cut(text, markerSources)
	if !ok {
		return nil
	}
	line, _, _ := strings.Cut(rest, "\n")
	var out []string
	for _, s := range strings.Split(line, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// contextSources returns the distinct non-empty sources of results in
// first-seen order.
func contextSources(results []rag.RetrievalResult) []string {
	seen := make(map[string]struct{}, len(results))
	var out []string
	for _, r := range results {
		src := r.Metadata.Source()
		if src == "" {
			continue
		}
		if _, dup := seen[src]; dup {
			continue
		}
		seen[src] = struct{}{}
		out = append(out, src)
	}
	return out
}

// validateSources keeps the claimed sources that exactly equal a retrieved
// source, deduplicated in claim order. When none survive and the context
// has sources, the first maxFallbackSources context sources are returned
// instead.
func validateSources(claimed []string, results []rag.RetrievalResult) ([]string, CitationMode) {
	available := contextSources(results)
	known := make(map[string]struct{}, len(available))
	for _, s := range available {
		known[s] = struct{}{}
	}

	valid := []string{}
	kept := make(map[string]struct{}, len(claimed))
	for _, c := range claimed {
		if _, ok := known[c]; !ok {
			continue
		}
		if _, dup := kept[c]; dup {
			continue
		}
		kept[c] = struct{}{}
		valid = append(valid, c)
	}

	switch {
	case len(valid) > 0:
		return valid, CitationModel
	case len(available) > 0:
		return available[:min(len(available), maxFallbackSources)], CitationFallback
	default:
		return []string{}, CitationNone
	}
}
