package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/54b3r/finqa-go/internal/rag"
)

// DefaultTopK is the number of chunks retrieved per turn.
const DefaultTopK = 10

// unknownSource labels context blocks whose chunk has no source.
const unknownSource = "unknown source"

// Retriever is the retrieval stage: it searches the index and renders the
// ranked hits into a context block.
type Retriever struct {
	index rag.Index
	topK  int
}

// NewRetriever returns a Retriever over index. topK <= 0 uses DefaultTopK.
func NewRetriever(index rag.Index, topK int) (*Retriever, error) {
	if index == nil {
		return nil, fmt.Errorf("agent: index must not be nil")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{index: index, topK: topK}, nil
}

// Retrieve runs one top-k search. An empty index yields an empty context
// and no error.
func (r *Retriever) Retrieve(ctx context.Context, query string) (*RetrievalOutput, error) {
	results, err := r.index.Search(ctx, query, r.topK)
	if err != nil {
		return nil, fmt.Errorf("agent: retrieval failed: %w", err)
	}
	if results == nil {
		results = []rag.RetrievalResult{}
	}
	return &RetrievalOutput{
		Query:   query,
		Context: renderContext(results),
		Results: results,
	}, nil
}

// renderContext labels each hit with its 1-based rank and source, in rank
// order, separated by blank lines. Repeated sources are not collapsed.
func renderContext(results []rag.RetrievalResult) string {
	blocks := make([]string, len(results))
	for i, res := range results {
		src := res.Metadata.Source()
		if src == "" {
			src = unknownSource
		}
		blocks[i] = fmt.Sprintf("source %d (%s):\n%s", i+1, src, res.Content)
	}
	return strings.Join(blocks, "\n\n")
}
