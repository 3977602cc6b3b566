// Package rag holds the knowledge-base side of the pipeline: the chunk and
// result types, the Embedder and Index contracts, the exact flat index with
// its paired-file persistence, and a Qdrant-backed alternative.
package rag

import (
	"context"
	"errors"
)

// Validation and consistency errors. Only these may abort an index
// operation; embedding service failures are wrapped and propagated as-is.
var (
	// ErrLengthMismatch reports parallel sequences of different lengths.
	ErrLengthMismatch = errors.New("rag: content and metadata lengths differ")
	// ErrDimensionMismatch reports a vector whose length differs from the index dimension.
	ErrDimensionMismatch = errors.New("rag: embedding dimension mismatch")
	// ErrMissingMetadata reports an index restored without its metadata sidecar.
	ErrMissingMetadata = errors.New("rag: index loaded without metadata sidecar")
)

// Metadata describes the provenance of a chunk. "source" and "type" are
// the well-known keys; loaders may add more (page_count, question_id, date).
type Metadata map[string]any

// Source returns the "source" entry, or "" when absent or not a string.
func (m Metadata) Source() string {
	s, _ := m["source"].(string)
	return s
}

// Clone returns a shallow copy so callers cannot mutate stored metadata.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Chunk is a unit of source text plus provenance, the atomic indexed item.
type Chunk struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// SplitChunks unzips chunks into the parallel sequences AddDocuments takes.
func SplitChunks(chunks []Chunk) ([]string, []Metadata) {
	contents := make([]string, len(chunks))
	metas := make([]Metadata, len(chunks))
	for i, c := range chunks {
		contents[i] = c.Content
		metas[i] = c.Metadata
	}
	return contents, metas
}

// RetrievalResult is one ranked search hit. Distance is the squared
// Euclidean distance to the query; smaller is more similar.
type RetrievalResult struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
	Distance float32  `json:"distance"`
}

// Embedder maps text to vectors of a fixed dimension.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Dimension is the vector length fixed at construction.
	Dimension() int

	// Embed returns the vector for one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per text, out[i] belonging to texts[i].
	// Any single failure fails the whole batch.
	EmbedBatch(ctx context.Context, texts []string, maxConcurrency int) ([][]float32, error)
}

// Index is the positional nearest-neighbour store the pipeline searches.
// Mutation (Create, AddDocuments) is single-writer and must finish before
// query traffic begins.
type Index interface {
	// Create resets the index to empty.
	Create(ctx context.Context) error

	// AddDocuments embeds contents and appends them with their metadata.
	// len(contents) must equal len(metadatas). Either every item is
	// appended or none is.
	AddDocuments(ctx context.Context, contents []string, metadatas []Metadata) error

	// Search returns at most k results ordered by ascending distance.
	// An empty index yields an empty slice and no error.
	Search(ctx context.Context, query string, k int) ([]RetrievalResult, error)

	// Len reports the number of indexed chunks.
	Len() int
}

// Persister is implemented by indexes that live in local files.
type Persister interface {
	Save(path string) error
	Load(path string) error
}
