package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// FlatIndex is an exact nearest-neighbour index over squared Euclidean
// distance. Vectors, documents and metadata are three parallel sequences
// that always have the same length; position i in each refers to the same
// chunk.
//
// A single writer owns Create, AddDocuments and Load. Readers may search
// concurrently once population has finished; the internal lock serialises
// any writer against readers but does not make interleaved rebuilds
// meaningful.
type FlatIndex struct {
	embedder Embedder
	log      *slog.Logger

	mu        sync.RWMutex
	created   bool
	dim       int
	vectors   [][]float32
	documents []string
	metadata  []Metadata
	// missingSidecar is set when Load restored vectors without their
	// documents and metadata.
	missingSidecar bool
}

var (
	_ Index     = (*FlatIndex)(nil)
	_ Persister = (*FlatIndex)(nil)
)

// NewFlatIndex returns an uninitialised index that embeds through emb.
// Search on it returns no results until Create, AddDocuments or Load runs.
func NewFlatIndex(emb Embedder, log *slog.Logger) *FlatIndex {
	if log == nil {
		log = slog.Default()
	}
	return &FlatIndex{embedder: emb, log: log}
}

// Create resets the index to empty with the embedder's dimension.
func (x *FlatIndex) Create(_ context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.reset(x.embedder.Dimension())
	return nil
}

func (x *FlatIndex) reset(dim int) {
	x.created = true
	x.dim = dim
	x.vectors = nil
	x.documents = nil
	x.metadata = nil
	x.missingSidecar = false
}

// AddDocuments embeds contents as one all-or-nothing batch and appends
// vectors, contents and metadata together. A length mismatch fails with
// [ErrLengthMismatch] before anything is embedded. An uninitialised index
// is created first. Metadata is stored in the form Save and Load
// reproduce, so values must be JSON-encodable.
func (x *FlatIndex) AddDocuments(ctx context.Context, contents []string, metadatas []Metadata) error {
	if len(contents) != len(metadatas) {
		return fmt.Errorf("%w: %d contents, %d metadata", ErrLengthMismatch, len(contents), len(metadatas))
	}
	if len(contents) == 0 {
		return nil
	}

	metas := make([]Metadata, len(metadatas))
	for i, m := range metadatas {
		nm, err := normalizeMetadata(m)
		if err != nil {
			return fmt.Errorf("rag: encoding metadata %d: %w", i, err)
		}
		metas[i] = nm
	}

	vecs, err := x.embedder.EmbedBatch(ctx, contents, 0)
	if err != nil {
		return fmt.Errorf("rag: embedding %d documents: %w", len(contents), err)
	}
	if len(vecs) != len(contents) {
		return fmt.Errorf("rag: embedder returned %d vectors for %d documents", len(vecs), len(contents))
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.created {
		x.reset(x.embedder.Dimension())
	}
	if x.missingSidecar {
		return fmt.Errorf("rag: refusing to append: %w", ErrMissingMetadata)
	}
	for i, v := range vecs {
		if len(v) != x.dim {
			return fmt.Errorf("%w: document %d has %d components, index has %d", ErrDimensionMismatch, i, len(v), x.dim)
		}
	}

	for i := range vecs {
		x.vectors = append(x.vectors, vecs[i])
		x.documents = append(x.documents, contents[i])
		x.metadata = append(x.metadata, metas[i])
	}

	x.log.Info("rag: documents added",
		slog.Int("added", len(vecs)),
		slog.Int("total", len(x.vectors)),
	)
	return nil
}

type neighbour struct {
	pos  int
	dist float32
}

// Search embeds query and returns the k closest chunks in ascending
// distance order, ties broken by insertion position. It never pads: fewer
// than k chunks yields fewer than k results. An empty or uninitialised
// index yields an empty slice. An index restored without its sidecar fails
// with [ErrMissingMetadata].
func (x *FlatIndex) Search(ctx context.Context, query string, k int) ([]RetrievalResult, error) {
	if k <= 0 {
		return []RetrievalResult{}, nil
	}

	x.mu.RLock()
	empty := len(x.vectors) == 0
	missing := x.missingSidecar
	x.mu.RUnlock()

	if missing {
		return nil, ErrMissingMetadata
	}
	if empty {
		return []RetrievalResult{}, nil
	}

	q, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query: %w", err)
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(q) != x.dim {
		return nil, fmt.Errorf("%w: query has %d components, index has %d", ErrDimensionMismatch, len(q), x.dim)
	}

	hits := make([]neighbour, len(x.vectors))
	for i, v := range x.vectors {
		hits[i] = neighbour{pos: i, dist: squaredL2(q, v)}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].dist < hits[b].dist })
	if len(hits) > k {
		hits = hits[:k]
	}

	results := make([]RetrievalResult, 0, len(hits))
	for _, h := range hits {
		if h.pos < 0 || h.pos >= len(x.documents) {
			continue
		}
		results = append(results, RetrievalResult{
			Content:  x.documents[h.pos],
			Metadata: x.metadata[h.pos].Clone(),
			Distance: h.dist,
		})
	}
	return results, nil
}

// Len returns the number of indexed vectors.
func (x *FlatIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors)
}

// Health describes whether the three parallel sequences agree.
type Health struct {
	Vectors   int `json:"vectors"`
	Documents int `json:"documents"`
	Metadata  int `json:"metadata"`
	Dimension int `json:"dimension"`
	// Consistent is false when the sequences differ in length, which
	// happens only after loading a blob without its sidecar.
	Consistent bool `json:"consistent"`
}

// Health reports the lengths of the parallel sequences.
func (x *FlatIndex) Health() Health {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return Health{
		Vectors:    len(x.vectors),
		Documents:  len(x.documents),
		Metadata:   len(x.metadata),
		Dimension:  x.dim,
		Consistent: !x.missingSidecar && len(x.vectors) == len(x.documents) && len(x.documents) == len(x.metadata),
	}
}

// Documents returns a copy of the stored contents in position order.
func (x *FlatIndex) Documents() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]string(nil), x.documents...)
}

// Metadata returns a copy of the stored metadata in position order.
func (x *FlatIndex) Metadata() []Metadata {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Metadata, len(x.metadata))
	for i, m := range x.metadata {
		out[i] = m.Clone()
	}
	return out
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
