// Package embedder turns text into fixed-dimension vectors for the index.
// HTTP backends (Ollama, OpenAI, Azure OpenAI) issue one request per text;
// [Embedder] wraps a backend with a startup dimension probe and a bounded
// concurrent batch path.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/finqa-go/internal/rag"
)

// DefaultConcurrency is the batch worker pool width.
const DefaultConcurrency = 8

// probeText is embedded once at construction to discover the dimension.
const probeText = "dimension probe"

// ErrEmptyEmbedding reports a backend that returned a zero-length vector.
var ErrEmptyEmbedding = errors.New("embedder: backend returned an empty vector")

// Backend is a single-text embedding service. Errors propagate; there are
// no partial vectors and no retries.
type Backend interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Embedder implements [rag.Embedder] over a Backend. The dimension is fixed
// by the probe in [New] and every later vector is checked against it.
type Embedder struct {
	backend     Backend
	dim         int
	concurrency int
	log         *slog.Logger
}

// Options tune an Embedder. The zero value is usable.
type Options struct {
	// Concurrency is the default batch width (default 8).
	Concurrency int
	Logger      *slog.Logger
}

var _ rag.Embedder = (*Embedder)(nil)

// New probes backend once to learn the vector dimension. A failing probe
// fails construction.
func New(ctx context.Context, backend Backend, opts Options) (*Embedder, error) {
	if backend == nil {
		return nil, fmt.Errorf("embedder: backend must not be nil")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	vec, err := backend.Embed(ctx, probeText)
	if err != nil {
		return nil, fmt.Errorf("embedder: dimension probe failed: %w", err)
	}
	if len(vec) == 0 {
		return nil, ErrEmptyEmbedding
	}

	opts.Logger.Info("embedder: dimension probed", slog.Int("dimension", len(vec)))

	return &Embedder{
		backend:     backend,
		dim:         len(vec),
		concurrency: opts.Concurrency,
		log:         opts.Logger,
	}, nil
}

// Dimension returns the probed vector length.
func (e *Embedder) Dimension() int { return e.dim }

// Embed returns the vector for text, failing with [rag.ErrDimensionMismatch]
// rather than truncating or padding a vector of the wrong length.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.backend.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) != e.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", rag.ErrDimensionMismatch, len(vec), e.dim)
	}
	return vec, nil
}

// EmbedBatch embeds texts with at most maxConcurrency calls in flight
// (the configured default when maxConcurrency <= 0) and returns only once
// every call has finished. The first failure cancels the remaining calls
// and the batch returns no vectors.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string, maxConcurrency int) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if maxConcurrency <= 0 {
		maxConcurrency = e.concurrency
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	for i, text := range texts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vec, err := e.Embed(gctx, text)
			if err != nil {
				return fmt.Errorf("embedder: text %d: %w", i, err)
			}
			out[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.log.Debug("embedder: batch complete",
		slog.Int("texts", len(texts)),
		slog.Int("concurrency", maxConcurrency),
	)
	return out, nil
}
