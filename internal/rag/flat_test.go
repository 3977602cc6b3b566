package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
)

// tableEmbedder maps known texts to fixed 2-d vectors. Unknown texts fail
// unless a fallback vector is set.
type tableEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	failOn  string
	calls   int
}

func newTableEmbedder(vectors map[string][]float32) *tableEmbedder {
	return &tableEmbedder{vectors: vectors}
}

func (e *tableEmbedder) Dimension() int { return 2 }

func (e *tableEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if text == e.failOn {
		return nil, fmt.Errorf("embedding service unavailable")
	}
	v, ok := e.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return v, nil
}

func (e *tableEmbedder) EmbedBatch(ctx context.Context, texts []string, _ int) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func axisIndex(t *testing.T) (*FlatIndex, *tableEmbedder) {
	t.Helper()
	emb := newTableEmbedder(map[string][]float32{
		"A":     {0, 0},
		"B":     {1, 0},
		"C":     {0, 3},
		"query": {0, 0},
	})
	x := NewFlatIndex(emb, quietLogger())
	if err := x.Create(context.Background()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := x.AddDocuments(context.Background(),
		[]string{"A", "B", "C"},
		[]Metadata{{"source": "a.pdf"}, {"source": "b.pdf"}, {"source": "c.pdf"}},
	)
	if err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}
	return x, emb
}

func TestFlatIndex_SearchOrdering(t *testing.T) {
	t.Parallel()

	x, _ := axisIndex(t)

	tests := []struct {
		name  string
		k     int
		want  []string
		dists []float32
	}{
		{name: "k=2", k: 2, want: []string{"A", "B"}, dists: []float32{0, 1}},
		{name: "k exceeds size never pads", k: 10, want: []string{"A", "B", "C"}, dists: []float32{0, 1, 9}},
		{name: "k=0", k: 0, want: []string{}},
		{name: "negative k", k: -1, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := x.Search(context.Background(), "query", tt.k)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d results, want %d", len(got), len(tt.want))
			}
			for i, r := range got {
				if r.Content != tt.want[i] {
					t.Errorf("result %d: content %q, want %q", i, r.Content, tt.want[i])
				}
				if r.Distance != tt.dists[i] {
					t.Errorf("result %d: distance %v, want %v", i, r.Distance, tt.dists[i])
				}
			}
		})
	}
}

func TestFlatIndex_TiesKeepInsertionOrder(t *testing.T) {
	t.Parallel()

	emb := newTableEmbedder(map[string][]float32{
		"first":  {1, 0},
		"second": {0, 1},
		"third":  {-1, 0},
		"origin": {0, 0},
	})
	x := NewFlatIndex(emb, quietLogger())
	err := x.AddDocuments(context.Background(),
		[]string{"first", "second", "third"},
		[]Metadata{{}, {}, {}},
	)
	if err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}

	got, err := x.Search(context.Background(), "origin", 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for i, want := range []string{"first", "second", "third"} {
		if got[i].Content != want {
			t.Errorf("position %d: got %q, want %q", i, got[i].Content, want)
		}
	}
}

func TestFlatIndex_EmptyIndex(t *testing.T) {
	t.Parallel()

	emb := newTableEmbedder(map[string][]float32{})
	for _, create := range []bool{false, true} {
		x := NewFlatIndex(emb, quietLogger())
		if create {
			if err := x.Create(context.Background()); err != nil {
				t.Fatalf("Create: %v", err)
			}
		}
		got, err := x.Search(context.Background(), "anything", 10)
		if err != nil {
			t.Fatalf("Search on empty index (created=%v): %v", create, err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("expected empty non-nil slice, got %#v", got)
		}
	}
	if emb.calls != 0 {
		t.Errorf("empty index should not embed the query, got %d calls", emb.calls)
	}
}

func TestFlatIndex_LengthMismatchLeavesIndexUntouched(t *testing.T) {
	t.Parallel()

	x, emb := axisIndex(t)
	before := emb.calls

	err := x.AddDocuments(context.Background(), []string{"A", "B"}, []Metadata{{}})
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
	if x.Len() != 3 {
		t.Errorf("index mutated: Len=%d", x.Len())
	}
	if emb.calls != before {
		t.Errorf("length mismatch must fail before embedding")
	}
}

func TestFlatIndex_EmbeddingFailureIsAllOrNothing(t *testing.T) {
	t.Parallel()

	x, emb := axisIndex(t)
	emb.vectors["D"] = []float32{5, 5}
	emb.failOn = "E"

	err := x.AddDocuments(context.Background(), []string{"D", "E"}, []Metadata{{}, {}})
	if err == nil {
		t.Fatal("expected embedding error")
	}
	if h := x.Health(); h.Vectors != 3 || h.Documents != 3 || h.Metadata != 3 || !h.Consistent {
		t.Errorf("partial append after failure: %+v", h)
	}
}

func TestFlatIndex_AppendExtendsPositions(t *testing.T) {
	t.Parallel()

	x, emb := axisIndex(t)
	emb.vectors["D"] = []float32{0, 0}

	if err := x.AddDocuments(context.Background(), []string{"D"}, []Metadata{{"source": "d.pdf"}}); err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}
	docs := x.Documents()
	if len(docs) != 4 || docs[3] != "D" {
		t.Fatalf("expected D at position 3, got %v", docs)
	}

	// A and D are both at distance 0; A was inserted first.
	got, err := x.Search(context.Background(), "query", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got[0].Content != "A" || got[1].Content != "D" {
		t.Errorf("got %q, %q", got[0].Content, got[1].Content)
	}
}

func TestFlatIndex_MetadataIsCopied(t *testing.T) {
	t.Parallel()

	x, _ := axisIndex(t)
	got, err := x.Search(context.Background(), "query", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	got[0].Metadata["source"] = "tampered"

	if src := x.Metadata()[0].Source(); src != "a.pdf" {
		t.Errorf("stored metadata mutated through result: %q", src)
	}
}

func TestFlatIndex_DimensionMismatch(t *testing.T) {
	t.Parallel()

	x, emb := axisIndex(t)
	emb.vectors["wide"] = []float32{1, 2, 3}

	err := x.AddDocuments(context.Background(), []string{"wide"}, []Metadata{{}})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if x.Len() != 3 {
		t.Errorf("index mutated: Len=%d", x.Len())
	}
}

func TestSplitChunks(t *testing.T) {
	t.Parallel()

	contents, metas := SplitChunks([]Chunk{
		{Content: "x", Metadata: Metadata{"source": "1"}},
		{Content: "y", Metadata: Metadata{"source": "2"}},
	})
	if len(contents) != 2 || contents[1] != "y" || metas[1].Source() != "2" {
		t.Errorf("unexpected split: %v %v", contents, metas)
	}
}
