package embedder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/54b3r/finqa-go/internal/rag"
)

// fakeBackend returns a fixed-length vector derived from the text length,
// failing for any text listed in fail.
type fakeBackend struct {
	dim       int
	fail      map[string]error
	overrides map[string][]float32
	delay     time.Duration

	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if cur <= p || f.peak.CompareAndSwap(p, cur) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := f.fail[text]; ok {
		return nil, err
	}
	if v, ok := f.overrides[text]; ok {
		return v, nil
	}
	vec := make([]float32, f.dim)
	vec[0] = float32(len(text))
	return vec, nil
}

func TestNew_ProbesDimension(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{dim: 12}
	e, err := New(context.Background(), fb, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.Dimension() != 12 {
		t.Errorf("Dimension: expected 12, got %d", e.Dimension())
	}
	if got := fb.calls.Load(); got != 1 {
		t.Errorf("expected exactly one probe call, got %d", got)
	}
}

func TestNew_ProbeFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	_, err := New(context.Background(), &fakeBackend{dim: 4, fail: map[string]error{probeText: boom}}, Options{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected probe error to wrap %v, got %v", boom, err)
	}
}

func TestNew_EmptyProbe(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), &fakeBackend{dim: 0}, Options{})
	if !errors.Is(err, ErrEmptyEmbedding) {
		t.Fatalf("expected ErrEmptyEmbedding, got %v", err)
	}
}

// TestEmbed_DimensionMismatch verifies a vector of the wrong length fails
// fast instead of being truncated or padded.
func TestEmbed_DimensionMismatch(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{dim: 8, overrides: map[string][]float32{"short": make([]float32, 5)}}
	e, err := New(context.Background(), fb, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = e.Embed(context.Background(), "short")
	if !errors.Is(err, rag.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestEmbedBatch_PairsResultsWithTexts(t *testing.T) {
	t.Parallel()

	e, err := New(context.Background(), &fakeBackend{dim: 3, delay: time.Millisecond}, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	texts := []string{"a", "bbbb", "cc", "ddddddd", "eee"}
	vecs, err := e.EmbedBatch(context.Background(), texts, 3)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vecs))
	}
	for i, text := range texts {
		if vecs[i][0] != float32(len(text)) {
			t.Errorf("vector %d not paired with %q: got marker %v", i, text, vecs[i][0])
		}
	}
}

func TestEmbedBatch_RespectsConcurrencyLimit(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{dim: 2, delay: 5 * time.Millisecond}
	e, err := New(context.Background(), fb, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	texts := make([]string, 40)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk-%d", i)
	}
	if _, err := e.EmbedBatch(context.Background(), texts, 4); err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if peak := fb.peak.Load(); peak > 4 {
		t.Errorf("expected at most 4 concurrent calls, observed %d", peak)
	}
}

// TestEmbedBatch_AllOrNothing verifies one failing text fails the batch
// and no partial vectors are returned.
func TestEmbedBatch_AllOrNothing(t *testing.T) {
	t.Parallel()

	boom := errors.New("model unavailable")
	fb := &fakeBackend{dim: 2, fail: map[string]error{"bad": boom}}
	e, err := New(context.Background(), fb, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	vecs, err := e.EmbedBatch(context.Background(), []string{"ok-1", "bad", "ok-2"}, 2)
	if !errors.Is(err, boom) {
		t.Fatalf("expected batch error wrapping %v, got %v", boom, err)
	}
	if vecs != nil {
		t.Errorf("expected nil vectors on failure, got %d", len(vecs))
	}
}

// TestEmbedBatch_CancelsRemainder verifies the first failure stops calls
// that have not started yet.
func TestEmbedBatch_CancelsRemainder(t *testing.T) {
	t.Parallel()

	boom := errors.New("first text fails")
	fb := &fakeBackend{dim: 2, fail: map[string]error{"t-0": boom}}
	e, err := New(context.Background(), fb, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fb.calls.Store(0)
	fb.delay = 20 * time.Millisecond

	texts := make([]string, 50)
	for i := range texts {
		texts[i] = fmt.Sprintf("t-%d", i)
	}
	if _, err := e.EmbedBatch(context.Background(), texts, 1); err == nil {
		t.Fatal("expected error")
	}
	if got := fb.calls.Load(); got >= int32(len(texts)) {
		t.Errorf("expected remaining calls to be cancelled, backend saw %d of %d", got, len(texts))
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	t.Parallel()

	e, err := New(context.Background(), &fakeBackend{dim: 2}, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vecs, err := e.EmbedBatch(context.Background(), nil, 0)
	if err != nil || len(vecs) != 0 {
		t.Errorf("expected empty result, got %v, %v", vecs, err)
	}
}

func TestHashBackend_Deterministic(t *testing.T) {
	t.Parallel()

	b := NewHashBackend(64)
	var wg sync.WaitGroup
	results := make([][]float32, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := b.Embed(context.Background(), "贵州茅台 2023 年报 revenue growth")
			if err != nil {
				t.Errorf("Embed: %v", err)
				return
			}
			results[i] = v
		}()
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		for j := range results[0] {
			if results[i][j] != results[0][j] {
				t.Fatalf("vector %d differs from vector 0 at %d", i, j)
			}
		}
	}

	other, _ := b.Embed(context.Background(), "bond yields fell sharply")
	same := true
	for j := range other {
		if other[j] != results[0][j] {
			same = false
			break
		}
	}
	if same {
		t.Error("different texts produced identical vectors")
	}
}

func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		model string
		want  bool
	}{
		{"nomic-embed-text", false},
		{"text-embedding-3-small", false},
		{"qwen3-embedding:0.6b", false},
		{"bge-m3", false},
		{"qwen3:4b", true},
		{"gpt-4o", true},
		{"llama3.1:8b", true},
	}
	for _, tc := range cases {
		if got := looksLikeChatModel(tc.model); got != tc.want {
			t.Errorf("looksLikeChatModel(%q) = %v, want %v", tc.model, got, tc.want)
		}
	}
}
