package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// tokenPattern yields one token per Han character and one per run of other
// letters or digits, so Chinese filings and English Q&A both tokenize.
var tokenPattern = regexp.MustCompile(`\p{Han}|[\p{L}\p{N}]+`)

// HashBackend is an offline, deterministic bag-of-words embedder using
// signed feature hashing. Identical texts map to identical vectors, which
// makes it useful for smoke tests and air-gapped demos. It is not a
// semantic model.
type HashBackend struct {
	dim int
}

// NewHashBackend returns a HashBackend producing vectors of length dim
// (default 256).
func NewHashBackend(dim int) *HashBackend {
	if dim <= 0 {
		dim = 256
	}
	return &HashBackend{dim: dim}
}

// Embed returns the L2-normalised hashed term vector of text. Text without
// tokens maps to the zero vector.
func (b *HashBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, b.dim)
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum32()
		sign := float32(1)
		if sum&(1<<31) != 0 {
			sign = -1
		}
		vec[int(sum%uint32(b.dim))] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}
