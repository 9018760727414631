package language

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is a deterministic, offline embedder. Every token is hashed
// into a signed bucket and the bag of buckets is L2-normalized, so texts
// sharing words get similar vectors. Texts without tokens map to the zero
// vector.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 768
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Dimension() int { return h.dim }

func (h *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embed(t)
	}
	return out, nil
}

func (h *HashEmbedder) embed(text string) []float32 {
	acc := make([]float64, h.dim)
	for _, tok := range tokenize(text) {
		sum := md5.Sum([]byte(tok))
		bucket := binary.LittleEndian.Uint64(sum[:8]) % uint64(h.dim)
		sign := 1.0
		if sum[8]&1 == 1 {
			sign = -1.0
		}
		acc[bucket] += sign
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	v := make([]float32, h.dim)
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	for i := range acc {
		v[i] = float32(acc[i] / norm)
	}
	return v
}

// tokenize lowercases text and splits it on anything that is not a letter,
// digit or apostrophe.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
