package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// StubProvider is a deterministic, dependency-free Provider for tests and
// local demos: it embeds text via the hashing trick (feature-hash each
// lowercased token into one of dim buckets, L2-normalize the resulting
// vector). Unlike a pure digest, two prompts sharing vocabulary land close
// together in cosine space, which is what lets the semantic-cache reuse
// and rejection scenarios exercise real threshold behavior without a
// network call to a real embedding model.
type StubProvider struct {
	dim int
}

// NewStubProvider creates a StubProvider of the given dimension.
func NewStubProvider(dim int) *StubProvider {
	if dim <= 0 {
		dim = 64
	}
	return &StubProvider{dim: dim}
}

func (s *StubProvider) Dimension() int { return s.dim }

// Embed tokenizes text on non-letter/digit runs, feature-hashes each token
// into a bucket in [0, dim), and accumulates a signed count per bucket
// before L2-normalizing.
func (s *StubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	out := make([]float32, s.dim)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum32()
		bucket := int(sum) % s.dim
		if bucket < 0 {
			bucket += s.dim
		}
		sign := float32(1)
		if (sum>>31)&1 == 1 {
			sign = -1
		}
		out[bucket] += sign
	}
	normalize(out)
	return out, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		isLetter := r >= 'a' && r <= 'z'
		isDigit := r >= '0' && r <= '9'
		return !isLetter && !isDigit
	})
}

func normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	norm := math.Sqrt(sumSq)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
