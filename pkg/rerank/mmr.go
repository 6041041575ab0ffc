// Package rerank implements Maximal Marginal Relevance diversification
// over semantic-cache candidates that already carry their embedding, so
// reranking never needs an extra embedding call.
package rerank

import "math"

// Candidate is one semantic-cache hit to rerank: its cached query key, the
// raw cosine similarity to the query already recomputed by the caller, and
// the candidate's own embedding (needed for pairwise diversity).
type Candidate struct {
	QueryKey    string
	Prompt      string
	Similarity  float64
	Embedding   []float32
}

// MMR reranks candidates by Maximal Marginal Relevance: lambda=1 is pure
// relevance (equivalent to sorting by Similarity), lambda=0 is pure
// diversity. Returns at most topK candidates, most relevant-and-diverse
// first.
func MMR(candidates []Candidate, lambda float64, topK int) []Candidate {
	if len(candidates) == 0 {
		return nil
	}
	if lambda < 0 || lambda > 1 {
		lambda = 0.5
	}
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}

	selected := make([]Candidate, 0, topK)
	chosen := make([]bool, len(candidates))

	for len(selected) < topK {
		bestIdx := -1
		bestScore := -math.MaxFloat64

		for i, c := range candidates {
			if chosen[i] {
				continue
			}

			diversity := 1.0
			for j, sel := range selected {
				_ = j
				sim := cosineSimilarity(c.Embedding, sel.Embedding)
				if 1.0-sim < diversity {
					diversity = 1.0 - sim
				}
			}

			score := lambda*c.Similarity + (1-lambda)*diversity
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}

		if bestIdx < 0 {
			break
		}
		chosen[bestIdx] = true
		selected = append(selected, candidates[bestIdx])
	}

	return selected
}

// cosineSimilarity duplicates pkg/vectorindex's brute-force similarity
// math rather than importing it, keeping rerank a small leaf package with
// no dependency on vectorindex.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
