package rerank

import "testing"

func TestMMR_PureRelevanceOrdersBySimilarity(t *testing.T) {
	candidates := []Candidate{
		{QueryKey: "a", Similarity: 0.9, Embedding: []float32{1, 0}},
		{QueryKey: "b", Similarity: 0.8, Embedding: []float32{1, 0}},
		{QueryKey: "c", Similarity: 0.95, Embedding: []float32{1, 0}},
	}

	out := MMR(candidates, 1.0, 3)
	if len(out) != 3 {
		t.Fatalf("expected 3 results, got %d", len(out))
	}
	if out[0].QueryKey != "c" {
		t.Fatalf("expected highest-similarity candidate first, got %s", out[0].QueryKey)
	}
}

func TestMMR_PureDiversityPrefersDissimilarSecondPick(t *testing.T) {
	candidates := []Candidate{
		{QueryKey: "near-dup", Similarity: 0.85, Embedding: []float32{1, 0}},
		{QueryKey: "also-near-dup", Similarity: 0.84, Embedding: []float32{0.99, 0.01}},
		{QueryKey: "distinct", Similarity: 0.70, Embedding: []float32{0, 1}},
	}

	out := MMR(candidates, 0.0, 2)
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
	if out[1].QueryKey != "distinct" {
		t.Fatalf("expected the dissimilar candidate picked second under pure diversity, got %s", out[1].QueryKey)
	}
}

func TestMMR_TopKBounds(t *testing.T) {
	candidates := []Candidate{
		{QueryKey: "a", Similarity: 0.9, Embedding: []float32{1, 0}},
		{QueryKey: "b", Similarity: 0.8, Embedding: []float32{0, 1}},
	}
	out := MMR(candidates, 0.5, 1)
	if len(out) != 1 {
		t.Fatalf("expected topK=1 to bound output, got %d", len(out))
	}
}

func TestMMR_EmptyInput(t *testing.T) {
	if out := MMR(nil, 0.5, 5); out != nil {
		t.Fatalf("expected nil for empty input, got %v", out)
	}
}
