// Package embedding defines the EmbeddingProvider collaborator contract
// plus a Bedrock-backed implementation and a deterministic stub for tests.
package embedding

import "context"

// Provider turns text into a fixed-dimension embedding vector. Dimension
// must be stable for a given Provider instance; thread-safe.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}
