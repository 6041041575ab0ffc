// Package llm defines the LLMGenerator collaborator contract: an opaque,
// possibly slow, possibly failing NL→SQL producer, plus a Bedrock-backed
// implementation and a deterministic stub for tests.
package llm

import (
	"context"
	"time"
)

// Result is LLMGenerator.generate's output.
type Result struct {
	SQL            string
	GenerationTime time.Duration
	PromptTokens   int
	OutputTokens   int
	TotalTokens    int
}

// Generator produces SQL from a natural-language prompt. Treated as an
// expensive opaque function by every caller: it may take seconds and may
// fail.
type Generator interface {
	Generate(ctx context.Context, prompt string) (Result, error)
}
