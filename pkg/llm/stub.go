package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// StubGenerator is a deterministic, network-free Generator for tests: it
// derives a stable SQL string from the prompt's hash and counts how many
// times it has been invoked, letting tests assert that the semantic cache
// calls it at most once per distinct prompt family.
type StubGenerator struct {
	calls int64
}

// NewStubGenerator creates a StubGenerator.
func NewStubGenerator() *StubGenerator { return &StubGenerator{} }

// Calls returns how many times Generate has been invoked so far.
func (s *StubGenerator) Calls() int64 { return atomic.LoadInt64(&s.calls) }

func (s *StubGenerator) Generate(ctx context.Context, prompt string) (Result, error) {
	atomic.AddInt64(&s.calls, 1)
	sum := sha256.Sum256([]byte(prompt))
	sql := fmt.Sprintf("SELECT * FROM generated_%s LIMIT 10", hex.EncodeToString(sum[:4]))
	return Result{
		SQL:            sql,
		GenerationTime: time.Millisecond,
		PromptTokens:   len(prompt),
		OutputTokens:   len(sql),
		TotalTokens:    len(prompt) + len(sql),
	}, nil
}
