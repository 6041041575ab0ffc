// Package semantic implements the SemanticCache orchestrator: exact-prompt
// reuse backed by a pointer index, similarity-based reuse backed by a
// vector index and a recomputed-cosine gatekeeper, and a fallback to SQL
// generation that populates all three data layers for future callers.
package semantic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rlunar/aviation-cache-core/internal/config"
	"github.com/rlunar/aviation-cache-core/pkg/embedding"
	"github.com/rlunar/aviation-cache-core/pkg/kvstore"
	"github.com/rlunar/aviation-cache-core/pkg/llm"
	"github.com/rlunar/aviation-cache-core/pkg/observability"
	"github.com/rlunar/aviation-cache-core/pkg/rerank"
	"github.com/rlunar/aviation-cache-core/pkg/vectorindex"
)

// CacheKind classifies how a Result was satisfied.
type CacheKind string

// Cache kinds reported on Result.CacheKind.
const (
	CacheKindExact    CacheKind = "exact"
	CacheKindSemantic CacheKind = "semantic"
	CacheKindNone     CacheKind = "none"
)

// Result is the public contract of GetOrGenerateSQL.
type Result struct {
	SQL            string
	GenerationTime time.Duration
	TotalTokens    int
	CacheHit       bool
	CacheKind      CacheKind
	Similarity     float64
	SimilarPrompt  string
	LookupTime     time.Duration
}

// queryPayload is the JSON value stored at query:<r>.
type queryPayload struct {
	SQL              string `json:"sql"`
	GenerationTimeNS int64  `json:"generation_time_ns"`
	PromptTokens     int    `json:"prompt_tokens"`
	OutputTokens     int    `json:"output_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// SemanticCache is the orchestrator built atop a KVStore, a VectorIndex,
// an EmbeddingProvider and an LLMGenerator.
type SemanticCache struct {
	kv      kvstore.Store
	index   *vectorindex.Index
	embed   embedding.Provider
	gen     llm.Generator
	cfg     *config.Config
	logger  observability.Logger
	metrics observability.MetricsClient

	ensureOnce sync.Once
	ensureErr  error
}

// New constructs a SemanticCache. The vector index is created lazily, on
// first call to GetOrGenerateSQL, so constructing a SemanticCache never
// requires the backing store to already exist.
func New(kv kvstore.Store, index *vectorindex.Index, embed embedding.Provider, gen llm.Generator, cfg *config.Config, logger observability.Logger, metrics observability.MetricsClient) *SemanticCache {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &SemanticCache{kv: kv, index: index, embed: embed, gen: gen, cfg: cfg, logger: logger, metrics: metrics}
}

// GetOrGenerateSQL tries an exact-prompt lookup, then a similarity lookup
// gated by a recomputed cosine score, then falls back to generation as a
// last resort.
func (sc *SemanticCache) GetOrGenerateSQL(ctx context.Context, prompt string) (Result, error) {
	start := time.Now()
	h := hashHex([]byte(prompt))
	promptKey := sc.cfg.WithNamespace("semantic:prompt:" + h)
	embKey := sc.cfg.WithNamespace("embedding:prompt:" + h)

	if res, ok, err := sc.exactLookup(ctx, promptKey); err != nil {
		sc.logger.Warn("semantic: exact lookup failed, continuing past it", map[string]interface{}{"error": err.Error()})
	} else if ok {
		res.LookupTime = time.Since(start)
		sc.metrics.IncrementCounter("semantic.exact_hit", nil)
		return res, nil
	}

	vec, embedErr := sc.embed.Embed(ctx, prompt)
	if embedErr != nil {
		sc.logger.Warn("semantic: embedding failed, skipping to generation", map[string]interface{}{"error": embedErr.Error()})
	} else if best, ok := sc.similarityLookup(ctx, vec); ok {
		if err := sc.kv.Set(ctx, promptKey, []byte(best.QueryKey), sc.cfg.Cache.TTLDefault); err != nil {
			sc.logger.Warn("semantic: failed to write exact-prompt pointer after semantic hit", map[string]interface{}{"error": err.Error()})
		}
		payload, err := sc.loadPayload(ctx, best.QueryKey)
		if err == nil {
			sc.metrics.IncrementCounter("semantic.semantic_hit", nil)
			return Result{
				SQL:            payload.SQL,
				GenerationTime: time.Duration(payload.GenerationTimeNS),
				TotalTokens:    payload.TotalTokens,
				CacheHit:       true,
				CacheKind:      CacheKindSemantic,
				Similarity:     best.Similarity,
				SimilarPrompt:  best.Prompt,
				LookupTime:     time.Since(start),
			}, nil
		}
		sc.logger.Warn("semantic: semantic-hit candidate's payload missing, falling through to generation", map[string]interface{}{"query_key": best.QueryKey, "error": err.Error()})
	}

	genResult, err := sc.gen.Generate(ctx, prompt)
	if err != nil {
		return Result{}, fmt.Errorf("semantic: generate: %w", err)
	}

	r := hashHex([]byte(genResult.SQL))
	queryKey := sc.cfg.WithNamespace("query:" + r)
	sc.writeThreeLayers(ctx, queryKey, promptKey, embKey, prompt, vec, genResult)

	sc.metrics.IncrementCounter("semantic.miss", nil)
	return Result{
		SQL:            genResult.SQL,
		GenerationTime: genResult.GenerationTime,
		TotalTokens:    genResult.TotalTokens,
		CacheHit:       false,
		CacheKind:      CacheKindNone,
		LookupTime:     time.Since(start),
	}, nil
}

// exactLookup dereferences semantic:prompt:<h> to a query:<r> payload. ok
// is false on a plain cache miss; err is non-nil only for an unexpected
// KVStore failure, which the caller treats the same as a miss but logs.
func (sc *SemanticCache) exactLookup(ctx context.Context, promptKey string) (Result, bool, error) {
	raw, err := sc.kv.Get(ctx, promptKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, err
	}
	payload, err := sc.loadPayload(ctx, string(raw))
	if err != nil {
		return Result{}, false, err
	}
	return Result{
		SQL:            payload.SQL,
		GenerationTime: time.Duration(payload.GenerationTimeNS),
		TotalTokens:    payload.TotalTokens,
		CacheHit:       true,
		CacheKind:      CacheKindExact,
	}, true, nil
}

// similarityLookup runs the ANN/brute-force vector search, recomputes
// cosine similarity per candidate directly from the stored vector (the
// sole gatekeeper, since the ANN backend's own distance score is never
// trusted on its own), optionally reranks with MMR, and returns the best
// candidate that clears similarity_threshold.
func (sc *SemanticCache) similarityLookup(ctx context.Context, vec []float32) (rerank.Candidate, bool) {
	if err := sc.ensureIndex(ctx); err != nil {
		sc.logger.Warn("semantic: vector index ensure failed", map[string]interface{}{"error": err.Error()})
	}

	kFinal := sc.cfg.Semantic.KFinal
	if kFinal <= 0 {
		kFinal = 1
	}
	kInitial := kFinal
	if sc.cfg.Semantic.UseMMR {
		kInitial = kFinal * 3
	}

	hits, err := sc.index.KNN(ctx, vec, kInitial)
	if err != nil {
		sc.logger.Warn("semantic: vector lookup failed, skipping to generation", map[string]interface{}{"error": err.Error()})
		return rerank.Candidate{}, false
	}

	threshold := float64(sc.cfg.Semantic.SimilarityThreshold)
	candidates := make([]rerank.Candidate, 0, len(hits))
	for _, hit := range hits {
		cand, ok := sc.recomputeCandidate(ctx, hit.Key, vec)
		if !ok || cand.Similarity < threshold {
			continue
		}
		candidates = append(candidates, cand)
	}
	if len(candidates) == 0 {
		return rerank.Candidate{}, false
	}

	if sc.cfg.Semantic.UseMMR {
		candidates = rerank.MMR(candidates, sc.cfg.Semantic.MMRLambda, kFinal)
	} else {
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Similarity > candidates[j].Similarity })
		if kFinal < len(candidates) {
			candidates = candidates[:kFinal]
		}
	}
	if len(candidates) == 0 {
		return rerank.Candidate{}, false
	}
	return candidates[0], true
}

// recomputeCandidate loads the embedding record at key and recomputes its
// cosine similarity against vec directly from the stored vector, never
// trusting the ANN backend's own distance score.
func (sc *SemanticCache) recomputeCandidate(ctx context.Context, key string, vec []float32) (rerank.Candidate, bool) {
	fields, err := sc.kv.HashGetAll(ctx, key)
	if err != nil {
		sc.logger.Warn("semantic: failed to load candidate embedding record", map[string]interface{}{"key": key, "error": err.Error()})
		return rerank.Candidate{}, false
	}
	rawVec, ok := fields["embedding"]
	if !ok {
		return rerank.Candidate{}, false
	}
	candidateVec := kvstore.DecodeFloat32LE(rawVec)
	similarity := vectorindex.CosineSimilarity(vec, candidateVec)

	return rerank.Candidate{
		QueryKey:   string(fields["query_key"]),
		Prompt:     string(fields["prompt"]),
		Similarity: similarity,
		Embedding:  candidateVec,
	}, true
}

// loadPayload fetches and decodes the JSON payload at queryKey.
func (sc *SemanticCache) loadPayload(ctx context.Context, queryKey string) (queryPayload, error) {
	raw, err := sc.kv.Get(ctx, queryKey)
	if err != nil {
		return queryPayload{}, fmt.Errorf("semantic: load payload %s: %w", queryKey, err)
	}
	var payload queryPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return queryPayload{}, fmt.Errorf("semantic: decode payload %s: %w", queryKey, err)
	}
	return payload, nil
}

// writeThreeLayers populates query:<r>, semantic:prompt:<h> and
// embedding:prompt:<h> after a fresh generation. Every write is
// best-effort: a failure here only means a degraded cache, so it is
// logged and the caller still gets its freshly generated result.
func (sc *SemanticCache) writeThreeLayers(ctx context.Context, queryKey, promptKey, embKey, prompt string, vec []float32, gen llm.Result) {
	payload := queryPayload{
		SQL:              gen.SQL,
		GenerationTimeNS: int64(gen.GenerationTime),
		PromptTokens:     gen.PromptTokens,
		OutputTokens:     gen.OutputTokens,
		TotalTokens:      gen.TotalTokens,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		sc.logger.Warn("semantic: failed to encode query payload", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := sc.kv.Set(ctx, queryKey, raw, sc.cfg.Cache.TTLDefault); err != nil {
		sc.logger.Warn("semantic: failed to write query payload", map[string]interface{}{"key": queryKey, "error": err.Error()})
		return
	}
	if err := sc.kv.Set(ctx, promptKey, []byte(queryKey), sc.cfg.Cache.TTLDefault); err != nil {
		sc.logger.Warn("semantic: failed to write exact-prompt pointer", map[string]interface{}{"key": promptKey, "error": err.Error()})
	}
	if vec == nil {
		// Embedding failed upstream: no vector to index, exact reuse still works.
		return
	}
	fields := map[string][]byte{
		"prompt":    []byte(prompt),
		"query_key": []byte(queryKey),
		"embedding": kvstore.EncodeFloat32LE(vec),
	}
	if err := sc.kv.HashSet(ctx, embKey, fields); err != nil {
		sc.logger.Warn("semantic: failed to write embedding record", map[string]interface{}{"key": embKey, "error": err.Error()})
		return
	}
	sc.index.Invalidate()
}

func (sc *SemanticCache) ensureIndex(ctx context.Context) error {
	sc.ensureOnce.Do(func() {
		sc.ensureErr = sc.index.Ensure(ctx)
	})
	return sc.ensureErr
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
