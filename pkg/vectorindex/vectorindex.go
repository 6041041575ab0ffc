// Package vectorindex implements the ANN index abstraction: idempotent
// index creation, KNN queries delegated to the KVStore's vector
// capability, and an always-available brute-force fallback that scans a
// key prefix and computes cosine similarity in process.
package vectorindex

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rlunar/aviation-cache-core/pkg/kvstore"
	"github.com/rlunar/aviation-cache-core/pkg/observability"
)

// Result is one scored hit from either KNN or BruteForce, score always in
// cosine similarity units regardless of path taken.
type Result struct {
	Key   string
	Score float64
}

// Config names the index and the prefix/field it is built over.
type Config struct {
	Name         string
	Prefix       string
	VectorField  string
	Dimension    int
	BruteForceCacheSize int
}

// Index is the VectorIndex built on a KVStore.
type Index struct {
	kv      kvstore.Store
	cfg     Config
	logger  observability.Logger
	metrics observability.MetricsClient

	bruteForceCache *lru.Cache[string, []Result]
}

// New creates an Index. A zero BruteForceCacheSize disables the result
// cache.
func New(kv kvstore.Store, cfg Config, logger observability.Logger, metrics observability.MetricsClient) (*Index, error) {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}

	idx := &Index{kv: kv, cfg: cfg, logger: logger, metrics: metrics}

	if cfg.BruteForceCacheSize > 0 {
		c, err := lru.New[string, []Result](cfg.BruteForceCacheSize)
		if err != nil {
			return nil, fmt.Errorf("vectorindex: create result cache: %w", err)
		}
		idx.bruteForceCache = c
	}
	return idx, nil
}

// Ensure idempotently creates the backing ANN index. A backend without
// vector search (ErrNotSupported) is not an error here: callers degrade to
// BruteForce transparently (Design Note "Lazy dependencies").
func (idx *Index) Ensure(ctx context.Context) error {
	err := idx.kv.VectorIndexCreate(ctx, idx.cfg.Name, idx.cfg.Prefix, idx.cfg.VectorField, idx.cfg.Dimension, kvstore.MetricCosine, nil)
	if err != nil && !errors.Is(err, kvstore.ErrNotSupported) {
		return fmt.Errorf("vectorindex: ensure index: %w", err)
	}
	return nil
}

// KNN returns the k nearest keys to vector. It tries the backend's native
// ANN search first; on ErrNotSupported or any other failure it falls back
// to BruteForce, so a backend that cannot do vector search at all is
// still a fully functional index, just a slower one.
func (idx *Index) KNN(ctx context.Context, vector []float32, k int) ([]Result, error) {
	hits, err := idx.kv.VectorKNN(ctx, idx.cfg.Name, vector, k)
	if err == nil {
		idx.metrics.IncrementCounter("vectorindex.ann_hit", nil)
		return normalizeScores(hits), nil
	}

	idx.logger.Warn("vectorindex: ANN search failed, falling back to brute force", map[string]interface{}{"index": idx.cfg.Name, "error": err.Error()})
	idx.metrics.IncrementCounter("vectorindex.ann_fallback", nil)
	return idx.BruteForce(ctx, vector, k)
}

// BruteForce scans every key under the configured prefix, decodes its
// vector field, and returns the k highest cosine similarities. Always
// available regardless of backend capability.
func (idx *Index) BruteForce(ctx context.Context, vector []float32, k int) ([]Result, error) {
	if cached, ok := idx.cacheGet(vector, k); ok {
		idx.metrics.IncrementCounter("vectorindex.brute_force_cache_hit", nil)
		return cached, nil
	}

	var results []Result
	var cursor uint64
	for {
		keys, next, err := idx.kv.Scan(ctx, cursor, idx.cfg.Prefix+"*", 100)
		if err != nil {
			return nil, fmt.Errorf("vectorindex: brute force scan: %w", err)
		}
		for _, key := range keys {
			fields, err := idx.kv.HashGetAll(ctx, key)
			if err != nil {
				idx.logger.Warn("vectorindex: failed to load candidate during brute force", map[string]interface{}{"key": key, "error": err.Error()})
				continue
			}
			raw, ok := fields[idx.cfg.VectorField]
			if !ok {
				continue
			}
			candidate := kvstore.DecodeFloat32LE(raw)
			results = append(results, Result{Key: key, Score: CosineSimilarity(vector, candidate)})
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k > 0 && k < len(results) {
		results = results[:k]
	}

	idx.cachePut(vector, k, results)
	idx.metrics.IncrementCounter("vectorindex.brute_force_miss", nil)
	return results, nil
}

func (idx *Index) cacheKey(vector []float32, k int) string {
	sum := sha256.Sum256(kvstore.EncodeFloat32LE(vector))
	return fmt.Sprintf("%s:%d", hex.EncodeToString(sum[:]), k)
}

func (idx *Index) cacheGet(vector []float32, k int) ([]Result, bool) {
	if idx.bruteForceCache == nil {
		return nil, false
	}
	return idx.bruteForceCache.Get(idx.cacheKey(vector, k))
}

func (idx *Index) cachePut(vector []float32, k int, results []Result) {
	if idx.bruteForceCache == nil {
		return
	}
	idx.bruteForceCache.Add(idx.cacheKey(vector, k), results)
}

// Invalidate clears the brute-force result cache. Callers invoke this after
// writing a new embedding record so a subsequent brute-force scan observes
// it immediately rather than serving a stale cached result set.
func (idx *Index) Invalidate() {
	if idx.bruteForceCache != nil {
		idx.bruteForceCache.Purge()
	}
}

// CosineSimilarity computes dot(a,b) / (||a|| * ||b||), returning 0 if
// either vector has zero norm (an undefined similarity is reported as no
// similarity rather than propagating a NaN).
func CosineSimilarity(a, b []float32) float64 {
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

// normalizeDistanceToSimilarity converts a RediSearch COSINE-metric
// distance (in [0, 2] for normalized vectors) to a similarity in [-1, 1].
// The ANN score is advisory only and never compared directly against the
// configured threshold; pkg/semantic always recomputes cosine similarity
// from the raw stored vector.
func normalizeDistanceToSimilarity(distance float64) float64 {
	return 1 - distance
}

func normalizeScores(hits []kvstore.ScoredKey) []Result {
	out := make([]Result, len(hits))
	for i, h := range hits {
		out[i] = Result{Key: h.Key, Score: normalizeDistanceToSimilarity(h.Score)}
	}
	return out
}
