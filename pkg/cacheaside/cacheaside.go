// Package cacheaside implements the read-through CacheAside orchestrator:
// get the cached query result, fall back to the source of truth on miss,
// repopulate the cache, and support explicit invalidation.
package cacheaside

import (
	"context"
	"errors"
	"time"

	"github.com/rlunar/aviation-cache-core/internal/config"
	"github.com/rlunar/aviation-cache-core/pkg/fingerprint"
	"github.com/rlunar/aviation-cache-core/pkg/kvstore"
	"github.com/rlunar/aviation-cache-core/pkg/observability"
	"github.com/rlunar/aviation-cache-core/pkg/rowset"
	"github.com/rlunar/aviation-cache-core/pkg/sotstore"
)

// Source reports whether Execute answered from cache or from the source of
// truth.
type Source string

// Possible Execute sources.
const (
	SourceCacheHit  Source = "cache_hit"
	SourceCacheMiss Source = "cache_miss"
)

// Options tunes a single Execute call.
type Options struct {
	// TTL overrides the configured default cache TTL for this write. Zero
	// means "use the configured default".
	TTL time.Duration
	// ForceRefresh skips the cache read but still writes on success, for
	// callers that know their cached copy is stale.
	ForceRefresh bool
}

// CacheAside is the read-through orchestrator built on a KVStore, a
// SoTStore and the Fingerprint function. It is safe for concurrent use.
type CacheAside struct {
	kv      kvstore.Store
	sot     sotstore.Store
	cfg     *config.Config
	logger  observability.Logger
	metrics observability.MetricsClient
}

// New creates a CacheAside. A nil cfg uses config.Default(); nil
// logger/metrics are replaced with no-op implementations.
func New(kv kvstore.Store, sot sotstore.Store, cfg *config.Config, logger observability.Logger, metrics observability.MetricsClient) *CacheAside {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &CacheAside{kv: kv, sot: sot, cfg: cfg, logger: logger, metrics: metrics}
}

// Execute answers sql/params from cache when possible, otherwise executes
// against the source of truth and populates the cache.
func (c *CacheAside) Execute(ctx context.Context, sql string, params []interface{}, opts Options) (rowset.Rows, Source, time.Duration, error) {
	start := time.Now()
	key := c.cfg.WithNamespace(fingerprint.QueryKey(sql, params...))

	if !opts.ForceRefresh {
		if rows, ok := c.tryCacheRead(ctx, key); ok {
			c.metrics.IncrementCounter("cacheaside.hit", nil)
			return rows, SourceCacheHit, time.Since(start), nil
		}
	}

	rows, err := c.sot.Query(ctx, sql, params...)
	if err != nil {
		// SoT failures surface to the caller; no cache entry is written,
		// since there is nothing correct to cache.
		c.metrics.IncrementCounter("cacheaside.sot_error", nil)
		return nil, "", time.Since(start), err
	}

	c.populate(ctx, key, rows, opts.TTL)
	c.metrics.IncrementCounter("cacheaside.miss", nil)
	return rows, SourceCacheMiss, time.Since(start), nil
}

// tryCacheRead attempts a cache hit for key. A hit that fails to
// deserialize is treated as a miss and the offending entry is deleted, since
// a corrupt or stale-format entry is worse than no entry at all.
func (c *CacheAside) tryCacheRead(ctx context.Context, key string) (rowset.Rows, bool) {
	data, err := c.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			c.logger.Warn("cacheaside: cache read failed, falling back to source of truth", map[string]interface{}{"key": key, "error": err.Error()})
		}
		return nil, false
	}

	rows, err := rowset.Unmarshal(data)
	if err != nil {
		c.logger.Warn("cacheaside: cached entry had invalid shape, treating as miss", map[string]interface{}{"key": key, "error": err.Error()})
		if _, delErr := c.kv.Delete(ctx, key); delErr != nil {
			c.logger.Warn("cacheaside: failed to delete invalid cache entry", map[string]interface{}{"key": key, "error": delErr.Error()})
		}
		return nil, false
	}
	return rows, true
}

// populate serializes rows and writes them to the cache. Any failure
// (serialization or cache write) is logged and never surfaced: the caller
// already has the correct rows from the source of truth.
func (c *CacheAside) populate(ctx context.Context, key string, rows rowset.Rows, ttl time.Duration) {
	data, err := rowset.Marshal(rows)
	if err != nil {
		c.logger.Warn("cacheaside: rows could not be serialized, not caching", map[string]interface{}{"key": key, "error": err.Error()})
		return
	}
	if ttl <= 0 {
		ttl = c.cfg.Cache.TTLDefault
	}
	if err := c.kv.Set(ctx, key, data, ttl); err != nil {
		c.logger.Warn("cacheaside: cache write failed", map[string]interface{}{"key": key, "error": err.Error()})
	}
}

// Invalidate deletes the cache entry for sql/params and reports whether it
// existed.
func (c *CacheAside) Invalidate(ctx context.Context, sql string, params ...interface{}) (bool, error) {
	key := c.cfg.WithNamespace(fingerprint.QueryKey(sql, params...))
	n, err := c.kv.Delete(ctx, key)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
