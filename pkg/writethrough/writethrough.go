// Package writethrough implements a synchronous dual-write orchestrator:
// every mutation is applied to the source of truth inside a transaction,
// audited, committed, and only then reflected into the cache.
package writethrough

import (
	"context"
	"time"

	"github.com/rlunar/aviation-cache-core/internal/config"
	"github.com/rlunar/aviation-cache-core/pkg/audit"
	"github.com/rlunar/aviation-cache-core/pkg/kvstore"
	"github.com/rlunar/aviation-cache-core/pkg/observability"
	"github.com/rlunar/aviation-cache-core/pkg/rowset"
	"github.com/rlunar/aviation-cache-core/pkg/sotstore"
)

// Update describes a single update_entity call: the read used to capture
// before/after state and the statement that applies the mutation.
type Update struct {
	EntityKind string
	EntityID   string
	// ReadSQL/ReadParams select the current row (for the audit "before"
	// state) and, after the apply and before commit, the refreshed row that
	// is audited and cached. Both reads run the same statement inside the
	// same transaction.
	ReadSQL    string
	ReadParams []interface{}
	// ApplySQL/ApplyParams is the mutating statement.
	ApplySQL    string
	ApplyParams []interface{}
	// CacheKey is the unprefixed key the refreshed row is written to.
	CacheKey string
	User     string
	Comment  string
}

// WriteThrough is the dual-write orchestrator built on a SoTStore and a
// KVStore.
type WriteThrough struct {
	sot     sotstore.Store
	kv      kvstore.Store
	cfg     *config.Config
	logger  observability.Logger
	metrics observability.MetricsClient
}

// New creates a WriteThrough. A nil cfg uses config.Default().
func New(sot sotstore.Store, kv kvstore.Store, cfg *config.Config, logger observability.Logger, metrics observability.MetricsClient) *WriteThrough {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &WriteThrough{sot: sot, kv: kv, cfg: cfg, logger: logger, metrics: metrics}
}

// UpdateEntity applies u transactionally against the source of truth,
// appends the audit record, commits, then best-effort refreshes the cache
// entry. A SoT failure rolls back and is returned; a cache refresh failure
// is logged and swallowed, since the mutation itself already succeeded.
func (w *WriteThrough) UpdateEntity(ctx context.Context, u Update) error {
	tx, err := w.sot.Begin(ctx)
	if err != nil {
		w.metrics.IncrementCounter("writethrough.begin_error", nil)
		return err
	}

	before, err := tx.Query(ctx, u.ReadSQL, u.ReadParams...)
	if err != nil {
		_ = tx.Rollback()
		w.metrics.IncrementCounter("writethrough.read_error", nil)
		return err
	}

	if _, err := tx.Exec(ctx, u.ApplySQL, u.ApplyParams...); err != nil {
		_ = tx.Rollback()
		w.metrics.IncrementCounter("writethrough.apply_error", nil)
		return err
	}

	after, err := tx.Query(ctx, u.ReadSQL, u.ReadParams...)
	if err != nil {
		_ = tx.Rollback()
		w.metrics.IncrementCounter("writethrough.reread_error", nil)
		return err
	}

	rec := audit.Record{
		EntityKind: u.EntityKind,
		EntityID:   u.EntityID,
		Op:         audit.OpUpdate,
		Before:     audit.RowBefore(before),
		After:      audit.RowBefore(after),
		User:       u.User,
		Comment:    u.Comment,
		OccurredAt: time.Now().UTC(),
	}
	if err := audit.Append(ctx, tx, rec); err != nil {
		_ = tx.Rollback()
		w.metrics.IncrementCounter("writethrough.audit_error", nil)
		return err
	}

	if err := tx.Commit(); err != nil {
		w.metrics.IncrementCounter("writethrough.commit_error", nil)
		return err
	}

	w.refreshCache(ctx, u.CacheKey, after)
	w.metrics.IncrementCounter("writethrough.applied", nil)
	return nil
}

// refreshCache best-effort writes the post-commit row into the cache. Its
// failure is non-fatal: the next CacheAside read repopulates it.
func (w *WriteThrough) refreshCache(ctx context.Context, key string, rows rowset.Rows) {
	data, err := rowset.Marshal(rows)
	if err != nil {
		w.logger.Warn("writethrough: refreshed rows could not be serialized", map[string]interface{}{"key": key, "error": err.Error()})
		return
	}
	fullKey := w.cfg.WithNamespace(key)
	if err := w.kv.Set(ctx, fullKey, data, w.cfg.Cache.TTLDefault); err != nil {
		w.logger.Warn("writethrough: cache refresh failed, next read repopulates", map[string]interface{}{"key": fullKey, "error": err.Error()})
	}
}
