// Package writebehind implements a durable async mutation queue engine: the
// caller's thread only needs to update the cache and enqueue a record; a
// background worker drains the queue against the source of truth using a
// reliable-queue pattern where popped records move through an in-flight
// list until they are committed. The pop from the stream and the push onto
// the in-flight list are two separate commands, so a crash between those two
// steps loses the popped records; a crash after the move leaves them in the
// in-flight list.
package writebehind

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rlunar/aviation-cache-core/internal/config"
	"github.com/rlunar/aviation-cache-core/pkg/audit"
	"github.com/rlunar/aviation-cache-core/pkg/kvstore"
	"github.com/rlunar/aviation-cache-core/pkg/observability"
	"github.com/rlunar/aviation-cache-core/pkg/rowset"
	"github.com/rlunar/aviation-cache-core/pkg/sotstore"
)

// streamKey and its derived in-flight/dlq keys, unprefixed (namespaced via
// Config.WithNamespace by every call site).
const (
	streamKey   = "queue:mutations"
	inflightKey = "queue:mutations:inflight"
	dlqKey      = "queue:mutations:dlq"
)

// MutationRecord is the durable unit of work enqueued on the caller's
// thread and applied by the worker.
type MutationRecord struct {
	EntityKind  string          `json:"entity_kind"`
	EntityID    string          `json:"entity_id"`
	Op          audit.Op        `json:"op"`
	CacheKey    string          `json:"cache_key"`
	Payload     json.RawMessage `json:"payload"`
	ApplySQL    string          `json:"apply_sql"`
	ApplyParams []interface{}   `json:"apply_params"`
	ReadSQL     string          `json:"read_sql"`
	ReadParams  []interface{}   `json:"read_params"`
	User        string          `json:"user"`
	Comment     string          `json:"comment"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	AttemptCount int            `json:"attempt_count"`
	NotBefore   time.Time       `json:"not_before"`
}

// Update describes a single update_entity call. Rows is the new state, serialized and written to the cache
// immediately; ApplySQL/ReadSQL describe how the worker later applies and
// re-reads the mutation against the source of truth.
type Update struct {
	EntityKind  string
	EntityID    string
	CacheKey    string
	Rows        rowset.Rows
	ApplySQL    string
	ApplyParams []interface{}
	ReadSQL     string
	ReadParams  []interface{}
	User        string
	Comment     string
}

// WriteBehind is the durable mutation queue engine built on a KVStore and a
// SoTStore.
type WriteBehind struct {
	kv      kvstore.Store
	sot     sotstore.Store
	cfg     *config.Config
	logger  observability.Logger
	metrics observability.MetricsClient
}

// New creates a WriteBehind. A nil cfg uses config.Default().
func New(kv kvstore.Store, sot sotstore.Store, cfg *config.Config, logger observability.Logger, metrics observability.MetricsClient) *WriteBehind {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &WriteBehind{kv: kv, sot: sot, cfg: cfg, logger: logger, metrics: metrics}
}

// UpdateEntity writes u's new state to the cache immediately and enqueues
// the durable mutation record for the worker. A cache write failure
// surfaces before enqueue; a queue push failure is fatal to the call.
func (w *WriteBehind) UpdateEntity(ctx context.Context, u Update) error {
	payload, err := rowset.Marshal(u.Rows)
	if err != nil {
		return fmt.Errorf("writebehind: serialize payload: %w", err)
	}

	cacheKey := w.cfg.WithNamespace(u.CacheKey)
	if err := w.kv.Set(ctx, cacheKey, payload, w.cfg.Cache.TTLDefault); err != nil {
		w.metrics.IncrementCounter("writebehind.cache_error", nil)
		return fmt.Errorf("writebehind: cache write failed: %w", err)
	}

	rec := MutationRecord{
		EntityKind:  u.EntityKind,
		EntityID:    u.EntityID,
		Op:          audit.OpUpdate,
		CacheKey:    u.CacheKey,
		Payload:     payload,
		ApplySQL:    u.ApplySQL,
		ApplyParams: u.ApplyParams,
		ReadSQL:     u.ReadSQL,
		ReadParams:  u.ReadParams,
		User:        u.User,
		Comment:     u.Comment,
		EnqueuedAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("writebehind: serialize mutation record: %w", err)
	}

	if _, err := w.kv.ListPushRight(ctx, w.cfg.WithNamespace(streamKey), data); err != nil {
		w.metrics.IncrementCounter("writebehind.enqueue_error", nil)
		return fmt.Errorf("writebehind: enqueue failed: %w", err)
	}

	w.metrics.IncrementCounter("writebehind.enqueued", nil)
	return nil
}

// DrainOnce pops up to batchSize records and applies each against the
// source of truth, reporting how many were applied versus failed.
func (w *WriteBehind) DrainOnce(ctx context.Context, batchSize int) (applied, failed int, err error) {
	if batchSize <= 0 {
		batchSize = w.cfg.WriteBehind.BatchSize
	}

	records, err := w.popBatch(ctx, batchSize)
	if err != nil {
		return 0, 0, err
	}

	for _, data := range records {
		if w.applyOne(ctx, data) {
			applied++
		} else {
			failed++
		}
	}
	return applied, failed, nil
}

// popBatch moves up to batchSize records from the stream into the in-flight
// list and returns their raw bytes, skipping (and leaving in place) records
// whose not_before has not yet elapsed.
func (w *WriteBehind) popBatch(ctx context.Context, batchSize int) ([][]byte, error) {
	stream := w.cfg.WithNamespace(streamKey)
	inflight := w.cfg.WithNamespace(inflightKey)

	popped, err := w.kv.ListPopLeft(ctx, stream, int64(batchSize))
	if err != nil {
		return nil, fmt.Errorf("writebehind: pop batch: %w", err)
	}

	ready := make([][]byte, 0, len(popped))
	for _, data := range popped {
		var rec MutationRecord
		due := true
		if err := json.Unmarshal(data, &rec); err == nil && !rec.NotBefore.IsZero() && time.Now().UTC().Before(rec.NotBefore) {
			due = false
		}
		if !due {
			// Not yet due: put it back at the tail without ever entering
			// the in-flight list.
			if _, err := w.kv.ListPushRight(ctx, stream, data); err != nil {
				w.logger.Warn("writebehind: failed to re-enqueue not-yet-due record", map[string]interface{}{"error": err.Error()})
			}
			continue
		}
		if _, err := w.kv.ListPushRight(ctx, inflight, data); err != nil {
			w.logger.Warn("writebehind: failed to move record to in-flight list", map[string]interface{}{"error": err.Error()})
			// The record is now neither in the stream nor reliably
			// in-flight; push it back to the stream tail so it is not lost.
			if _, pushErr := w.kv.ListPushRight(ctx, stream, data); pushErr != nil {
				w.logger.Error("writebehind: record dropped, could not recover from failed in-flight move", map[string]interface{}{"error": pushErr.Error()})
			}
			continue
		}
		ready = append(ready, data)
	}
	return ready, nil
}

// applyOne applies one record against the source of truth, committing the
// audit-paired transaction, and removes it from the in-flight list on
// success. It reports false whenever the record was not applied this round,
// whether it was requeued for retry or sent to the dead-letter list.
func (w *WriteBehind) applyOne(ctx context.Context, data []byte) bool {
	inflight := w.cfg.WithNamespace(inflightKey)

	var rec MutationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		w.logger.Error("writebehind: malformed record, sending to dead-letter queue", map[string]interface{}{"error": err.Error()})
		w.deadLetter(ctx, data)
		w.removeInflight(ctx, inflight, data)
		return false
	}

	if err := w.commit(ctx, rec); err != nil {
		w.logger.Warn("writebehind: mutation commit failed", map[string]interface{}{"entity_kind": rec.EntityKind, "entity_id": rec.EntityID, "attempt": rec.AttemptCount, "error": err.Error()})
		w.retryOrDeadLetter(ctx, rec)
		w.removeInflight(ctx, inflight, data)
		return false
	}

	w.removeInflight(ctx, inflight, data)
	w.metrics.IncrementCounter("writebehind.applied", nil)
	return true
}

func (w *WriteBehind) commit(ctx context.Context, rec MutationRecord) error {
	tx, err := w.sot.Begin(ctx)
	if err != nil {
		return err
	}

	before, err := tx.Query(ctx, rec.ReadSQL, rec.ReadParams...)
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	if _, err := tx.Exec(ctx, rec.ApplySQL, rec.ApplyParams...); err != nil {
		_ = tx.Rollback()
		return err
	}

	after, err := tx.Query(ctx, rec.ReadSQL, rec.ReadParams...)
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	auditRec := audit.Record{
		EntityKind: rec.EntityKind,
		EntityID:   rec.EntityID,
		Op:         rec.Op,
		Before:     audit.RowBefore(before),
		After:      audit.RowBefore(after),
		User:       rec.User,
		Comment:    rec.Comment,
		OccurredAt: time.Now().UTC(),
	}
	if err := audit.Append(ctx, tx, auditRec); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

// retryOrDeadLetter re-enqueues rec at the stream tail with an incremented
// attempt count and a backoff not_before, or moves it to the dead-letter
// list once max_attempts is exhausted.
func (w *WriteBehind) retryOrDeadLetter(ctx context.Context, rec MutationRecord) {
	rec.AttemptCount++
	maxAttempts := w.cfg.WriteBehind.MaxAttempts

	if rec.AttemptCount >= maxAttempts {
		data, err := json.Marshal(rec)
		if err != nil {
			w.logger.Error("writebehind: failed to serialize exhausted record for dead-letter", map[string]interface{}{"error": err.Error()})
			return
		}
		w.deadLetter(ctx, data)
		w.metrics.IncrementCounter("writebehind.dead_lettered", nil)
		return
	}

	rec.NotBefore = time.Now().UTC().Add(backoffFor(rec.AttemptCount))
	data, err := json.Marshal(rec)
	if err != nil {
		w.logger.Error("writebehind: failed to serialize record for retry", map[string]interface{}{"error": err.Error()})
		return
	}
	if _, err := w.kv.ListPushRight(ctx, w.cfg.WithNamespace(streamKey), data); err != nil {
		w.logger.Error("writebehind: failed to re-enqueue record for retry", map[string]interface{}{"error": err.Error()})
		return
	}
	w.metrics.IncrementCounter("writebehind.retried", nil)
}

func (w *WriteBehind) deadLetter(ctx context.Context, data []byte) {
	if _, err := w.kv.ListPushRight(ctx, w.cfg.WithNamespace(dlqKey), data); err != nil {
		w.logger.Error("writebehind: failed to push to dead-letter queue", map[string]interface{}{"error": err.Error()})
	}
}

func (w *WriteBehind) removeInflight(ctx context.Context, inflightKey string, data []byte) {
	if err := w.kv.ListRemove(ctx, inflightKey, data); err != nil {
		w.logger.Warn("writebehind: failed to remove record from in-flight list", map[string]interface{}{"error": err.Error()})
	}
}

// RecoverInFlight moves every record still in the in-flight list back to
// the stream tail, for a worker restarting after a crash that left records
// neither committed nor returned to the queue. Call it once before the
// first DrainOnce/DrainForever of a new worker process.
func (w *WriteBehind) RecoverInFlight(ctx context.Context) (int, error) {
	inflight := w.cfg.WithNamespace(inflightKey)
	stream := w.cfg.WithNamespace(streamKey)

	recovered := 0
	for {
		data, err := w.kv.ListPopLeft(ctx, inflight, 1)
		if err != nil {
			return recovered, fmt.Errorf("writebehind: recover in-flight: %w", err)
		}
		if len(data) == 0 {
			return recovered, nil
		}
		if _, err := w.kv.ListPushRight(ctx, stream, data[0]); err != nil {
			return recovered, fmt.Errorf("writebehind: recover in-flight: requeue: %w", err)
		}
		recovered++
	}
}

// DrainForever repeatedly calls DrainOnce every interval until ctx is
// cancelled. On cancellation it makes a final best-effort pass: it keeps
// draining until the stream is empty or gracePeriod elapses, whichever
// comes first.
func (w *WriteBehind) DrainForever(ctx context.Context, interval time.Duration, gracePeriod time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drainUntilEmptyOrTimeout(gracePeriod)
			return
		case <-ticker.C:
			if _, _, err := w.DrainOnce(context.Background(), w.cfg.WriteBehind.BatchSize); err != nil {
				w.logger.Error("writebehind: drain cycle failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

func (w *WriteBehind) drainUntilEmptyOrTimeout(gracePeriod time.Duration) {
	deadline := time.Now().Add(gracePeriod)
	shutdownCtx := context.Background()
	for time.Now().Before(deadline) {
		length, err := w.kv.ListLen(shutdownCtx, w.cfg.WithNamespace(streamKey))
		if err != nil || length == 0 {
			return
		}
		if _, _, err := w.DrainOnce(shutdownCtx, w.cfg.WriteBehind.BatchSize); err != nil {
			w.logger.Error("writebehind: shutdown drain failed", map[string]interface{}{"error": err.Error()})
			return
		}
	}
}

// backoffFor returns the retry delay for the given attempt count: a
// capped-exponential envelope (base 200ms, cap 30s).
func backoffFor(attempt int) time.Duration {
	const base = 200 * time.Millisecond
	const cap = 30 * time.Second
	d := base
	for i := 0; i < attempt; i++ {
		if d >= cap {
			return cap
		}
		d *= 2
	}
	if d > cap {
		d = cap
	}
	return d
}
