package writethrough

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rlunar/aviation-cache-core/internal/config"
	"github.com/rlunar/aviation-cache-core/pkg/kvstore"
	"github.com/rlunar/aviation-cache-core/pkg/rowset"
	"github.com/rlunar/aviation-cache-core/pkg/sotstore"
)

// fakeTx is an in-memory sotstore.Tx that records every call and answers
// Query with a canned row, letting tests assert transaction sequencing
// without a real database.
type fakeTx struct {
	row          rowset.Rows
	applyErr     error
	commitErr    error
	committed    bool
	rolledBack   bool
	execCalls    int
	queryCalls   int
}

func (t *fakeTx) Query(ctx context.Context, sql string, params ...interface{}) (rowset.Rows, error) {
	t.queryCalls++
	return t.row, nil
}

func (t *fakeTx) Exec(ctx context.Context, sql string, params ...interface{}) (int64, error) {
	t.execCalls++
	if t.applyErr != nil {
		return 0, t.applyErr
	}
	return 1, nil
}

func (t *fakeTx) Commit() error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback() error {
	t.rolledBack = true
	return nil
}

// fakeSoT hands out a single fakeTx per Begin call.
type fakeSoT struct {
	tx        *fakeTx
	beginErr  error
}

func (s *fakeSoT) Query(ctx context.Context, sql string, params ...interface{}) (rowset.Rows, error) {
	return s.tx.row, nil
}

func (s *fakeSoT) Begin(ctx context.Context) (sotstore.Tx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return s.tx, nil
}

func (s *fakeSoT) Close() error { return nil }

func newStore(t *testing.T) *kvstore.MemoryStore {
	t.Helper()
	s, err := kvstore.NewMemoryStore(nil, nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func oneRow() rowset.Rows {
	return rowset.Rows{rowset.NewRow([]string{"id"}, []rowset.Value{rowset.IntValue(42)})}
}

func TestUpdateEntity_CommitsThenRefreshesCache(t *testing.T) {
	kv := newStore(t)
	tx := &fakeTx{row: oneRow()}
	sot := &fakeSoT{tx: tx}
	wt := New(sot, kv, config.Default(), nil, nil)
	ctx := context.Background()

	err := wt.UpdateEntity(ctx, Update{
		EntityKind: "flight",
		EntityID:   "42",
		ReadSQL:    "SELECT * FROM flights WHERE id = $1",
		ReadParams: []interface{}{42},
		ApplySQL:   "UPDATE flights SET status = $1 WHERE id = $2",
		ApplyParams: []interface{}{"delayed", 42},
		CacheKey:   "query:flight:42",
		User:       "ops",
		Comment:    "delay",
	})
	require.NoError(t, err)
	require.True(t, tx.committed)
	require.False(t, tx.rolledBack)
	// two reads (before + after) + one apply + one audit insert
	require.Equal(t, 2, tx.queryCalls)
	require.Equal(t, 2, tx.execCalls)

	data, err := kv.Get(ctx, "query:flight:42")
	require.NoError(t, err)
	rows, err := rowset.Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, oneRow(), rows)
}

func TestUpdateEntity_ApplyFailureRollsBackAndSurfaces(t *testing.T) {
	kv := newStore(t)
	applyErr := errors.New("constraint violation")
	tx := &fakeTx{row: oneRow(), applyErr: applyErr}
	sot := &fakeSoT{tx: tx}
	wt := New(sot, kv, config.Default(), nil, nil)
	ctx := context.Background()

	err := wt.UpdateEntity(ctx, Update{
		EntityKind:  "flight",
		EntityID:    "42",
		ReadSQL:     "SELECT * FROM flights WHERE id = $1",
		ReadParams:  []interface{}{42},
		ApplySQL:    "UPDATE flights SET status = $1 WHERE id = $2",
		ApplyParams: []interface{}{"delayed", 42},
		CacheKey:    "query:flight:42",
	})
	require.ErrorIs(t, err, applyErr)
	require.True(t, tx.rolledBack)
	require.False(t, tx.committed)

	_, err = kv.Get(ctx, "query:flight:42")
	require.ErrorIs(t, err, kvstore.ErrNotFound, "a rolled-back mutation must never populate the cache")
}

func TestUpdateEntity_CacheRefreshFailureIsNonFatal(t *testing.T) {
	kv, err := kvstore.NewMemoryStore(nil, nil)
	require.NoError(t, err)
	kv.Close() // force every subsequent cache operation to fail
	tx := &fakeTx{row: oneRow()}
	sot := &fakeSoT{tx: tx}
	wt := New(sot, kv, config.Default(), nil, nil)
	ctx := context.Background()

	err = wt.UpdateEntity(ctx, Update{
		EntityKind:  "flight",
		EntityID:    "42",
		ReadSQL:     "SELECT * FROM flights WHERE id = $1",
		ReadParams:  []interface{}{42},
		ApplySQL:    "UPDATE flights SET status = $1 WHERE id = $2",
		ApplyParams: []interface{}{"delayed", 42},
		CacheKey:    "query:flight:42",
	})
	require.NoError(t, err, "a cache refresh failure must not surface to the caller")
	require.True(t, tx.committed)
}
