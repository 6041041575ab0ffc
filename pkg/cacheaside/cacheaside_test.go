package cacheaside

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rlunar/aviation-cache-core/internal/config"
	"github.com/rlunar/aviation-cache-core/pkg/fingerprint"
	"github.com/rlunar/aviation-cache-core/pkg/kvstore"
	"github.com/rlunar/aviation-cache-core/pkg/rowset"
	"github.com/rlunar/aviation-cache-core/pkg/sotstore"
)

// stubSoT is a minimal sotstore.Store that counts Query invocations, used
// to assert the miss-then-hit behavior without a real database.
type stubSoT struct {
	queries int
	rows    rowset.Rows
	err     error
}

func (s *stubSoT) Query(ctx context.Context, sql string, params ...interface{}) (rowset.Rows, error) {
	s.queries++
	if s.err != nil {
		return nil, s.err
	}
	return s.rows, nil
}

func (s *stubSoT) Begin(ctx context.Context) (sotstore.Tx, error) { return nil, nil }
func (s *stubSoT) Close() error                                   { return nil }

func newStore(t *testing.T) *kvstore.MemoryStore {
	t.Helper()
	s, err := kvstore.NewMemoryStore(nil, nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func oneRow() rowset.Rows {
	return rowset.Rows{rowset.NewRow([]string{"1"}, []rowset.Value{rowset.IntValue(1)})}
}

func TestExecute_MissThenHit(t *testing.T) {
	kv := newStore(t)
	sot := &stubSoT{rows: oneRow()}
	ca := New(kv, sot, config.Default(), nil, nil)

	ctx := context.Background()
	rows1, src1, _, err := ca.Execute(ctx, "SELECT 1", nil, Options{})
	require.NoError(t, err)
	require.Equal(t, SourceCacheMiss, src1)
	require.Equal(t, oneRow(), rows1)

	rows2, src2, _, err := ca.Execute(ctx, "SELECT 1", nil, Options{})
	require.NoError(t, err)
	require.Equal(t, SourceCacheHit, src2)
	require.Equal(t, oneRow(), rows2)

	require.Equal(t, 1, sot.queries, "second call must not hit the source of truth")
}

func TestExecute_Invalidation(t *testing.T) {
	kv := newStore(t)
	sot := &stubSoT{rows: oneRow()}
	ca := New(kv, sot, config.Default(), nil, nil)
	ctx := context.Background()

	_, _, _, err := ca.Execute(ctx, "SELECT 1", nil, Options{})
	require.NoError(t, err)

	existed, err := ca.Invalidate(ctx, "SELECT 1")
	require.NoError(t, err)
	require.True(t, existed)

	existedAgain, err := ca.Invalidate(ctx, "SELECT 1")
	require.NoError(t, err)
	require.False(t, existedAgain)

	_, src, _, err := ca.Execute(ctx, "SELECT 1", nil, Options{})
	require.NoError(t, err)
	require.Equal(t, SourceCacheMiss, src)
}

func TestExecute_ForceRefreshSkipsCacheRead(t *testing.T) {
	kv := newStore(t)
	sot := &stubSoT{rows: oneRow()}
	ca := New(kv, sot, config.Default(), nil, nil)
	ctx := context.Background()

	_, _, _, err := ca.Execute(ctx, "SELECT 1", nil, Options{})
	require.NoError(t, err)
	_, src, _, err := ca.Execute(ctx, "SELECT 1", nil, Options{ForceRefresh: true})
	require.NoError(t, err)
	require.Equal(t, SourceCacheMiss, src)
	require.Equal(t, 2, sot.queries)
}

func TestExecute_SoTFailureSurfacesAndDoesNotCache(t *testing.T) {
	kv := newStore(t)
	sot := &stubSoT{err: context.DeadlineExceeded}
	ca := New(kv, sot, config.Default(), nil, nil)
	ctx := context.Background()

	_, _, _, err := ca.Execute(ctx, "SELECT 1", nil, Options{})
	require.Error(t, err)

	exists, err := ca.Invalidate(ctx, "SELECT 1")
	require.NoError(t, err)
	require.False(t, exists, "a failed source-of-truth query must never populate the cache")
}

func TestExecute_InvalidCachedShapeIsTreatedAsMiss(t *testing.T) {
	kv := newStore(t)
	sot := &stubSoT{rows: oneRow()}
	ca := New(kv, sot, config.Default(), nil, nil)
	ctx := context.Background()

	_, _, _, err := ca.Execute(ctx, "SELECT 1", nil, Options{})
	require.NoError(t, err)

	realKey := ca.cfg.WithNamespace(fingerprint.QueryKey("SELECT 1"))
	require.NoError(t, kv.Set(ctx, realKey, []byte("not json rows"), 0))

	rows, src, _, err := ca.Execute(ctx, "SELECT 1", nil, Options{})
	require.NoError(t, err)
	require.Equal(t, SourceCacheMiss, src)
	require.Equal(t, oneRow(), rows)
}
