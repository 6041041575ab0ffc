package sotstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver, registered for database/sql

	"github.com/rlunar/aviation-cache-core/pkg/observability"
	"github.com/rlunar/aviation-cache-core/pkg/resilience"
	"github.com/rlunar/aviation-cache-core/pkg/rowset"
)

// PostgresConfig configures a connection-pooled PostgreSQL SoTStore.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// DefaultPostgresConfig returns conservative pooling defaults suitable for
// a single-instance application server.
func DefaultPostgresConfig(dsn string) PostgresConfig {
	return PostgresConfig{
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		QueryTimeout:    10 * time.Second,
	}
}

// PostgresStore is the production SoTStore, a long-lived process-wide
// connection pool over a single PostgreSQL database.
type PostgresStore struct {
	db      *sqlx.DB
	cfg     PostgresConfig
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewPostgresStore opens (and pings) a PostgreSQL connection pool.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, logger observability.Logger, metrics observability.MetricsClient) (*PostgresStore, error) {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}

	// The database may still be coming up (e.g. a migration container
	// creating tables) when this process starts, so the initial connect
	// retries with backoff rather than failing fast.
	var db *sqlx.DB
	retryErr := resilience.Retry(ctx, resilience.RetryConfig{
		MaxRetries:      5,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsedTime:  30 * time.Second,
	}, func(ctx context.Context) error {
		var connErr error
		db, connErr = sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
		return connErr
	})
	if retryErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, retryErr)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &PostgresStore{db: db, cfg: cfg, logger: logger, metrics: metrics}, nil
}

// NewPostgresStoreFromDB wraps an already-open *sqlx.DB (e.g. one shared
// with golang-migrate for schema setup).
func NewPostgresStoreFromDB(db *sqlx.DB, cfg PostgresConfig, logger observability.Logger, metrics observability.MetricsClient) *PostgresStore {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &PostgresStore{db: db, cfg: cfg, logger: logger, metrics: metrics}
}

func (s *PostgresStore) queryTimeout() time.Duration {
	if s.cfg.QueryTimeout > 0 {
		return s.cfg.QueryTimeout
	}
	return 10 * time.Second
}

func (s *PostgresStore) Query(ctx context.Context, sqlText string, params ...interface{}) (rowset.Rows, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout())
	defer cancel()

	start := time.Now()
	rows, err := s.db.QueryxContext(ctx, sqlText, params...)
	if err != nil {
		s.metrics.IncrementCounter("sotstore.query.errors", nil)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			s.logger.Warn("failed to close rows", map[string]interface{}{"error": cerr.Error()})
		}
	}()

	result, err := scanRows(rows)
	s.metrics.RecordHistogram("sotstore.query.duration_seconds", time.Since(start).Seconds(), nil)
	return result, err
}

func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &postgresTx{tx: tx, timeout: s.queryTimeout(), logger: s.logger}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

type postgresTx struct {
	tx      *sqlx.Tx
	timeout time.Duration
	logger  observability.Logger
}

func (t *postgresTx) Query(ctx context.Context, sqlText string, params ...interface{}) (rowset.Rows, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	rows, err := t.tx.QueryxContext(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			t.logger.Warn("failed to close rows", map[string]interface{}{"error": cerr.Error()})
		}
	}()
	return scanRows(rows)
}

func (t *postgresTx) Exec(ctx context.Context, sqlText string, params ...interface{}) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	res, err := t.tx.ExecContext(ctx, sqlText, params...)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res.RowsAffected()
}

func (t *postgresTx) Commit() error   { return t.tx.Commit() }
func (t *postgresTx) Rollback() error { return t.tx.Rollback() }

// scanRows reads every remaining row from rows into rowset.Rows, converting
// each column's driver value with rowset.FromNative.
func scanRows(rows *sqlx.Rows) (rowset.Rows, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var out rowset.Rows
	for rows.Next() {
		raw, err := rows.SliceScan()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		values := make([]rowset.Value, len(raw))
		for i, v := range raw {
			values[i] = rowset.FromNative(normalizeDriverValue(v))
		}
		out = append(out, rowset.NewRow(columns, values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

// normalizeDriverValue converts lib/pq's []byte-for-everything-unparsed
// convention into the closest native type FromNative understands, leaving
// anything else untouched.
func normalizeDriverValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
