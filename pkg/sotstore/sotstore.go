// Package sotstore defines the SoTStore abstraction over the relational
// source of truth: parameterized query execution returning row sequences,
// and a transactional boundary for update+insert plus the audit append
// that must share its transaction.
package sotstore

import (
	"context"
	"errors"

	"github.com/rlunar/aviation-cache-core/pkg/rowset"
)

// ErrUnavailable signals a connection failure talking to the source of
// truth. Unlike cache failures, this is always fatal to the calling
// operation: there is no fallback data source to read from.
var ErrUnavailable = errors.New("sotstore: backend unavailable")

// Store is the SoTStore abstraction: parameterized queries plus a
// transactional boundary.
type Store interface {
	// Query executes sql with params and returns the result rows.
	Query(ctx context.Context, sql string, params ...interface{}) (rowset.Rows, error)
	// Begin starts a transaction; callers must Commit or Rollback it.
	Begin(ctx context.Context) (Tx, error)
	// Close releases the connection pool.
	Close() error
}

// Tx is an active transaction providing the read/update/insert primitives
// WriteThrough and the write-behind worker need, all participating in the
// same commit.
type Tx interface {
	// Query executes sql with params against the transaction's connection.
	Query(ctx context.Context, sql string, params ...interface{}) (rowset.Rows, error)
	// Exec runs a mutating statement and returns the number of rows
	// affected.
	Exec(ctx context.Context, sql string, params ...interface{}) (int64, error)
	Commit() error
	Rollback() error
}
