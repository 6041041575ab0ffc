package sotstore

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

var errExecFailed = errors.New("exec failed")

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	db := sqlx.NewDb(mockDB, "sqlmock")
	store := NewPostgresStoreFromDB(db, DefaultPostgresConfig(""), nil, nil)
	return store, mock
}

func TestPostgresStore_Query(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "name"}).
		AddRow(int64(1), "JFK")
	mock.ExpectQuery("SELECT id, name FROM airports").WillReturnRows(rows)

	result, err := store.Query(context.Background(), "SELECT id, name FROM airports")
	require.NoError(t, err)
	require.Len(t, result, 1)
	require.Equal(t, []string{"id", "name"}, result[0].Columns)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransactionCommit(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE flights").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := store.Begin(context.Background())
	require.NoError(t, err)

	n, err := tx.Exec(context.Background(), "UPDATE flights SET departure = $1 WHERE id = $2", "2025-11-20T12:00:00Z", 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransactionRollback(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE flights").WillReturnError(errExecFailed)
	mock.ExpectRollback()

	tx, err := store.Begin(context.Background())
	require.NoError(t, err)

	_, err = tx.Exec(context.Background(), "UPDATE flights SET departure = $1", "x")
	require.Error(t, err)
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}
