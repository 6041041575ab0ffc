package sotstore

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) *sqlx.DB {
	t.Helper()
	mockDB, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "sqlmock")
}

func TestNewMigrator_DefaultsPathAndTimeout(t *testing.T) {
	db := newMockDB(t)

	m, err := NewMigrator(db, MigrationsConfig{})
	require.NoError(t, err)
	require.Equal(t, DefaultMigrationsConfig().Path, m.cfg.Path)
	require.Equal(t, DefaultMigrationsConfig().Timeout, m.cfg.Timeout)
}

func TestNewMigrator_CustomConfigPreserved(t *testing.T) {
	db := newMockDB(t)

	cfg := MigrationsConfig{Path: "testdata/migrations", Timeout: 5 * time.Second}
	m, err := NewMigrator(db, cfg)
	require.NoError(t, err)
	require.Equal(t, cfg.Path, m.cfg.Path)
	require.Equal(t, cfg.Timeout, m.cfg.Timeout)
}

func TestNewMigrator_NilDBRejected(t *testing.T) {
	_, err := NewMigrator(nil, MigrationsConfig{})
	require.Error(t, err)
}
