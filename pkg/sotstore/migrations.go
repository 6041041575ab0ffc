package sotstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
)

// MigrationsConfig configures the schema migrator. Path defaults to
// migrations/sql relative to the working directory; this module ships no
// migration files of its own.
type MigrationsConfig struct {
	Path    string
	Timeout time.Duration
}

// DefaultMigrationsConfig returns the migrator's defaults.
func DefaultMigrationsConfig() MigrationsConfig {
	return MigrationsConfig{Path: "migrations/sql", Timeout: time.Minute}
}

// Migrator applies the schema migrations a fresh PostgreSQL source of
// truth needs before any SoTStore operation can succeed: the audit_log
// table pkg/audit writes into, and the seed application tables.
type Migrator struct {
	db     *sqlx.DB
	cfg    MigrationsConfig
	driver *migrate.Migrate
}

// NewMigrator fills in cfg's defaults and binds it to db without opening the
// migration source yet. It only checks that the path can be made absolute;
// a missing or unreadable migrations directory is reported by Up or Version.
func NewMigrator(db *sqlx.DB, cfg MigrationsConfig) (*Migrator, error) {
	if db == nil {
		return nil, errors.New("sotstore: migrator requires a non-nil db")
	}
	if cfg.Path == "" {
		cfg.Path = DefaultMigrationsConfig().Path
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultMigrationsConfig().Timeout
	}
	if _, err := filepath.Abs(cfg.Path); err != nil {
		return nil, fmt.Errorf("sotstore: resolve migrations path: %w", err)
	}
	return &Migrator{db: db, cfg: cfg}, nil
}

// Up applies every pending migration under cfg.Path. ErrNoChange is not
// treated as a failure: a schema already at the latest version is the
// common case on every process restart after the first.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.init(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- m.driver.Up() }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("sotstore: apply migrations: %w", err)
		}
		return nil
	}
}

// Version reports the schema's current migration version and whether it
// was left dirty by a previously failed migration.
func (m *Migrator) Version() (version uint, dirty bool, err error) {
	if err := m.init(); err != nil {
		return 0, false, err
	}
	return m.driver.Version()
}

func (m *Migrator) init() error {
	if m.driver != nil {
		return nil
	}
	driver, err := postgres.WithInstance(m.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("sotstore: create postgres migration driver: %w", err)
	}
	migrator, err := migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s", m.cfg.Path), "postgres", driver)
	if err != nil {
		return fmt.Errorf("sotstore: create migrator: %w", err)
	}
	m.driver = migrator
	return nil
}
