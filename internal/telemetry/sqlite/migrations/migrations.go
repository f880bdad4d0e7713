package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/salerhq/optrack/internal/log"
)

//go:embed sql/*.sql
var migrationFiles embed.FS

// Migrator applies the embedded schema migrations to the SQLite error
// archive.
type Migrator struct {
	db     *sql.DB
	logger log.Logger
}

// NewMigrator returns a migrator bound to an open archive handle.
func NewMigrator(db *sql.DB, logger log.Logger) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = log.Noop
	}

	return &Migrator{
		db:     db,
		logger: logger,
	}, nil
}

// Up brings the archive schema to the newest embedded version. Running on an
// already current archive is a no-op.
func (m *Migrator) Up(ctx context.Context) error {
	inst, cleanup, err := m.newMigrate()
	if err != nil {
		return err
	}
	defer cleanup()

	err = inst.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	m.logger.Debugf("Error archive schema is current")
	return nil
}

// Version reports the schema version the archive is at and whether a
// migration was left half applied. A fresh archive reports version 0.
func (m *Migrator) Version(ctx context.Context) (version uint, dirty bool, err error) {
	inst, cleanup, err := m.newMigrate()
	if err != nil {
		return 0, false, err
	}
	defer cleanup()

	version, dirty, err = inst.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("could not get schema version: %w", err)
	}

	return version, dirty, nil
}

// Latest returns the newest schema version shipped with the binary, derived
// from the embedded migration file names.
func Latest() (uint, error) {
	entries, err := migrationFiles.ReadDir("sql")
	if err != nil {
		return 0, fmt.Errorf("could not read migrations: %w", err)
	}

	var latest uint
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		idx := strings.IndexByte(name, '_')
		if idx < 0 {
			continue
		}
		v, err := strconv.ParseUint(name[:idx], 10, 32)
		if err != nil {
			return 0, fmt.Errorf("unexpected migration name %q: %w", name, err)
		}
		if uint(v) > latest {
			latest = uint(v)
		}
	}

	return latest, nil
}

// newMigrate assembles a migrate instance over the embedded SQL files. The
// returned cleanup closes the migration source, not the archive handle.
func (m *Migrator) newMigrate() (*migrate.Migrate, func(), error) {
	src, err := iofs.New(migrationFiles, "sql")
	if err != nil {
		return nil, nil, fmt.Errorf("could not load embedded migrations: %w", err)
	}
	cleanup := func() {
		if err := src.Close(); err != nil {
			m.logger.Errorf("could not close migration source: %s", err)
		}
	}

	driver, err := sqlite3.WithInstance(m.db, &sqlite3.Config{})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("could not create sqlite driver: %w", err)
	}

	inst, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("could not create migration instance: %w", err)
	}

	return inst, cleanup, nil
}
