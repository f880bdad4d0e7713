// Package sqlite implements the error event archive on SQLite so captured
// errors survive process restarts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/salerhq/optrack/internal/log"
	"github.com/salerhq/optrack/internal/model"
	"github.com/salerhq/optrack/internal/telemetry"
	"github.com/salerhq/optrack/internal/telemetry/sqlite/migrations"
)

// dsnPragmas enables foreign keys and WAL so readers (status, errors) can
// inspect the archive while a run is still writing to it.
const dsnPragmas = "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"

// RepositoryConfig is the configuration for the SQLite error archive.
type RepositoryConfig struct {
	Path   string
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Path == "" {
		return fmt.Errorf("archive path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "telemetry.SQLite"})
	return nil
}

// Repository is a SQLite implementation of telemetry.Store.
type Repository struct {
	db       *sql.DB
	migrator *migrations.Migrator
	// Serializes upserts so a concurrent capture of a new fingerprint cannot
	// race the select.
	upsertMu sync.Mutex
	logger   log.Logger
}

// NewRepository opens (creating if needed) the archive file at cfg.Path,
// brings its schema up to date and returns the ready repository.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("could not create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path+"?"+dsnPragmas)
	if err != nil {
		return nil, fmt.Errorf("could not open archive: %w", err)
	}

	migrator, err := migrations.NewMigrator(db, cfg.Logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create migrator: %w", err)
	}
	if err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	cfg.Logger.Debugf("SQLite error archive ready at %s", cfg.Path)

	return &Repository{db: db, migrator: migrator, logger: cfg.Logger}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error { return r.db.Close() }

// SchemaVersion returns the migration version of the archive schema and
// whether a migration was left half applied.
func (r *Repository) SchemaVersion(ctx context.Context) (version uint, dirty bool, err error) {
	return r.migrator.Version(ctx)
}

// Upsert archives a new occurrence, folding it into the existing event with
// the same fingerprint when there is one.
func (r *Repository) Upsert(ctx context.Context, event model.ErrorEvent) (*model.ErrorEvent, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	r.upsertMu.Lock()
	defer r.upsertMu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // Rollback is safe to call after Commit

	query := `
		SELECT
			id, fingerprint, kind, source, severity, message,
			component_path, count, first_seen_at, last_seen_at, resolved
		FROM error_events
		WHERE fingerprint = ?
	`

	existing, err := r.scanRow(tx.QueryRowContext(ctx, query, event.Fingerprint))
	switch {
	case err == nil:
		merged := telemetry.MergeOccurrence(existing, event)
		if err := r.update(ctx, tx, merged); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("could not commit transaction: %w", err)
		}

		r.logger.Debugf("Merged error occurrence into event %s (count %d)", merged.ID, merged.Count)
		return &merged, nil

	case errors.Is(err, sql.ErrNoRows):
		if err := r.insert(ctx, tx, event); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("could not commit transaction: %w", err)
		}

		r.logger.Debugf("Archived error event: %s", event.ID)
		return &event, nil

	default:
		return nil, fmt.Errorf("could not query event: %w", err)
	}
}

// Get retrieves an event by ID.
func (r *Repository) Get(ctx context.Context, id string) (*model.ErrorEvent, error) {
	query := `
		SELECT
			id, fingerprint, kind, source, severity, message,
			component_path, count, first_seen_at, last_seen_at, resolved
		FROM error_events
		WHERE id = ?
	`

	event, err := r.scanRow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("error event %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query event: %w", err)
	}

	return &event, nil
}

// List returns all archived events, most recently seen first.
func (r *Repository) List(ctx context.Context) ([]model.ErrorEvent, error) {
	query := `
		SELECT
			id, fingerprint, kind, source, severity, message,
			component_path, count, first_seen_at, last_seen_at, resolved
		FROM error_events
		ORDER BY last_seen_at DESC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("could not query events: %w", err)
	}
	defer rows.Close()

	var events []model.ErrorEvent
	for rows.Next() {
		event, err := r.scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return events, nil
}

// Resolve marks an event as resolved.
func (r *Repository) Resolve(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE error_events SET resolved = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("could not update event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("error event %s: %w", id, model.ErrNotFound)
	}

	r.logger.Debugf("Resolved error event: %s", id)
	return nil
}

// Purge removes events last seen before the cutoff.
func (r *Repository) Purge(ctx context.Context, before time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM error_events WHERE last_seen_at < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("could not delete events: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("could not get rows affected: %w", err)
	}

	r.logger.Debugf("Purged %d error events", rows)
	return int(rows), nil
}

func (r *Repository) insert(ctx context.Context, tx *sql.Tx, event model.ErrorEvent) error {
	query := `
		INSERT INTO error_events (
			id, fingerprint, kind, source, severity, message,
			component_path, count, first_seen_at, last_seen_at, resolved
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := tx.ExecContext(
		ctx,
		query,
		event.ID,
		event.Fingerprint,
		event.Kind,
		event.Source,
		event.Severity,
		event.Message,
		event.ComponentPath,
		event.Count,
		event.FirstSeenAt.Unix(),
		event.LastSeenAt.Unix(),
		event.Resolved,
	)
	if err != nil {
		return fmt.Errorf("could not insert event: %w", err)
	}

	return nil
}

func (r *Repository) update(ctx context.Context, tx *sql.Tx, event model.ErrorEvent) error {
	query := `
		UPDATE error_events
		SET
			kind = ?,
			source = ?,
			severity = ?,
			message = ?,
			component_path = ?,
			count = ?,
			first_seen_at = ?,
			last_seen_at = ?,
			resolved = ?
		WHERE id = ?
	`

	result, err := tx.ExecContext(
		ctx,
		query,
		event.Kind,
		event.Source,
		event.Severity,
		event.Message,
		event.ComponentPath,
		event.Count,
		event.FirstSeenAt.Unix(),
		event.LastSeenAt.Unix(),
		event.Resolved,
		event.ID,
	)
	if err != nil {
		return fmt.Errorf("could not update event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("error event %s: %w", event.ID, model.ErrNotFound)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanRow(s scanner) (model.ErrorEvent, error) {
	var event model.ErrorEvent
	var firstSeenAt, lastSeenAt int64

	err := s.Scan(
		&event.ID,
		&event.Fingerprint,
		&event.Kind,
		&event.Source,
		&event.Severity,
		&event.Message,
		&event.ComponentPath,
		&event.Count,
		&firstSeenAt,
		&lastSeenAt,
		&event.Resolved,
	)
	if err != nil {
		return model.ErrorEvent{}, err
	}

	event.FirstSeenAt = timeFromUnix(firstSeenAt)
	event.LastSeenAt = timeFromUnix(lastSeenAt)

	return event, nil
}

func timeFromUnix(unix int64) time.Time { return time.Unix(unix, 0).UTC() }
