// Package store persists the appliance record: the selected install disk,
// whether the current configuration has been applied, and the outcome of
// the most recent build. It is a single replace-only row, not a history.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Record is the appliance's persistent state.
type Record struct {
	InstallDisk     string
	ChangesApplied  bool
	LastBuildKind   string
	LastBuildStatus int
	UpdatedAt       time.Time
}

// Store is the SQLite-backed appliance record.
type Store struct {
	db   *sql.DB
	path string
}

// New creates a store for the database at path. Call Init before use.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &Store{path: path}, nil
}

// Init opens the database, enables WAL mode, and runs migrations.
func (s *Store) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping database: %w", err)
	}
	s.db = db

	if err := s.migrate(); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Record reads the current appliance record.
func (s *Store) Record(ctx context.Context) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT install_disk, changes_applied, last_build_kind, last_build_status, updated_at
		FROM appliance WHERE id = 1`)

	var rec Record
	var applied int
	if err := row.Scan(&rec.InstallDisk, &applied, &rec.LastBuildKind, &rec.LastBuildStatus, &rec.UpdatedAt); err != nil {
		return nil, fmt.Errorf("read appliance record: %w", err)
	}
	rec.ChangesApplied = applied != 0
	return &rec, nil
}

// SetInstallDisk records the disk chosen for installation.
func (s *Store) SetInstallDisk(ctx context.Context, path string) error {
	return s.update(ctx, `UPDATE appliance SET install_disk = ?, updated_at = ? WHERE id = 1`, path)
}

// SetChangesApplied records whether the current configuration is live.
func (s *Store) SetChangesApplied(ctx context.Context, applied bool) error {
	v := 0
	if applied {
		v = 1
	}
	return s.update(ctx, `UPDATE appliance SET changes_applied = ?, updated_at = ? WHERE id = 1`, v)
}

// SetLastBuild records the outcome of the most recent build.
func (s *Store) SetLastBuild(ctx context.Context, kind string, status int) error {
	return s.update(ctx, `UPDATE appliance SET last_build_kind = ?, last_build_status = ?, updated_at = ? WHERE id = 1`, kind, status)
}

func (s *Store) update(ctx context.Context, query string, args ...any) error {
	args = append(args, time.Now().UTC())
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update appliance record: %w", err)
	}
	return nil
}
