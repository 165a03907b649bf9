package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// migrationLockKey serializes Up/Down across replicas starting together.
const migrationLockKey = 0x6d75_7475_616c // "mutual"

// Migrator applies {version}_{name}.up.sql / .down.sql files in order,
// one transaction per file, and records each in public.schema_migrations.
type Migrator struct {
	db     *sql.DB
	source fs.FS
	logger zerolog.Logger
}

func NewMigrator(db *sql.DB, migrationsDir string, logger zerolog.Logger) *Migrator {
	return NewMigratorFS(db, os.DirFS(migrationsDir), logger)
}

// NewMigratorFS reads migration files from the root of source.
func NewMigratorFS(db *sql.DB, source fs.FS, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, source: source, logger: logger}
}

// Up applies all pending up-migrations in order.
func (m *Migrator) Up(ctx context.Context) error {
	return m.locked(ctx, func(conn *sql.Conn) error {
		pending, err := m.pending(ctx, conn)
		if err != nil {
			return err
		}
		for _, f := range pending {
			m.logger.Info().Str("file", f).Msg("applying migration")
			err := m.runFile(ctx, conn, f, `INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`,
				extractVersion(f), f)
			if err != nil {
				return err
			}
		}
		if len(pending) > 0 {
			m.logger.Info().Int("applied", len(pending)).Msg("migrations applied")
		}
		return nil
	})
}

// Down rolls back the last applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	return m.locked(ctx, func(conn *sql.Conn) error {
		var version, filename string
		err := conn.QueryRowContext(ctx,
			`SELECT version, filename FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
		).Scan(&version, &filename)
		if errors.Is(err, sql.ErrNoRows) {
			m.logger.Info().Msg("no migrations to roll back")
			return nil
		}
		if err != nil {
			return fmt.Errorf("get latest migration: %w", err)
		}

		downFile := strings.Replace(filename, ".up.sql", ".down.sql", 1)
		if err := m.runFile(ctx, conn, downFile, `DELETE FROM public.schema_migrations WHERE version = $1`, version); err != nil {
			return err
		}
		m.logger.Info().Str("file", downFile).Msg("rolled back migration")
		return nil
	})
}

// Pending lists up-migration files not yet applied.
func (m *Migrator) Pending(ctx context.Context) ([]string, error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err := ensureMigrationTable(ctx, conn); err != nil {
		return nil, err
	}
	return m.pending(ctx, conn)
}

// locked runs fn on one connection holding the migration advisory lock.
func (m *Migrator) locked(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockKey)
	}()

	if err := ensureMigrationTable(ctx, conn); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return fn(conn)
}

// runFile executes one migration file and its bookkeeping statement in a
// single transaction.
func (m *Migrator) runFile(ctx context.Context, conn *sql.Conn, name, bookkeeping string, args ...any) error {
	content, err := fs.ReadFile(m.source, name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec migration %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

func (m *Migrator) pending(ctx context.Context, conn *sql.Conn) ([]string, error) {
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("get applied versions: %w", err)
	}
	files, err := migrationFiles(m.source, ".up.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	var pending []string
	for _, f := range files {
		if !applied[extractVersion(f)] {
			pending = append(pending, f)
		}
	}
	return pending, nil
}

func ensureMigrationTable(ctx context.Context, conn *sql.Conn) error {
	_, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[string]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM public.schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func migrationFiles(source fs.FS, suffix string) ([]string, error) {
	entries, err := fs.ReadDir(source, ".")
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// extractVersion returns the numeric prefix of a migration filename
// ("000002_records.up.sql" is version "000002").
func extractVersion(filename string) string {
	version, _, _ := strings.Cut(filename, "_")
	return version
}
