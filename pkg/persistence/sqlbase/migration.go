// Package sqlbase provides the schema migrations shared by SQL stores.
package sqlbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// migrationLockID keys the advisory lock that serializes workers migrating the
// same database at startup.
const migrationLockID = 7264930451

// Migration is one numbered schema step.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationManager applies pending migrations in version order, each in its own
// transaction.
type MigrationManager struct {
	db         *sql.DB
	logger     *slog.Logger
	migrations []Migration
}

func NewMigrationManager(logger *slog.Logger, db *sql.DB, migrations []Migration) *MigrationManager {
	sorted := slices.Clone(migrations)
	slices.SortFunc(sorted, func(a, b Migration) int { return a.Version - b.Version })

	return &MigrationManager{
		db:         db,
		logger:     logger.With("module", "migrations"),
		migrations: sorted,
	}
}

// Latest returns the highest known version, 0 without migrations.
func (m *MigrationManager) Latest() int {
	if len(m.migrations) == 0 {
		return 0
	}

	return m.migrations[len(m.migrations)-1].Version
}

// RunMigrations brings the schema to the latest version.
func (m *MigrationManager) RunMigrations(ctx context.Context) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrationLockID)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}

	defer func() {
		_, err := conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockID)
		if err != nil {
			m.logger.WarnContext(ctx, "Failed to release migration lock", "error", err)
		}
	}()

	_, err = conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name VARCHAR(255) NOT NULL DEFAULT '',
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var current int

	err = conn.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to query current schema version: %w", err)
	}

	if current > m.Latest() {
		return fmt.Errorf("schema version %d is newer than the latest known migration %d", current, m.Latest())
	}

	for _, migration := range m.migrations {
		if migration.Version <= current {
			continue
		}

		err := m.apply(ctx, conn, migration)
		if err != nil {
			return err
		}
	}

	m.logger.InfoContext(ctx, "Schema is up to date", "version", m.Latest(), "previous_version", current)

	return nil
}

func (m *MigrationManager) apply(ctx context.Context, conn *sql.Conn, migration Migration) error {
	m.logger.InfoContext(ctx, "Applying migration", "version", migration.Version, "name", migration.Name)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", migration.Version, err)
	}

	_, err = tx.ExecContext(ctx, migration.SQL)
	if err == nil {
		_, err = tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", migration.Version, migration.Name)
	}

	if err != nil {
		return errors.Join(fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err), tx.Rollback())
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}

	return nil
}
