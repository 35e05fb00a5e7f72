// Package db provides database schema migration management.
package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	AppliedAt   time.Time
	Description string
	Checksum    string
}

// schemaMigration couples a version with its SQL. Migrations are compiled
// in rather than shipped as files; a desktop client cannot rely on a
// migrations directory surviving next to the binary.
type schemaMigration struct {
	version     int
	description string
	upSQL       string
	downSQL     string
}

// migrations lists every schema change in order. Append only; released
// versions are immutable because the checksum is recorded on apply.
var migrations = []schemaMigration{
	{
		version:     1,
		description: "initial_schema",
		upSQL: `
		CREATE TABLE IF NOT EXISTS notes (
			id TEXT PRIMARY KEY,
			folder_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			tag TEXT NOT NULL DEFAULT '',
			is_deleted INTEGER NOT NULL DEFAULT 0,
			local_save_ts INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_notes_folder ON notes(folder_id, is_deleted);

		CREATE TABLE IF NOT EXISTS folders (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			tag TEXT NOT NULL DEFAULT '',
			is_deleted INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS operations (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			is_local_id INTEGER NOT NULL DEFAULT 0,
			payload TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			priority INTEGER NOT NULL DEFAULT 0,
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			error_kind TEXT NOT NULL DEFAULT '',
			next_retry_at INTEGER NOT NULL DEFAULT 0,
			local_save_ts INTEGER NOT NULL DEFAULT 0,
			seq INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_operations_entity ON operations(entity_id);
		CREATE INDEX IF NOT EXISTS idx_operations_status ON operations(status);

		CREATE TABLE IF NOT EXISTS operation_history (
			id TEXT PRIMARY KEY,
			operation_id TEXT NOT NULL,
			type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			completed_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_history_completed ON operation_history(completed_at DESC);

		CREATE TABLE IF NOT EXISTS id_mappings (
			local_id TEXT PRIMARY KEY,
			server_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_mappings_server ON id_mappings(server_id);

		CREATE TABLE IF NOT EXISTS conflict_log (
			id TEXT PRIMARY KEY,
			entity_id TEXT NOT NULL,
			local_tag TEXT NOT NULL DEFAULT '',
			server_tag TEXT NOT NULL DEFAULT '',
			resolution TEXT NOT NULL,
			detected_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sync_accounts (
			id TEXT PRIMARY KEY,
			service_url TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			device_id TEXT NOT NULL DEFAULT '',
			auth_token_encrypted TEXT NOT NULL DEFAULT '',
			is_enabled INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		`,
		downSQL: `
		DROP TABLE IF EXISTS sync_accounts;
		DROP TABLE IF EXISTS conflict_log;
		DROP TABLE IF EXISTS id_mappings;
		DROP TABLE IF EXISTS operation_history;
		DROP TABLE IF EXISTS operations;
		DROP TABLE IF EXISTS folders;
		DROP TABLE IF EXISTS notes;
		`,
	},
}

// Migrator handles database schema migrations.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// GetAppliedMigrations returns all applied migrations.
func (m *Migrator) GetAppliedMigrations() ([]Migration, error) {
	rows, err := m.db.Query("SELECT version, applied_at, description, checksum FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []Migration
	for rows.Next() {
		var mig Migration
		var appliedAt int64
		err := rows.Scan(&mig.Version, &appliedAt, &mig.Description, &mig.Checksum)
		if err != nil {
			return nil, err
		}
		mig.AppliedAt = time.Unix(appliedAt, 0)
		applied = append(applied, mig)
	}
	return applied, rows.Err()
}

// Up applies all pending migrations.
func (m *Migrator) Up() error {
	if err := m.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize migrations table: %w", err)
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	appliedVersions := make(map[int]bool)
	for _, mig := range applied {
		appliedVersions[mig.Version] = true
	}

	for _, mig := range migrations {
		if appliedVersions[mig.version] {
			continue // Already applied
		}
		if err := m.applyMigration(mig); err != nil {
			return fmt.Errorf("failed to apply migration V%d: %w", mig.version, err)
		}
	}

	return nil
}

// applyMigration applies a single migration inside a transaction.
func (m *Migrator) applyMigration(mig schemaMigration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(mig.upSQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	// Record migration with a content checksum
	hash := sha256.Sum256([]byte(mig.upSQL))
	checksum := hex.EncodeToString(hash[:])
	query := `INSERT INTO schema_migrations (version, applied_at, description, checksum)
			  VALUES (?, ?, ?, ?)`
	if _, err := tx.Exec(query, mig.version, time.Now().Unix(), mig.description, checksum); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

// Down rolls back the last migration.
func (m *Migrator) Down() error {
	current, err := m.CurrentVersion()
	if err != nil {
		return err
	}
	if current == 0 {
		return fmt.Errorf("no migrations to rollback")
	}

	var target *schemaMigration
	for i := range migrations {
		if migrations[i].version == current {
			target = &migrations[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("no rollback defined for version %d", current)
	}

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(target.downSQL); err != nil {
		return fmt.Errorf("failed to execute rollback SQL: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM schema_migrations WHERE version = ?", current); err != nil {
		return fmt.Errorf("failed to remove migration record: %w", err)
	}

	return tx.Commit()
}
