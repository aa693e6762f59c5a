// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Handles schema creation, idempotent column migrations, and connection lifecycle

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id            TEXT PRIMARY KEY,
			tenant_id     TEXT NOT NULL,
			user_email    TEXT NOT NULL,
			title         TEXT,
			context_json  TEXT,
			metadata_json TEXT,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_tenant_user
			ON conversations(tenant_id, user_email, updated_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			metadata_json   TEXT,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL,

			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE,
			CHECK (role IN ('user', 'assistant', 'system'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS providers (
			id              TEXT PRIMARY KEY,
			tenant_id       TEXT NOT NULL,
			name            TEXT NOT NULL,
			type            TEXT NOT NULL,
			installed_by    TEXT NOT NULL,
			installed_at    TEXT NOT NULL,
			secret_name     TEXT NOT NULL,
			scopes_json     TEXT,
			consumer        INTEGER NOT NULL DEFAULT 0,
			provisioned     INTEGER NOT NULL DEFAULT 0,
			pulling_enabled INTEGER NOT NULL DEFAULT 1,

			UNIQUE (tenant_id, name)
		);

		CREATE INDEX IF NOT EXISTS idx_providers_tenant ON providers(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_providers_provisioned ON providers(tenant_id, provisioned);

		CREATE TABLE IF NOT EXISTS dedup_rules (
			id                       TEXT PRIMARY KEY,
			tenant_id                TEXT NOT NULL,
			name                     TEXT NOT NULL,
			provider_id              TEXT NOT NULL,
			provider_type            TEXT NOT NULL,
			description              TEXT,
			fields_json              TEXT,
			fingerprint_fields_json  TEXT,
			full_deduplication       INTEGER NOT NULL DEFAULT 0,
			created_at               TEXT NOT NULL,
			updated_at               TEXT NOT NULL,

			UNIQUE (tenant_id, name)
		);

		CREATE INDEX IF NOT EXISTS idx_dedup_rules_provider ON dedup_rules(tenant_id, provider_id);

		CREATE TABLE IF NOT EXISTS provider_logs (
			id           TEXT PRIMARY KEY,
			tenant_id    TEXT NOT NULL,
			provider_id  TEXT NOT NULL,
			timestamp    TEXT NOT NULL,
			level        TEXT NOT NULL,
			message      TEXT NOT NULL,
			context_json TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_provider_logs_provider
			ON provider_logs(tenant_id, provider_id, timestamp DESC);

		CREATE TABLE IF NOT EXISTS api_keys (
			tenant_id  TEXT NOT NULL,
			key_id     TEXT NOT NULL,
			key_hash   TEXT NOT NULL,
			created_by TEXT NOT NULL,
			created_at TEXT NOT NULL,

			PRIMARY KEY (tenant_id, key_id)
		);

		CREATE TABLE IF NOT EXISTS secrets (
			name       TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "providers",
			column: "pulling_enabled",
			apply:  `ALTER TABLE providers ADD COLUMN pulling_enabled INTEGER NOT NULL DEFAULT 1`,
		},
		{
			table:  "conversations",
			column: "context_json",
			apply:  `ALTER TABLE conversations ADD COLUMN context_json TEXT`,
		},
		{
			table:  "dedup_rules",
			column: "full_deduplication",
			apply:  `ALTER TABLE dedup_rules ADD COLUMN full_deduplication INTEGER NOT NULL DEFAULT 0`,
		},
	}

	for _, m := range migrations {
		var exists int
		check := fmt.Sprintf(`SELECT 1 FROM pragma_table_info('%s') WHERE name = ?`, m.table)
		err := s.db.QueryRow(check, m.column).Scan(&exists)
		if err == nil {
			// Column already exists, skip
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Ping verifies the database connection is alive
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
