// ABOUTME: Secret value rows backing the database secret-manager backend
// ABOUTME: Values arrive already encrypted; this layer only persists them

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// WriteSecretValue inserts or overwrites a secret row.
func (s *SQLiteStore) WriteSecretValue(ctx context.Context, name, value string) error {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO secrets (name, value, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, name, value, now, now)
	if err != nil {
		return fmt.Errorf("writing secret: %w", err)
	}

	s.logger.Debug("wrote secret", "name", name)
	return nil
}

// ReadSecretValue returns a secret row's value.
// Returns ErrNotFound if the secret doesn't exist.
func (s *SQLiteStore) ReadSecretValue(ctx context.Context, name string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return value, nil
}

// DeleteSecretValue removes a secret row.
// Returns ErrNotFound if the secret doesn't exist.
func (s *SQLiteStore) DeleteSecretValue(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting secret: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted secret", "name", name)
	return nil
}
