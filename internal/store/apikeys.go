// ABOUTME: Tenant API key persistence with bcrypt-hashed keys at rest
// ABOUTME: Plaintext is only returned on creation; callers cache it in-process

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// GetOrCreateAPIKey returns a freshly minted API key for the tenant/keyID
// pair, creating and storing its bcrypt hash if none exists. The plaintext is
// only available when created is true; existing keys return an empty
// plaintext since only the hash is stored.
func (s *SQLiteStore) GetOrCreateAPIKey(ctx context.Context, tenantID, keyID, createdBy string) (string, bool, error) {
	var existing string
	err := s.db.QueryRowContext(ctx, `
		SELECT key_hash FROM api_keys WHERE tenant_id = ? AND key_id = ?
	`, tenantID, keyID).Scan(&existing)
	if err == nil {
		return "", false, nil
	}
	if err != sql.ErrNoRows {
		return "", false, fmt.Errorf("querying api key: %w", err)
	}

	plaintext := uuid.New().String()
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", false, fmt.Errorf("hashing api key: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_keys (tenant_id, key_id, key_hash, created_by, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, tenantID, keyID, string(hash), createdBy, formatTime(time.Now()))
	if err != nil {
		// Lost a race with a concurrent creator; treat as existing
		if isConstraintViolation(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("inserting api key: %w", err)
	}

	s.logger.Info("created api key", "tenant", tenantID, "key_id", keyID, "created_by", createdBy)
	return plaintext, true, nil
}

// GetAPIKeyHash returns the stored bcrypt hash for a tenant's key.
// Returns ErrNotFound if no key exists.
func (s *SQLiteStore) GetAPIKeyHash(ctx context.Context, tenantID, keyID string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT key_hash FROM api_keys WHERE tenant_id = ? AND key_id = ?
	`, tenantID, keyID).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying api key hash: %w", err)
	}
	return hash, nil
}
