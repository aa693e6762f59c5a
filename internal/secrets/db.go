// ABOUTME: Database-backed secret manager using the store's secrets table
// ABOUTME: Encrypts values before handing them to the store

package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/beaconhq/beacon-api/internal/store"
)

// DBManager persists encrypted secrets through a ValueStore.
type DBManager struct {
	store  ValueStore
	cipher *Cipher
	logger *slog.Logger
}

// NewDBManager creates a database-backed secret manager.
func NewDBManager(store ValueStore, cipher *Cipher) *DBManager {
	return &DBManager{
		store:  store,
		cipher: cipher,
		logger: slog.Default().With("component", "secrets", "backend", "db"),
	}
}

// ReadSecret returns the decrypted secret value.
func (m *DBManager) ReadSecret(ctx context.Context, name string) (string, error) {
	encrypted, err := m.store.ReadSecretValue(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrSecretNotFound
		}
		return "", err
	}
	value, err := m.cipher.Decrypt(encrypted)
	if err != nil {
		return "", fmt.Errorf("decrypting secret %s: %w", name, err)
	}
	return value, nil
}

// WriteSecret encrypts and stores the secret value.
func (m *DBManager) WriteSecret(ctx context.Context, name, value string) error {
	encrypted, err := m.cipher.Encrypt(value)
	if err != nil {
		return fmt.Errorf("encrypting secret %s: %w", name, err)
	}
	return m.store.WriteSecretValue(ctx, name, encrypted)
}

// DeleteSecret removes the secret row.
func (m *DBManager) DeleteSecret(ctx context.Context, name string) error {
	err := m.store.DeleteSecretValue(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return ErrSecretNotFound
	}
	return err
}

var _ Manager = (*DBManager)(nil)
