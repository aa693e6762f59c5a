// ABOUTME: Secret manager abstraction for provider credentials
// ABOUTME: Backends store AES-GCM encrypted values keyed by secret name

package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/beaconhq/beacon-api/internal/config"
)

// ErrSecretNotFound is returned when a named secret doesn't exist.
var ErrSecretNotFound = errors.New("secret not found")

// Manager reads and writes named secrets. Values are opaque strings
// (typically JSON provider configuration) encrypted at rest.
type Manager interface {
	ReadSecret(ctx context.Context, name string) (string, error)
	WriteSecret(ctx context.Context, name, value string) error
	DeleteSecret(ctx context.Context, name string) error
}

// ValueStore is the persistence surface the database backend needs.
// Implemented by store.SQLiteStore.
type ValueStore interface {
	ReadSecretValue(ctx context.Context, name string) (string, error)
	WriteSecretValue(ctx context.Context, name, value string) error
	DeleteSecretValue(ctx context.Context, name string) error
}

// NewManager builds the secret manager selected by the configuration.
func NewManager(cfg config.SecretsConfig, store ValueStore) (Manager, error) {
	cipher, err := NewCipher(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("initializing secret cipher: %w", err)
	}

	switch cfg.Backend {
	case "file":
		return NewFileManager(cfg.Directory, cipher)
	case "db":
		if store == nil {
			return nil, fmt.Errorf("db secrets backend requires a store")
		}
		return NewDBManager(store, cipher), nil
	default:
		return nil, fmt.Errorf("unknown secrets backend %q", cfg.Backend)
	}
}
