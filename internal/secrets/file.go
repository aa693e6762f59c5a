// ABOUTME: File-backed secret manager storing one encrypted file per secret
// ABOUTME: Secret names map directly to files under the configured directory

package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FileManager stores each secret as an encrypted file under a directory.
type FileManager struct {
	dir    string
	cipher *Cipher
	logger *slog.Logger
}

// NewFileManager creates the secrets directory if needed.
func NewFileManager(dir string, cipher *Cipher) (*FileManager, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating secrets directory: %w", err)
	}
	return &FileManager{
		dir:    dir,
		cipher: cipher,
		logger: slog.Default().With("component", "secrets", "backend", "file"),
	}, nil
}

// ReadSecret returns the decrypted secret value.
func (m *FileManager) ReadSecret(ctx context.Context, name string) (string, error) {
	path, err := m.secretPath(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", ErrSecretNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading secret file: %w", err)
	}
	value, err := m.cipher.Decrypt(string(data))
	if err != nil {
		return "", fmt.Errorf("decrypting secret %s: %w", name, err)
	}
	return value, nil
}

// WriteSecret encrypts and stores the secret value.
func (m *FileManager) WriteSecret(ctx context.Context, name, value string) error {
	path, err := m.secretPath(name)
	if err != nil {
		return err
	}
	encrypted, err := m.cipher.Encrypt(value)
	if err != nil {
		return fmt.Errorf("encrypting secret %s: %w", name, err)
	}
	if err := os.WriteFile(path, []byte(encrypted), 0600); err != nil {
		return fmt.Errorf("writing secret file: %w", err)
	}
	m.logger.Debug("wrote secret", "name", name)
	return nil
}

// DeleteSecret removes the secret file.
func (m *FileManager) DeleteSecret(ctx context.Context, name string) error {
	path, err := m.secretPath(name)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return ErrSecretNotFound
	}
	if err != nil {
		return fmt.Errorf("deleting secret file: %w", err)
	}
	m.logger.Debug("deleted secret", "name", name)
	return nil
}

// secretPath rejects names that would escape the secrets directory.
func (m *FileManager) secretPath(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid secret name %q", name)
	}
	return filepath.Join(m.dir, name+".secret"), nil
}

var _ Manager = (*FileManager)(nil)
