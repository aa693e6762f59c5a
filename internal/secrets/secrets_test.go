// ABOUTME: Tests for the secret manager backends and AES-GCM cipher
// ABOUTME: Covers round trips, missing secrets, and key validation

package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconhq/beacon-api/internal/config"
	"github.com/beaconhq/beacon-api/internal/store"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(key)
}

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher(testKey(t))
	require.NoError(t, err)

	encrypted, err := c.Encrypt(`{"api_key":"hunter2"}`)
	require.NoError(t, err)
	assert.NotContains(t, encrypted, "hunter2")

	plaintext, err := c.Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, `{"api_key":"hunter2"}`, plaintext)
}

func TestCipher_WrongKey(t *testing.T) {
	c1, err := NewCipher(testKey(t))
	require.NoError(t, err)
	c2, err := NewCipher(testKey(t))
	require.NoError(t, err)

	encrypted, err := c1.Encrypt("secret")
	require.NoError(t, err)

	_, err = c2.Decrypt(encrypted)
	assert.Error(t, err)
}

func TestCipher_InvalidKeyLength(t *testing.T) {
	_, err := NewCipher(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
}

func TestCipher_DevFallback(t *testing.T) {
	t.Setenv("BEACON_SECRETS_KEY", "")
	c, err := NewCipher("")
	require.NoError(t, err)

	encrypted, err := c.Encrypt("value")
	require.NoError(t, err)
	plaintext, err := c.Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "value", plaintext)
}

func TestFileManager_RoundTrip(t *testing.T) {
	cipher, err := NewCipher(testKey(t))
	require.NoError(t, err)
	m, err := NewFileManager(t.TempDir(), cipher)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.WriteSecret(ctx, "acme_pagerduty_abc", `{"token":"t"}`))

	value, err := m.ReadSecret(ctx, "acme_pagerduty_abc")
	require.NoError(t, err)
	assert.Equal(t, `{"token":"t"}`, value)

	require.NoError(t, m.DeleteSecret(ctx, "acme_pagerduty_abc"))
	_, err = m.ReadSecret(ctx, "acme_pagerduty_abc")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestFileManager_EncryptedOnDisk(t *testing.T) {
	dir := t.TempDir()
	cipher, err := NewCipher(testKey(t))
	require.NoError(t, err)
	m, err := NewFileManager(dir, cipher)
	require.NoError(t, err)

	require.NoError(t, m.WriteSecret(context.Background(), "name", `{"token":"hunter2"}`))

	raw, err := os.ReadFile(filepath.Join(dir, "name.secret"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")
}

func TestFileManager_RejectsPathEscapes(t *testing.T) {
	cipher, err := NewCipher(testKey(t))
	require.NoError(t, err)
	m, err := NewFileManager(t.TempDir(), cipher)
	require.NoError(t, err)

	assert.Error(t, m.WriteSecret(context.Background(), "../escape", "v"))
	assert.Error(t, m.WriteSecret(context.Background(), "a/b", "v"))
}

func TestDBManager_RoundTrip(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer s.Close()

	cipher, err := NewCipher(testKey(t))
	require.NoError(t, err)
	m := NewDBManager(s, cipher)
	ctx := context.Background()

	require.NoError(t, m.WriteSecret(ctx, "acme_slack_xyz", `{"webhook_url":"https://example.test"}`))

	value, err := m.ReadSecret(ctx, "acme_slack_xyz")
	require.NoError(t, err)
	assert.Equal(t, `{"webhook_url":"https://example.test"}`, value)

	require.NoError(t, m.DeleteSecret(ctx, "acme_slack_xyz"))
	assert.ErrorIs(t, m.DeleteSecret(ctx, "acme_slack_xyz"), ErrSecretNotFound)
}

func TestNewManager_SelectsBackend(t *testing.T) {
	key := testKey(t)

	fileMgr, err := NewManager(config.SecretsConfig{Backend: "file", Directory: t.TempDir(), EncryptionKey: key}, nil)
	require.NoError(t, err)
	assert.IsType(t, (*FileManager)(nil), fileMgr)

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer s.Close()

	dbMgr, err := NewManager(config.SecretsConfig{Backend: "db", EncryptionKey: key}, s)
	require.NoError(t, err)
	assert.IsType(t, (*DBManager)(nil), dbMgr)

	_, err = NewManager(config.SecretsConfig{Backend: "vault", EncryptionKey: key}, nil)
	assert.Error(t, err)
}
