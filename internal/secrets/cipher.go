// ABOUTME: AES-GCM encryption for secret values at rest
// ABOUTME: Ciphertext is nonce-prefixed and base64-packed

package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const encryptionKeyEnv = "BEACON_SECRETS_KEY"

// Cipher encrypts and decrypts secret values with AES-256-GCM.
type Cipher struct {
	key []byte
}

// NewCipher builds a cipher from a base64-encoded 32-byte key. When the key
// is empty it falls back to the BEACON_SECRETS_KEY environment variable, and
// failing that derives a fixed development key.
func NewCipher(encodedKey string) (*Cipher, error) {
	raw := strings.TrimSpace(encodedKey)
	if raw == "" {
		raw = strings.TrimSpace(os.Getenv(encryptionKeyEnv))
	}
	if raw == "" {
		sum := sha256.Sum256([]byte("beacon-dev-secrets"))
		return &Cipher{key: sum[:]}, nil
	}

	key, err := decodeBase64(raw)
	if err != nil {
		return nil, fmt.Errorf("encryption key must be base64-encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must decode to 32 bytes, got %d", len(key))
	}
	return &Cipher{key: key}, nil
}

// Encrypt seals the plaintext and returns base64(nonce || ciphertext).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.RawStdEncoding.EncodeToString(append(nonce, sealed...)), nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	packed, err := decodeBase64(strings.TrimSpace(encoded))
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(packed) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce := packed[:gcm.NonceSize()]
	plaintext, err := gcm.Open(nil, nonce, packed[gcm.NonceSize():], nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func decodeBase64(input string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(input)
	if err == nil {
		return decoded, nil
	}
	return base64.RawStdEncoding.DecodeString(input)
}
