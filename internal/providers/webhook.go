// ABOUTME: Webhook installation against provider plugins
// ABOUTME: Builds the ingest callback URL and manages the tenant webhook API key

package providers

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/beaconhq/beacon-api/internal/secrets"
	"github.com/beaconhq/beacon-api/internal/store"
)

// ErrInvalidAPIKey is returned when a presented ingest key doesn't match.
var ErrInvalidAPIKey = errors.New("invalid api key")

// webhookKeyID is the api_keys key_id used for ingest authentication.
const webhookKeyID = "webhook"

// InstallWebhook asks the provider plugin to register a webhook pointing at
// the ingest endpoint. Returns false when the plugin doesn't support
// webhooks. Extra authentication returned by the plugin is merged back into
// the stored secret.
func (s *Service) InstallWebhook(ctx context.Context, tenantID, providerType, id string) (bool, error) {
	row, err := s.getProvider(ctx, tenantID, id)
	if err != nil {
		return false, err
	}

	config, err := s.readConfig(ctx, row.SecretName)
	if err != nil {
		return false, err
	}

	p, err := s.factory.Construct(ctx, tenantID, id, row.Type, config)
	if err != nil {
		return false, err
	}

	installer, ok := p.(WebhookInstaller)
	if !ok {
		return false, nil
	}

	apiKey, err := s.webhookAPIKey(ctx, tenantID)
	if err != nil {
		return false, err
	}

	callbackURL := fmt.Sprintf("%s/alerts/event/%s?provider_id=%s", s.baseURL, providerType, id)
	extra, err := installer.SetupWebhook(ctx, tenantID, callbackURL, apiKey)
	if err != nil {
		return false, fmt.Errorf("setting up webhook: %w", err)
	}

	if len(extra) > 0 {
		for k, v := range extra {
			config[k] = v
		}
		if err := s.writeConfig(ctx, row.SecretName, config); err != nil {
			return false, fmt.Errorf("merging webhook authentication: %w", err)
		}
	}

	s.logProvider(ctx, tenantID, id, "info", "webhook installed", map[string]any{"callback_url": callbackURL})
	s.logger.Info("installed webhook", "provider_id", id, "tenant", tenantID, "callback_url", callbackURL)
	return true, nil
}

// VerifyWebhookKey checks a presented API key against the tenant's stored
// webhook key hash. A tenant without a minted key rejects every key.
func (s *Service) VerifyWebhookKey(ctx context.Context, tenantID, presented string) error {
	hash, err := s.store.GetAPIKeyHash(ctx, tenantID, webhookKeyID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrInvalidAPIKey
	}
	if err != nil {
		return fmt.Errorf("loading webhook key: %w", err)
	}
	return compareAPIKey(hash, presented)
}

// webhookAPIKey returns the tenant's webhook API key plaintext. The bcrypt
// hash lives in the store for ingest verification; the plaintext is kept in
// the secret manager so it survives restarts, plus an in-process cache.
func (s *Service) webhookAPIKey(ctx context.Context, tenantID string) (string, error) {
	s.keyMu.Lock()
	if key, ok := s.webhookKeys[tenantID]; ok {
		s.keyMu.Unlock()
		return key, nil
	}
	s.keyMu.Unlock()

	secretName := fmt.Sprintf("%s_apikey_%s", tenantID, webhookKeyID)
	key, err := s.secrets.ReadSecret(ctx, secretName)
	if err == nil {
		s.cacheWebhookKey(tenantID, key)
		return key, nil
	}
	if !errors.Is(err, secrets.ErrSecretNotFound) {
		return "", fmt.Errorf("reading webhook key secret: %w", err)
	}

	plaintext, created, err := s.store.GetOrCreateAPIKey(ctx, tenantID, webhookKeyID, "system")
	if err != nil {
		return "", fmt.Errorf("creating webhook key: %w", err)
	}
	if !created {
		// The hash exists but the plaintext is gone; nothing to hand out
		return "", fmt.Errorf("webhook key exists but its plaintext is unavailable for tenant %s", tenantID)
	}

	if err := s.secrets.WriteSecret(ctx, secretName, plaintext); err != nil {
		return "", fmt.Errorf("storing webhook key secret: %w", err)
	}
	s.cacheWebhookKey(tenantID, plaintext)
	return plaintext, nil
}

func (s *Service) cacheWebhookKey(tenantID, key string) {
	s.keyMu.Lock()
	s.webhookKeys[tenantID] = key
	s.keyMu.Unlock()
}

func compareAPIKey(hash, presented string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(presented)); err != nil {
		return ErrInvalidAPIKey
	}
	return nil
}
