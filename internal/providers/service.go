// ABOUTME: Provider service: install, update, delete, and scope validation
// ABOUTME: Coordinates the factory, secret manager, event subscriber, and store

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beaconhq/beacon-api/internal/events"
	"github.com/beaconhq/beacon-api/internal/metrics"
	"github.com/beaconhq/beacon-api/internal/secrets"
	"github.com/beaconhq/beacon-api/internal/store"
)

// Service orchestrates provider installation and lifecycle.
type Service struct {
	store      store.Store
	secrets    secrets.Manager
	factory    *Factory
	subscriber *events.Subscriber
	logger     *slog.Logger

	// baseURL is the externally reachable API URL used for webhook callbacks.
	baseURL   string
	storeLogs bool

	keyMu       sync.Mutex
	webhookKeys map[string]string
}

// NewService creates a provider service.
func NewService(st store.Store, sm secrets.Manager, factory *Factory, subscriber *events.Subscriber, baseURL string, storeLogs bool) *Service {
	return &Service{
		store:       st,
		secrets:     sm,
		factory:     factory,
		subscriber:  subscriber,
		logger:      slog.Default().With("component", "providers"),
		baseURL:     baseURL,
		storeLogs:   storeLogs,
		webhookKeys: make(map[string]string),
	}
}

// InstallOptions tweaks installation behavior for provisioning.
type InstallOptions struct {
	// Provisioned marks the provider as managed by provisioning.
	Provisioned bool

	// SkipValidation skips the mandatory-scope check (provisioning trusts
	// its sources).
	SkipValidation bool
}

// AvailableProviderTypes lists the registered provider types.
func (s *Service) AvailableProviderTypes() []string {
	return s.factory.Types()
}

// ListProviders returns the tenant's installed providers.
func (s *Service) ListProviders(ctx context.Context, tenantID string) ([]*store.Provider, error) {
	return s.store.ListProviders(ctx, tenantID)
}

// IsProviderInstalled reports whether the tenant has a provider by name.
func (s *Service) IsProviderInstalled(ctx context.Context, tenantID, name string) (bool, error) {
	_, err := s.store.GetProviderByName(ctx, tenantID, name)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InstallProvider validates the configuration, stores the secret, inserts
// the provider row, and registers its consumer when it has one. An empty id
// gets a fresh UUID. Consumer registration failures are logged, not fatal.
func (s *Service) InstallProvider(ctx context.Context, tenantID, installedBy, id, name, providerType string, config Config, opts InstallOptions) (*store.Provider, error) {
	if id == "" {
		id = uuid.New().String()
	}

	p, err := s.factory.Construct(ctx, tenantID, id, providerType, config)
	if err != nil {
		return nil, err
	}

	var validated map[string]any
	if !opts.SkipValidation {
		validated, err = s.validateScopes(ctx, p, true)
		if err != nil {
			return nil, err
		}
	}

	pulling, err := PullingEnabled(config)
	if err != nil {
		return nil, err
	}

	secretName := secretNameFor(tenantID, providerType, id)
	if err := s.writeConfig(ctx, secretName, config); err != nil {
		return nil, err
	}

	_, isConsumer := p.(Consumer)
	row := &store.Provider{
		ID:              id,
		TenantID:        tenantID,
		Name:            name,
		Type:            providerType,
		InstalledBy:     installedBy,
		InstalledAt:     time.Now().UTC(),
		SecretName:      secretName,
		ValidatedScopes: validated,
		Consumer:        isConsumer,
		Provisioned:     opts.Provisioned,
		PullingEnabled:  pulling,
	}

	if err := s.store.CreateProvider(ctx, row); err != nil {
		if delErr := s.secrets.DeleteSecret(ctx, secretName); delErr != nil {
			s.logger.Error("cleaning up secret after failed install", "secret", secretName, "error", delErr)
		}
		if errors.Is(err, store.ErrDuplicateProvider) {
			return nil, err
		}
		return nil, fmt.Errorf("persisting provider: %w", err)
	}

	if isConsumer && pulling {
		if err := s.subscriber.AddConsumer(id, p.(Consumer)); err != nil {
			s.logger.Error("registering consumer failed", "provider_id", id, "error", err)
		}
	}

	metrics.ProviderOperations.WithLabelValues("install", providerType).Inc()
	s.logProvider(ctx, tenantID, id, "info", "provider installed", map[string]any{"type": providerType, "installed_by": installedBy})
	s.logger.Info("installed provider", "id", id, "tenant", tenantID, "type", providerType, "name", name)
	return row, nil
}

// UpdateProvider replaces a provider's configuration and records who changed
// it. Provisioned providers are only updatable when allowProvisioned is set.
// The running consumer is started or stopped to match the new configuration.
func (s *Service) UpdateProvider(ctx context.Context, tenantID, id, updatedBy string, config Config, allowProvisioned bool) (*store.Provider, error) {
	row, err := s.getProvider(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if row.Provisioned && !allowProvisioned {
		return nil, ErrProviderProvisioned
	}

	pulling, err := PullingEnabled(config)
	if err != nil {
		return nil, err
	}

	p, err := s.factory.Construct(ctx, tenantID, id, row.Type, config)
	if err != nil {
		return nil, err
	}

	validated, err := s.validateScopes(ctx, p, false)
	if err != nil {
		return nil, err
	}

	if err := s.writeConfig(ctx, row.SecretName, config); err != nil {
		return nil, err
	}

	_, isConsumer := p.(Consumer)
	row.ValidatedScopes = validated
	row.PullingEnabled = pulling
	row.Consumer = isConsumer
	row.InstalledBy = updatedBy

	if err := s.store.UpdateProvider(ctx, row); err != nil {
		return nil, fmt.Errorf("persisting provider update: %w", err)
	}

	s.reconcileConsumer(id, p, isConsumer && pulling)

	metrics.ProviderOperations.WithLabelValues("update", row.Type).Inc()
	s.logProvider(ctx, tenantID, id, "info", "provider updated", map[string]any{"updated_by": updatedBy})
	s.logger.Info("updated provider", "id", id, "tenant", tenantID)
	return row, nil
}

// reconcileConsumer starts or stops a provider's consumer so the running set
// matches the desired state. Failures are logged, not fatal.
func (s *Service) reconcileConsumer(id string, p Provider, shouldRun bool) {
	running := s.subscriber.Running(id)
	switch {
	case shouldRun && !running:
		if err := s.subscriber.AddConsumer(id, p.(Consumer)); err != nil {
			s.logger.Error("registering consumer failed", "provider_id", id, "error", err)
		}
	case !shouldRun && running:
		if err := s.subscriber.RemoveConsumer(id); err != nil {
			s.logger.Warn("deregistering consumer failed", "provider_id", id, "error", err)
		}
	}
}

// RestoreConsumers re-registers consumers for the tenant's stored providers
// that have pulling enabled. Called at startup; per-provider failures are
// logged and skipped.
func (s *Service) RestoreConsumers(ctx context.Context, tenantID string) error {
	rows, err := s.store.ListProviders(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("listing providers: %w", err)
	}

	for _, row := range rows {
		if !row.Consumer || !row.PullingEnabled || s.subscriber.Running(row.ID) {
			continue
		}

		config, err := s.readConfig(ctx, row.SecretName)
		if err != nil {
			s.logger.Error("reading config for consumer restore failed", "provider_id", row.ID, "error", err)
			continue
		}

		p, err := s.factory.Construct(ctx, tenantID, row.ID, row.Type, config)
		if err != nil {
			s.logger.Error("constructing provider for consumer restore failed", "provider_id", row.ID, "error", err)
			continue
		}

		consumer, ok := p.(Consumer)
		if !ok {
			continue
		}
		if err := s.subscriber.AddConsumer(row.ID, consumer); err != nil {
			s.logger.Error("restoring consumer failed", "provider_id", row.ID, "error", err)
			continue
		}
		s.logger.Info("restored consumer", "provider_id", row.ID, "tenant", tenantID, "type", row.Type)
	}
	return nil
}

// DeleteProvider tears a provider down: dedup rules, secret, consumer, and
// remote cleanup are all best-effort; only the row delete is fatal.
func (s *Service) DeleteProvider(ctx context.Context, tenantID, id string, allowProvisioned bool) error {
	row, err := s.getProvider(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if row.Provisioned && !allowProvisioned {
		return ErrProviderProvisioned
	}

	rules, err := s.store.ListDeduplicationRules(ctx, tenantID, id)
	if err != nil {
		s.logger.Error("listing dedup rules for delete failed", "provider_id", id, "error", err)
	}
	for _, rule := range rules {
		if err := s.store.DeleteDeduplicationRule(ctx, tenantID, rule.ID); err != nil {
			s.logger.Error("deleting dedup rule failed", "rule", rule.Name, "error", err)
		}
	}

	var config Config
	raw, err := s.secrets.ReadSecret(ctx, row.SecretName)
	if err != nil {
		s.logger.Error("reading provider secret for delete failed", "secret", row.SecretName, "error", err)
	} else if err := json.Unmarshal([]byte(raw), &config); err != nil {
		s.logger.Error("unmarshaling provider secret failed", "secret", row.SecretName, "error", err)
	}

	if err := s.secrets.DeleteSecret(ctx, row.SecretName); err != nil && !errors.Is(err, secrets.ErrSecretNotFound) {
		s.logger.Error("deleting provider secret failed", "secret", row.SecretName, "error", err)
	}

	if row.Consumer {
		if err := s.subscriber.RemoveConsumer(id); err != nil {
			s.logger.Warn("deregistering consumer failed", "provider_id", id, "error", err)
		}
	}

	if config != nil {
		if p, err := s.factory.Construct(ctx, tenantID, id, row.Type, config); err != nil {
			s.logger.Error("constructing provider for cleanup failed", "provider_id", id, "error", err)
		} else if cleaner, ok := p.(Cleaner); ok {
			if err := cleaner.CleanUp(ctx); err != nil {
				s.logger.Error("provider cleanup failed", "provider_id", id, "error", err)
			}
		}
	}

	if err := s.store.DeleteProvider(ctx, tenantID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrProviderNotFound
		}
		return fmt.Errorf("deleting provider: %w", err)
	}

	metrics.ProviderOperations.WithLabelValues("delete", row.Type).Inc()
	s.logger.Info("deleted provider", "id", id, "tenant", tenantID, "type", row.Type)
	return nil
}

// ValidateProviderScopes re-runs scope validation from the stored secret and
// persists the results when they changed.
func (s *Service) ValidateProviderScopes(ctx context.Context, tenantID, id string) (map[string]any, error) {
	row, err := s.getProvider(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	config, err := s.readConfig(ctx, row.SecretName)
	if err != nil {
		return nil, err
	}

	p, err := s.factory.Construct(ctx, tenantID, id, row.Type, config)
	if err != nil {
		return nil, err
	}

	validated, err := s.validateScopes(ctx, p, false)
	if err != nil {
		return nil, err
	}

	if !reflect.DeepEqual(row.ValidatedScopes, validated) {
		row.ValidatedScopes = validated
		if err := s.store.UpdateProvider(ctx, row); err != nil {
			return nil, fmt.Errorf("persisting validated scopes: %w", err)
		}
	}
	return validated, nil
}

// PrepareProvider dry-runs an installation: the configuration is validated
// and a throwaway secret is written then deleted, without persisting a row.
func (s *Service) PrepareProvider(ctx context.Context, tenantID, providerType string, config Config) error {
	id := uuid.New().String()

	p, err := s.factory.Construct(ctx, tenantID, id, providerType, config)
	if err != nil {
		return err
	}
	if _, err := s.validateScopes(ctx, p, true); err != nil {
		return err
	}

	secretName := secretNameFor(tenantID, providerType, id)
	if err := s.writeConfig(ctx, secretName, config); err != nil {
		return err
	}
	if err := s.secrets.DeleteSecret(ctx, secretName); err != nil {
		return fmt.Errorf("deleting dry-run secret: %w", err)
	}
	return nil
}

// GetProviderLogs returns a provider's log lines, newest first.
// Returns ErrLogsDisabled when log storage is off.
func (s *Service) GetProviderLogs(ctx context.Context, tenantID, id string) ([]*store.ProviderLog, error) {
	if !s.storeLogs {
		return nil, ErrLogsDisabled
	}
	if _, err := s.getProvider(ctx, tenantID, id); err != nil {
		return nil, err
	}
	return s.store.ListProviderLogs(ctx, tenantID, id)
}

func (s *Service) getProvider(ctx context.Context, tenantID, id string) (*store.Provider, error) {
	row, err := s.store.GetProvider(ctx, tenantID, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrProviderNotFound
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// validateScopes runs the plugin's validation. When mandatory is set, every
// scope flagged mandatory must have validated to true.
func (s *Service) validateScopes(ctx context.Context, p Provider, mandatory bool) (map[string]any, error) {
	results, err := p.ValidateScopes(ctx)
	if err != nil {
		return nil, fmt.Errorf("validating scopes: %w", err)
	}

	if mandatory {
		for _, scope := range p.Scopes() {
			if !scope.Mandatory {
				continue
			}
			if ok, _ := results[scope.Name].(bool); !ok {
				return results, fmt.Errorf("%w: %s", ErrScopesNotValidated, scope.Name)
			}
		}
	}
	return results, nil
}

func (s *Service) writeConfig(ctx context.Context, secretName string, config Config) error {
	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling provider config: %w", err)
	}
	if err := s.secrets.WriteSecret(ctx, secretName, string(raw)); err != nil {
		return fmt.Errorf("writing provider secret: %w", err)
	}
	return nil
}

func (s *Service) readConfig(ctx context.Context, secretName string) (Config, error) {
	raw, err := s.secrets.ReadSecret(ctx, secretName)
	if err != nil {
		return nil, fmt.Errorf("reading provider secret: %w", err)
	}
	var config Config
	if err := json.Unmarshal([]byte(raw), &config); err != nil {
		return nil, fmt.Errorf("unmarshaling provider config: %w", err)
	}
	return config, nil
}

// logProvider appends a provider log line when log storage is enabled.
func (s *Service) logProvider(ctx context.Context, tenantID, providerID, level, message string, logCtx map[string]any) {
	if !s.storeLogs {
		return
	}
	err := s.store.AddProviderLog(ctx, &store.ProviderLog{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		ProviderID: providerID,
		Timestamp:  time.Now().UTC(),
		Level:      level,
		Message:    message,
		Context:    logCtx,
	})
	if err != nil {
		s.logger.Error("writing provider log failed", "provider_id", providerID, "error", err)
	}
}

func secretNameFor(tenantID, providerType, id string) string {
	return fmt.Sprintf("%s_%s_%s", tenantID, providerType, id)
}
