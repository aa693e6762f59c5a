// ABOUTME: Provider provisioning from a directory of YAML files or an env document
// ABOUTME: Upserts incoming providers and dedup rules, deleting stale provisioned ones

package providers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/beaconhq/beacon-api/internal/config"
	"github.com/beaconhq/beacon-api/internal/metrics"
	"github.com/beaconhq/beacon-api/internal/store"
)

// ProviderDefinition is one provisioned provider as declared in YAML.
type ProviderDefinition struct {
	Name               string                                 `yaml:"name" json:"name"`
	Type               string                                 `yaml:"type" json:"type"`
	Authentication     map[string]any                         `yaml:"authentication" json:"authentication"`
	DeduplicationRules map[string]DeduplicationRuleDefinition `yaml:"deduplication_rules" json:"deduplication_rules"`
}

// DeduplicationRuleDefinition is a dedup rule as declared in provisioning.
type DeduplicationRuleDefinition struct {
	Description       string   `yaml:"description" json:"description"`
	FingerprintFields []string `yaml:"fingerprint_fields" json:"fingerprint_fields"`
	IgnoreFields      []string `yaml:"ignore_fields" json:"ignore_fields"`
	FullDeduplication bool     `yaml:"full_deduplication" json:"full_deduplication"`
}

// Provision reconciles the tenant's provisioned providers with the
// configured sources. Per-provider failures are logged and skipped;
// previously provisioned providers absent from the sources are deleted.
func (s *Service) Provision(ctx context.Context, tenantID string, cfg config.ProvidersConfig) error {
	if cfg.ProvisionDirectory != "" && cfg.ProvisionDocument != "" {
		return fmt.Errorf("provision_directory and provision_document are mutually exclusive")
	}

	incoming, err := s.loadDefinitions(cfg)
	if err != nil {
		return err
	}

	existing, err := s.store.ListProvisionedProviders(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("listing provisioned providers: %w", err)
	}

	if len(incoming) == 0 && len(existing) == 0 {
		return nil
	}

	metrics.ProvisioningRuns.Inc()
	s.logger.Info("provisioning providers", "tenant", tenantID, "incoming", len(incoming), "existing", len(existing))

	existingByName := make(map[string]*store.Provider, len(existing))
	for _, p := range existing {
		existingByName[p.Name] = p
	}

	for name, def := range incoming {
		row, err := s.upsertProvisioned(ctx, tenantID, name, def, existingByName[name])
		if err != nil {
			s.logger.Error("provisioning provider failed", "name", name, "type", def.Type, "error", err)
			continue
		}
		if err := s.ProvisionDeduplicationRules(ctx, tenantID, row, def.DeduplicationRules); err != nil {
			s.logger.Error("provisioning dedup rules failed", "name", name, "error", err)
		}
	}

	// Providers provisioned earlier but absent from the sources are stale
	for name, p := range existingByName {
		if _, keep := incoming[name]; keep {
			continue
		}
		if err := s.DeleteProvider(ctx, tenantID, p.ID, true); err != nil {
			s.logger.Error("deleting stale provisioned provider failed", "name", name, "error", err)
		}
	}

	return nil
}

// upsertProvisioned updates the existing provisioned provider or installs a
// new one. Scope validation is skipped: provisioning trusts its sources.
func (s *Service) upsertProvisioned(ctx context.Context, tenantID, name string, def ProviderDefinition, existing *store.Provider) (*store.Provider, error) {
	if def.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidConfig)
	}

	cfg := Config(def.Authentication)
	if cfg == nil {
		cfg = Config{}
	}

	if existing != nil {
		return s.UpdateProvider(ctx, tenantID, existing.ID, "system", cfg, true)
	}
	return s.InstallProvider(ctx, tenantID, "provisioning", "", name, def.Type, cfg, InstallOptions{
		Provisioned:    true,
		SkipValidation: true,
	})
}

// ProvisionDeduplicationRules reconciles a provider's dedup rules with the
// incoming set: each incoming rule is stamped and upserted, and rules absent
// from the set are deleted.
func (s *Service) ProvisionDeduplicationRules(ctx context.Context, tenantID string, provider *store.Provider, defs map[string]DeduplicationRuleDefinition) error {
	existing, err := s.store.ListDeduplicationRules(ctx, tenantID, provider.ID)
	if err != nil {
		return fmt.Errorf("listing dedup rules: %w", err)
	}

	now := time.Now().UTC()
	for name, def := range defs {
		rule := &store.DeduplicationRule{
			ID:                uuid.New().String(),
			TenantID:          tenantID,
			Name:              name,
			ProviderID:        provider.ID,
			ProviderType:      provider.Type,
			Description:       def.Description,
			IgnoreFields:      def.IgnoreFields,
			FingerprintFields: def.FingerprintFields,
			FullDeduplication: def.FullDeduplication,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.store.UpsertDeduplicationRule(ctx, rule); err != nil {
			return fmt.Errorf("upserting dedup rule %s: %w", name, err)
		}
	}

	for _, rule := range existing {
		if _, keep := defs[rule.Name]; keep {
			continue
		}
		if err := s.store.DeleteDeduplicationRule(ctx, tenantID, rule.ID); err != nil {
			s.logger.Error("deleting stale dedup rule failed", "rule", rule.Name, "error", err)
		}
	}

	return nil
}

// loadDefinitions reads provider definitions from whichever source is
// configured. A missing provision directory is an error.
func (s *Service) loadDefinitions(cfg config.ProvidersConfig) (map[string]ProviderDefinition, error) {
	switch {
	case cfg.ProvisionDirectory != "":
		return loadDefinitionsFromDirectory(cfg.ProvisionDirectory)
	case cfg.ProvisionDocument != "":
		return loadDefinitionsFromDocument(cfg.ProvisionDocument)
	default:
		return nil, nil
	}
}

func loadDefinitionsFromDirectory(dir string) (map[string]ProviderDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading provision directory: %w", err)
	}

	defs := make(map[string]ProviderDefinition)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}

		var def ProviderDefinition
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", entry.Name(), err)
		}

		name := def.Name
		if name == "" {
			name = strings.TrimSuffix(entry.Name(), ext)
		}
		defs[name] = def
	}
	return defs, nil
}

// loadDefinitionsFromDocument parses an inline YAML (or JSON) document
// mapping provider names to definitions.
func loadDefinitionsFromDocument(doc string) (map[string]ProviderDefinition, error) {
	var defs map[string]ProviderDefinition
	if err := yaml.Unmarshal([]byte(doc), &defs); err != nil {
		return nil, fmt.Errorf("parsing provision document: %w", err)
	}
	return defs, nil
}
