// ABOUTME: Tests for the provider service using fake plugins
// ABOUTME: Covers install, update, delete, scope validation, and webhooks

package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconhq/beacon-api/internal/events"
	"github.com/beaconhq/beacon-api/internal/secrets"
	"github.com/beaconhq/beacon-api/internal/store"
)

// fakeProvider is a configurable plugin for tests.
type fakeProvider struct {
	typ         string
	scopes      []Scope
	results     map[string]any
	validateErr error
}

func (f *fakeProvider) Type() string    { return f.typ }
func (f *fakeProvider) Scopes() []Scope { return f.scopes }

func (f *fakeProvider) ValidateScopes(ctx context.Context) (map[string]any, error) {
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	return f.results, nil
}

type setupCall struct {
	tenantID    string
	callbackURL string
	apiKey      string
}

// fakeWebhookProvider also implements WebhookInstaller.
type fakeWebhookProvider struct {
	fakeProvider
	extra map[string]any
	calls []setupCall
}

func (f *fakeWebhookProvider) SetupWebhook(ctx context.Context, tenantID, callbackURL, apiKey string) (map[string]any, error) {
	f.calls = append(f.calls, setupCall{tenantID, callbackURL, apiKey})
	return f.extra, nil
}

// fakeConsumerProvider also implements Consumer.
type fakeConsumerProvider struct {
	fakeProvider
}

func (f *fakeConsumerProvider) StartConsuming(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeConsumerProvider) StopConsuming() error { return nil }

// fakeCleanerProvider also implements Cleaner.
type fakeCleanerProvider struct {
	fakeProvider
	cleanedUp bool
}

func (f *fakeCleanerProvider) CleanUp(ctx context.Context) error {
	f.cleanedUp = true
	return nil
}

type testHarness struct {
	svc        *Service
	factory    *Factory
	store      store.Store
	secrets    secrets.Manager
	secretsDir string
	subscriber *events.Subscriber
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	secretsDir := t.TempDir()
	cipher, err := secrets.NewCipher("")
	require.NoError(t, err)
	sm, err := secrets.NewFileManager(secretsDir, cipher)
	require.NoError(t, err)

	factory := NewFactory()
	subscriber := events.NewSubscriber()
	t.Cleanup(subscriber.Stop)

	return &testHarness{
		svc:        NewService(st, sm, factory, subscriber, "https://api.beacon.test", true),
		factory:    factory,
		store:      st,
		secrets:    sm,
		secretsDir: secretsDir,
		subscriber: subscriber,
	}
}

func registerStatic(t *testing.T, h *testHarness, typ string, p Provider) {
	t.Helper()
	require.NoError(t, h.factory.Register(typ, func(ctx context.Context, tenantID, providerID string, config Config) (Provider, error) {
		return p, nil
	}))
}

func TestInstallProvider(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	registerStatic(t, h, "pagerduty", &fakeProvider{
		typ:     "pagerduty",
		scopes:  []Scope{{Name: "incidents:read", Mandatory: true}},
		results: map[string]any{"incidents:read": true},
	})

	row, err := h.svc.InstallProvider(ctx, "acme", "ops@acme.test", "", "pagers", "pagerduty",
		Config{"api_key": "hunter2"}, InstallOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, row.ID)
	assert.Equal(t, "pagers", row.Name)
	assert.Equal(t, true, row.ValidatedScopes["incidents:read"])
	assert.True(t, row.PullingEnabled)
	assert.False(t, row.Consumer)

	// The configuration landed in the secret manager
	raw, err := h.secrets.ReadSecret(ctx, row.SecretName)
	require.NoError(t, err)
	var config Config
	require.NoError(t, json.Unmarshal([]byte(raw), &config))
	assert.Equal(t, "hunter2", config["api_key"])

	installed, err := h.svc.IsProviderInstalled(ctx, "acme", "pagers")
	require.NoError(t, err)
	assert.True(t, installed)
}

func TestInstallProvider_DuplicateCleansUpSecret(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	registerStatic(t, h, "slack", &fakeProvider{typ: "slack"})

	first, err := h.svc.InstallProvider(ctx, "acme", "ops@acme.test", "", "chat", "slack", Config{}, InstallOptions{})
	require.NoError(t, err)

	_, err = h.svc.InstallProvider(ctx, "acme", "ops@acme.test", "", "chat", "slack", Config{}, InstallOptions{})
	assert.ErrorIs(t, err, store.ErrDuplicateProvider)

	// Only the first install's secret remains
	entries, err := os.ReadDir(h.secretsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), first.ID)
}

func TestInstallProvider_MandatoryScopeFails(t *testing.T) {
	h := newHarness(t)

	registerStatic(t, h, "pagerduty", &fakeProvider{
		typ:     "pagerduty",
		scopes:  []Scope{{Name: "incidents:write", Mandatory: true}},
		results: map[string]any{"incidents:write": "missing permission"},
	})

	_, err := h.svc.InstallProvider(context.Background(), "acme", "ops@acme.test", "", "pagers", "pagerduty", Config{}, InstallOptions{})
	assert.ErrorIs(t, err, ErrScopesNotValidated)
}

func TestInstallProvider_UnknownType(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.InstallProvider(context.Background(), "acme", "ops@acme.test", "", "x", "nope", Config{}, InstallOptions{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestInstallProvider_RegistersConsumer(t *testing.T) {
	h := newHarness(t)

	registerStatic(t, h, "kafka", &fakeConsumerProvider{fakeProvider: fakeProvider{typ: "kafka"}})

	row, err := h.svc.InstallProvider(context.Background(), "acme", "ops@acme.test", "", "queue", "kafka", Config{}, InstallOptions{})
	require.NoError(t, err)
	assert.True(t, row.Consumer)
	assert.True(t, h.subscriber.Running(row.ID))
}

func TestInstallProvider_PullingDisabledSkipsConsumer(t *testing.T) {
	h := newHarness(t)

	registerStatic(t, h, "kafka", &fakeConsumerProvider{fakeProvider: fakeProvider{typ: "kafka"}})

	row, err := h.svc.InstallProvider(context.Background(), "acme", "ops@acme.test", "", "queue", "kafka",
		Config{"pulling_enabled": false}, InstallOptions{})
	require.NoError(t, err)
	assert.True(t, row.Consumer)
	assert.False(t, row.PullingEnabled)
	assert.False(t, h.subscriber.Running(row.ID))
}

func TestUpdateProvider_TogglesConsumer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	registerStatic(t, h, "kafka", &fakeConsumerProvider{fakeProvider: fakeProvider{typ: "kafka"}})

	row, err := h.svc.InstallProvider(ctx, "acme", "ops@acme.test", "", "queue", "kafka", Config{}, InstallOptions{})
	require.NoError(t, err)
	require.True(t, h.subscriber.Running(row.ID))

	_, err = h.svc.UpdateProvider(ctx, "acme", row.ID, "ops@acme.test", Config{"pulling_enabled": false}, false)
	require.NoError(t, err)
	assert.False(t, h.subscriber.Running(row.ID))

	_, err = h.svc.UpdateProvider(ctx, "acme", row.ID, "ops@acme.test", Config{"pulling_enabled": true}, false)
	require.NoError(t, err)
	assert.True(t, h.subscriber.Running(row.ID))
}

func TestRestoreConsumers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	registerStatic(t, h, "kafka", &fakeConsumerProvider{fakeProvider: fakeProvider{typ: "kafka"}})
	registerStatic(t, h, "slack", &fakeProvider{typ: "slack"})

	pulling, err := h.svc.InstallProvider(ctx, "acme", "ops@acme.test", "", "queue", "kafka", Config{}, InstallOptions{})
	require.NoError(t, err)
	parked, err := h.svc.InstallProvider(ctx, "acme", "ops@acme.test", "", "queue-off", "kafka",
		Config{"pulling_enabled": false}, InstallOptions{})
	require.NoError(t, err)
	plain, err := h.svc.InstallProvider(ctx, "acme", "ops@acme.test", "", "chat", "slack", Config{}, InstallOptions{})
	require.NoError(t, err)

	// A restart loses the in-memory registry but keeps the rows
	h.subscriber.Stop()
	require.False(t, h.subscriber.Running(pulling.ID))

	require.NoError(t, h.svc.RestoreConsumers(ctx, "acme"))

	assert.True(t, h.subscriber.Running(pulling.ID))
	assert.False(t, h.subscriber.Running(parked.ID))
	assert.False(t, h.subscriber.Running(plain.ID))

	// Idempotent when consumers are already running
	require.NoError(t, h.svc.RestoreConsumers(ctx, "acme"))
	assert.True(t, h.subscriber.Running(pulling.ID))
}

func TestPullingEnabled_Coercion(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		want    bool
		wantErr bool
	}{
		{"missing defaults true", Config{}, true, false},
		{"bool true", Config{"pulling_enabled": true}, true, false},
		{"bool false", Config{"pulling_enabled": false}, false, false},
		{"string true", Config{"pulling_enabled": "true"}, true, false},
		{"string false", Config{"pulling_enabled": "False"}, false, false},
		{"garbage string", Config{"pulling_enabled": "maybe"}, false, true},
		{"number", Config{"pulling_enabled": 1}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PullingEnabled(tt.config)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUpdateProvider(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	registerStatic(t, h, "slack", &fakeProvider{typ: "slack", results: map[string]any{"chat:write": true}})

	row, err := h.svc.InstallProvider(ctx, "acme", "ops@acme.test", "", "chat", "slack", Config{"token": "old"}, InstallOptions{})
	require.NoError(t, err)

	updated, err := h.svc.UpdateProvider(ctx, "acme", row.ID, "admin@acme.test", Config{"token": "new", "pulling_enabled": "false"}, false)
	require.NoError(t, err)
	assert.False(t, updated.PullingEnabled)
	assert.Equal(t, "admin@acme.test", updated.InstalledBy)

	raw, err := h.secrets.ReadSecret(ctx, row.SecretName)
	require.NoError(t, err)
	assert.Contains(t, raw, "new")

	stored, err := h.store.GetProvider(ctx, "acme", row.ID)
	require.NoError(t, err)
	assert.Equal(t, "admin@acme.test", stored.InstalledBy)
}

func TestUpdateProvider_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.UpdateProvider(context.Background(), "acme", "ghost", "admin@acme.test", Config{}, false)
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestUpdateProvider_ProvisionedForbidden(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	registerStatic(t, h, "slack", &fakeProvider{typ: "slack"})

	row, err := h.svc.InstallProvider(ctx, "acme", "provisioning", "", "chat", "slack", Config{}, InstallOptions{Provisioned: true, SkipValidation: true})
	require.NoError(t, err)

	_, err = h.svc.UpdateProvider(ctx, "acme", row.ID, "admin@acme.test", Config{}, false)
	assert.ErrorIs(t, err, ErrProviderProvisioned)

	// allowProvisioned bypasses the guard
	_, err = h.svc.UpdateProvider(ctx, "acme", row.ID, "system", Config{}, true)
	assert.NoError(t, err)
}

func TestDeleteProvider(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cleaner := &fakeCleanerProvider{fakeProvider: fakeProvider{typ: "slack"}}
	registerStatic(t, h, "slack", cleaner)

	row, err := h.svc.InstallProvider(ctx, "acme", "ops@acme.test", "", "chat", "slack", Config{}, InstallOptions{})
	require.NoError(t, err)

	require.NoError(t, h.store.UpsertDeduplicationRule(ctx, &store.DeduplicationRule{
		ID: "rule-1", TenantID: "acme", Name: "default", ProviderID: row.ID, ProviderType: "slack",
	}))

	require.NoError(t, h.svc.DeleteProvider(ctx, "acme", row.ID, false))

	_, err = h.store.GetProvider(ctx, "acme", row.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = h.secrets.ReadSecret(ctx, row.SecretName)
	assert.ErrorIs(t, err, secrets.ErrSecretNotFound)

	rules, err := h.store.ListDeduplicationRules(ctx, "acme", row.ID)
	require.NoError(t, err)
	assert.Empty(t, rules)

	assert.True(t, cleaner.cleanedUp)
}

func TestDeleteProvider_StopsConsumer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	registerStatic(t, h, "kafka", &fakeConsumerProvider{fakeProvider: fakeProvider{typ: "kafka"}})

	row, err := h.svc.InstallProvider(ctx, "acme", "ops@acme.test", "", "queue", "kafka", Config{}, InstallOptions{})
	require.NoError(t, err)
	require.True(t, h.subscriber.Running(row.ID))

	require.NoError(t, h.svc.DeleteProvider(ctx, "acme", row.ID, false))
	assert.False(t, h.subscriber.Running(row.ID))
}

func TestDeleteProvider_ProvisionedForbidden(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	registerStatic(t, h, "slack", &fakeProvider{typ: "slack"})

	row, err := h.svc.InstallProvider(ctx, "acme", "provisioning", "", "chat", "slack", Config{}, InstallOptions{Provisioned: true, SkipValidation: true})
	require.NoError(t, err)

	assert.ErrorIs(t, h.svc.DeleteProvider(ctx, "acme", row.ID, false), ErrProviderProvisioned)
	assert.NoError(t, h.svc.DeleteProvider(ctx, "acme", row.ID, true))
}

func TestValidateProviderScopes_PersistsChanges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	plugin := &fakeProvider{
		typ:     "pagerduty",
		scopes:  []Scope{{Name: "incidents:read", Mandatory: true}},
		results: map[string]any{"incidents:read": true},
	}
	registerStatic(t, h, "pagerduty", plugin)

	row, err := h.svc.InstallProvider(ctx, "acme", "ops@acme.test", "", "pagers", "pagerduty", Config{}, InstallOptions{})
	require.NoError(t, err)

	// The integration loses a permission
	plugin.results = map[string]any{"incidents:read": "token revoked"}

	validated, err := h.svc.ValidateProviderScopes(ctx, "acme", row.ID)
	require.NoError(t, err)
	assert.Equal(t, "token revoked", validated["incidents:read"])

	stored, err := h.store.GetProvider(ctx, "acme", row.ID)
	require.NoError(t, err)
	assert.Equal(t, "token revoked", stored.ValidatedScopes["incidents:read"])
}

func TestPrepareProvider_LeavesNoSecret(t *testing.T) {
	h := newHarness(t)

	registerStatic(t, h, "slack", &fakeProvider{typ: "slack"})

	require.NoError(t, h.svc.PrepareProvider(context.Background(), "acme", "slack", Config{"token": "t"}))

	entries, err := os.ReadDir(h.secretsDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGetProviderLogs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	registerStatic(t, h, "slack", &fakeProvider{typ: "slack"})

	row, err := h.svc.InstallProvider(ctx, "acme", "ops@acme.test", "", "chat", "slack", Config{}, InstallOptions{})
	require.NoError(t, err)

	logs, err := h.svc.GetProviderLogs(ctx, "acme", row.ID)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, "provider installed", logs[len(logs)-1].Message)

	_, err = h.svc.GetProviderLogs(ctx, "acme", "ghost")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestGetProviderLogs_Disabled(t *testing.T) {
	h := newHarness(t)
	h.svc.storeLogs = false

	_, err := h.svc.GetProviderLogs(context.Background(), "acme", "any")
	assert.ErrorIs(t, err, ErrLogsDisabled)
}

func TestInstallWebhook(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	plugin := &fakeWebhookProvider{
		fakeProvider: fakeProvider{typ: "grafana"},
		extra:        map[string]any{"webhook_secret": "wh-123"},
	}
	registerStatic(t, h, "grafana", plugin)

	row, err := h.svc.InstallProvider(ctx, "acme", "ops@acme.test", "", "dashboards", "grafana", Config{"url": "https://g.test"}, InstallOptions{})
	require.NoError(t, err)

	installed, err := h.svc.InstallWebhook(ctx, "acme", "grafana", row.ID)
	require.NoError(t, err)
	assert.True(t, installed)

	require.Len(t, plugin.calls, 1)
	call := plugin.calls[0]
	assert.Equal(t, "acme", call.tenantID)
	assert.Equal(t, fmt.Sprintf("https://api.beacon.test/alerts/event/grafana?provider_id=%s", row.ID), call.callbackURL)
	assert.NotEmpty(t, call.apiKey)

	// The handed-out key verifies against the stored hash
	assert.NoError(t, h.svc.VerifyWebhookKey(ctx, "acme", call.apiKey))
	assert.ErrorIs(t, h.svc.VerifyWebhookKey(ctx, "acme", "wrong"), ErrInvalidAPIKey)

	// Extra authentication was merged into the stored secret
	raw, err := h.secrets.ReadSecret(ctx, row.SecretName)
	require.NoError(t, err)
	var config Config
	require.NoError(t, json.Unmarshal([]byte(raw), &config))
	assert.Equal(t, "wh-123", config["webhook_secret"])
	assert.Equal(t, "https://g.test", config["url"])
}

func TestVerifyWebhookKey_NoKeyMinted(t *testing.T) {
	h := newHarness(t)

	err := h.svc.VerifyWebhookKey(context.Background(), "acme", "anything")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestInstallWebhook_Unsupported(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	registerStatic(t, h, "slack", &fakeProvider{typ: "slack"})

	row, err := h.svc.InstallProvider(ctx, "acme", "ops@acme.test", "", "chat", "slack", Config{}, InstallOptions{})
	require.NoError(t, err)

	installed, err := h.svc.InstallWebhook(ctx, "acme", "slack", row.ID)
	require.NoError(t, err)
	assert.False(t, installed)
}

func TestInstallWebhook_KeyReusedAcrossCalls(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	plugin := &fakeWebhookProvider{fakeProvider: fakeProvider{typ: "grafana"}}
	registerStatic(t, h, "grafana", plugin)

	row, err := h.svc.InstallProvider(ctx, "acme", "ops@acme.test", "", "dashboards", "grafana", Config{}, InstallOptions{})
	require.NoError(t, err)

	_, err = h.svc.InstallWebhook(ctx, "acme", "grafana", row.ID)
	require.NoError(t, err)
	_, err = h.svc.InstallWebhook(ctx, "acme", "grafana", row.ID)
	require.NoError(t, err)

	require.Len(t, plugin.calls, 2)
	assert.Equal(t, plugin.calls[0].apiKey, plugin.calls[1].apiKey)
}
