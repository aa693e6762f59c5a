// ABOUTME: Mock provider emitting synthetic alerts for development setups
// ABOUTME: Exercises scope validation, consuming, and cleanup without a backend

package builtin

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/beaconhq/beacon-api/internal/providers"
)

// MockProvider is a self-contained provider for development and demos. When
// consuming it logs a synthetic alert on an interval instead of calling out
// to a real system.
type MockProvider struct {
	tenantID string
	id       string
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewMock constructs a mock provider. Optional config: interval (duration
// string, default 1m).
func NewMock(ctx context.Context, tenantID, providerID string, cfg providers.Config) (providers.Provider, error) {
	interval := time.Minute
	if raw, ok := cfg["interval"].(string); ok && raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, providers.ErrInvalidConfig
		}
		interval = parsed
	}

	return &MockProvider{
		tenantID: tenantID,
		id:       providerID,
		interval: interval,
		logger:   slog.Default().With("component", "mock-provider", "provider_id", providerID),
	}, nil
}

func (p *MockProvider) Type() string              { return "mock" }
func (p *MockProvider) Scopes() []providers.Scope { return nil }

func (p *MockProvider) ValidateScopes(ctx context.Context) (map[string]any, error) {
	return map[string]any{}, nil
}

// StartConsuming emits a synthetic alert log line on the configured interval
// until the context is canceled or StopConsuming is called.
func (p *MockProvider) StartConsuming(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.logger.Info("synthetic alert", "tenant", p.tenantID, "service", "mock", "severity", "info")
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *MockProvider) StopConsuming() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	return nil
}

func (p *MockProvider) CleanUp(ctx context.Context) error {
	return p.StopConsuming()
}

// RegisterAll registers every built-in provider type on the factory.
func RegisterAll(factory *providers.Factory) error {
	if err := factory.Register("webhook", NewWebhook); err != nil {
		return err
	}
	return factory.Register("mock", NewMock)
}
