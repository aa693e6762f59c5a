// ABOUTME: Registry mapping provider types to their constructors
// ABOUTME: Construction validates configuration before any side effects

package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Constructor builds a provider instance from its configuration.
// Implementations validate the configuration and return ErrInvalidConfig
// (wrapped) when it is unusable.
type Constructor func(ctx context.Context, tenantID, providerID string, config Config) (Provider, error)

// Factory maps provider types to constructors. Thread-safe.
type Factory struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
	logger       *slog.Logger
}

// NewFactory creates an empty provider factory.
func NewFactory() *Factory {
	return &Factory{
		constructors: make(map[string]Constructor),
		logger:       slog.Default().With("component", "providers"),
	}
}

// Register adds a provider type. Registering a duplicate type is an error.
func (f *Factory) Register(providerType string, ctor Constructor) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.constructors[providerType]; exists {
		return fmt.Errorf("provider type %q already registered", providerType)
	}
	f.constructors[providerType] = ctor
	f.logger.Debug("registered provider type", "type", providerType)
	return nil
}

// Construct builds a provider instance of the given type.
func (f *Factory) Construct(ctx context.Context, tenantID, providerID, providerType string, config Config) (Provider, error) {
	f.mu.RLock()
	ctor, exists := f.constructors[providerType]
	f.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: unknown provider type %q", ErrInvalidConfig, providerType)
	}

	p, err := ctor(ctx, tenantID, providerID, config)
	if err != nil {
		return nil, fmt.Errorf("constructing %s provider: %w", providerType, err)
	}
	return p, nil
}

// Types returns the registered provider types, sorted.
func (f *Factory) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.constructors))
	for t := range f.constructors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
