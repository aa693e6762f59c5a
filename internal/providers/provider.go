// ABOUTME: Provider plugin interfaces and the configuration/scope types
// ABOUTME: Optional capability interfaces cover webhooks, consuming, and cleanup

package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider errors surfaced to the API layer.
var (
	ErrProviderNotFound    = errors.New("provider not found")
	ErrProviderProvisioned = errors.New("provider is provisioned and cannot be modified")
	ErrScopesNotValidated  = errors.New("mandatory scopes failed validation")
	ErrInvalidConfig       = errors.New("invalid provider configuration")
	ErrLogsDisabled        = errors.New("provider logs are not enabled")
)

// Config is a provider's configuration document: authentication material
// plus behavior options such as pulling_enabled.
type Config map[string]any

// Scope is a permission a provider plugin may require.
type Scope struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Mandatory   bool   `json:"mandatory"`
}

// Provider is the minimal surface every integration plugin implements.
type Provider interface {
	// Type returns the provider type identifier (e.g. "pagerduty").
	Type() string

	// Scopes lists the permissions this provider can validate.
	Scopes() []Scope

	// ValidateScopes checks each scope against the live integration and
	// maps scope name to true or an error description.
	ValidateScopes(ctx context.Context) (map[string]any, error)
}

// WebhookInstaller is implemented by providers that can register a webhook
// pointing back at the ingest endpoint. The returned map holds extra
// authentication material to merge into the stored secret.
type WebhookInstaller interface {
	SetupWebhook(ctx context.Context, tenantID, callbackURL, apiKey string) (map[string]any, error)
}

// Consumer is implemented by providers that pull events themselves.
type Consumer interface {
	StartConsuming(ctx context.Context) error
	StopConsuming() error
}

// Cleaner is implemented by providers that tear down remote state on delete.
type Cleaner interface {
	CleanUp(ctx context.Context) error
}

// PullingEnabled reads the optional pulling_enabled config key, accepting
// booleans or "true"/"false" strings. Missing defaults to true.
func PullingEnabled(config Config) (bool, error) {
	raw, ok := config["pulling_enabled"]
	if !ok {
		return true, nil
	}
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, fmt.Errorf("%w: pulling_enabled must be a boolean or \"true\"/\"false\", got %v", ErrInvalidConfig, raw)
}
