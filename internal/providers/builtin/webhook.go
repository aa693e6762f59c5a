// ABOUTME: Generic outbound webhook provider for arbitrary HTTP alert sources
// ABOUTME: Validates endpoint reachability and registers ingest callbacks

package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/beaconhq/beacon-api/internal/providers"
)

const webhookTimeout = 10 * time.Second

// WebhookProvider integrates any HTTP endpoint that can be told where to
// send alerts. The remote side is expected to expose a registration endpoint
// accepting a callback URL and API key.
type WebhookProvider struct {
	tenantID string
	id       string
	endpoint string
	token    string
	client   *http.Client
}

// NewWebhook constructs a webhook provider from its configuration.
// Required config: url. Optional: token (sent as a bearer token).
func NewWebhook(ctx context.Context, tenantID, providerID string, cfg providers.Config) (providers.Provider, error) {
	endpoint, _ := cfg["url"].(string)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: url is required", providers.ErrInvalidConfig)
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: url %q is not an absolute URL", providers.ErrInvalidConfig, endpoint)
	}

	token, _ := cfg["token"].(string)

	return &WebhookProvider{
		tenantID: tenantID,
		id:       providerID,
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: webhookTimeout},
	}, nil
}

func (p *WebhookProvider) Type() string { return "webhook" }

func (p *WebhookProvider) Scopes() []providers.Scope {
	return []providers.Scope{
		{Name: "reachable", Description: "the endpoint answers HTTP requests", Mandatory: true},
	}
}

// ValidateScopes probes the configured endpoint.
func (p *WebhookProvider) ValidateScopes(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building probe request: %w", err)
	}
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return map[string]any{"reachable": err.Error()}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return map[string]any{"reachable": fmt.Sprintf("endpoint returned status %d", resp.StatusCode)}, nil
	}
	return map[string]any{"reachable": true}, nil
}

// SetupWebhook posts the ingest callback and API key to the remote endpoint.
func (p *WebhookProvider) SetupWebhook(ctx context.Context, tenantID, callbackURL, apiKey string) (map[string]any, error) {
	registration, err := json.Marshal(map[string]string{
		"callback_url": callbackURL,
		"api_key":      apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding registration: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(registration))
	if err != nil {
		return nil, fmt.Errorf("building registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registering webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("registering webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil, nil
}

func (p *WebhookProvider) authorize(req *http.Request) {
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
}
