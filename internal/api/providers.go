// ABOUTME: HTTP handlers for provider installation, management, and webhooks
// ABOUTME: Includes the API-key authenticated alert event ingestion endpoint

package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/beaconhq/beacon-api/internal/auth"
	"github.com/beaconhq/beacon-api/internal/dedupe"
	"github.com/beaconhq/beacon-api/internal/metrics"
	"github.com/beaconhq/beacon-api/internal/providers"
	"github.com/beaconhq/beacon-api/internal/store"
)

// ProviderResponse is the JSON shape of an installed provider.
// Provider configuration stays in the secret manager and is never returned.
type ProviderResponse struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Type            string         `json:"type"`
	InstalledBy     string         `json:"installed_by"`
	InstalledAt     string         `json:"installed_at"`
	ValidatedScopes map[string]any `json:"validated_scopes,omitempty"`
	Consumer        bool           `json:"consumer"`
	Provisioned     bool           `json:"provisioned"`
	PullingEnabled  bool           `json:"pulling_enabled"`
}

// InstallProviderRequest is the JSON request body for POST /api/providers.
type InstallProviderRequest struct {
	ID     string         `json:"id,omitempty"`
	Name   string         `json:"name"`
	Type   string         `json:"type"`
	Config map[string]any `json:"config"`
}

// UpdateProviderRequest is the JSON request body for PUT /api/providers/{id}.
type UpdateProviderRequest struct {
	Config map[string]any `json:"config"`
}

// WebhookInstallResponse is the JSON response for POST /api/providers/{id}/webhook.
type WebhookInstallResponse struct {
	Installed bool `json:"installed"`
}

// ProviderLogResponse is the JSON shape of one provider log line.
type ProviderLogResponse struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
}

func providerResponse(p *store.Provider) ProviderResponse {
	return ProviderResponse{
		ID:              p.ID,
		Name:            p.Name,
		Type:            p.Type,
		InstalledBy:     p.InstalledBy,
		InstalledAt:     p.InstalledAt.Format(time.RFC3339),
		ValidatedScopes: p.ValidatedScopes,
		Consumer:        p.Consumer,
		Provisioned:     p.Provisioned,
		PullingEnabled:  p.PullingEnabled,
	}
}

// handleProviders handles GET (list) and POST (install) on the providers
// collection.
func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	entity := auth.MustFromContext(r.Context())

	switch r.Method {
	case http.MethodGet:
		installed, err := s.providers.ListProviders(r.Context(), entity.TenantID)
		if err != nil {
			s.sendServiceError(w, err)
			return
		}
		response := make([]ProviderResponse, 0, len(installed))
		for _, p := range installed {
			response = append(response, providerResponse(p))
		}
		s.sendJSON(w, http.StatusOK, response)

	case http.MethodPost:
		var req InstallProviderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Name == "" {
			s.sendJSONError(w, http.StatusBadRequest, "name is required")
			return
		}
		if req.Type == "" {
			s.sendJSONError(w, http.StatusBadRequest, "type is required")
			return
		}

		p, err := s.providers.InstallProvider(r.Context(), entity.TenantID, entity.Email, req.ID, req.Name, req.Type, providers.Config(req.Config), providers.InstallOptions{})
		if err != nil {
			s.sendServiceError(w, err)
			return
		}
		s.sendJSON(w, http.StatusCreated, providerResponse(p))

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleAvailableProviders handles GET /api/providers/available.
func (s *Server) handleAvailableProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string][]string{"types": s.providers.AvailableProviderTypes()})
}

// handleProviderRoutes dispatches /api/providers/{id} and its sub-resources
// (scopes, webhook, logs).
func (s *Server) handleProviderRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/providers/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if parts[0] == "" {
		s.sendJSONError(w, http.StatusBadRequest, "provider id is required")
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1:
		s.handleProvider(w, r, id)
	case len(parts) == 2 && parts[1] == "scopes":
		s.handleProviderScopes(w, r, id)
	case len(parts) == 2 && parts[1] == "webhook":
		s.handleProviderWebhook(w, r, id)
	case len(parts) == 2 && parts[1] == "logs":
		s.handleProviderLogs(w, r, id)
	default:
		s.sendJSONError(w, http.StatusNotFound, "not found")
	}
}

// handleProvider handles PUT (reconfigure) and DELETE of one provider.
func (s *Server) handleProvider(w http.ResponseWriter, r *http.Request, id string) {
	entity := auth.MustFromContext(r.Context())

	switch r.Method {
	case http.MethodPut:
		var req UpdateProviderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		p, err := s.providers.UpdateProvider(r.Context(), entity.TenantID, id, entity.Email, providers.Config(req.Config), false)
		if err != nil {
			s.sendServiceError(w, err)
			return
		}
		s.sendJSON(w, http.StatusOK, providerResponse(p))

	case http.MethodDelete:
		if err := s.providers.DeleteProvider(r.Context(), entity.TenantID, id, false); err != nil {
			s.sendServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleProviderScopes handles POST to re-validate provider scopes.
func (s *Server) handleProviderScopes(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	entity := auth.MustFromContext(r.Context())

	scopes, err := s.providers.ValidateProviderScopes(r.Context(), entity.TenantID, id)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, scopes)
}

// handleProviderWebhook handles POST to install the provider's webhook.
func (s *Server) handleProviderWebhook(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	entity := auth.MustFromContext(r.Context())

	p, err := s.store.GetProvider(r.Context(), entity.TenantID, id)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	installed, err := s.providers.InstallWebhook(r.Context(), entity.TenantID, p.Type, id)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, WebhookInstallResponse{Installed: installed})
}

// handleProviderLogs handles GET of a provider's execution logs.
func (s *Server) handleProviderLogs(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	entity := auth.MustFromContext(r.Context())

	logs, err := s.providers.GetProviderLogs(r.Context(), entity.TenantID, id)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	response := make([]ProviderLogResponse, 0, len(logs))
	for _, l := range logs {
		response = append(response, ProviderLogResponse{
			ID:        l.ID,
			Timestamp: l.Timestamp.Format(time.RFC3339),
			Level:     l.Level,
			Message:   l.Message,
			Context:   l.Context,
		})
	}
	s.sendJSON(w, http.StatusOK, response)
}

// handleIngestEvent handles POST /alerts/event/{provider_type}?provider_id=X.
// Third-party webhooks authenticate with the tenant API key in X-API-Key.
// Duplicate events within the dedupe window get 200, fresh events 202.
func (s *Server) handleIngestEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	providerType := strings.Trim(strings.TrimPrefix(r.URL.Path, "/alerts/event/"), "/")
	if providerType == "" || strings.Contains(providerType, "/") {
		s.sendJSONError(w, http.StatusBadRequest, "provider type is required")
		return
	}
	providerID := r.URL.Query().Get("provider_id")

	tenantID := r.Header.Get("X-Tenant-Id")
	if tenantID == "" {
		tenantID = s.config.Auth.DefaultTenant
	}

	if err := s.providers.VerifyWebhookKey(r.Context(), tenantID, r.Header.Get("X-API-Key")); err != nil {
		metrics.IngestEvents.WithLabelValues("rejected").Inc()
		s.sendServiceError(w, err)
		return
	}

	var event map[string]any
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		metrics.IngestEvents.WithLabelValues("rejected").Inc()
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rule, err := s.ingestRule(r, tenantID, providerType, providerID)
	if err != nil {
		metrics.IngestEvents.WithLabelValues("rejected").Inc()
		s.sendServiceError(w, err)
		return
	}

	fingerprint := dedupe.Fingerprint(event, rule)
	if s.dedupe.CheckAndMark(fingerprint) {
		metrics.IngestEvents.WithLabelValues("duplicate").Inc()
		s.sendJSON(w, http.StatusOK, map[string]string{"status": "duplicate", "fingerprint": fingerprint})
		return
	}

	s.logger.Info("alert event accepted",
		"tenant", tenantID,
		"provider_type", providerType,
		"provider_id", providerID,
		"fingerprint", fingerprint,
	)
	metrics.IngestEvents.WithLabelValues("accepted").Inc()
	s.sendJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "fingerprint": fingerprint})
}

// ingestRule picks the deduplication rule for an incoming event: the first
// rule bound to the provider, or the first tenant rule matching the provider
// type when no provider_id is given. Nil means full-event fingerprinting.
func (s *Server) ingestRule(r *http.Request, tenantID, providerType, providerID string) (*store.DeduplicationRule, error) {
	rules, err := s.store.ListDeduplicationRules(r.Context(), tenantID, providerID)
	if err != nil {
		return nil, err
	}
	for _, rule := range rules {
		if rule.ProviderType == providerType || rule.ProviderType == "" {
			return rule, nil
		}
	}
	return nil, nil
}
