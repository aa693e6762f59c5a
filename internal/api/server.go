// ABOUTME: HTTP server wiring routes, auth middleware, and listeners
// ABOUTME: Serves the assistant and provider APIs plus health and metrics

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/tsnet"

	"github.com/beaconhq/beacon-api/internal/assistant"
	"github.com/beaconhq/beacon-api/internal/auth"
	"github.com/beaconhq/beacon-api/internal/config"
	"github.com/beaconhq/beacon-api/internal/dedupe"
	"github.com/beaconhq/beacon-api/internal/llm"
	"github.com/beaconhq/beacon-api/internal/metrics"
	"github.com/beaconhq/beacon-api/internal/providers"
	"github.com/beaconhq/beacon-api/internal/store"
)

// Scopes required on JWT tokens for each API group.
const (
	ScopeAssistant = "assistant"
	ScopeProviders = "providers"
)

// Server hosts the HTTP API.
type Server struct {
	config      *config.Config
	store       store.Store
	assistant   *assistant.Service
	providers   *providers.Service
	dedupe      *dedupe.Cache
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// New creates the API server and registers all routes.
func New(cfg *config.Config, st store.Store, asst *assistant.Service, prov *providers.Service, cache *dedupe.Cache) *Server {
	s := &Server{
		config:    cfg,
		store:     st,
		assistant: asst,
		providers: prov,
		dedupe:    cache,
		logger:    slog.Default().With("component", "api"),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/ready", s.handleReady)

	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
		s.logger.Info("metrics endpoint enabled", "path", cfg.Metrics.Path)
	}

	s.registerAPIRoutes(mux)

	// Webhook ingestion authenticates with the tenant API key, not JWT
	mux.HandleFunc("/alerts/event/", s.handleIngestEvent)

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// registerAPIRoutes registers API routes with or without auth middleware.
func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	var verifier auth.TokenVerifier
	if s.config.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(s.config.Auth.JWTSecret))
		s.logger.Info("HTTP auth middleware enabled")
	} else {
		s.logger.Warn("HTTP auth disabled - no jwt_secret configured", "default_tenant", s.config.Auth.DefaultTenant)
	}

	assistantMW := auth.Middleware(verifier, ScopeAssistant, s.config.Auth.DefaultTenant)
	providersMW := auth.Middleware(verifier, ScopeProviders, s.config.Auth.DefaultTenant)

	mux.Handle("/api/assistant/conversations", assistantMW(http.HandlerFunc(s.handleConversations)))
	mux.Handle("/api/assistant/conversations/", assistantMW(http.HandlerFunc(s.handleConversationRoutes)))
	mux.Handle("/api/assistant/chat", assistantMW(http.HandlerFunc(s.handleChat)))

	mux.Handle("/api/providers", providersMW(http.HandlerFunc(s.handleProviders)))
	mux.Handle("/api/providers/available", providersMW(http.HandlerFunc(s.handleAvailableProviders)))
	mux.Handle("/api/providers/", providersMW(http.HandlerFunc(s.handleProviderRoutes)))
}

// Handler exposes the server's HTTP handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the original context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the HTTP server and closes the Tailscale node if present.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if s.tsnetServer != nil {
		if err := s.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// setupListener creates a listener based on configuration (Tailscale or TCP).
func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.HTTPAddr != "" {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", s.config.Server.HTTPAddr)
		}
		return s.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupTailscaleListener creates a tsnet server and returns its HTTP listener.
func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := s.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	if len(status.TailscaleIPs) > 0 {
		s.logger.Info("tailscale node ready", "hostname", tsCfg.Hostname, "tailscale_ip", status.TailscaleIPs[0].String())
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}

	ln, err := s.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using a default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "beacon-api", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store answers pings.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "store unavailable: %v", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// sendJSON writes a JSON response with the given status.
func (s *Server) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]string{"error": message})
}

// sendServiceError maps service-layer errors onto HTTP statuses.
func (s *Server) sendServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, providers.ErrProviderNotFound):
		s.sendJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, providers.ErrLogsDisabled):
		s.sendJSONError(w, http.StatusNotFound, "provider logs are disabled")
	case errors.Is(err, providers.ErrProviderProvisioned):
		s.sendJSONError(w, http.StatusForbidden, "provider is provisioned and cannot be modified")
	case errors.Is(err, providers.ErrScopesNotValidated):
		s.sendJSONError(w, http.StatusPreconditionFailed, "provider scopes could not be validated")
	case errors.Is(err, providers.ErrInvalidConfig):
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, providers.ErrInvalidAPIKey):
		s.sendJSONError(w, http.StatusUnauthorized, "invalid API key")
	case errors.Is(err, store.ErrDuplicateProvider):
		s.sendJSONError(w, http.StatusConflict, "provider already installed")
	case errors.Is(err, llm.ErrNotConfigured):
		s.sendJSONError(w, http.StatusServiceUnavailable, "assistant is not configured")
	default:
		s.logger.Error("request failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeSSEEvent writes one Server-Sent Event to the response.
func (s *Server) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// setSSEHeaders prepares the response for Server-Sent Events.
func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
