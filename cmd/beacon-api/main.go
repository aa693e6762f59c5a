// ABOUTME: Entry point for the beacon-api alert platform server
// ABOUTME: Serves the assistant and provider APIs plus CLI helper commands

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/beaconhq/beacon-api/internal/api"
	"github.com/beaconhq/beacon-api/internal/assistant"
	"github.com/beaconhq/beacon-api/internal/auth"
	"github.com/beaconhq/beacon-api/internal/config"
	"github.com/beaconhq/beacon-api/internal/dedupe"
	"github.com/beaconhq/beacon-api/internal/events"
	"github.com/beaconhq/beacon-api/internal/llm"
	"github.com/beaconhq/beacon-api/internal/providers"
	"github.com/beaconhq/beacon-api/internal/providers/builtin"
	"github.com/beaconhq/beacon-api/internal/secrets"
	"github.com/beaconhq/beacon-api/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _                                          _
| |__   ___  __ _  ___ ___  _ __         __ _ _ __ (_)
| '_ \ / _ \/ _' |/ __/ _ \| '_ \ _____ / _' | '_ \| |
| |_) |  __/ (_| | (_| (_) | | | |_____| (_| | |_) | |
|_.__/ \___|\__,_|\___\___/|_| |_|      \__,_| .__/|_|
                                             |_|
`

// getConfigPath returns the path to the beacon-api config file.
// Priority: BEACON_CONFIG env var > XDG_CONFIG_HOME/beacon/api.yaml > ~/.config/beacon/api.yaml
func getConfigPath() string {
	if envPath := os.Getenv("BEACON_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "api.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "beacon", "api.yaml")
}

func main() {
	// A local .env is optional; environment wins over file values
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println("Usage: beacon-api <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve       Start the API server")
		fmt.Println("  health      Check server health")
		fmt.Println("  ready       Check server readiness")
		fmt.Println("  token       Mint a JWT for API access")
		fmt.Println("  version     Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx, "/health")
	case "ready":
		err = runHealth(ctx, "/health/ready")
	case "token":
		err = runToken()
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Print("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	fmt.Println()

	logger.Info("starting beacon-api", "config", configPath, "http_addr", cfg.Server.HTTPAddr)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { _ = st.Close() }()

	sm, err := secrets.NewManager(cfg.Secrets, st)
	if err != nil {
		return fmt.Errorf("creating secret manager: %w", err)
	}

	factory := providers.NewFactory()
	if err := builtin.RegisterAll(factory); err != nil {
		return fmt.Errorf("registering providers: %w", err)
	}

	subscriber := events.NewSubscriber()
	defer subscriber.Stop()

	prov := providers.NewService(st, sm, factory, subscriber, baseURL(cfg), cfg.Providers.StoreLogs)

	if err := prov.Provision(ctx, cfg.Auth.DefaultTenant, cfg.Providers); err != nil {
		return fmt.Errorf("provisioning providers: %w", err)
	}

	if err := prov.RestoreConsumers(ctx, cfg.Auth.DefaultTenant); err != nil {
		return fmt.Errorf("restoring consumers: %w", err)
	}

	asst := assistant.New(st, llm.NewOpenAIClient(cfg.Assistant))

	cache := dedupe.New(cfg.Providers.IngestDedupeTTL, cfg.Providers.IngestCacheSize)
	defer cache.Close()

	return api.New(cfg, st, asst, prov, cache).Run(ctx)
}

// baseURL returns the externally reachable URL embedded in webhook callbacks.
func baseURL(cfg *config.Config) string {
	if cfg.Server.BaseURL != "" {
		return strings.TrimRight(cfg.Server.BaseURL, "/")
	}
	return "http://" + cfg.Server.HTTPAddr
}

func runHealth(ctx context.Context, path string) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	color.Green("%s", strings.TrimSpace(string(body)))
	return nil
}

// runToken mints a JWT signed with the configured secret.
// Supports "--flag value" and "--flag=value" forms.
func runToken() error {
	tenant := "default"
	email := ""
	scopes := []string{api.ScopeAssistant, api.ScopeProviders}
	ttl := 24 * time.Hour

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		flag, value, err := parseFlag(args, &i)
		if err != nil {
			return err
		}
		switch flag {
		case "--tenant":
			tenant = value
		case "--email":
			email = value
		case "--scopes":
			scopes = strings.Split(value, ",")
		case "--ttl":
			ttl, err = time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
		default:
			return fmt.Errorf("unknown flag: %s", flag)
		}
	}

	if email == "" {
		return fmt.Errorf("--email is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	token, err := verifier.Generate(&auth.Entity{TenantID: tenant, Email: email, Scopes: scopes}, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	gray := color.New(color.FgHiBlack)
	gray.Printf("tenant=%s email=%s scopes=%s ttl=%s\n", tenant, email, strings.Join(scopes, ","), ttl)
	fmt.Println(token)
	return nil
}

// parseFlag reads one "--flag value" or "--flag=value" pair starting at args[*i].
func parseFlag(args []string, i *int) (flag, value string, err error) {
	arg := args[*i]
	if eq := strings.Index(arg, "="); eq >= 0 {
		return arg[:eq], arg[eq+1:], nil
	}
	if *i+1 >= len(args) {
		return "", "", fmt.Errorf("%s requires a value", arg)
	}
	*i++
	return arg, args[*i], nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = &colorHandler{level: level}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{level: h.level, attrs: newAttrs, groups: h.groups}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{level: h.level, attrs: h.attrs, groups: newGroups}
}
