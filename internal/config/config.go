// ABOUTME: Configuration loading and parsing for beacon-api
// ABOUTME: Supports YAML files with environment variable expansion and validation

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete beacon-api configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Assistant AssistantConfig `yaml:"assistant"`
	Secrets   SecretsConfig   `yaml:"secrets"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	// BaseURL is the externally reachable URL of this API. It is embedded
	// in webhook callback URLs handed to third-party providers.
	BaseURL string `yaml:"base_url"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`

	// DefaultTenant is used for unauthenticated requests when no JWT
	// secret is configured (single-tenant/dev deployments).
	DefaultTenant string `yaml:"default_tenant"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AssistantConfig holds AI assistant / LLM client configuration
type AssistantConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens"`
}

// SecretsConfig holds secret manager configuration
type SecretsConfig struct {
	// Backend selects the secret storage: "file" or "db".
	Backend string `yaml:"backend"`

	// Directory is the secrets directory for the file backend.
	Directory string `yaml:"directory"`

	// EncryptionKey is a base64-encoded 32-byte AES key used to encrypt
	// secret values at rest. Falls back to BEACON_SECRETS_KEY.
	EncryptionKey string `yaml:"encryption_key"`
}

// ProvidersConfig holds provider provisioning and ingestion configuration
type ProvidersConfig struct {
	// ProvisionDirectory points at a directory of per-provider YAML files.
	ProvisionDirectory string `yaml:"provision_directory"`

	// ProvisionDocument is an inline YAML/JSON document mapping provider
	// names to their definitions. Typically injected via ${BEACON_PROVIDERS}.
	ProvisionDocument string `yaml:"provision_document"`

	// StoreLogs enables per-provider execution log retrieval.
	StoreLogs bool `yaml:"store_logs"`

	// Ingest dedupe window. Raw string parsed into IngestDedupeTTL.
	IngestDedupeTTL    time.Duration `yaml:"-"`
	IngestDedupeTTLRaw string        `yaml:"ingest_dedupe_ttl"`

	// IngestCacheSize bounds the dedupe cache (0 = default).
	IngestCacheSize int `yaml:"ingest_cache_size"`
}

// Default LLM parameters, matching the assistant's tuned values.
const (
	DefaultModel       = "gpt-3.5-turbo"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.parseDurations(); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in defaults for optional fields.
func (c *Config) applyDefaults() {
	if c.Assistant.Model == "" {
		c.Assistant.Model = DefaultModel
	}
	if c.Assistant.Temperature == 0 {
		c.Assistant.Temperature = DefaultTemperature
	}
	if c.Assistant.MaxTokens == 0 {
		c.Assistant.MaxTokens = DefaultMaxTokens
	}
	if c.Secrets.Backend == "" {
		c.Secrets.Backend = "db"
	}
	if c.Auth.DefaultTenant == "" {
		c.Auth.DefaultTenant = "default"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Secrets.Backend {
	case "file":
		if c.Secrets.Directory == "" {
			return fmt.Errorf("secrets.directory is required for the file backend")
		}
	case "db":
	default:
		return fmt.Errorf("secrets.backend must be \"file\" or \"db\", got %q", c.Secrets.Backend)
	}

	if c.Providers.ProvisionDirectory != "" && c.Providers.ProvisionDocument != "" {
		return fmt.Errorf("providers.provision_directory and providers.provision_document are mutually exclusive")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func (c *Config) parseDurations() error {
	if c.Providers.IngestDedupeTTLRaw != "" {
		d, err := time.ParseDuration(c.Providers.IngestDedupeTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing ingest_dedupe_ttl %q: %w", c.Providers.IngestDedupeTTLRaw, err)
		}
		c.Providers.IngestDedupeTTL = d
	}
	return nil
}
