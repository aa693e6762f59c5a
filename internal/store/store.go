// ABOUTME: Store interface and domain types for conversations, providers, and dedup rules
// ABOUTME: Defines the persistence contract shared by the assistant and provider services

package store

import (
	"context"
	"errors"
	"time"
)

// Store errors
var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateProvider = errors.New("provider already installed")
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Conversation is an AI-assistant chat thread scoped to a tenant and user.
// Context and Metadata hold raw JSON documents; empty means unset.
type Conversation struct {
	ID        string
	TenantID  string
	UserEmail string
	Title     string
	Context   string
	Metadata  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a single turn in a conversation.
type Message struct {
	ID             string
	ConversationID string
	Role           string
	Content        string
	Metadata       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Provider is an installed third-party integration. ValidatedScopes maps
// scope name to the validation result (true, or an error description).
type Provider struct {
	ID              string
	TenantID        string
	Name            string
	Type            string
	InstalledBy     string
	InstalledAt     time.Time
	SecretName      string
	ValidatedScopes map[string]any
	Consumer        bool
	Provisioned     bool
	PullingEnabled  bool
}

// DeduplicationRule controls alert fingerprinting for a provider.
// FingerprintFields are hashed; IgnoreFields are excluded when
// FullDeduplication hashes the whole event.
type DeduplicationRule struct {
	ID                string
	TenantID          string
	Name              string
	ProviderID        string
	ProviderType      string
	Description       string
	IgnoreFields      []string
	FingerprintFields []string
	FullDeduplication bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ProviderLog is a structured log line attributed to a provider.
type ProviderLog struct {
	ID         string
	TenantID   string
	ProviderID string
	Timestamp  time.Time
	Level      string
	Message    string
	Context    map[string]any
}

// Store defines the persistence operations for the service
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation, initial []*Message) error
	GetConversation(ctx context.Context, tenantID, userEmail, id string) (*Conversation, error)
	ListConversations(ctx context.Context, tenantID, userEmail string) ([]*Conversation, error)
	UpdateConversation(ctx context.Context, conv *Conversation) error
	DeleteConversation(ctx context.Context, tenantID, userEmail, id string) error
	AddMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)

	// Providers
	CreateProvider(ctx context.Context, p *Provider) error
	GetProvider(ctx context.Context, tenantID, id string) (*Provider, error)
	GetProviderByName(ctx context.Context, tenantID, name string) (*Provider, error)
	ListProviders(ctx context.Context, tenantID string) ([]*Provider, error)
	ListProvisionedProviders(ctx context.Context, tenantID string) ([]*Provider, error)
	UpdateProvider(ctx context.Context, p *Provider) error
	DeleteProvider(ctx context.Context, tenantID, id string) error

	// Deduplication rules
	UpsertDeduplicationRule(ctx context.Context, rule *DeduplicationRule) error
	DeleteDeduplicationRule(ctx context.Context, tenantID, id string) error
	ListDeduplicationRules(ctx context.Context, tenantID, providerID string) ([]*DeduplicationRule, error)

	// Provider logs
	AddProviderLog(ctx context.Context, entry *ProviderLog) error
	ListProviderLogs(ctx context.Context, tenantID, providerID string) ([]*ProviderLog, error)

	// API keys
	GetOrCreateAPIKey(ctx context.Context, tenantID, keyID, createdBy string) (string, bool, error)
	GetAPIKeyHash(ctx context.Context, tenantID, keyID string) (string, error)

	Ping(ctx context.Context) error
	Close() error
}
