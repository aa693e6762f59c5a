// ABOUTME: Provider row persistence plus per-provider structured logs
// ABOUTME: Providers are unique per (tenant, name); scopes stored as a JSON document

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// CreateProvider inserts a new provider row. Returns ErrDuplicateProvider
// when the tenant already has a provider with the same name.
func (s *SQLiteStore) CreateProvider(ctx context.Context, p *Provider) error {
	scopesJSON, err := marshalScopes(p.ValidatedScopes)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO providers (id, tenant_id, name, type, installed_by, installed_at, secret_name, scopes_json, consumer, provisioned, pulling_enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID,
		p.TenantID,
		p.Name,
		p.Type,
		p.InstalledBy,
		formatTime(p.InstalledAt),
		p.SecretName,
		scopesJSON,
		boolToInt(p.Consumer),
		boolToInt(p.Provisioned),
		boolToInt(p.PullingEnabled),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateProvider
		}
		return fmt.Errorf("inserting provider: %w", err)
	}

	s.logger.Debug("created provider", "id", p.ID, "tenant", p.TenantID, "type", p.Type)
	return nil
}

// GetProvider retrieves a provider by ID scoped to a tenant.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetProvider(ctx context.Context, tenantID, id string) (*Provider, error) {
	row := s.db.QueryRowContext(ctx, providerSelect+` WHERE id = ? AND tenant_id = ?`, id, tenantID)
	p, err := scanProvider(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying provider: %w", err)
	}
	return p, nil
}

// GetProviderByName retrieves a provider by its unique (tenant, name) pair.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetProviderByName(ctx context.Context, tenantID, name string) (*Provider, error) {
	row := s.db.QueryRowContext(ctx, providerSelect+` WHERE tenant_id = ? AND name = ?`, tenantID, name)
	p, err := scanProvider(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying provider by name: %w", err)
	}
	return p, nil
}

// ListProviders returns all installed providers for a tenant.
func (s *SQLiteStore) ListProviders(ctx context.Context, tenantID string) ([]*Provider, error) {
	return s.queryProviders(ctx, providerSelect+` WHERE tenant_id = ? ORDER BY installed_at DESC`, tenantID)
}

// ListProvisionedProviders returns the tenant's providers that were installed
// by provisioning rather than through the API.
func (s *SQLiteStore) ListProvisionedProviders(ctx context.Context, tenantID string) ([]*Provider, error) {
	return s.queryProviders(ctx, providerSelect+` WHERE tenant_id = ? AND provisioned = 1 ORDER BY installed_at DESC`, tenantID)
}

func (s *SQLiteStore) queryProviders(ctx context.Context, query string, args ...any) ([]*Provider, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying providers: %w", err)
	}
	defer rows.Close()

	var providers []*Provider
	for rows.Next() {
		p, err := scanProvider(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning provider row: %w", err)
		}
		providers = append(providers, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating provider rows: %w", err)
	}
	return providers, nil
}

// UpdateProvider updates a provider's mutable fields.
// Returns ErrNotFound if the provider doesn't exist.
func (s *SQLiteStore) UpdateProvider(ctx context.Context, p *Provider) error {
	scopesJSON, err := marshalScopes(p.ValidatedScopes)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE providers
		SET installed_by = ?, scopes_json = ?, consumer = ?, provisioned = ?, pulling_enabled = ?
		WHERE id = ? AND tenant_id = ?
	`,
		p.InstalledBy,
		scopesJSON,
		boolToInt(p.Consumer),
		boolToInt(p.Provisioned),
		boolToInt(p.PullingEnabled),
		p.ID,
		p.TenantID,
	)
	if err != nil {
		return fmt.Errorf("updating provider: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated provider", "id", p.ID)
	return nil
}

// DeleteProvider removes a provider row.
// Returns ErrNotFound if the provider doesn't exist.
func (s *SQLiteStore) DeleteProvider(ctx context.Context, tenantID, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE id = ? AND tenant_id = ?`, id, tenantID)
	if err != nil {
		return fmt.Errorf("deleting provider: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted provider", "id", id)
	return nil
}

// AddProviderLog appends a structured log line for a provider.
func (s *SQLiteStore) AddProviderLog(ctx context.Context, entry *ProviderLog) error {
	var contextJSON any
	if len(entry.Context) > 0 {
		raw, err := json.Marshal(entry.Context)
		if err != nil {
			return fmt.Errorf("marshaling log context: %w", err)
		}
		contextJSON = string(raw)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_logs (id, tenant_id, provider_id, timestamp, level, message, context_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		entry.TenantID,
		entry.ProviderID,
		formatTime(entry.Timestamp),
		entry.Level,
		entry.Message,
		contextJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting provider log: %w", err)
	}
	return nil
}

// ListProviderLogs returns a provider's log lines, newest first.
func (s *SQLiteStore) ListProviderLogs(ctx context.Context, tenantID, providerID string) ([]*ProviderLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, provider_id, timestamp, level, message, context_json
		FROM provider_logs
		WHERE tenant_id = ? AND provider_id = ?
		ORDER BY timestamp DESC
	`, tenantID, providerID)
	if err != nil {
		return nil, fmt.Errorf("querying provider logs: %w", err)
	}
	defer rows.Close()

	var logs []*ProviderLog
	for rows.Next() {
		var entry ProviderLog
		var timestampStr string
		var contextJSON sql.NullString

		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.ProviderID, &timestampStr, &entry.Level, &entry.Message, &contextJSON); err != nil {
			return nil, fmt.Errorf("scanning provider log row: %w", err)
		}

		entry.Timestamp, err = parseTime(timestampStr)
		if err != nil {
			return nil, fmt.Errorf("parsing log timestamp: %w", err)
		}
		if contextJSON.Valid {
			if err := json.Unmarshal([]byte(contextJSON.String), &entry.Context); err != nil {
				return nil, fmt.Errorf("unmarshaling log context: %w", err)
			}
		}

		logs = append(logs, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating provider log rows: %w", err)
	}
	return logs, nil
}

const providerSelect = `
	SELECT id, tenant_id, name, type, installed_by, installed_at, secret_name, scopes_json, consumer, provisioned, pulling_enabled
	FROM providers`

func scanProvider(scan func(dest ...any) error) (*Provider, error) {
	var p Provider
	var installedAtStr string
	var scopesJSON sql.NullString
	var consumer, provisioned, pullingEnabled int

	err := scan(&p.ID, &p.TenantID, &p.Name, &p.Type, &p.InstalledBy, &installedAtStr, &p.SecretName, &scopesJSON, &consumer, &provisioned, &pullingEnabled)
	if err != nil {
		return nil, err
	}

	p.InstalledAt, err = parseTime(installedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing installed_at: %w", err)
	}

	if scopesJSON.Valid && scopesJSON.String != "" {
		if err := json.Unmarshal([]byte(scopesJSON.String), &p.ValidatedScopes); err != nil {
			return nil, fmt.Errorf("unmarshaling scopes: %w", err)
		}
	}

	p.Consumer = consumer != 0
	p.Provisioned = provisioned != 0
	p.PullingEnabled = pullingEnabled != 0

	return &p, nil
}

func marshalScopes(scopes map[string]any) (any, error) {
	if len(scopes) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(scopes)
	if err != nil {
		return nil, fmt.Errorf("marshaling scopes: %w", err)
	}
	return string(raw), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
