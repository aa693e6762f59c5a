// ABOUTME: Deduplication rule persistence keyed by (tenant, name)
// ABOUTME: Rules are upserted during provisioning and consulted at ingest time

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// UpsertDeduplicationRule inserts a rule or, when the tenant already has a
// rule with the same name, updates it in place keeping its id and created_at.
func (s *SQLiteStore) UpsertDeduplicationRule(ctx context.Context, rule *DeduplicationRule) error {
	fieldsJSON, err := marshalStringList(rule.IgnoreFields)
	if err != nil {
		return fmt.Errorf("marshaling ignore fields: %w", err)
	}
	fingerprintJSON, err := marshalStringList(rule.FingerprintFields)
	if err != nil {
		return fmt.Errorf("marshaling fingerprint fields: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dedup_rules (id, tenant_id, name, provider_id, provider_type, description, fields_json, fingerprint_fields_json, full_deduplication, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, name) DO UPDATE SET
			provider_id = excluded.provider_id,
			provider_type = excluded.provider_type,
			description = excluded.description,
			fields_json = excluded.fields_json,
			fingerprint_fields_json = excluded.fingerprint_fields_json,
			full_deduplication = excluded.full_deduplication,
			updated_at = excluded.updated_at
	`,
		rule.ID,
		rule.TenantID,
		rule.Name,
		rule.ProviderID,
		rule.ProviderType,
		nullString(rule.Description),
		fieldsJSON,
		fingerprintJSON,
		boolToInt(rule.FullDeduplication),
		formatTime(rule.CreatedAt),
		formatTime(rule.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting dedup rule: %w", err)
	}

	s.logger.Debug("upserted dedup rule", "tenant", rule.TenantID, "name", rule.Name, "provider_id", rule.ProviderID)
	return nil
}

// DeleteDeduplicationRule removes a rule by ID.
// Returns ErrNotFound if the rule doesn't exist.
func (s *SQLiteStore) DeleteDeduplicationRule(ctx context.Context, tenantID, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM dedup_rules WHERE id = ? AND tenant_id = ?`, id, tenantID)
	if err != nil {
		return fmt.Errorf("deleting dedup rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted dedup rule", "id", id)
	return nil
}

// ListDeduplicationRules returns a provider's rules. An empty providerID
// returns all rules for the tenant.
func (s *SQLiteStore) ListDeduplicationRules(ctx context.Context, tenantID, providerID string) ([]*DeduplicationRule, error) {
	query := `
		SELECT id, tenant_id, name, provider_id, provider_type, description, fields_json, fingerprint_fields_json, full_deduplication, created_at, updated_at
		FROM dedup_rules
		WHERE tenant_id = ?`
	args := []any{tenantID}
	if providerID != "" {
		query += ` AND provider_id = ?`
		args = append(args, providerID)
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying dedup rules: %w", err)
	}
	defer rows.Close()

	var rules []*DeduplicationRule
	for rows.Next() {
		var rule DeduplicationRule
		var description, fieldsJSON, fingerprintJSON sql.NullString
		var fullDedup int
		var createdAtStr, updatedAtStr string

		if err := rows.Scan(&rule.ID, &rule.TenantID, &rule.Name, &rule.ProviderID, &rule.ProviderType,
			&description, &fieldsJSON, &fingerprintJSON, &fullDedup, &createdAtStr, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("scanning dedup rule row: %w", err)
		}

		rule.Description = description.String
		rule.FullDeduplication = fullDedup != 0

		if rule.IgnoreFields, err = unmarshalStringList(fieldsJSON); err != nil {
			return nil, fmt.Errorf("unmarshaling ignore fields: %w", err)
		}
		if rule.FingerprintFields, err = unmarshalStringList(fingerprintJSON); err != nil {
			return nil, fmt.Errorf("unmarshaling fingerprint fields: %w", err)
		}

		rule.CreatedAt, err = parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		rule.UpdatedAt, err = parseTime(updatedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}

		rules = append(rules, &rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dedup rule rows: %w", err)
	}
	return rules, nil
}

func marshalStringList(list []string) (any, error) {
	if len(list) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func unmarshalStringList(raw sql.NullString) ([]string, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw.String), &list); err != nil {
		return nil, err
	}
	return list, nil
}
