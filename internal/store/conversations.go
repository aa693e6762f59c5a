// ABOUTME: Conversation and message persistence for the AI assistant
// ABOUTME: Conversations are scoped to tenant and user; messages cascade on delete

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateConversation inserts a conversation and any initial messages in one
// transaction.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation, initial []*Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, tenant_id, user_email, title, context_json, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		conv.ID,
		conv.TenantID,
		conv.UserEmail,
		nullString(conv.Title),
		nullString(conv.Context),
		nullString(conv.Metadata),
		formatTime(conv.CreatedAt),
		formatTime(conv.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}

	for _, msg := range initial {
		if err := insertMessage(ctx, tx, msg); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "tenant", conv.TenantID, "messages", len(initial))
	return nil
}

// GetConversation retrieves a conversation by ID, scoped to tenant and user.
// Returns ErrNotFound if it doesn't exist or belongs to someone else.
func (s *SQLiteStore) GetConversation(ctx context.Context, tenantID, userEmail, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, user_email, title, context_json, metadata_json, created_at, updated_at
		FROM conversations
		WHERE id = ? AND tenant_id = ? AND user_email = ?
	`, id, tenantID, userEmail)

	conv, err := scanConversation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns the tenant/user's conversations, most recently
// updated first.
func (s *SQLiteStore) ListConversations(ctx context.Context, tenantID, userEmail string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, user_email, title, context_json, metadata_json, created_at, updated_at
		FROM conversations
		WHERE tenant_id = ? AND user_email = ?
		ORDER BY updated_at DESC
	`, tenantID, userEmail)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		conversations = append(conversations, conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}
	return conversations, nil
}

// UpdateConversation updates title, context, and metadata for an existing
// conversation. Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) UpdateConversation(ctx context.Context, conv *Conversation) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET title = ?, context_json = ?, metadata_json = ?, updated_at = ?
		WHERE id = ? AND tenant_id = ? AND user_email = ?
	`,
		nullString(conv.Title),
		nullString(conv.Context),
		nullString(conv.Metadata),
		formatTime(conv.UpdatedAt),
		conv.ID,
		conv.TenantID,
		conv.UserEmail,
	)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated conversation", "id", conv.ID)
	return nil
}

// DeleteConversation removes a conversation and its messages.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, tenantID, userEmail, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM conversations WHERE id = ? AND tenant_id = ? AND user_email = ?
	`, id, tenantID, userEmail)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted conversation", "id", id)
	return nil
}

// AddMessage appends a message to a conversation and bumps the
// conversation's updated_at.
func (s *SQLiteStore) AddMessage(ctx context.Context, msg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE id = ?
	`, formatTime(msg.CreatedAt), msg.ConversationID)
	if err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	if err := insertMessage(ctx, tx, msg); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("added message", "id", msg.ID, "conversation_id", msg.ConversationID, "role", msg.Role)
	return nil
}

// ListMessages returns a conversation's messages in chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, metadata_json, created_at, updated_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var metadata sql.NullString
		var createdAtStr, updatedAtStr string

		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &metadata, &createdAtStr, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.Metadata = metadata.String
		msg.CreatedAt, err = parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		msg.UpdatedAt, err = parseTime(updatedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message updated_at: %w", err)
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, msg *Message) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.ConversationID,
		msg.Role,
		msg.Content,
		nullString(msg.Metadata),
		formatTime(msg.CreatedAt),
		formatTime(msg.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

func scanConversation(scan func(dest ...any) error) (*Conversation, error) {
	var conv Conversation
	var title, contextJSON, metadata sql.NullString
	var createdAtStr, updatedAtStr string

	err := scan(&conv.ID, &conv.TenantID, &conv.UserEmail, &title, &contextJSON, &metadata, &createdAtStr, &updatedAtStr)
	if err != nil {
		return nil, err
	}

	conv.Title = title.String
	conv.Context = contextJSON.String
	conv.Metadata = metadata.String

	conv.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = parseTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &conv, nil
}
