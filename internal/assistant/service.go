// ABOUTME: Assistant service orchestrating conversations and LLM generation
// ABOUTME: Handles implicit conversation creation, history building, and streaming

package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/beaconhq/beacon-api/internal/llm"
	"github.com/beaconhq/beacon-api/internal/metrics"
	"github.com/beaconhq/beacon-api/internal/store"
)

// persistTimeout bounds message persistence after a client disconnect.
const persistTimeout = 10 * time.Second

// Service implements the AI assistant operations.
type Service struct {
	store  store.Store
	llm    llm.Client
	logger *slog.Logger
}

// New creates an assistant service.
func New(st store.Store, client llm.Client) *Service {
	return &Service{
		store:  st,
		llm:    client,
		logger: slog.Default().With("component", "assistant"),
	}
}

// MessageInput is a message supplied when creating a conversation.
type MessageInput struct {
	Role    string
	Content string
}

// ConversationUpdate carries partial conversation updates; nil fields are
// left unchanged.
type ConversationUpdate struct {
	Title    *string
	Context  *string
	Metadata *string
}

// ChatResult is the outcome of a non-streaming chat call.
type ChatResult struct {
	ConversationID      string
	Message             string
	ConversationCreated bool
}

// Stream event types relayed to SSE clients.
const (
	EventConversationCreated = "conversation_created"
	EventMessageChunk        = "message_chunk"
	EventMessageComplete     = "message_complete"
	EventError               = "error"
)

// StreamEvent is one event on a streaming chat channel.
type StreamEvent struct {
	Type           string
	ConversationID string
	Text           string
	Err            error
}

// ListConversations returns the user's conversations, newest first.
func (s *Service) ListConversations(ctx context.Context, tenantID, userEmail string) ([]*store.Conversation, error) {
	return s.store.ListConversations(ctx, tenantID, userEmail)
}

// GetConversation returns a conversation with its messages.
func (s *Service) GetConversation(ctx context.Context, tenantID, userEmail, id string) (*store.Conversation, []*store.Message, error) {
	conv, err := s.store.GetConversation(ctx, tenantID, userEmail, id)
	if err != nil {
		return nil, nil, err
	}
	messages, err := s.store.ListMessages(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return conv, messages, nil
}

// CreateConversation creates a conversation with optional initial messages.
func (s *Service) CreateConversation(ctx context.Context, tenantID, userEmail, title, contextJSON, metadataJSON string, initial []MessageInput) (*store.Conversation, error) {
	now := time.Now().UTC()
	conv := &store.Conversation{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		UserEmail: userEmail,
		Title:     title,
		Context:   contextJSON,
		Metadata:  metadataJSON,
		CreatedAt: now,
		UpdatedAt: now,
	}

	messages := make([]*store.Message, 0, len(initial))
	for _, in := range initial {
		messages = append(messages, &store.Message{
			ID:             uuid.New().String(),
			ConversationID: conv.ID,
			Role:           in.Role,
			Content:        in.Content,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	if err := s.store.CreateConversation(ctx, conv, messages); err != nil {
		return nil, err
	}
	return conv, nil
}

// UpdateConversation applies a partial update and returns the result.
func (s *Service) UpdateConversation(ctx context.Context, tenantID, userEmail, id string, upd ConversationUpdate) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, tenantID, userEmail, id)
	if err != nil {
		return nil, err
	}

	if upd.Title != nil {
		conv.Title = *upd.Title
	}
	if upd.Context != nil {
		conv.Context = *upd.Context
	}
	if upd.Metadata != nil {
		conv.Metadata = *upd.Metadata
	}
	conv.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// DeleteConversation removes a conversation and its messages.
func (s *Service) DeleteConversation(ctx context.Context, tenantID, userEmail, id string) error {
	return s.store.DeleteConversation(ctx, tenantID, userEmail, id)
}

// AddMessage appends a message to a conversation the user owns.
func (s *Service) AddMessage(ctx context.Context, tenantID, userEmail, conversationID, role, content string) (*store.Message, error) {
	if _, err := s.store.GetConversation(ctx, tenantID, userEmail, conversationID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.AddMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Chat runs a non-streaming chat turn. An empty conversationID creates a new
// conversation titled after the message and seeded with the system prompt.
func (s *Service) Chat(ctx context.Context, tenantID, userEmail, conversationID, message, contextJSON string) (*ChatResult, error) {
	start := time.Now()

	conv, created, err := s.ensureConversation(ctx, tenantID, userEmail, conversationID, message, contextJSON)
	if err != nil {
		metrics.ChatRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	history, err := s.appendUserMessage(ctx, conv, message)
	if err != nil {
		metrics.ChatRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	response, err := s.llm.Complete(ctx, history)
	if err != nil {
		metrics.ChatRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("generating response: %w", err)
	}

	if err := s.persistAssistantMessage(conv.ID, response); err != nil {
		metrics.ChatRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.ChatRequests.WithLabelValues("ok").Inc()
	metrics.ChatDuration.Observe(time.Since(start).Seconds())
	return &ChatResult{
		ConversationID:      conv.ID,
		Message:             response,
		ConversationCreated: created,
	}, nil
}

// ChatStream runs a streaming chat turn. The full response is accumulated and
// persisted as one assistant message when the stream ends; partial text is
// still persisted when the stream fails mid-way.
func (s *Service) ChatStream(ctx context.Context, tenantID, userEmail, conversationID, message, contextJSON string) (<-chan StreamEvent, error) {
	conv, created, err := s.ensureConversation(ctx, tenantID, userEmail, conversationID, message, contextJSON)
	if err != nil {
		return nil, err
	}

	history, err := s.appendUserMessage(ctx, conv, message)
	if err != nil {
		return nil, err
	}

	chunks, err := s.llm.Stream(ctx, history)
	if err != nil {
		return nil, fmt.Errorf("starting stream: %w", err)
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)

		if created {
			events <- StreamEvent{Type: EventConversationCreated, ConversationID: conv.ID}
		}

		var accumulated string
		for chunk := range chunks {
			if chunk.Err != nil {
				s.logger.Error("chat stream failed", "conversation_id", conv.ID, "error", chunk.Err)
				s.persistPartial(conv.ID, accumulated)
				metrics.ChatRequests.WithLabelValues("error").Inc()
				events <- StreamEvent{Type: EventError, ConversationID: conv.ID, Err: chunk.Err}
				return
			}
			accumulated += chunk.Text
			metrics.StreamChunks.Inc()
			select {
			case events <- StreamEvent{Type: EventMessageChunk, ConversationID: conv.ID, Text: chunk.Text}:
			case <-ctx.Done():
				s.persistPartial(conv.ID, accumulated)
				return
			}
		}

		s.persistPartial(conv.ID, accumulated)
		metrics.ChatRequests.WithLabelValues("ok").Inc()
		events <- StreamEvent{Type: EventMessageComplete, ConversationID: conv.ID}
	}()

	return events, nil
}

// ensureConversation loads the conversation, or creates one seeded with the
// system prompt when no ID is given.
func (s *Service) ensureConversation(ctx context.Context, tenantID, userEmail, conversationID, message, contextJSON string) (*store.Conversation, bool, error) {
	if conversationID != "" {
		conv, err := s.store.GetConversation(ctx, tenantID, userEmail, conversationID)
		if err != nil {
			return nil, false, err
		}
		return conv, false, nil
	}

	conv, err := s.CreateConversation(ctx, tenantID, userEmail, deriveTitle(message), contextJSON, "", []MessageInput{
		{Role: store.RoleSystem, Content: buildSystemPrompt(contextJSON)},
	})
	if err != nil {
		return nil, false, err
	}
	s.logger.Info("created conversation", "id", conv.ID, "tenant", tenantID)
	return conv, true, nil
}

// appendUserMessage persists the user's message and returns the full chat
// history to send to the LLM. Histories that don't start with a system
// message get the system prompt prepended without persisting it.
func (s *Service) appendUserMessage(ctx context.Context, conv *store.Conversation, message string) ([]llm.ChatMessage, error) {
	now := time.Now().UTC()
	if err := s.store.AddMessage(ctx, &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Role:           store.RoleUser,
		Content:        message,
		CreatedAt:      now,
		UpdatedAt:      now,
	}); err != nil {
		return nil, err
	}

	stored, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	var history []llm.ChatMessage
	if len(stored) == 0 || stored[0].Role != store.RoleSystem {
		history = append(history, llm.ChatMessage{Role: store.RoleSystem, Content: buildSystemPrompt(conv.Context)})
	}
	for _, msg := range stored {
		history = append(history, llm.ChatMessage{Role: msg.Role, Content: msg.Content})
	}
	return history, nil
}

// persistAssistantMessage saves the assistant reply using a background
// context so a dropped client doesn't lose the message.
func (s *Service) persistAssistantMessage(conversationID, content string) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	now := time.Now().UTC()
	return s.store.AddMessage(ctx, &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           store.RoleAssistant,
		Content:        content,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
}

func (s *Service) persistPartial(conversationID, accumulated string) {
	if accumulated == "" {
		return
	}
	if err := s.persistAssistantMessage(conversationID, accumulated); err != nil {
		s.logger.Error("persisting assistant message failed", "conversation_id", conversationID, "error", err)
	}
}
