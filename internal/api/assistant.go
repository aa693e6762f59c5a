// ABOUTME: HTTP handlers for the AI assistant conversation and chat API
// ABOUTME: Covers conversation CRUD, message append, HTML export, and SSE chat

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/beaconhq/beacon-api/internal/assistant"
	"github.com/beaconhq/beacon-api/internal/auth"
	"github.com/beaconhq/beacon-api/internal/store"
)

// ConversationResponse is the JSON shape of a conversation.
type ConversationResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Context   string `json:"context,omitempty"`
	Metadata  string `json:"metadata,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// MessageResponse is the JSON shape of a conversation message.
type MessageResponse struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// ConversationDetailResponse is the JSON response for GET of a single conversation.
type ConversationDetailResponse struct {
	ConversationResponse
	Messages []MessageResponse `json:"messages"`
}

// CreateConversationRequest is the JSON request body for POST /api/assistant/conversations.
type CreateConversationRequest struct {
	Title    string `json:"title"`
	Context  string `json:"context,omitempty"`
	Metadata string `json:"metadata,omitempty"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages,omitempty"`
}

// UpdateConversationRequest is the JSON request body for PATCH of a conversation.
// Absent fields are left unchanged.
type UpdateConversationRequest struct {
	Title    *string `json:"title"`
	Context  *string `json:"context"`
	Metadata *string `json:"metadata"`
}

// AddMessageRequest is the JSON request body for appending a message.
type AddMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the JSON request body for POST /api/assistant/chat.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
	Context        string `json:"context,omitempty"`
	Stream         bool   `json:"stream,omitempty"`
}

// ChatResponse is the JSON response for a non-streaming chat turn.
type ChatResponse struct {
	ConversationID      string `json:"conversation_id"`
	Message             string `json:"message"`
	ConversationCreated bool   `json:"conversation_created"`
}

func conversationResponse(conv *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:        conv.ID,
		Title:     conv.Title,
		Context:   conv.Context,
		Metadata:  conv.Metadata,
		CreatedAt: conv.CreatedAt.Format(time.RFC3339),
		UpdatedAt: conv.UpdatedAt.Format(time.RFC3339),
	}
}

func messageResponse(msg *store.Message) MessageResponse {
	return MessageResponse{
		ID:        msg.ID,
		Role:      msg.Role,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt.Format(time.RFC3339),
	}
}

// handleConversations handles GET (list) and POST (create) on the
// conversations collection.
func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	entity := auth.MustFromContext(r.Context())

	switch r.Method {
	case http.MethodGet:
		convs, err := s.assistant.ListConversations(r.Context(), entity.TenantID, entity.Email)
		if err != nil {
			s.sendServiceError(w, err)
			return
		}
		response := make([]ConversationResponse, 0, len(convs))
		for _, conv := range convs {
			response = append(response, conversationResponse(conv))
		}
		s.sendJSON(w, http.StatusOK, response)

	case http.MethodPost:
		var req CreateConversationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Title == "" {
			s.sendJSONError(w, http.StatusBadRequest, "title is required")
			return
		}

		initial := make([]assistant.MessageInput, 0, len(req.Messages))
		for _, m := range req.Messages {
			if !validRole(m.Role) {
				s.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid role %q", m.Role))
				return
			}
			initial = append(initial, assistant.MessageInput{Role: m.Role, Content: m.Content})
		}

		conv, err := s.assistant.CreateConversation(r.Context(), entity.TenantID, entity.Email, req.Title, req.Context, req.Metadata, initial)
		if err != nil {
			s.sendServiceError(w, err)
			return
		}
		s.sendJSON(w, http.StatusCreated, conversationResponse(conv))

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleConversationRoutes dispatches /api/assistant/conversations/{id} and
// its sub-resources (messages, export).
func (s *Server) handleConversationRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/assistant/conversations/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if parts[0] == "" {
		s.sendJSONError(w, http.StatusBadRequest, "conversation id is required")
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1:
		s.handleConversation(w, r, id)
	case len(parts) == 2 && parts[1] == "messages":
		s.handleConversationMessages(w, r, id)
	case len(parts) == 2 && parts[1] == "export":
		s.handleConversationExport(w, r, id)
	default:
		s.sendJSONError(w, http.StatusNotFound, "not found")
	}
}

// handleConversation handles GET, PATCH, and DELETE of a single conversation.
func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request, id string) {
	entity := auth.MustFromContext(r.Context())

	switch r.Method {
	case http.MethodGet:
		conv, messages, err := s.assistant.GetConversation(r.Context(), entity.TenantID, entity.Email, id)
		if err != nil {
			s.sendServiceError(w, err)
			return
		}
		detail := ConversationDetailResponse{
			ConversationResponse: conversationResponse(conv),
			Messages:             make([]MessageResponse, 0, len(messages)),
		}
		for _, msg := range messages {
			detail.Messages = append(detail.Messages, messageResponse(msg))
		}
		s.sendJSON(w, http.StatusOK, detail)

	case http.MethodPatch:
		var req UpdateConversationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		conv, err := s.assistant.UpdateConversation(r.Context(), entity.TenantID, entity.Email, id, assistant.ConversationUpdate{
			Title:    req.Title,
			Context:  req.Context,
			Metadata: req.Metadata,
		})
		if err != nil {
			s.sendServiceError(w, err)
			return
		}
		s.sendJSON(w, http.StatusOK, conversationResponse(conv))

	case http.MethodDelete:
		if err := s.assistant.DeleteConversation(r.Context(), entity.TenantID, entity.Email, id); err != nil {
			s.sendServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleConversationMessages handles POST to append a message.
func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	entity := auth.MustFromContext(r.Context())

	var req AddMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Content == "" {
		s.sendJSONError(w, http.StatusBadRequest, "content is required")
		return
	}
	if !validRole(req.Role) {
		s.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid role %q", req.Role))
		return
	}

	msg, err := s.assistant.AddMessage(r.Context(), entity.TenantID, entity.Email, id, req.Role, req.Content)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, messageResponse(msg))
}

// handleConversationExport handles GET of a conversation rendered as HTML.
// Assistant messages are treated as markdown; everything else is escaped text.
func (s *Server) handleConversationExport(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	entity := auth.MustFromContext(r.Context())

	conv, messages, err := s.assistant.GetConversation(r.Context(), entity.TenantID, entity.Email, id)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\">")
	fmt.Fprintf(&buf, "<title>%s</title></head>\n<body>\n", html.EscapeString(conv.Title))
	fmt.Fprintf(&buf, "<h1>%s</h1>\n", html.EscapeString(conv.Title))

	for _, msg := range messages {
		if msg.Role == store.RoleSystem {
			continue
		}
		fmt.Fprintf(&buf, "<h2>%s</h2>\n", html.EscapeString(msg.Role))
		if msg.Role == store.RoleAssistant {
			if err := goldmark.Convert([]byte(msg.Content), &buf); err != nil {
				s.logger.Error("markdown conversion failed", "conversation_id", id, "error", err)
				fmt.Fprintf(&buf, "<pre>%s</pre>\n", html.EscapeString(msg.Content))
			}
		} else {
			fmt.Fprintf(&buf, "<p>%s</p>\n", html.EscapeString(msg.Content))
		}
	}
	buf.WriteString("</body>\n</html>\n")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleChat handles POST /api/assistant/chat. With stream=true the response
// is relayed as Server-Sent Events; otherwise the full reply is returned as
// JSON once generation finishes.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	entity := auth.MustFromContext(r.Context())

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		s.sendJSONError(w, http.StatusBadRequest, "message is required")
		return
	}

	if !req.Stream {
		result, err := s.assistant.Chat(r.Context(), entity.TenantID, entity.Email, req.ConversationID, req.Message, req.Context)
		if err != nil {
			s.sendServiceError(w, err)
			return
		}
		s.sendJSON(w, http.StatusOK, ChatResponse{
			ConversationID:      result.ConversationID,
			Message:             result.Message,
			ConversationCreated: result.ConversationCreated,
		})
		return
	}

	// Check streaming support before starting the turn (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("streaming not supported")
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, err := s.assistant.ChatStream(r.Context(), entity.TenantID, entity.Email, req.ConversationID, req.Message, req.Context)
	if err != nil {
		s.sendServiceError(w, err)
		return
	}

	setSSEHeaders(w)
	flusher.Flush()

	for event := range events {
		switch event.Type {
		case assistant.EventConversationCreated:
			s.writeSSEEvent(w, event.Type, map[string]string{"conversation_id": event.ConversationID})
		case assistant.EventMessageChunk:
			s.writeSSEEvent(w, event.Type, map[string]string{"conversation_id": event.ConversationID, "text": event.Text})
		case assistant.EventMessageComplete:
			s.writeSSEEvent(w, event.Type, map[string]any{"conversation_id": event.ConversationID, "complete": true})
		case assistant.EventError:
			s.writeSSEEvent(w, event.Type, map[string]string{"conversation_id": event.ConversationID, "error": event.Err.Error()})
		}
		flusher.Flush()
	}
}

func validRole(role string) bool {
	switch role {
	case store.RoleUser, store.RoleAssistant, store.RoleSystem:
		return true
	}
	return false
}
