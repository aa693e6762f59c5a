// ABOUTME: Tests for the assistant conversation and chat HTTP handlers
// ABOUTME: Covers CRUD, chat turns, SSE streaming, HTML export, and auth

package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconhq/beacon-api/internal/auth"
	"github.com/beaconhq/beacon-api/internal/config"
)

func TestConversations_CreateAndList(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/assistant/conversations", CreateConversationRequest{Title: "Disk alerts"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeJSON[ConversationResponse](t, rec)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "Disk alerts", created.Title)

	rec = ts.do(t, http.MethodGet, "/api/assistant/conversations", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeJSON[[]ConversationResponse](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)
}

func TestConversations_CreateRequiresTitle(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/assistant/conversations", CreateConversationRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConversation_GetWithMessages(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/assistant/conversations", map[string]any{
		"title": "Disk alerts",
		"messages": []map[string]string{
			{"role": "user", "content": "what is going on?"},
		},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeJSON[ConversationResponse](t, rec)

	rec = ts.do(t, http.MethodGet, "/api/assistant/conversations/"+created.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decodeJSON[ConversationDetailResponse](t, rec)
	require.Len(t, detail.Messages, 1)
	assert.Equal(t, "what is going on?", detail.Messages[0].Content)
}

func TestConversation_NotFound(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/api/assistant/conversations/no-such-id", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversation_Patch(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/assistant/conversations", CreateConversationRequest{Title: "before"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeJSON[ConversationResponse](t, rec)

	rec = ts.do(t, http.MethodPatch, "/api/assistant/conversations/"+created.ID, map[string]string{"title": "after"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeJSON[ConversationResponse](t, rec)
	assert.Equal(t, "after", updated.Title)
}

func TestConversation_Delete(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/assistant/conversations", CreateConversationRequest{Title: "doomed"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeJSON[ConversationResponse](t, rec)

	rec = ts.do(t, http.MethodDelete, "/api/assistant/conversations/"+created.ID, nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/assistant/conversations/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversation_AddMessage(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/assistant/conversations", CreateConversationRequest{Title: "notes"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeJSON[ConversationResponse](t, rec)

	rec = ts.do(t, http.MethodPost, "/api/assistant/conversations/"+created.ID+"/messages", AddMessageRequest{
		Role:    "user",
		Content: "remember this",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	msg := decodeJSON[MessageResponse](t, rec)
	assert.Equal(t, "remember this", msg.Content)

	rec = ts.do(t, http.MethodPost, "/api/assistant/conversations/"+created.ID+"/messages", AddMessageRequest{
		Role:    "wizard",
		Content: "bad role",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat_NewConversation(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/assistant/chat", ChatRequest{Message: "why is the database down?"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON[ChatResponse](t, rec)
	assert.NotEmpty(t, resp.ConversationID)
	assert.Equal(t, "canned reply", resp.Message)
	assert.True(t, resp.ConversationCreated)

	// A second turn reuses the conversation
	rec = ts.do(t, http.MethodPost, "/api/assistant/chat", ChatRequest{
		Message:        "and now?",
		ConversationID: resp.ConversationID,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decodeJSON[ChatResponse](t, rec)
	assert.Equal(t, resp.ConversationID, second.ConversationID)
	assert.False(t, second.ConversationCreated)
}

func TestChat_RequiresMessage(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/assistant/chat", ChatRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat_UnknownConversation(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/assistant/chat", ChatRequest{
		Message:        "hello",
		ConversationID: "no-such-id",
	}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChat_Streaming(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/assistant/chat", ChatRequest{Message: "stream it", Stream: true}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: conversation_created")
	assert.Contains(t, body, "event: message_chunk")
	assert.Contains(t, body, `"text":"canned"`)
	assert.Contains(t, body, "event: message_complete")
}

func TestConversation_Export(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/assistant/chat", ChatRequest{Message: "summarize"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeJSON[ChatResponse](t, rec)

	rec = ts.do(t, http.MethodGet, "/api/assistant/conversations/"+resp.ConversationID+"/export", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "<h2>user</h2>")
	assert.Contains(t, body, "summarize")
	assert.Contains(t, body, "canned reply")
	// The seeded system prompt stays out of exports
	assert.NotContains(t, body, "<h2>system</h2>")
}

func TestAuth_Enforced(t *testing.T) {
	secret := "test-jwt-secret"
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.JWTSecret = secret
	})

	rec := ts.do(t, http.MethodGet, "/api/assistant/conversations", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	verifier := auth.NewJWTVerifier([]byte(secret))
	token, err := verifier.Generate(&auth.Entity{
		TenantID: "acme",
		Email:    "ops@acme.test",
		Scopes:   []string{ScopeAssistant},
	}, time.Hour)
	require.NoError(t, err)

	rec = ts.do(t, http.MethodGet, "/api/assistant/conversations", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Assistant scope doesn't open the providers API
	rec = ts.do(t, http.MethodGet, "/api/providers", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
