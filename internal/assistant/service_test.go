// ABOUTME: Tests for the assistant service using a fake LLM client
// ABOUTME: Covers implicit conversation creation, history, streaming, and partial persistence

package assistant

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconhq/beacon-api/internal/llm"
	"github.com/beaconhq/beacon-api/internal/store"
)

// fakeLLM replays canned responses and records the histories it was given.
type fakeLLM struct {
	response string
	chunks   []llm.StreamChunk
	err      error
	history  []llm.ChatMessage
}

func (f *fakeLLM) Complete(ctx context.Context, messages []llm.ChatMessage) (string, error) {
	f.history = messages
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeLLM) Stream(ctx context.Context, messages []llm.ChatMessage) (<-chan llm.StreamChunk, error) {
	f.history = messages
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan llm.StreamChunk, len(f.chunks))
	for _, c := range f.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func newTestService(t *testing.T, client llm.Client) (*Service, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, client), s
}

func TestChat_CreatesConversation(t *testing.T) {
	fake := &fakeLLM{response: "You can silence it from the alert menu."}
	svc, st := newTestService(t, fake)
	ctx := context.Background()

	result, err := svc.Chat(ctx, "acme", "ops@acme.test", "", "How do I silence an alert?", "")
	require.NoError(t, err)
	assert.True(t, result.ConversationCreated)
	assert.NotEmpty(t, result.ConversationID)
	assert.Equal(t, "You can silence it from the alert menu.", result.Message)

	// Title derives from the user message
	conv, err := st.GetConversation(ctx, "acme", "ops@acme.test", result.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "How do I silence an alert?", conv.Title)

	// system prompt, user message, assistant reply
	messages, err := st.ListMessages(ctx, result.ConversationID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, store.RoleSystem, messages[0].Role)
	assert.Equal(t, store.RoleUser, messages[1].Role)
	assert.Equal(t, store.RoleAssistant, messages[2].Role)

	// The LLM saw the system prompt and the user message
	require.Len(t, fake.history, 2)
	assert.Equal(t, store.RoleSystem, fake.history[0].Role)
	assert.Equal(t, "How do I silence an alert?", fake.history[1].Content)
}

func TestChat_LongMessageTitleEllipsized(t *testing.T) {
	fake := &fakeLLM{response: "ok"}
	svc, st := newTestService(t, fake)
	ctx := context.Background()

	long := "This is a very long first message that definitely exceeds the fifty character title limit"
	result, err := svc.Chat(ctx, "acme", "ops@acme.test", "", long, "")
	require.NoError(t, err)

	conv, err := st.GetConversation(ctx, "acme", "ops@acme.test", result.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, long[:50]+"...", conv.Title)
}

func TestChat_ContinuesExistingConversation(t *testing.T) {
	fake := &fakeLLM{response: "first"}
	svc, _ := newTestService(t, fake)
	ctx := context.Background()

	first, err := svc.Chat(ctx, "acme", "ops@acme.test", "", "hello", "")
	require.NoError(t, err)

	fake.response = "second"
	second, err := svc.Chat(ctx, "acme", "ops@acme.test", first.ConversationID, "and again", "")
	require.NoError(t, err)
	assert.False(t, second.ConversationCreated)
	assert.Equal(t, first.ConversationID, second.ConversationID)

	// Full history: system, user, assistant, user
	require.Len(t, fake.history, 4)
	assert.Equal(t, "and again", fake.history[3].Content)
}

func TestChat_UnknownConversation(t *testing.T) {
	svc, _ := newTestService(t, &fakeLLM{response: "ok"})
	_, err := svc.Chat(context.Background(), "acme", "ops@acme.test", "no-such-id", "hello", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestChat_LLMError(t *testing.T) {
	svc, _ := newTestService(t, &fakeLLM{err: llm.ErrNotConfigured})
	_, err := svc.Chat(context.Background(), "acme", "ops@acme.test", "", "hello", "")
	assert.ErrorIs(t, err, llm.ErrNotConfigured)
}

func TestChat_ContextExtendsSystemPrompt(t *testing.T) {
	fake := &fakeLLM{response: "ok"}
	svc, _ := newTestService(t, fake)

	contextJSON := `{"user":"ops@acme.test","incident":{"id":"inc-1","name":"DB outage","summary":"primary down"},"alert_count":7}`
	_, err := svc.Chat(context.Background(), "acme", "ops@acme.test", "", "what happened?", contextJSON)
	require.NoError(t, err)

	require.NotEmpty(t, fake.history)
	prompt := fake.history[0].Content
	assert.Contains(t, prompt, "DB outage")
	assert.Contains(t, prompt, "inc-1")
	assert.Contains(t, prompt, "7 related alerts")
}

func TestChatStream_AccumulatesAndPersists(t *testing.T) {
	fake := &fakeLLM{chunks: []llm.StreamChunk{{Text: "Hel"}, {Text: "lo "}, {Text: "there"}}}
	svc, st := newTestService(t, fake)
	ctx := context.Background()

	events, err := svc.ChatStream(ctx, "acme", "ops@acme.test", "", "hi", "")
	require.NoError(t, err)

	var types []string
	var text string
	var conversationID string
	for ev := range events {
		types = append(types, ev.Type)
		text += ev.Text
		conversationID = ev.ConversationID
	}

	assert.Equal(t, []string{
		EventConversationCreated,
		EventMessageChunk, EventMessageChunk, EventMessageChunk,
		EventMessageComplete,
	}, types)
	assert.Equal(t, "Hello there", text)

	messages, err := st.ListMessages(ctx, conversationID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "Hello there", messages[2].Content)
}

func TestChatStream_ErrorPersistsPartial(t *testing.T) {
	streamErr := errors.New("upstream hiccup")
	fake := &fakeLLM{chunks: []llm.StreamChunk{{Text: "partial "}, {Text: "answer"}, {Err: streamErr}}}
	svc, st := newTestService(t, fake)
	ctx := context.Background()

	events, err := svc.ChatStream(ctx, "acme", "ops@acme.test", "", "hi", "")
	require.NoError(t, err)

	var last StreamEvent
	for ev := range events {
		last = ev
	}
	assert.Equal(t, EventError, last.Type)
	assert.ErrorIs(t, last.Err, streamErr)

	messages, err := st.ListMessages(ctx, last.ConversationID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "partial answer", messages[2].Content)
}

func TestUpdateConversation_PartialFields(t *testing.T) {
	svc, _ := newTestService(t, &fakeLLM{})
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, "acme", "ops@acme.test", "Original", `{"user":"x"}`, "", nil)
	require.NoError(t, err)

	title := "Renamed"
	updated, err := svc.UpdateConversation(ctx, "acme", "ops@acme.test", conv.ID, ConversationUpdate{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, `{"user":"x"}`, updated.Context)
}

func TestAddMessage_ChecksOwnership(t *testing.T) {
	svc, _ := newTestService(t, &fakeLLM{})
	ctx := context.Background()

	conv, err := svc.CreateConversation(ctx, "acme", "ops@acme.test", "t", "", "", nil)
	require.NoError(t, err)

	_, err = svc.AddMessage(ctx, "acme", "intruder@acme.test", conv.ID, store.RoleUser, "hi")
	assert.ErrorIs(t, err, store.ErrNotFound)

	msg, err := svc.AddMessage(ctx, "acme", "ops@acme.test", conv.ID, store.RoleUser, "hi")
	require.NoError(t, err)
	assert.Equal(t, store.RoleUser, msg.Role)
}
