// ABOUTME: LLM client interface used by the assistant service
// ABOUTME: Defines chat message types and streaming chunk semantics

package llm

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when no API key was configured.
var ErrNotConfigured = errors.New("assistant is not configured: missing API key")

// ChatMessage is one turn of a chat completion request.
type ChatMessage struct {
	Role    string
	Content string
}

// StreamChunk carries one streamed text delta. Err is set on the final
// chunk when the stream failed; no further chunks follow it.
type StreamChunk struct {
	Text string
	Err  error
}

// Client generates chat completions.
type Client interface {
	// Complete returns the full assistant response for the given history.
	Complete(ctx context.Context, messages []ChatMessage) (string, error)

	// Stream returns a channel of response deltas. The channel is closed
	// when the response is complete or after an error chunk.
	Stream(ctx context.Context, messages []ChatMessage) (<-chan StreamChunk, error)
}
