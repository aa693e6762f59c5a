// ABOUTME: OpenAI-backed LLM client using chat completions
// ABOUTME: Supports custom base URLs and runs disabled when no key is set

package llm

import (
	"context"
	"fmt"
	"log/slog"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/beaconhq/beacon-api/internal/config"
)

// OpenAIClient implements Client against the OpenAI chat completions API.
// When no API key is configured the client stays disabled and every call
// returns ErrNotConfigured.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float64
	maxTokens   int64
	logger      *slog.Logger
}

// NewOpenAIClient builds a client from the assistant configuration.
func NewOpenAIClient(cfg config.AssistantConfig) *OpenAIClient {
	c := &OpenAIClient{
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      slog.Default().With("component", "llm"),
	}

	if cfg.APIKey == "" {
		c.logger.Warn("no API key configured, assistant disabled")
		return c
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	c.client = &client
	return c
}

// Complete returns the full assistant response for the given history.
func (c *OpenAIClient) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	if c.client == nil {
		return "", ErrNotConfigured
	}

	resp, err := c.client.Chat.Completions.New(ctx, c.params(messages))
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream returns a channel of response deltas.
func (c *OpenAIClient) Stream(ctx context.Context, messages []ChatMessage) (<-chan StreamChunk, error) {
	if c.client == nil {
		return nil, ErrNotConfigured
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, c.params(messages))

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case out <- StreamChunk{Text: delta}:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil {
			c.logger.Error("stream failed", "error", err)
			select {
			case out <- StreamChunk{Err: fmt.Errorf("chat stream: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

func (c *OpenAIClient) params(messages []ChatMessage) openai.ChatCompletionNewParams {
	converted := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			converted = append(converted, openai.SystemMessage(msg.Content))
		case "assistant":
			converted = append(converted, openai.AssistantMessage(msg.Content))
		default:
			converted = append(converted, openai.UserMessage(msg.Content))
		}
	}

	return openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    converted,
		Temperature: openai.Float(c.temperature),
		MaxTokens:   openai.Int(c.maxTokens),
	}
}

var _ Client = (*OpenAIClient)(nil)
