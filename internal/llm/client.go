// Package llm provides the chat completion client used by the reranking
// and answer synthesis stages. It speaks the OpenAI chat API, which also
// covers local Ollama servers through their /v1 compatibility endpoint.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	apperrors "github.com/brendenrossin/secondbrain/internal/errors"
)

// Defaults for chat completion calls.
const (
	DefaultModel   = "gpt-4o-mini"
	DefaultTimeout = 120 * time.Second
)

// Message is a single chat turn.
type Message struct {
	Role    string
	Content string
}

// Message role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatClient generates chat completions. Implementations must respect
// context cancellation on both blocking and streaming calls.
type ChatClient interface {
	// Complete returns the full completion text for a conversation.
	Complete(ctx context.Context, messages []Message) (string, error)

	// Stream sends completion tokens to the returned channel as they
	// arrive. The channel is closed when the completion finishes or the
	// context is cancelled; a terminal error is delivered via the
	// returned error channel.
	Stream(ctx context.Context, messages []Message) (<-chan string, <-chan error)

	// Model returns the model identifier in use.
	Model() string
}

// Config configures the OpenAI-compatible chat backend.
type Config struct {
	// APIKey defaults to the OPENAI_API_KEY environment variable. Local
	// Ollama servers accept any non-empty key.
	APIKey string

	// BaseURL overrides the endpoint, e.g. http://localhost:11434/v1
	// for Ollama.
	BaseURL string

	Model   string
	Timeout time.Duration
}

// Client is the OpenAI-compatible ChatClient implementation.
type Client struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

var _ ChatClient = (*Client)(nil)

// NewClient creates a chat completion client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		if cfg.BaseURL == "" {
			return nil, apperrors.New(apperrors.ErrCodeProviderUnavailable,
				"OPENAI_API_KEY not set and no local base URL configured", nil)
		}
		// Local servers ignore the key but the SDK requires one.
		cfg.APIKey = "local"
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &Client{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}, nil
}

// Model returns the model identifier.
func (c *Client) Model() string {
	return c.model
}

// Complete returns the full completion for a conversation.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toOpenAIMessages(messages),
	})
	if err != nil {
		return "", classifyChatErr(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.ProviderError("chat completion returned no choices", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream streams completion tokens. Both channels are owned by the
// spawned goroutine; the token channel closes when the stream ends and
// the error channel then carries at most one terminal error.
func (c *Client) Stream(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	tokens := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(tokens)
		defer close(errs)

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		stream, err := c.client.CreateChatCompletionStream(callCtx, openai.ChatCompletionRequest{
			Model:    c.model,
			Messages: toOpenAIMessages(messages),
			Stream:   true,
		})
		if err != nil {
			errs <- classifyChatErr(ctx, err)
			return
		}
		defer stream.Close()

		for {
			chunk, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				errs <- classifyChatErr(ctx, err)
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}

			select {
			case tokens <- delta:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()

	return tokens, errs
}

// classifyChatErr maps transport failures into the error taxonomy.
// Caller-initiated cancellation passes through untouched so it is never
// misreported as a provider failure.
func classifyChatErr(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.ProviderTimeout("chat completion timed out", err)
	}
	return apperrors.ProviderError(fmt.Sprintf("chat completion failed: %v", err), err)
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
