// Package openai provides a model.Client backed by the OpenAI Chat
// Completions API using github.com/openai/openai-go. Content deltas of the
// first choice are emitted as task.TextDelta.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"goa.design/agentflow/features/model"
	"goa.design/agentflow/runtime/task"
)

// ChatClient captures the subset of the openai-go client used by the adapter.
// It is satisfied by *sdk.ChatCompletionService.
type ChatClient interface {
	NewStreaming(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk]
}

// Options configures the OpenAI adapter.
type Options struct {
	// DefaultModel is used when the request names no model. Required.
	DefaultModel string
	// MaxTokens caps completions when the request does not. Zero leaves
	// the provider default.
	MaxTokens int
	// System is used when the request has no system prompt.
	System string
}

// Client implements model.Client via the OpenAI Chat Completions API.
type Client struct {
	chat   ChatClient
	model  string
	maxTok int
	system string
}

// New builds an OpenAI-backed model client from the provided options.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model is required")
	}
	return &Client{chat: chat, model: opts.DefaultModel, maxTok: opts.MaxTokens, system: opts.System}, nil
}

// NewFromAPIKey constructs a client using the default openai-go HTTP client.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	oc := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&oc.Chat.Completions, opts)
}

// Stream implements model.Client.
func (c *Client) Stream(ctx context.Context, req model.Request, emit func(task.Delta) error) error {
	params, err := c.params(req)
	if err != nil {
		return err
	}
	stream := c.chat.NewStreaming(ctx, params)
	defer func() {
		_ = stream.Close()
	}()
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if text := chunk.Choices[0].Delta.Content; text != "" {
			if err := emit(task.TextDelta{Text: text}); err != nil {
				return err
			}
		}
	}
	if err := stream.Err(); err != nil {
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return fmt.Errorf("openai chat completion stream: %w", err)
	}
	return nil
}

func (c *Client) params(req model.Request) (sdk.ChatCompletionNewParams, error) {
	if req.Prompt == "" {
		return sdk.ChatCompletionNewParams{}, errors.New("openai: prompt is required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}
	system := req.System
	if system == "" {
		system = c.system
	}
	var messages []sdk.ChatCompletionMessageParamUnion
	if system != "" {
		messages = append(messages, sdk.SystemMessage(system))
	}
	messages = append(messages, sdk.UserMessage(req.Prompt))
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(modelID),
		Messages: messages,
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(maxTokens))
	}
	return params, nil
}
