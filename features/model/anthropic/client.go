// Package anthropic provides a model.Client backed by the Anthropic Claude
// Messages API. Replies are requested with Messages.NewStreaming and each
// text fragment is emitted as a task.TextDelta.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"goa.design/agentflow/features/model"
	"goa.design/agentflow/runtime/task"
)

type (
	// MessagesClient captures the subset of the Anthropic SDK client used by the
	// adapter. It is satisfied by *sdk.MessageService so callers can pass either a
	// real client or a stub in tests.
	MessagesClient interface {
		NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
	}

	// Options configures the adapter.
	Options struct {
		// DefaultModel is used when the request does not name a model, for
		// example string(sdk.ModelClaudeSonnet4_5_20250929). Required.
		DefaultModel string
		// MaxTokens is used when the request does not set MaxTokens.
		// Defaults to 1024.
		MaxTokens int
		// Temperature is sent when positive.
		Temperature float64
		// System is used when the request has no system prompt.
		System string
	}

	// Client implements model.Client on top of Anthropic Claude Messages.
	Client struct {
		msg          MessagesClient
		defaultModel string
		maxTok       int
		temp         float64
		system       string
	}
)

const defaultMaxTokens = 1024

// New builds an Anthropic-backed model client from the provided Messages
// client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{
		msg:          msg,
		defaultModel: opts.DefaultModel,
		maxTok:       maxTokens,
		temp:         opts.Temperature,
		system:       opts.System,
	}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, opts)
}

// Stream implements model.Client.
func (c *Client) Stream(ctx context.Context, req model.Request, emit func(task.Delta) error) error {
	params, err := c.params(req)
	if err != nil {
		return err
	}
	stream := c.msg.NewStreaming(ctx, params)
	defer func() {
		_ = stream.Close()
	}()
	p := &deltaProcessor{emit: emit}
	for stream.Next() {
		if err := p.handle(stream.Current()); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		if isRateLimited(err) {
			return fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return fmt.Errorf("anthropic messages stream: %w", err)
	}
	if p.stopReason == sdk.StopReasonRefusal {
		return errors.New("anthropic: model refused to answer")
	}
	return nil
}

func (c *Client) params(req model.Request) (sdk.MessageNewParams, error) {
	if req.Prompt == "" {
		return sdk.MessageNewParams{}, errors.New("anthropic: prompt is required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
		Model:     sdk.Model(modelID),
	}
	system := req.System
	if system == "" {
		system = c.system
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if c.temp > 0 {
		params.Temperature = sdk.Float(c.temp)
	}
	return params, nil
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}
