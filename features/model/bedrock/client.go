// Package bedrock provides a model.Client backed by the AWS Bedrock Converse
// API. Replies are requested with ConverseStream and each text fragment is
// emitted as a task.TextDelta.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"goa.design/agentflow/features/model"
	"goa.design/agentflow/runtime/task"
	"goa.design/agentflow/runtime/telemetry"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client required
// by the adapter. It matches *bedrockruntime.Client so callers can pass either
// the real client or a stub in tests.
type RuntimeClient interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Options configures the Bedrock client adapter.
type Options struct {
	// DefaultModel is the model identifier used when the request names
	// none. Required.
	DefaultModel string
	// MaxTokens is used when the request does not set MaxTokens. Defaults
	// to 1024.
	MaxTokens int
	// Temperature is sent when positive.
	Temperature float32
	// System is used when the request has no system prompt.
	System string
	// Logger receives token usage at debug level.
	Logger telemetry.Logger
}

// Client implements model.Client on top of Bedrock ConverseStream.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
	maxTok       int
	temp         float32
	system       string
	logger       telemetry.Logger
}

// eventStream is satisfied by *bedrockruntime.ConverseStreamEventStream.
type eventStream interface {
	Events() <-chan brtypes.ConverseStreamOutput
	Close() error
	Err() error
}

const defaultMaxTokens = 1024

// New builds a Bedrock-backed model client.
func New(rt RuntimeClient, opts Options) (*Client, error) {
	if rt == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Client{
		runtime:      rt,
		defaultModel: opts.DefaultModel,
		maxTok:       maxTokens,
		temp:         opts.Temperature,
		system:       opts.System,
		logger:       logger,
	}, nil
}

// NewFromRegion builds a client using the default AWS credential chain.
func NewFromRegion(ctx context.Context, region string, opts Options) (*Client, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return New(bedrockruntime.NewFromConfig(cfg), opts)
}

// Stream implements model.Client.
func (c *Client) Stream(ctx context.Context, req model.Request, emit func(task.Delta) error) error {
	input, err := c.input(req)
	if err != nil {
		return err
	}
	out, err := c.runtime.ConverseStream(ctx, input)
	if err != nil {
		return wrapBedrockError("converse_stream", err)
	}
	stream := out.GetStream()
	if stream == nil {
		return errors.New("bedrock: stream output missing event stream")
	}
	return c.consume(ctx, stream, emit)
}

func (c *Client) consume(ctx context.Context, stream eventStream, emit func(task.Delta) error) error {
	defer func() {
		_ = stream.Close()
	}()
	p := &deltaProcessor{emit: emit}
	events := stream.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if err := stream.Err(); err != nil {
					return wrapBedrockError("converse_stream", err)
				}
				if p.usage != nil {
					c.logger.Debug(ctx, "bedrock usage",
						"input_tokens", p.usage.in, "output_tokens", p.usage.out, "stop_reason", string(p.stopReason))
				}
				return nil
			}
			if err := p.handle(ev); err != nil {
				return err
			}
		}
	}
}

func (c *Client) input(req model.Request) (*bedrockruntime.ConverseStreamInput, error) {
	if req.Prompt == "" {
		return nil, errors.New("bedrock: prompt is required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	input := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(modelID),
		Messages: []brtypes.Message{{
			Role:    brtypes.ConversationRoleUser,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: req.Prompt}},
		}},
		InferenceConfig: &brtypes.InferenceConfiguration{MaxTokens: aws.Int32(int32(maxTokens))},
	}
	if c.temp > 0 {
		input.InferenceConfig.Temperature = aws.Float32(c.temp)
	}
	system := req.System
	if system == "" {
		system = c.system
	}
	if system != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: system}}
	}
	return input, nil
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, model.ErrRateLimited) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusTooManyRequests {
		return true
	}
	return false
}

func wrapBedrockError(operation string, err error) error {
	if isRateLimited(err) {
		return fmt.Errorf("%w: bedrock %s: %w", model.ErrRateLimited, operation, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("bedrock %s: %s: %s", operation, apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return fmt.Errorf("bedrock %s: %w", operation, err)
}
