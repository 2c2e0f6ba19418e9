// Package model defines the streaming model client used to produce agent
// replies. Provider adapters live in sub-packages and emit task deltas as
// the provider streams its response, so the output can be fed directly to a
// stream.Session.
package model

import (
	"context"
	"errors"

	"goa.design/agentflow/runtime/task"
)

// ErrRateLimited indicates that the provider rejected a request because of
// rate limiting. Adapters wrap provider errors with it.
var ErrRateLimited = errors.New("model: rate limited")

type (
	// Client streams a model reply as text deltas.
	Client interface {
		// Stream sends req to the model and calls emit for each delta in
		// order. Stream returns the first error returned by emit.
		Stream(ctx context.Context, req Request, emit func(task.Delta) error) error
	}

	// ClientFunc adapts a function to Client.
	ClientFunc func(ctx context.Context, req Request, emit func(task.Delta) error) error

	// Middleware wraps a Client.
	Middleware func(Client) Client

	// Request is a single-turn model request.
	Request struct {
		// System is the optional system prompt.
		System string
		// Prompt is the user prompt. Required.
		Prompt string
		// Model overrides the adapter default model.
		Model string
		// MaxTokens overrides the adapter default completion cap.
		MaxTokens int
	}
)

// Stream implements Client.
func (f ClientFunc) Stream(ctx context.Context, req Request, emit func(task.Delta) error) error {
	return f(ctx, req, emit)
}

// Chain applies middlewares to c. The first middleware is the outermost.
func Chain(c Client, mws ...Middleware) Client {
	for i := len(mws) - 1; i >= 0; i-- {
		c = mws[i](c)
	}
	return c
}
