// Package dispatch runs operations either inline or as durable activities.
//
// Every mutating operation of the runtime (message writes, stream publishes,
// span start/end) is declared once as an Activity. Execute inspects the
// context: inside a workflow the operation is handed to an activity worker
// through engine.WorkflowContext.ExecuteActivity so retries, timeouts and
// heartbeats are enforced by the engine; anywhere else, including inside an
// activity handler, the same handler runs inline. Both paths return the same
// response type, so callers never branch on which one was taken.
//
// Remote failures are reported as *engine.ActivityFailure once the retry
// policy is exhausted. Inline failures are returned unchanged and are never
// retried.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"goa.design/agentflow/runtime/engine"
)

const (
	// DefaultStartToCloseTimeout bounds one activity attempt.
	DefaultStartToCloseTimeout = 5 * time.Second
	// DefaultMaxAttempts is the number of attempts when none is configured.
	DefaultMaxAttempts = 1
)

type (
	// Activity declares an operation that can run inline or as a durable
	// activity. Req and Res must be JSON serializable.
	Activity[Req, Res any] struct {
		// Name is the activity name registered with the engine.
		Name string
		// Handler implements the operation.
		Handler func(ctx context.Context, req Req) (Res, error)
		// Options are the activity defaults. Zero timeouts and attempts fall
		// back to DefaultStartToCloseTimeout and DefaultMaxAttempts.
		Options engine.ActivityOptions
	}

	// Registrar is implemented by activities that can be registered on an
	// engine.
	Registrar interface {
		Definition() engine.ActivityDefinition
	}

	// Scope carries task and trace identity inside activity requests so
	// remote handlers see the same identity as the inline path.
	Scope struct {
		// TaskID identifies the task the operation belongs to.
		TaskID string `json:"task_id,omitempty"`
		// TraceID identifies the trace spans are recorded in.
		TraceID string `json:"trace_id,omitempty"`
		// ParentSpanID is the span new spans are nested under.
		ParentSpanID string `json:"parent_span_id,omitempty"`
	}
)

// InWorkflow reports whether ctx belongs to workflow code, in which case
// operations must be dispatched as activities.
func InWorkflow(ctx context.Context) bool {
	return engine.WorkflowContextFromContext(ctx) != nil && !engine.IsActivityContext(ctx)
}

// Execute runs a with req. See the package documentation for the choice
// between the inline and the remote path.
func Execute[Req, Res any](ctx context.Context, a Activity[Req, Res], req Req) (Res, error) {
	if !InWorkflow(ctx) {
		return a.Handler(ctx, req)
	}
	wf := engine.WorkflowContextFromContext(ctx)
	var res Res
	err := wf.ExecuteActivity(ctx, engine.ActivityRequest{
		Name:    a.Name,
		Input:   req,
		Options: a.options(),
	}, &res)
	if err != nil {
		var failure *engine.ActivityFailure
		if !errors.As(err, &failure) {
			err = &engine.ActivityFailure{Name: a.Name, Cause: err}
		}
		var zero Res
		return zero, err
	}
	return res, nil
}

// WithOptions returns a copy of a using opts as defaults.
func (a Activity[Req, Res]) WithOptions(opts engine.ActivityOptions) Activity[Req, Res] {
	a.Options = opts
	return a
}

// Definition returns the engine registration of a. The typed handler serves
// engines that decode by reflection; Invoke serves engines exchanging JSON.
func (a Activity[Req, Res]) Definition() engine.ActivityDefinition {
	handler := a.Handler
	return engine.ActivityDefinition{
		Name:    a.Name,
		Handler: handler,
		Invoke: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			var req Req
			if len(input) > 0 {
				if err := json.Unmarshal(input, &req); err != nil {
					return nil, fmt.Errorf("decode %s request: %w", a.Name, err)
				}
			}
			res, err := handler(ctx, req)
			if err != nil {
				return nil, err
			}
			return json.Marshal(res)
		},
		Options: a.options(),
	}
}

func (a Activity[Req, Res]) options() engine.ActivityOptions {
	opts := a.Options
	if opts.StartToCloseTimeout == 0 {
		opts.StartToCloseTimeout = DefaultStartToCloseTimeout
	}
	if opts.RetryPolicy.MaxAttempts == 0 {
		opts.RetryPolicy.MaxAttempts = DefaultMaxAttempts
	}
	return opts
}

// Register registers activities on eng.
func Register(ctx context.Context, eng engine.Engine, activities ...Registrar) error {
	for _, a := range activities {
		def := a.Definition()
		if err := eng.RegisterActivity(ctx, def); err != nil {
			return fmt.Errorf("register activity %q: %w", def.Name, err)
		}
	}
	return nil
}
