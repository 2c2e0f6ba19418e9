package temporal

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"goa.design/agentflow/runtime/engine"
)

type (
	temporalWorkflowContext struct {
		engine     *Engine
		ctx        workflow.Context
		workflowID string
		runID      string
		baseCtx    context.Context
	}

	temporalReceiver struct {
		ctx workflow.Context
		ch  workflow.ReceiveChannel
	}
)

// defaultStartToClose bounds activity attempts when neither the registration
// nor the request sets a timeout.
const defaultStartToClose = time.Minute

// NewWorkflowContext adapts a Temporal workflow.Context into an
// engine.WorkflowContext. Use it from workflows registered directly on a
// Temporal worker that need to execute engine activities.
func NewWorkflowContext(e *Engine, ctx workflow.Context) engine.WorkflowContext {
	return newTemporalWorkflowContext(e, ctx)
}

func newTemporalWorkflowContext(e *Engine, ctx workflow.Context) *temporalWorkflowContext {
	info := workflow.GetInfo(ctx)
	wfCtx := &temporalWorkflowContext{
		engine:     e,
		ctx:        ctx,
		workflowID: info.WorkflowExecution.ID,
		runID:      info.WorkflowExecution.RunID,
		baseCtx:    e.workflowBaseContext(info.WorkflowExecution.RunID),
	}
	e.trackWorkflowContext(wfCtx.runID, wfCtx)
	return wfCtx
}

func (w *temporalWorkflowContext) Context() context.Context {
	ctx := w.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	return engine.WithWorkflowContext(ctx, w)
}

func (w *temporalWorkflowContext) WorkflowID() string {
	return w.workflowID
}

func (w *temporalWorkflowContext) RunID() string {
	return w.runID
}

func (w *temporalWorkflowContext) Now() time.Time {
	return workflow.Now(w.ctx)
}

func (w *temporalWorkflowContext) ExecuteActivity(ctx context.Context, req engine.ActivityRequest, result any) error {
	if req.Name == "" {
		return errors.New("activity name is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	actx := workflow.WithActivityOptions(w.ctx, w.activityOptionsFor(req.Name, req.Options))
	if err := workflow.ExecuteActivity(actx, req.Name, req.Input).Get(actx, result); err != nil {
		return &engine.ActivityFailure{Name: req.Name, Cause: err}
	}
	return nil
}

func (w *temporalWorkflowContext) SignalReceiver(name string) engine.Receiver {
	return &temporalReceiver{ctx: w.ctx, ch: workflow.GetSignalChannel(w.ctx, name)}
}

func (w *temporalWorkflowContext) activityOptionsFor(name string, override engine.ActivityOptions) workflow.ActivityOptions {
	defaults := w.engine.activityDefaultsFor(name)

	queue := override.Queue
	if queue == "" {
		queue = defaults.Queue
	}
	if queue == "" {
		queue = w.engine.defaultQueue
	}
	timeout := override.StartToCloseTimeout
	if timeout == 0 {
		timeout = defaults.StartToCloseTimeout
	}
	if timeout == 0 {
		timeout = defaultStartToClose
	}
	heartbeat := override.HeartbeatTimeout
	if heartbeat == 0 {
		heartbeat = defaults.HeartbeatTimeout
	}
	return workflow.ActivityOptions{
		TaskQueue:           queue,
		StartToCloseTimeout: timeout,
		HeartbeatTimeout:    heartbeat,
		RetryPolicy:         convertRetryPolicy(mergeRetryPolicies(defaults.RetryPolicy, override.RetryPolicy)),
	}
}

// Receive blocks on the signal channel. Cancellation follows the workflow
// cancellation scope; ctx is only checked before blocking.
func (r *temporalReceiver) Receive(ctx context.Context, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.ch.Receive(r.ctx, out)
	return nil
}

func (r *temporalReceiver) ReceiveAsync(out any) bool {
	return r.ch.ReceiveAsync(out)
}

func mergeRetryPolicies(base, override engine.RetryPolicy) engine.RetryPolicy {
	result := base
	if override.MaxAttempts != 0 {
		result.MaxAttempts = override.MaxAttempts
	}
	if override.InitialInterval != 0 {
		result.InitialInterval = override.InitialInterval
	}
	if override.BackoffCoefficient != 0 {
		result.BackoffCoefficient = override.BackoffCoefficient
	}
	if override.MaximumInterval != 0 {
		result.MaximumInterval = override.MaximumInterval
	}
	if len(override.NonRetryableErrorTypes) > 0 {
		result.NonRetryableErrorTypes = override.NonRetryableErrorTypes
	}
	return result
}

func convertRetryPolicy(r engine.RetryPolicy) *temporal.RetryPolicy {
	if r.MaxAttempts == 0 && r.InitialInterval == 0 && r.BackoffCoefficient == 0 &&
		r.MaximumInterval == 0 && len(r.NonRetryableErrorTypes) == 0 {
		return nil
	}
	policy := &temporal.RetryPolicy{
		InitialInterval:        r.InitialInterval,
		BackoffCoefficient:     r.BackoffCoefficient,
		MaximumInterval:        r.MaximumInterval,
		NonRetryableErrorTypes: r.NonRetryableErrorTypes,
	}
	if r.MaxAttempts > 0 {
		//nolint:gosec // attempts come from configuration and stay small
		policy.MaximumAttempts = int32(r.MaxAttempts)
	}
	return policy
}
