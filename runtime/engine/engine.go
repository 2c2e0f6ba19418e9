// Package engine defines the workflow engine abstraction behind durable
// execution. Workflows orchestrate; activities perform I/O. Engines adapt the
// abstraction to a backend so services can target Temporal in production and
// an in-process engine in tests without modification.
//
// # Core Abstractions
//
//   - Engine: registers workflows and activities, starts workflow executions
//     and reports their status.
//
//   - WorkflowContext: deterministic operations available to workflow
//     handlers. ExecuteActivity hands work to an activity worker and waits
//     for its result; SignalReceiver delivers external input.
//
//   - WorkflowHandle: a running workflow. Callers wait for completion, send
//     signals, or cancel execution.
//
// # Activity Contexts
//
// WorkflowContext.Context returns a Go context carrying the workflow context
// (see WorkflowContextFromContext). Engines mark contexts handed to activity
// handlers with WithActivityContext. Code that runs in both places uses the
// pair to decide whether it must dispatch work as an activity or may run it
// inline; see package dispatch.
//
// # Available Implementations
//
//   - temporal: durable execution backed by Temporal.
//   - inmem: goroutine-based execution for development and tests. No
//     durability, no replay.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RunStatus represents the lifecycle state of a workflow execution.
type RunStatus string

const (
	// RunStatusPending indicates the workflow has been accepted but not started yet.
	RunStatusPending RunStatus = "pending"
	// RunStatusRunning indicates the workflow is actively executing.
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted indicates the workflow finished successfully.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed indicates the workflow failed permanently.
	RunStatusFailed RunStatus = "failed"
	// RunStatusCanceled indicates the workflow was canceled externally.
	RunStatusCanceled RunStatus = "canceled"
)

var (
	// ErrWorkflowNotFound indicates that no workflow execution exists for the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrWorkflowCompleted indicates a signal or cancel sent to a workflow that
	// already finished.
	ErrWorkflowCompleted = errors.New("workflow completed")
	// ErrActivityNotRegistered indicates ExecuteActivity named an activity the
	// engine does not know about.
	ErrActivityNotRegistered = errors.New("activity not registered")
)

type (
	// Engine abstracts workflow registration and execution so adapters
	// (Temporal, in-memory) can be swapped without touching services.
	Engine interface {
		// RegisterWorkflow registers a workflow definition with the engine.
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error

		// RegisterActivity registers an activity handler under its name.
		// Activities registered on an engine can be executed from any workflow
		// it runs.
		RegisterActivity(ctx context.Context, def ActivityDefinition) error

		// StartWorkflow initiates a new workflow execution and returns a
		// handle for interacting with it. The workflow ID in req must be
		// unique for the engine instance.
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)

		// QueryRunStatus returns the current lifecycle status of the workflow
		// execution identified by workflowID. Returns ErrWorkflowNotFound
		// when the execution does not exist.
		QueryRunStatus(ctx context.Context, workflowID string) (RunStatus, error)
	}

	// WorkflowDefinition binds a workflow handler to a logical name and default queue.
	WorkflowDefinition struct {
		// Name is the logical identifier registered with the engine.
		Name string
		// TaskQueue is the default queue used when starting new workflows.
		TaskQueue string
		// Handler is the workflow function invoked by the engine.
		Handler WorkflowFunc
	}

	// WorkflowFunc is a workflow entry point. Implementations must be
	// deterministic with respect to activity results and signals.
	WorkflowFunc func(ctx WorkflowContext, input *WorkflowInput) (*WorkflowOutput, error)

	// WorkflowInput is the payload a workflow is started with.
	WorkflowInput struct {
		// TaskID identifies the task the workflow executes.
		TaskID string `json:"task_id"`
		// Params holds workflow-specific parameters as JSON.
		Params json.RawMessage `json:"params,omitempty"`
	}

	// WorkflowOutput is the payload a workflow completes with.
	WorkflowOutput struct {
		// Result holds the workflow-specific result as JSON.
		Result json.RawMessage `json:"result,omitempty"`
	}

	// ActivityDefinition describes an activity handler.
	//
	// Handler and Invoke execute the same business logic. Handler is a typed
	// func(context.Context, Req) (Res, error) for engines that decode payloads
	// by reflecting on the handler signature (Temporal). Invoke takes and
	// returns JSON payloads for engines that do not. Package dispatch builds
	// both from a single typed handler.
	ActivityDefinition struct {
		// Name identifies the activity.
		Name string
		// Handler is the typed activity function.
		Handler any
		// Invoke runs the activity on a JSON-encoded input.
		Invoke func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
		// Options are the defaults used when executing the activity.
		Options ActivityOptions
	}

	// ActivityRequest describes one activity invocation from workflow code.
	ActivityRequest struct {
		// Name identifies the registered activity.
		Name string
		// Input is the activity payload. It must be JSON serializable.
		Input any
		// Options override the registered defaults for this invocation.
		Options ActivityOptions
	}

	// WorkflowContext exposes engine operations to workflow handlers within
	// the deterministic execution environment of a workflow.
	//
	// A WorkflowContext is bound to a single workflow execution and must not
	// be shared across goroutines or cached outside the workflow function.
	WorkflowContext interface {
		// Context returns a Go context for the workflow. The context carries
		// this WorkflowContext (see WorkflowContextFromContext).
		Context() context.Context

		// WorkflowID returns the unique identifier for this workflow execution.
		WorkflowID() string

		// RunID returns the engine-assigned run identifier.
		RunID() string

		// ExecuteActivity schedules the named activity, blocks until it
		// completes and decodes its result into result (a pointer), which may
		// be nil when the result is not needed. When the activity fails after
		// exhausting its retry policy the returned error is an
		// *ActivityFailure.
		ExecuteActivity(ctx context.Context, req ActivityRequest, result any) error

		// SignalReceiver returns a receiver for the named signal channel.
		SignalReceiver(name string) Receiver

		// Now returns the current workflow time in a replay-safe manner.
		Now() time.Time
	}

	// Receiver delivers workflow signals.
	Receiver interface {
		// Receive blocks until a signal is delivered and decodes it into out.
		Receive(ctx context.Context, out any) error
		// ReceiveAsync decodes a pending signal into out without blocking and
		// reports whether one was available.
		ReceiveAsync(out any) bool
	}

	// ActivityOptions configures retries and timeouts for an activity.
	ActivityOptions struct {
		// Queue overrides the activity queue. If empty, the activity inherits
		// the workflow's task queue.
		Queue string
		// StartToCloseTimeout bounds a single attempt. Zero means use the
		// engine default.
		StartToCloseTimeout time.Duration
		// HeartbeatTimeout fails an attempt whose handler has not recorded a
		// heartbeat within the interval. Zero disables heartbeat checks.
		HeartbeatTimeout time.Duration
		// RetryPolicy controls retry behavior. Zero-valued fields use engine
		// defaults.
		RetryPolicy RetryPolicy
	}

	// RetryPolicy defines retry semantics shared by workflows and activities.
	// Zero-valued fields mean the engine uses its defaults.
	RetryPolicy struct {
		// MaxAttempts caps the total number of attempts.
		MaxAttempts int
		// InitialInterval is the delay before the first retry.
		InitialInterval time.Duration
		// BackoffCoefficient multiplies the delay after each retry. Values < 1
		// are treated as 1 (constant backoff).
		BackoffCoefficient float64
		// MaximumInterval caps the delay between retries.
		MaximumInterval time.Duration
		// NonRetryableErrorTypes lists error type names that must not be retried.
		NonRetryableErrorTypes []string
	}

	// WorkflowStartRequest describes how to launch a workflow execution.
	WorkflowStartRequest struct {
		// ID is the workflow identifier, unique within the engine scope.
		ID string
		// Workflow names the registered workflow definition to execute.
		Workflow string
		// TaskQueue selects the queue to schedule the workflow on.
		TaskQueue string
		// Input is the payload passed to the workflow handler.
		Input *WorkflowInput
		// RunTimeout bounds the total workflow execution time. Zero means use
		// the engine default.
		RunTimeout time.Duration
		// RetryPolicy controls automatic restarts of the workflow.
		RetryPolicy RetryPolicy
	}

	// WorkflowHandle allows callers to interact with a running workflow.
	WorkflowHandle interface {
		// Wait blocks until the workflow completes and returns its output.
		Wait(ctx context.Context) (*WorkflowOutput, error)
		// Signal sends a named signal to the workflow.
		Signal(ctx context.Context, name string, payload any) error
		// Cancel requests cancellation of the workflow.
		Cancel(ctx context.Context) error
	}

	// ActivityFailure reports an activity that failed after exhausting its
	// retry policy.
	ActivityFailure struct {
		// Name is the activity name.
		Name string
		// Cause is the last error returned by the activity.
		Cause error
	}
)

// Error implements error.
func (e *ActivityFailure) Error() string {
	return fmt.Sprintf("activity %q failed: %v", e.Name, e.Cause)
}

// Unwrap returns the underlying activity error.
func (e *ActivityFailure) Unwrap() error {
	return e.Cause
}
