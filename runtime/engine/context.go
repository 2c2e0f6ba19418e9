package engine

import "context"

type (
	// wfCtxKey stashes a WorkflowContext inside a Go context.
	wfCtxKey struct{}

	// activityCtxKey marks contexts handed to activity handlers.
	activityCtxKey struct{}

	// heartbeatKey carries the engine heartbeat recorder of an activity.
	heartbeatKey struct{}

	// HeartbeatFunc records liveness of the running activity attempt.
	HeartbeatFunc func(details ...any)
)

// WithWorkflowContext returns a child context that carries the provided
// WorkflowContext.
func WithWorkflowContext(ctx context.Context, wf WorkflowContext) context.Context {
	return context.WithValue(ctx, wfCtxKey{}, wf)
}

// WorkflowContextFromContext extracts a WorkflowContext from ctx if present.
// Returns nil if the context does not carry a workflow context.
func WorkflowContextFromContext(ctx context.Context) WorkflowContext {
	if wf, ok := ctx.Value(wfCtxKey{}).(WorkflowContext); ok {
		return wf
	}
	return nil
}

// WithActivityContext returns a child context marked as an activity
// invocation context.
func WithActivityContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, activityCtxKey{}, true)
}

// IsActivityContext reports whether ctx is marked as originating from an
// activity invocation.
func IsActivityContext(ctx context.Context) bool {
	b, ok := ctx.Value(activityCtxKey{}).(bool)
	return ok && b
}

// WithHeartbeat returns a child context whose Heartbeat calls invoke fn.
// Engines install it on activity contexts.
func WithHeartbeat(ctx context.Context, fn HeartbeatFunc) context.Context {
	return context.WithValue(ctx, heartbeatKey{}, fn)
}

// Heartbeat records liveness of the activity running with ctx. It is a no-op
// outside of an activity or when the engine does not track heartbeats.
func Heartbeat(ctx context.Context, details ...any) {
	if fn, ok := ctx.Value(heartbeatKey{}).(HeartbeatFunc); ok && fn != nil {
		fn(details...)
	}
}
