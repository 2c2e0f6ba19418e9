package temporal

import (
	"context"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/interceptor"

	"goa.design/agentflow/runtime/engine"
	"goa.design/agentflow/runtime/telemetry"
)

type (
	// activityInterceptor prepares the context of every activity executed by
	// the engine workers.
	activityInterceptor struct {
		interceptor.WorkerInterceptorBase
		engine *Engine
	}

	activityInbound struct {
		interceptor.ActivityInboundInterceptorBase
		engine *Engine
	}
)

func (i *activityInterceptor) InterceptActivity(_ context.Context, next interceptor.ActivityInboundInterceptor) interceptor.ActivityInboundInterceptor {
	in := &activityInbound{engine: i.engine}
	in.Next = next
	return in
}

func (a *activityInbound) ExecuteActivity(ctx context.Context, in *interceptor.ExecuteActivityInput) (any, error) {
	return a.Next.ExecuteActivity(a.engine.activityContext(ctx), in)
}

// activityContext decorates the Temporal activity context: workflow context
// and caller telemetry when the run started in this process, the activity
// marker, and heartbeats routed to Temporal.
func (e *Engine) activityContext(actx context.Context) context.Context {
	runID := activity.GetInfo(actx).WorkflowExecution.RunID
	ctx := actx
	if wf := e.workflowContext(runID); wf != nil {
		ctx = engine.WithWorkflowContext(ctx, wf)
	}
	if base := e.workflowBaseContext(runID); base != nil {
		ctx = telemetry.MergeContext(ctx, base)
	}
	ctx = engine.WithActivityContext(ctx)
	return engine.WithHeartbeat(ctx, func(details ...any) {
		activity.RecordHeartbeat(actx, details...)
	})
}
