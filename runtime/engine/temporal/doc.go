// Package temporal implements the workflow engine adapter backed by Temporal
// (https://temporal.io). It satisfies engine.Engine so services orchestrate
// durable workflows without importing the Temporal SDK directly.
//
// # Constructing an Engine
//
//	eng, err := temporal.New(temporal.Options{
//	    ClientOptions: &client.Options{
//	        HostPort:  "temporal:7233",
//	        Namespace: "default",
//	    },
//	    WorkerOptions: temporal.WorkerOptions{
//	        TaskQueue: "agentflow",
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
//
// # Activities
//
// Activities are registered with their typed handler so Temporal decodes
// payloads directly into the handler's request type. A worker interceptor
// prepares the context every activity handler receives: it is marked as an
// activity context, carries the originating WorkflowContext when the workflow
// runs in the same process, inherits the logger and span of the caller that
// started the workflow, and routes engine.Heartbeat to
// activity.RecordHeartbeat.
//
// Activity failures surfacing in workflow code are wrapped in
// *engine.ActivityFailure once Temporal gave up retrying.
//
// # OpenTelemetry Integration
//
// The engine installs OTEL tracing and metrics interceptors on the Temporal
// client and workers unless disabled in InstrumentationOptions.
package temporal
