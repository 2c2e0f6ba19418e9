package tracing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"goa.design/agentflow/runtime/dispatch"
	"goa.design/agentflow/runtime/engine"
	"goa.design/agentflow/runtime/telemetry"
)

type (
	// Options configures a Tracer.
	Options struct {
		// Processors receive span lifecycle events in order.
		Processors []Processor
		// Logger reports processor failures. Defaults to noop.
		Logger telemetry.Logger
	}

	// Tracer starts and ends spans and notifies processors.
	Tracer struct {
		processors []Processor
		logger     telemetry.Logger
		now        func() time.Time

		startSpan dispatch.Activity[StartRequest, *Span]
		endSpan   dispatch.Activity[*Span, *Span]
	}

	// StartRequest describes a span to start.
	StartRequest struct {
		// TraceID groups spans. An empty TraceID disables tracing.
		TraceID string `json:"trace_id"`
		// Name describes the unit of work.
		Name string `json:"name"`
		// ParentID nests the span under another span of the same trace.
		ParentID string `json:"parent_id,omitempty"`
		// Input is the JSON input of the unit of work.
		Input json.RawMessage `json:"input,omitempty"`
		// Data is additional JSON metadata.
		Data json.RawMessage `json:"data,omitempty"`
	}

	// Trace binds a Tracer to a trace ID and an optional parent span.
	Trace struct {
		tracer   *Tracer
		traceID  string
		parentID string
	}
)

// Activity names.
const (
	ActivityStartSpan = "start-span"
	ActivityEndSpan   = "end-span"
)

// New returns a Tracer notifying the given processors.
func New(opts Options) *Tracer {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	t := &Tracer{
		processors: opts.Processors,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	t.startSpan = dispatch.Activity[StartRequest, *Span]{Name: ActivityStartSpan, Handler: t.start}
	t.endSpan = dispatch.Activity[*Span, *Span]{Name: ActivityEndSpan, Handler: t.end}
	return t
}

// Activities returns the tracer activities for registration on a worker.
func (t *Tracer) Activities() []dispatch.Registrar {
	return []dispatch.Registrar{t.startSpan, t.endSpan}
}

// StartSpan starts a span. It returns nil, nil when req.TraceID is empty so
// callers may trace unconditionally.
func (t *Tracer) StartSpan(ctx context.Context, req StartRequest) (*Span, error) {
	if req.TraceID == "" {
		return nil, nil
	}
	if req.Name == "" {
		return nil, errors.New("span name is required")
	}
	return dispatch.Execute(ctx, t.startSpan, req)
}

// EndSpan ends span, setting its end time unless already set, and returns the
// ended span. A nil span is a no-op.
func (t *Tracer) EndSpan(ctx context.Context, span *Span) (*Span, error) {
	if span == nil {
		return nil, nil
	}
	return dispatch.Execute(ctx, t.endSpan, span)
}

// Shutdown shuts processors down.
func (t *Tracer) Shutdown(ctx context.Context) error {
	var errs []error
	for _, p := range t.processors {
		errs = append(errs, p.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Trace returns a handle for spans of traceID.
func (t *Tracer) Trace(traceID string) Trace {
	return Trace{tracer: t, traceID: traceID}
}

// Child returns a Trace whose spans are nested under parentID.
func (tr Trace) Child(parentID string) Trace {
	tr.parentID = parentID
	return tr
}

// ID returns the trace ID.
func (tr Trace) ID() string { return tr.traceID }

// Span runs fn inside a span named name. fn may set the span output. The span
// always ends, recording fn's error under the span data "error" key. When the
// trace ID is empty fn runs with a nil span.
func (tr Trace) Span(ctx context.Context, name string, input any, fn func(context.Context, *Span) error) error {
	raw, err := Marshal(input)
	if err != nil {
		return err
	}
	span, err := tr.tracer.StartSpan(ctx, StartRequest{TraceID: tr.traceID, Name: name, ParentID: tr.parentID, Input: raw})
	if err != nil {
		return err
	}
	ferr := fn(ctx, span)
	if span == nil {
		return ferr
	}
	if ferr != nil {
		span.Data, _ = Marshal(map[string]string{"error": ferr.Error()})
	}
	if _, err := tr.tracer.EndSpan(ctx, span); err != nil && ferr == nil {
		return err
	}
	return ferr
}

func (t *Tracer) start(ctx context.Context, req StartRequest) (*Span, error) {
	engine.Heartbeat(ctx, "start span")
	span := &Span{
		ID:        uuid.NewString(),
		TraceID:   req.TraceID,
		ParentID:  req.ParentID,
		Name:      req.Name,
		StartTime: t.now(),
		Input:     req.Input,
		Data:      req.Data,
	}
	for _, p := range t.processors {
		if err := p.OnStart(ctx, span.Clone()); err != nil {
			t.logger.Warn(ctx, "span processor failed on start", "trace_id", span.TraceID, "span_id", span.ID, "err", err)
		}
	}
	return span, nil
}

func (t *Tracer) end(ctx context.Context, span *Span) (*Span, error) {
	if span == nil {
		return nil, nil
	}
	engine.Heartbeat(ctx, "end span")
	span = span.Clone()
	if span.EndTime.IsZero() {
		span.EndTime = t.now()
	}
	for _, p := range t.processors {
		if err := p.OnEnd(ctx, span.Clone()); err != nil {
			t.logger.Warn(ctx, "span processor failed on end", "trace_id", span.TraceID, "span_id", span.ID, "err", err)
		}
	}
	return span, nil
}
