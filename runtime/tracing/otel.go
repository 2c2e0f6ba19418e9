package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"goa.design/agentflow/runtime/telemetry"
)

// Attribute keys set on exported OpenTelemetry spans.
const (
	AttrTraceID  = attribute.Key("agentflow.trace_id")
	AttrSpanID   = attribute.Key("agentflow.span_id")
	AttrParentID = attribute.Key("agentflow.parent_id")
	AttrInput    = attribute.Key("agentflow.input")
	AttrOutput   = attribute.Key("agentflow.output")
	AttrData     = attribute.Key("agentflow.data")
)

// OTelProcessor exports ended spans to OpenTelemetry. Spans are created once
// they end, with their recorded start and end timestamps, since start and end
// may run in different processes.
type OTelProcessor struct {
	tracer telemetry.Tracer
}

var _ Processor = (*OTelProcessor)(nil)

// NewOTelProcessor returns a processor exporting through tracer.
func NewOTelProcessor(tracer telemetry.Tracer) *OTelProcessor {
	return &OTelProcessor{tracer: tracer}
}

// OnStart is a no-op.
func (p *OTelProcessor) OnStart(context.Context, *Span) error { return nil }

// OnEnd exports span.
func (p *OTelProcessor) OnEnd(ctx context.Context, span *Span) error {
	attrs := []attribute.KeyValue{
		AttrTraceID.String(span.TraceID),
		AttrSpanID.String(span.ID),
	}
	if span.ParentID != "" {
		attrs = append(attrs, AttrParentID.String(span.ParentID))
	}
	if len(span.Input) > 0 {
		attrs = append(attrs, AttrInput.String(string(span.Input)))
	}
	if len(span.Output) > 0 {
		attrs = append(attrs, AttrOutput.String(string(span.Output)))
	}
	if len(span.Data) > 0 {
		attrs = append(attrs, AttrData.String(string(span.Data)))
	}
	_, s := p.tracer.Start(ctx, span.Name,
		trace.WithTimestamp(span.StartTime),
		trace.WithAttributes(attrs...),
	)
	s.End(trace.WithTimestamp(span.EndTime))
	return nil
}

// Shutdown is a no-op; the tracer provider owns export buffers.
func (p *OTelProcessor) Shutdown(context.Context) error { return nil }
