package mongo

import (
	"context"
	"errors"

	clientsmongo "goa.design/agentflow/features/tracing/mongo/clients/mongo"
	"goa.design/agentflow/runtime/tracing"
)

// Processor implements tracing.Processor by upserting spans into MongoDB.
// A span is written when it starts and rewritten when it ends, so an
// unfinished span stays visible with no end time.
type Processor struct {
	client clientsmongo.Client
}

var _ tracing.Processor = (*Processor)(nil)

// NewProcessor builds a Processor using the provided client.
func NewProcessor(client clientsmongo.Client) (*Processor, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Processor{client: client}, nil
}

// OnStart stores the started span.
func (p *Processor) OnStart(ctx context.Context, span *tracing.Span) error {
	return p.client.UpsertSpan(ctx, span)
}

// OnEnd stores the ended span, replacing the started copy.
func (p *Processor) OnEnd(ctx context.Context, span *tracing.Span) error {
	return p.client.UpsertSpan(ctx, span)
}

// Shutdown is a no-op: the Mongo client is owned by the caller.
func (p *Processor) Shutdown(context.Context) error { return nil }

// Spans returns the recorded spans of a trace ordered by start time.
func (p *Processor) Spans(ctx context.Context, traceID string) ([]*tracing.Span, error) {
	return p.client.ListSpans(ctx, traceID)
}

// Name returns the health check name of the underlying client.
func (p *Processor) Name() string {
	return p.client.Name()
}

// Ping checks connectivity to MongoDB.
func (p *Processor) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}
