// Package tracing records application-level spans of agent tasks.
//
// A span brackets one unit of work (a state transition, a model call) and
// carries its JSON input, output and metadata. Spans are identified by a
// trace ID chosen by the caller, typically the task ID. Span lifecycle
// events fan out to Processors, which export them (OpenTelemetry, Mongo) or
// keep them in memory for tests.
//
// Starting and ending spans are side effects: Tracer dispatches them as the
// "start-span" and "end-span" activities when called from workflow code.
package tracing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type (
	// Span is a recorded unit of work.
	Span struct {
		ID        string          `json:"id"`
		TraceID   string          `json:"trace_id"`
		ParentID  string          `json:"parent_id,omitempty"`
		Name      string          `json:"name"`
		StartTime time.Time       `json:"start_time"`
		EndTime   time.Time       `json:"end_time,omitzero"`
		Input     json.RawMessage `json:"input,omitempty"`
		Output    json.RawMessage `json:"output,omitempty"`
		Data      json.RawMessage `json:"data,omitempty"`
	}

	// Processor receives span lifecycle events. Implementations must be safe
	// for concurrent use.
	Processor interface {
		// OnStart is called after a span started.
		OnStart(ctx context.Context, span *Span) error
		// OnEnd is called after a span ended.
		OnEnd(ctx context.Context, span *Span) error
		// Shutdown flushes and releases processor resources.
		Shutdown(ctx context.Context) error
	}
)

// Ended reports whether the span has an end time.
func (s *Span) Ended() bool {
	return !s.EndTime.IsZero()
}

// Clone returns a deep copy of s.
func (s *Span) Clone() *Span {
	if s == nil {
		return nil
	}
	c := *s
	c.Input = cloneRaw(s.Input)
	c.Output = cloneRaw(s.Output)
	c.Data = cloneRaw(s.Data)
	return &c
}

// Marshal encodes v as a span payload. Nil values and already encoded
// payloads are passed through.
func Marshal(v any) (json.RawMessage, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return val, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode span payload: %w", err)
	}
	return raw, nil
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	return append(json.RawMessage(nil), r...)
}
