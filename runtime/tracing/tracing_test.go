package tracing_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"goa.design/agentflow/runtime/dispatch"
	"goa.design/agentflow/runtime/engine"
	"goa.design/agentflow/runtime/engine/inmem"
	"goa.design/agentflow/runtime/telemetry"
	"goa.design/agentflow/runtime/tracing"
)

type failingProcessor struct{}

func (failingProcessor) OnStart(context.Context, *tracing.Span) error { return errors.New("start") }
func (failingProcessor) OnEnd(context.Context, *tracing.Span) error   { return errors.New("end") }
func (failingProcessor) Shutdown(context.Context) error               { return errors.New("shutdown") }

func TestStartSpanWithoutTraceID(t *testing.T) {
	rec := tracing.NewRecorder()
	tr := tracing.New(tracing.Options{Processors: []tracing.Processor{rec}})

	span, err := tr.StartSpan(context.Background(), tracing.StartRequest{Name: "ignored"})
	require.NoError(t, err)
	assert.Nil(t, span)

	ended, err := tr.EndSpan(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, ended)
	assert.Empty(t, rec.Started())
	assert.Empty(t, rec.Ended())
}

func TestStartAndEndSpan(t *testing.T) {
	ctx := context.Background()
	rec := tracing.NewRecorder()
	tr := tracing.New(tracing.Options{Processors: []tracing.Processor{rec}})

	_, err := tr.StartSpan(ctx, tracing.StartRequest{TraceID: "trace-1"})
	require.Error(t, err)

	span, err := tr.StartSpan(ctx, tracing.StartRequest{
		TraceID:  "trace-1",
		Name:     "work",
		ParentID: "parent",
		Input:    json.RawMessage(`{"a":1}`),
	})
	require.NoError(t, err)
	require.NotNil(t, span)
	assert.NotEmpty(t, span.ID)
	assert.Equal(t, "trace-1", span.TraceID)
	assert.Equal(t, "parent", span.ParentID)
	assert.False(t, span.StartTime.IsZero())
	assert.Equal(t, time.UTC, span.StartTime.Location())
	assert.False(t, span.Ended())
	require.Len(t, rec.Started(), 1)

	span.Output = json.RawMessage(`{"b":2}`)
	ended, err := tr.EndSpan(ctx, span)
	require.NoError(t, err)
	assert.True(t, ended.Ended())
	assert.False(t, span.Ended(), "EndSpan must not mutate its argument")

	got := rec.Ended()
	require.Len(t, got, 1)
	assert.Equal(t, span.ID, got[0].ID)
	assert.JSONEq(t, `{"b":2}`, string(got[0].Output))
}

func TestEndSpanKeepsEndTime(t *testing.T) {
	tr := tracing.New(tracing.Options{})
	end := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	span := &tracing.Span{ID: "s", TraceID: "t", Name: "n", StartTime: end.Add(-time.Second), EndTime: end}
	ended, err := tr.EndSpan(context.Background(), span)
	require.NoError(t, err)
	assert.Equal(t, end, ended.EndTime)
}

func TestProcessorErrorsAreNotFatal(t *testing.T) {
	ctx := context.Background()
	rec := tracing.NewRecorder()
	tr := tracing.New(tracing.Options{Processors: []tracing.Processor{failingProcessor{}, rec}})

	span, err := tr.StartSpan(ctx, tracing.StartRequest{TraceID: "t", Name: "n"})
	require.NoError(t, err)
	_, err = tr.EndSpan(ctx, span)
	require.NoError(t, err)
	assert.Len(t, rec.Ended(), 1)

	assert.EqualError(t, tr.Shutdown(ctx), "shutdown")
}

func TestTraceSpan(t *testing.T) {
	ctx := context.Background()
	rec := tracing.NewRecorder()
	tr := tracing.New(tracing.Options{Processors: []tracing.Processor{rec}})
	trace := tr.Trace("task-1")
	assert.Equal(t, "task-1", trace.ID())

	err := trace.Span(ctx, "outer", map[string]int{"n": 1}, func(ctx context.Context, outer *tracing.Span) error {
		require.NotNil(t, outer)
		outer.Output = json.RawMessage(`"done"`)
		return trace.Child(outer.ID).Span(ctx, "inner", nil, func(context.Context, *tracing.Span) error {
			return nil
		})
	})
	require.NoError(t, err)

	ended := rec.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "inner", ended[0].Name)
	assert.Equal(t, "outer", ended[1].Name)
	assert.Equal(t, ended[1].ID, ended[0].ParentID)
	assert.JSONEq(t, `{"n":1}`, string(ended[1].Input))
	assert.JSONEq(t, `"done"`, string(ended[1].Output))
}

func TestTraceSpanRecordsError(t *testing.T) {
	rec := tracing.NewRecorder()
	tr := tracing.New(tracing.Options{Processors: []tracing.Processor{rec}})
	boom := errors.New("boom")

	err := tr.Trace("t").Span(context.Background(), "fails", nil, func(context.Context, *tracing.Span) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	spans := rec.Named("fails")
	require.Len(t, spans, 1)
	assert.JSONEq(t, `{"error":"boom"}`, string(spans[0].Data))
}

func TestTraceSpanWithoutTraceID(t *testing.T) {
	rec := tracing.NewRecorder()
	tr := tracing.New(tracing.Options{Processors: []tracing.Processor{rec}})
	called := false
	err := tr.Trace("").Span(context.Background(), "n", nil, func(_ context.Context, span *tracing.Span) error {
		called = true
		assert.Nil(t, span)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Empty(t, rec.Ended())
}

func TestSpansDispatchedAsActivities(t *testing.T) {
	ctx := context.Background()
	rec := tracing.NewRecorder()
	tr := tracing.New(tracing.Options{Processors: []tracing.Processor{rec}})

	eng := inmem.New(inmem.Options{})
	require.NoError(t, dispatch.Register(ctx, eng, tr.Activities()...))
	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: "traced",
		Handler: func(wf engine.WorkflowContext, _ *engine.WorkflowInput) (*engine.WorkflowOutput, error) {
			err := tr.Trace("task-1").Span(wf.Context(), "step", nil, func(context.Context, *tracing.Span) error {
				return nil
			})
			return &engine.WorkflowOutput{}, err
		},
	}))
	h, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "w1", Workflow: "traced"})
	require.NoError(t, err)
	_, err = h.Wait(ctx)
	require.NoError(t, err)

	ended := rec.Named("step")
	require.Len(t, ended, 1)
	assert.Equal(t, "task-1", ended[0].TraceID)
	assert.True(t, ended[0].Ended())
}

func TestOTelProcessor(t *testing.T) {
	ctx := context.Background()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(ctx) }()

	p := tracing.NewOTelProcessor(telemetry.NewTracerFromProvider(tp))
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	span := &tracing.Span{
		ID:        "span-1",
		TraceID:   "trace-1",
		ParentID:  "parent-1",
		Name:      "state_transition",
		StartTime: start,
		EndTime:   start.Add(2 * time.Second),
		Input:     json.RawMessage(`{"x":1}`),
	}
	require.NoError(t, p.OnStart(ctx, span))
	assert.Empty(t, sr.Ended())
	require.NoError(t, p.OnEnd(ctx, span))

	ended := sr.Ended()
	require.Len(t, ended, 1)
	got := ended[0]
	assert.Equal(t, "state_transition", got.Name())
	assert.Equal(t, start, got.StartTime())
	assert.Equal(t, start.Add(2*time.Second), got.EndTime())

	attrs := map[string]string{}
	for _, kv := range got.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "trace-1", attrs[string(tracing.AttrTraceID)])
	assert.Equal(t, "span-1", attrs[string(tracing.AttrSpanID)])
	assert.Equal(t, "parent-1", attrs[string(tracing.AttrParentID)])
	assert.Equal(t, `{"x":1}`, attrs[string(tracing.AttrInput)])
	_, hasOutput := attrs[string(tracing.AttrOutput)]
	assert.False(t, hasOutput)
	require.NoError(t, p.Shutdown(ctx))
}
