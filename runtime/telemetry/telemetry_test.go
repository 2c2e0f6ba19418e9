package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

func TestNoopImplementations(t *testing.T) {
	ctx := context.Background()

	logger := NewNoopLogger()
	logger.Debug(ctx, "debug", "key", "value")
	logger.Info(ctx, "info", "key", "value")
	logger.Warn(ctx, "warn", "key", "value")
	logger.Error(ctx, "error", "err", errors.New("boom"))

	metrics := NewNoopMetrics()
	metrics.IncCounter("counter", 1, "env", "test")
	metrics.RecordTimer("timer", time.Millisecond)
	metrics.RecordGauge("gauge", 42)

	tracer := NewNoopTracer()
	newCtx, span := tracer.Start(ctx, "op")
	require.Equal(t, ctx, newCtx)
	require.NotNil(t, span)
	span.AddEvent("event", "key", "value")
	span.SetStatus(codes.Ok, "done")
	span.RecordError(errors.New("boom"))
	span.End()
	assert.NotNil(t, tracer.Span(ctx))
}

func TestFieldersSkipsNonStringKeys(t *testing.T) {
	got := fielders("hello", []any{"a", 1, 2, "skipped", "tail"})
	require.Len(t, got, 3)
	assert.Equal(t, log.KV{K: "msg", V: "hello"}, got[0])
	assert.Equal(t, log.KV{K: "a", V: 1}, got[1])
	assert.Equal(t, log.KV{K: "tail", V: nil}, got[2])
}

func TestTagsToAttrs(t *testing.T) {
	got := tagsToAttrs([]string{"env", "test", "odd"})
	assert.Equal(t, []attribute.KeyValue{
		attribute.String("env", "test"),
		attribute.String("odd", ""),
	}, got)
}

func TestKVSliceToAttrs(t *testing.T) {
	got := kvSliceToAttrs([]any{"s", "v", "i", 3, "f", 1.5, "b", true, "x", struct{}{}})
	assert.Equal(t, []attribute.KeyValue{
		attribute.String("s", "v"),
		attribute.Int("i", 3),
		attribute.Float64("f", 1.5),
		attribute.Bool("b", true),
		attribute.String("x", ""),
	}, got)
}

func TestMergeContext(t *testing.T) {
	t.Run("nil base returns ctx", func(t *testing.T) {
		ctx := context.Background()
		assert.Equal(t, ctx, MergeContext(ctx, nil))
	})

	t.Run("copies span context and baggage", func(t *testing.T) {
		spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID: trace.TraceID{1},
			SpanID:  trace.SpanID{2},
		})
		member, err := baggage.NewMember("task_id", "t1")
		require.NoError(t, err)
		bag, err := baggage.New(member)
		require.NoError(t, err)
		base := trace.ContextWithSpanContext(context.Background(), spanCtx)
		base = baggage.ContextWithBaggage(base, bag)
		base = log.Context(base)

		merged := MergeContext(context.Background(), base)

		assert.Equal(t, spanCtx, trace.SpanContextFromContext(merged))
		assert.Equal(t, "t1", baggage.FromContext(merged).Member("task_id").Value())
	})
}

func TestSetupTracing(t *testing.T) {
	ctx := context.Background()

	shutdown, err := SetupTracing(ctx, "")
	require.NoError(t, err)
	require.NoError(t, shutdown(ctx))

	shutdown, err = SetupTracing(ctx, ExporterStdout)
	require.NoError(t, err)
	require.NoError(t, shutdown(ctx))

	_, err = SetupTracing(ctx, "zipkin")
	assert.ErrorContains(t, err, "unsupported trace exporter")
}
