// Package mongo persists agent trace spans in MongoDB. Processor plugs into
// tracing.Tracer so every started and ended span is written through the
// client built by features/tracing/mongo/clients/mongo.
package mongo
