// Package mongo hosts the MongoDB client used by the span store.
package mongo

//go:generate cmg gen .

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"goa.design/agentflow/runtime/tracing"
)

const (
	defaultCollection = "trace_spans"
	defaultOpTimeout  = 5 * time.Second
	clientName        = "tracing-mongo"
)

type (
	// Client exposes Mongo-backed operations for recorded spans.
	Client interface {
		health.Pinger

		// UpsertSpan inserts the span or replaces the stored copy with the
		// same span ID.
		UpsertSpan(ctx context.Context, span *tracing.Span) error
		// ListSpans returns the spans of a trace ordered by start time.
		ListSpans(ctx context.Context, traceID string) ([]*tracing.Span, error)
	}

	// Options configures the Mongo span client.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	client struct {
		mongo   *mongodriver.Client
		coll    collection
		timeout time.Duration
	}

	// Payloads are stored as JSON strings so they stay readable from the
	// Mongo shell.
	spanDocument struct {
		SpanID    string     `bson:"span_id"`
		TraceID   string     `bson:"trace_id"`
		ParentID  string     `bson:"parent_id,omitempty"`
		Name      string     `bson:"name"`
		StartTime time.Time  `bson:"start_time"`
		EndTime   *time.Time `bson:"end_time,omitempty"`
		Input     string     `bson:"input,omitempty"`
		Output    string     `bson:"output,omitempty"`
		Data      string     `bson:"data,omitempty"`
	}
)

// New returns a Client backed by MongoDB.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	name := opts.Collection
	if name == "" {
		name = defaultCollection
	}
	coll := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(name)}
	c, err := newClientWithCollection(opts.Client, coll, opts.Timeout)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(context.Background())
	defer cancel()
	if err := ensureIndexes(ctx, coll); err != nil {
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return c, nil
}

func (c *client) Name() string {
	return clientName
}

func (c *client) Ping(ctx context.Context) error {
	if c.mongo == nil {
		return errors.New("mongo client not configured")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) UpsertSpan(ctx context.Context, span *tracing.Span) error {
	if span == nil {
		return errors.New("span is required")
	}
	if span.ID == "" {
		return errors.New("span id is required")
	}
	if span.TraceID == "" {
		return errors.New("trace id is required")
	}
	doc := fromSpan(span)
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.coll.UpdateOne(ctx,
		bson.M{"span_id": doc.SpanID},
		bson.M{"$set": doc},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

func (c *client) ListSpans(ctx context.Context, traceID string) ([]*tracing.Span, error) {
	if traceID == "" {
		return nil, errors.New("trace id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	cur, err := c.coll.Find(ctx, bson.M{"trace_id": traceID},
		options.Find().SetSort(bson.D{{Key: "start_time", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cur.Close(ctx)
	}()
	var out []*tracing.Span
	for cur.Next(ctx) {
		var doc spanDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toSpan())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func fromSpan(span *tracing.Span) spanDocument {
	doc := spanDocument{
		SpanID:    span.ID,
		TraceID:   span.TraceID,
		ParentID:  span.ParentID,
		Name:      span.Name,
		StartTime: span.StartTime.UTC(),
		Input:     string(span.Input),
		Output:    string(span.Output),
		Data:      string(span.Data),
	}
	if span.Ended() {
		end := span.EndTime.UTC()
		doc.EndTime = &end
	}
	return doc
}

func (doc spanDocument) toSpan() *tracing.Span {
	span := &tracing.Span{
		ID:        doc.SpanID,
		TraceID:   doc.TraceID,
		ParentID:  doc.ParentID,
		Name:      doc.Name,
		StartTime: doc.StartTime.UTC(),
		Input:     raw(doc.Input),
		Output:    raw(doc.Output),
		Data:      raw(doc.Data),
	}
	if doc.EndTime != nil {
		span.EndTime = doc.EndTime.UTC()
	}
	return span
}

func raw(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

func ensureIndexes(ctx context.Context, coll collection) error {
	spanIndex := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "span_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(ctx, spanIndex); err != nil {
		return err
	}
	traceIndex := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "trace_id", Value: 1},
			{Key: "start_time", Value: 1},
		},
	}
	if _, err := coll.Indexes().CreateOne(ctx, traceIndex); err != nil {
		return err
	}
	return nil
}

func newClientWithCollection(mongoClient *mongodriver.Client, coll collection, timeout time.Duration) (*client, error) {
	if coll == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{mongo: mongoClient, coll: coll, timeout: timeout}, nil
}

type collection interface {
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	UpdateOne(ctx context.Context, filter any, update any,
		opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel,
		opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type cursor interface {
	Close(ctx context.Context) error
	Decode(val any) error
	Err() error
	Next(ctx context.Context) bool
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any,
	opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel,
	opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
