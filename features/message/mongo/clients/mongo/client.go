// Package mongo hosts the MongoDB client used by the message store.
package mongo

//go:generate cmg gen .

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"goa.design/agentflow/runtime/message"
	"goa.design/agentflow/runtime/task"
)

const (
	defaultCollection = "task_messages"
	defaultOpTimeout  = 5 * time.Second
	clientName        = "message-mongo"
)

type (
	// Client exposes Mongo-backed operations for task messages. It stores
	// fully formed messages: ID assignment and validation belong to the caller.
	Client interface {
		health.Pinger

		Insert(ctx context.Context, msgs []*task.Message) error
		Replace(ctx context.Context, msg *task.Message) error
		Load(ctx context.Context, taskID, messageID string) (*task.Message, error)
		List(ctx context.Context, taskID string, limit, offset int) ([]*task.Message, error)
	}

	// Options configures the Mongo message client.
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

	messageDocument struct {
		ID              bson.ObjectID `bson:"_id,omitempty"`
		MessageID       string        `bson:"message_id"`
		TaskID          string        `bson:"task_id"`
		ContentType     string        `bson:"content_type"`
		Content         []byte        `bson:"content"`
		StreamingStatus string        `bson:"streaming_status,omitempty"`
		CreatedAt       time.Time     `bson:"created_at"`
		UpdatedAt       time.Time     `bson:"updated_at"`
	}
)

// New returns a Client backed by MongoDB and makes sure the collection
// indexes exist.
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

func (c *client) Insert(ctx context.Context, msgs []*task.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	docs := make([]any, 0, len(msgs))
	for _, m := range msgs {
		doc, err := fromMessage(m)
		if err != nil {
			return err
		}
		// Client-side IDs keep batch members in insertion order when
		// created_at ties.
		doc.ID = bson.NewObjectID()
		docs = append(docs, doc)
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.coll.InsertMany(ctx, docs)
	return err
}

func (c *client) Replace(ctx context.Context, msg *task.Message) error {
	doc, err := fromMessage(msg)
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := c.coll.UpdateOne(ctx,
		bson.M{"task_id": doc.TaskID, "message_id": doc.MessageID},
		bson.M{"$set": bson.M{
			"content_type":     doc.ContentType,
			"content":          doc.Content,
			"streaming_status": doc.StreamingStatus,
			"updated_at":       doc.UpdatedAt,
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return message.ErrNotFound
	}
	return nil
}

func (c *client) Load(ctx context.Context, taskID, messageID string) (*task.Message, error) {
	if taskID == "" {
		return nil, errors.New("task id is required")
	}
	if messageID == "" {
		return nil, errors.New("message id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc messageDocument
	if err := c.coll.FindOne(ctx, bson.M{"task_id": taskID, "message_id": messageID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, message.ErrNotFound
		}
		return nil, err
	}
	return doc.toMessage()
}

func (c *client) List(ctx context.Context, taskID string, limit, offset int) ([]*task.Message, error) {
	if taskID == "" {
		return nil, errors.New("task id is required")
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if offset > 0 {
		opts.SetSkip(int64(offset))
	}
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	cur, err := c.coll.Find(ctx, bson.M{"task_id": taskID}, opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cur.Close(ctx)
	}()
	var out []*task.Message
	for cur.Next(ctx) {
		var doc messageDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		msg, err := doc.toMessage()
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
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

func fromMessage(m *task.Message) (messageDocument, error) {
	if m == nil {
		return messageDocument{}, errors.New("message is required")
	}
	if m.ID == "" {
		return messageDocument{}, errors.New("message id is required")
	}
	if err := message.Validate(m.TaskID, m.Content); err != nil {
		return messageDocument{}, err
	}
	raw, err := task.MarshalContent(m.Content)
	if err != nil {
		return messageDocument{}, fmt.Errorf("encode content: %w", err)
	}
	return messageDocument{
		MessageID:       m.ID,
		TaskID:          m.TaskID,
		ContentType:     string(m.Content.ContentType()),
		Content:         raw,
		StreamingStatus: string(m.StreamingStatus),
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
	}, nil
}

func (doc messageDocument) toMessage() (*task.Message, error) {
	content, err := task.UnmarshalContent(doc.Content)
	if err != nil {
		return nil, fmt.Errorf("decode content of message %q: %w", doc.MessageID, err)
	}
	return &task.Message{
		ID:              doc.MessageID,
		TaskID:          doc.TaskID,
		Content:         content,
		StreamingStatus: task.StreamingStatus(doc.StreamingStatus),
		CreatedAt:       doc.CreatedAt.UTC(),
		UpdatedAt:       doc.UpdatedAt.UTC(),
	}, nil
}

func ensureIndexes(ctx context.Context, coll collection) error {
	idIndex := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "task_id", Value: 1},
			{Key: "message_id", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(ctx, idIndex); err != nil {
		return err
	}
	orderIndex := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "task_id", Value: 1},
			{Key: "created_at", Value: 1},
		},
	}
	if _, err := coll.Indexes().CreateOne(ctx, orderIndex); err != nil {
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
	return &client{
		mongo:   mongoClient,
		coll:    coll,
		timeout: timeout,
	}, nil
}

type collection interface {
	InsertMany(ctx context.Context, docs []any,
		opts ...options.Lister[options.InsertManyOptions]) (*mongodriver.InsertManyResult, error)
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	UpdateOne(ctx context.Context, filter any, update any,
		opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel,
		opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type singleResult interface {
	Decode(val any) error
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

func (c mongoCollection) InsertMany(ctx context.Context, docs []any,
	opts ...options.Lister[options.InsertManyOptions]) (*mongodriver.InsertManyResult, error) {
	return c.coll.InsertMany(ctx, docs, opts...)
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return c.coll.FindOne(ctx, filter, opts...)
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
