package mongo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"goa.design/agentflow/runtime/message"
	"goa.design/agentflow/runtime/task"
)

func TestEnsureIndexes(t *testing.T) {
	coll := newFakeCollection()
	require.NoError(t, ensureIndexes(context.Background(), coll))
	require.Equal(t, 2, coll.indexCreated)
}

func TestNewValidation(t *testing.T) {
	_, err := New(Options{})
	require.EqualError(t, err, "mongo client is required")
	_, err = newClientWithCollection(nil, nil, time.Second)
	require.EqualError(t, err, "collection is required")
}

func TestInsertLoad(t *testing.T) {
	cl := mustNewTestClient()
	now := time.Now().UTC().Truncate(time.Millisecond)
	msg := &task.Message{
		ID:              "msg-1",
		TaskID:          "task-1",
		Content:         task.TextContent{Author: task.AuthorAgent, Content: "hello", Format: task.TextFormatMarkdown},
		StreamingStatus: task.StatusInProgress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, cl.Insert(context.Background(), []*task.Message{msg}))

	loaded, err := cl.Load(context.Background(), "task-1", "msg-1")
	require.NoError(t, err)
	require.Equal(t, msg, loaded)
}

func TestLoadMissingReturnsNotFound(t *testing.T) {
	cl := mustNewTestClient()
	_, err := cl.Load(context.Background(), "task-1", "missing")
	require.ErrorIs(t, err, message.ErrNotFound)
	_, err = cl.Load(context.Background(), "", "missing")
	require.EqualError(t, err, "task id is required")
	_, err = cl.Load(context.Background(), "task-1", "")
	require.EqualError(t, err, "message id is required")
}

func TestInsertValidation(t *testing.T) {
	cl := mustNewTestClient()
	err := cl.Insert(context.Background(), []*task.Message{{TaskID: "task-1", Content: task.NewText("x")}})
	require.EqualError(t, err, "message id is required")
	err = cl.Insert(context.Background(), []*task.Message{{ID: "m", Content: task.NewText("x")}})
	require.EqualError(t, err, "task id is required")
	err = cl.Insert(context.Background(), []*task.Message{{ID: "m", TaskID: "task-1"}})
	require.EqualError(t, err, "content is required")
	require.NoError(t, cl.Insert(context.Background(), nil))
}

func TestReplace(t *testing.T) {
	cl := mustNewTestClient()
	now := time.Now().UTC().Truncate(time.Millisecond)
	msg := &task.Message{
		ID:              "msg-1",
		TaskID:          "task-1",
		Content:         task.NewText(""),
		StreamingStatus: task.StatusInProgress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, cl.Insert(context.Background(), []*task.Message{msg}))

	updated := msg.Clone()
	updated.Content = task.DataContent{Author: task.AuthorAgent, Data: map[string]any{"k": "v"}}
	updated.StreamingStatus = task.StatusDone
	updated.UpdatedAt = now.Add(time.Second)
	require.NoError(t, cl.Replace(context.Background(), updated))

	loaded, err := cl.Load(context.Background(), "task-1", "msg-1")
	require.NoError(t, err)
	require.Equal(t, updated, loaded)

	missing := updated.Clone()
	missing.ID = "msg-2"
	require.ErrorIs(t, cl.Replace(context.Background(), missing), message.ErrNotFound)
}

func TestListOrderAndPagination(t *testing.T) {
	cl := mustNewTestClient()
	now := time.Now().UTC().Truncate(time.Millisecond)
	var msgs []*task.Message
	for _, id := range []string{"a", "b", "c", "d"} {
		msgs = append(msgs, &task.Message{ID: id, TaskID: "task-1", Content: task.NewText(id), CreatedAt: now, UpdatedAt: now})
	}
	require.NoError(t, cl.Insert(context.Background(), msgs))
	require.NoError(t, cl.Insert(context.Background(), []*task.Message{
		{ID: "other", TaskID: "task-2", Content: task.NewText("x"), CreatedAt: now, UpdatedAt: now},
	}))

	all, err := cl.List(context.Background(), "task-1", 0, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c", "d"}, ids(all))

	page, err := cl.List(context.Background(), "task-1", 2, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c"}, ids(page))

	_, err = cl.List(context.Background(), "", 0, 0)
	require.EqualError(t, err, "task id is required")
}

func TestPingWithoutClient(t *testing.T) {
	cl := mustNewTestClient()
	require.Equal(t, "message-mongo", cl.Name())
	require.EqualError(t, cl.Ping(context.Background()), "mongo client not configured")
}

func ids(msgs []*task.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func mustNewTestClient() *client {
	cl, err := newClientWithCollection(nil, newFakeCollection(), time.Second)
	if err != nil {
		panic(err)
	}
	return cl
}

type fakeCollection struct {
	mu           sync.Mutex
	indexCreated int
	docs         []messageDocument
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{}
}

func (c *fakeCollection) InsertMany(_ context.Context, docs []any,
	_ ...options.Lister[options.InsertManyOptions]) (*mongodriver.InsertManyResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := &mongodriver.InsertManyResult{}
	for _, d := range docs {
		doc, ok := d.(messageDocument)
		if !ok {
			return nil, errors.New("unsupported document")
		}
		c.docs = append(c.docs, doc)
		res.InsertedIDs = append(res.InsertedIDs, doc.ID)
	}
	return res, nil
}

func (c *fakeCollection) FindOne(_ context.Context, filter any, _ ...options.Lister[options.FindOneOptions]) singleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.find(filter.(bson.M)); i >= 0 {
		doc := c.docs[i]
		return fakeSingleResult{doc: &doc}
	}
	return fakeSingleResult{err: mongodriver.ErrNoDocuments}
}

func (c *fakeCollection) Find(_ context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var fo options.FindOptions
	for _, o := range opts {
		for _, set := range o.List() {
			if err := set(&fo); err != nil {
				return nil, err
			}
		}
	}
	taskID := filter.(bson.M)["task_id"].(string)
	var docs []messageDocument
	for _, doc := range c.docs {
		if doc.TaskID == taskID {
			docs = append(docs, doc)
		}
	}
	if fo.Skip != nil {
		skip := int(*fo.Skip)
		if skip >= len(docs) {
			docs = nil
		} else {
			docs = docs[skip:]
		}
	}
	if fo.Limit != nil && int(*fo.Limit) < len(docs) {
		docs = docs[:*fo.Limit]
	}
	return &fakeCursor{docs: docs, idx: -1}, nil
}

func (c *fakeCollection) UpdateOne(_ context.Context, filter any, update any,
	_ ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.find(filter.(bson.M))
	if i < 0 {
		return &mongodriver.UpdateResult{}, nil
	}
	set, ok := update.(bson.M)["$set"].(bson.M)
	if !ok {
		return nil, errors.New("unsupported $set payload")
	}
	doc := &c.docs[i]
	if v, ok := set["content_type"].(string); ok {
		doc.ContentType = v
	}
	if v, ok := set["content"].([]byte); ok {
		doc.Content = v
	}
	if v, ok := set["streaming_status"].(string); ok {
		doc.StreamingStatus = v
	}
	if v, ok := set["updated_at"].(time.Time); ok {
		doc.UpdatedAt = v
	}
	return &mongodriver.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

func (c *fakeCollection) Indexes() indexView {
	return fakeIndexView{parent: &c.indexCreated}
}

func (c *fakeCollection) find(filter bson.M) int {
	taskID, _ := filter["task_id"].(string)
	messageID, _ := filter["message_id"].(string)
	for i, doc := range c.docs {
		if doc.TaskID == taskID && doc.MessageID == messageID {
			return i
		}
	}
	return -1
}

type fakeIndexView struct {
	parent *int
}

func (v fakeIndexView) CreateOne(_ context.Context, model mongodriver.IndexModel,
	_ ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	if len(model.Keys.(bson.D)) == 0 {
		return "", errors.New("missing keys")
	}
	*v.parent++
	return "message_idx", nil
}

type fakeSingleResult struct {
	doc *messageDocument
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	typed, ok := val.(*messageDocument)
	if !ok {
		return errors.New("unsupported target")
	}
	*typed = *r.doc
	return nil
}

type fakeCursor struct {
	docs []messageDocument
	idx  int
}

func (c *fakeCursor) Close(context.Context) error { return nil }

func (c *fakeCursor) Decode(val any) error {
	typed, ok := val.(*messageDocument)
	if !ok {
		return errors.New("unsupported target")
	}
	*typed = c.docs[c.idx]
	return nil
}

func (c *fakeCursor) Err() error { return nil }

func (c *fakeCursor) Next(context.Context) bool {
	if c.idx+1 >= len(c.docs) {
		return false
	}
	c.idx++
	return true
}
