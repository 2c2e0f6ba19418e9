package mongo

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"

	clientsmongo "goa.design/agentflow/features/message/mongo/clients/mongo"
	"goa.design/agentflow/runtime/message"
	"goa.design/agentflow/runtime/task"
)

// Store implements message.Store by delegating to the Mongo client.
type Store struct {
	client clientsmongo.Client
	now    func() time.Time
}

var _ message.Store = (*Store)(nil)

// NewStore builds a Store using the provided client.
func NewStore(client clientsmongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Name returns the health check name of the underlying client.
func (s *Store) Name() string {
	return s.client.Name()
}

// Ping checks connectivity to MongoDB.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// Create implements message.Store.
func (s *Store) Create(ctx context.Context, taskID string, content task.Content, status task.StreamingStatus) (*task.Message, error) {
	if err := message.Validate(taskID, content); err != nil {
		return nil, err
	}
	msg := s.newMessage(taskID, content, status)
	if err := s.client.Insert(ctx, []*task.Message{msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

// Update implements message.Store. An empty status keeps the stored one.
func (s *Store) Update(ctx context.Context, taskID, messageID string, content task.Content, status task.StreamingStatus) (*task.Message, error) {
	if err := message.Validate(taskID, content); err != nil {
		return nil, err
	}
	if messageID == "" {
		return nil, errors.New("message id is required")
	}
	msg, err := s.client.Load(ctx, taskID, messageID)
	if err != nil {
		return nil, err
	}
	s.apply(msg, content, status)
	if err := s.client.Replace(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Get implements message.Store.
func (s *Store) Get(ctx context.Context, taskID, messageID string) (*task.Message, error) {
	return s.client.Load(ctx, taskID, messageID)
}

// List implements message.Store.
func (s *Store) List(ctx context.Context, taskID string, opts message.ListOptions) ([]*task.Message, error) {
	return s.client.List(ctx, taskID, opts.Limit, opts.Offset)
}

// CreateBatch implements message.Store. Messages are created with the DONE
// status in the order given.
func (s *Store) CreateBatch(ctx context.Context, taskID string, contents []task.Content) ([]*task.Message, error) {
	for _, c := range contents {
		if err := message.Validate(taskID, c); err != nil {
			return nil, err
		}
	}
	msgs := make([]*task.Message, 0, len(contents))
	for _, c := range contents {
		msgs = append(msgs, s.newMessage(taskID, c, task.StatusDone))
	}
	if err := s.client.Insert(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// UpdateBatch implements message.Store. Every message is loaded before any
// write so a missing message fails the batch without changes. Writes are not
// transactional: a storage error midway leaves earlier updates applied.
func (s *Store) UpdateBatch(ctx context.Context, taskID string, updates map[string]task.Content) ([]*task.Message, error) {
	ids := make([]string, 0, len(updates))
	for id, c := range updates {
		if err := message.Validate(taskID, c); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	msgs := make([]*task.Message, 0, len(ids))
	for _, id := range ids {
		msg, err := s.client.Load(ctx, taskID, id)
		if err != nil {
			return nil, err
		}
		s.apply(msg, updates[id], "")
		msgs = append(msgs, msg)
	}
	for _, msg := range msgs {
		if err := s.client.Replace(ctx, msg); err != nil {
			return nil, err
		}
	}
	return msgs, nil
}

func (s *Store) newMessage(taskID string, content task.Content, status task.StreamingStatus) *task.Message {
	now := s.now()
	return &task.Message{
		ID:              uuid.NewString(),
		TaskID:          taskID,
		Content:         task.CloneContent(content),
		StreamingStatus: status,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (s *Store) apply(msg *task.Message, content task.Content, status task.StreamingStatus) {
	msg.Content = task.CloneContent(content)
	if status != "" {
		msg.StreamingStatus = status
	}
	msg.UpdatedAt = s.now()
}
