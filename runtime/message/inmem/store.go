// Package inmem provides an in-memory implementation of message.Store.
//
// It is intended for tests and local development. Production deployments should
// use a durable implementation (for example features/message/mongo).
package inmem

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"goa.design/agentflow/runtime/message"
	"goa.design/agentflow/runtime/task"
)

type (
	// Store is an in-memory implementation of message.Store.
	// It is safe for concurrent use.
	Store struct {
		mu    sync.RWMutex
		byID  map[string]*task.Message
		order map[string][]string // task ID -> message IDs in creation order
		now   func() time.Time
	}
)

var _ message.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		byID:  make(map[string]*task.Message),
		order: make(map[string][]string),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create implements message.Store.
func (s *Store) Create(_ context.Context, taskID string, content task.Content, status task.StreamingStatus) (*task.Message, error) {
	if err := message.Validate(taskID, content); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.create(taskID, content, status), nil
}

// Update implements message.Store.
func (s *Store) Update(_ context.Context, taskID, messageID string, content task.Content, status task.StreamingStatus) (*task.Message, error) {
	if err := message.Validate(taskID, content); err != nil {
		return nil, err
	}
	if messageID == "" {
		return nil, errors.New("message id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(taskID, messageID, content, status)
}

// Get implements message.Store.
func (s *Store) Get(_ context.Context, taskID, messageID string) (*task.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.byID[messageID]
	if !ok || msg.TaskID != taskID {
		return nil, message.ErrNotFound
	}
	return msg.Clone(), nil
}

// List implements message.Store.
func (s *Store) List(_ context.Context, taskID string, opts message.ListOptions) ([]*task.Message, error) {
	if taskID == "" {
		return nil, errors.New("task id is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.order[taskID]
	if opts.Offset > 0 {
		if opts.Offset >= len(ids) {
			return nil, nil
		}
		ids = ids[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(ids) {
		ids = ids[:opts.Limit]
	}
	out := make([]*task.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byID[id].Clone())
	}
	return out, nil
}

// CreateBatch implements message.Store.
func (s *Store) CreateBatch(_ context.Context, taskID string, contents []task.Content) ([]*task.Message, error) {
	for _, c := range contents {
		if err := message.Validate(taskID, c); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*task.Message, 0, len(contents))
	for _, c := range contents {
		out = append(out, s.create(taskID, c, task.StatusDone))
	}
	return out, nil
}

// UpdateBatch implements message.Store. Messages are updated in ascending ID
// order; the batch fails without changes when any message is missing.
func (s *Store) UpdateBatch(_ context.Context, taskID string, updates map[string]task.Content) ([]*task.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(updates))
	for id, c := range updates {
		if err := message.Validate(taskID, c); err != nil {
			return nil, err
		}
		if msg, ok := s.byID[id]; !ok || msg.TaskID != taskID {
			return nil, message.ErrNotFound
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]*task.Message, 0, len(ids))
	for _, id := range ids {
		msg, err := s.update(taskID, id, updates[id], s.byID[id].StreamingStatus)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *Store) create(taskID string, content task.Content, status task.StreamingStatus) *task.Message {
	now := s.now()
	msg := &task.Message{
		ID:              uuid.NewString(),
		TaskID:          taskID,
		Content:         task.CloneContent(content),
		StreamingStatus: status,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.byID[msg.ID] = msg
	s.order[taskID] = append(s.order[taskID], msg.ID)
	return msg.Clone()
}

func (s *Store) update(taskID, messageID string, content task.Content, status task.StreamingStatus) (*task.Message, error) {
	msg, ok := s.byID[messageID]
	if !ok || msg.TaskID != taskID {
		return nil, message.ErrNotFound
	}
	msg.Content = task.CloneContent(content)
	if status != "" {
		msg.StreamingStatus = status
	}
	msg.UpdatedAt = s.now()
	return msg.Clone(), nil
}
