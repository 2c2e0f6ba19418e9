// Package message defines persistence for task messages.
//
// Store implementations back the streaming protocol (stream.MessageStore is a
// subset of Store). Service exposes the message operations to agent code and
// dispatches them as activities when called from workflows.
package message

import (
	"context"
	"errors"

	"goa.design/agentflow/runtime/task"
)

// ErrNotFound indicates that no message exists for the given task and ID.
var ErrNotFound = errors.New("message not found")

type (
	// Store persists task messages.
	//
	// Implementations must be safe for concurrent use and must return copies:
	// callers may mutate returned messages without affecting stored state.
	Store interface {
		// Create persists a new message and returns it with its assigned ID
		// and timestamps.
		Create(ctx context.Context, taskID string, content task.Content, status task.StreamingStatus) (*task.Message, error)
		// Update replaces the content and streaming status of an existing
		// message. Returns ErrNotFound when the message does not exist.
		Update(ctx context.Context, taskID, messageID string, content task.Content, status task.StreamingStatus) (*task.Message, error)
		// Get loads one message. Returns ErrNotFound when it does not exist.
		Get(ctx context.Context, taskID, messageID string) (*task.Message, error)
		// List returns the messages of a task ordered by creation time.
		List(ctx context.Context, taskID string, opts ListOptions) ([]*task.Message, error)
		// CreateBatch persists several messages of one task in order.
		CreateBatch(ctx context.Context, taskID string, contents []task.Content) ([]*task.Message, error)
		// UpdateBatch replaces the content of several messages keyed by ID.
		UpdateBatch(ctx context.Context, taskID string, updates map[string]task.Content) ([]*task.Message, error)
	}

	// ListOptions bounds a List call.
	ListOptions struct {
		// Limit caps the number of returned messages. Zero means no limit.
		Limit int
		// Offset skips the first Offset messages.
		Offset int
	}
)

// Validate checks the identifiers shared by every Store operation.
func Validate(taskID string, content task.Content) error {
	if taskID == "" {
		return errors.New("task id is required")
	}
	if content == nil {
		return errors.New("content is required")
	}
	return nil
}
