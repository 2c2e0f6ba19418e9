// Package stream implements the message streaming protocol: producers open a
// Session for one task message, push Delta events that an Assembler folds into
// final content, and close the session to persist the result exactly once.
// Every state change is broadcast to subscribers of the task topic through a
// Publisher.
//
// Side effects are strictly ordered as assembler update, store write, then
// publish, so subscribers never observe an event for content that has not
// been durably stored.
package stream

import (
	"context"
	"errors"

	"goa.design/agentflow/runtime/task"
)

var (
	// ErrKindMismatch indicates a delta whose kind differs from the kind the
	// assembler was established with.
	ErrKindMismatch = errors.New("delta type mismatch")
	// ErrMalformedPayload indicates accumulated JSON fragments that do not
	// parse as a JSON document.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrEmptyAssembler indicates Finalize was called before any delta was added.
	ErrEmptyAssembler = errors.New("no deltas accumulated")
	// ErrSessionClosed indicates an update after the session reached a
	// terminal event.
	ErrSessionClosed = errors.New("session is closed")
	// ErrSessionNotOpen indicates an update or close before Open succeeded.
	ErrSessionNotOpen = errors.New("session is not open")
	// ErrSessionAlreadyOpen indicates Open was called twice.
	ErrSessionAlreadyOpen = errors.New("session is already open")
	// ErrUnexpectedEvent indicates an event the session cannot accept (Start
	// events are emitted by Open only).
	ErrUnexpectedEvent = errors.New("unexpected stream event")
)

type (
	// Publisher broadcasts stream events to the subscribers of a topic.
	// Implementations must preserve per-topic call order and must be safe for
	// concurrent use.
	Publisher interface {
		Publish(ctx context.Context, topic string, event Event) error
	}

	// MessageStore persists the message a session streams into. It is the
	// subset of message.Store the protocol relies on.
	MessageStore interface {
		// Create persists a new message and returns it with its assigned ID.
		Create(ctx context.Context, taskID string, content task.Content, status task.StreamingStatus) (*task.Message, error)
		// Update replaces the content and status of an existing message.
		Update(ctx context.Context, taskID, messageID string, content task.Content, status task.StreamingStatus) (*task.Message, error)
	}
)

// Topic returns the publish topic for a task.
func Topic(taskID string) string {
	return "task:" + taskID
}
