// Package task defines the message data model shared by the streaming
// protocol, the message stores, and the agent workflows.
//
// # Content and Deltas
//
// Message content is a closed tagged union (Content) with one variant per
// content kind. Streaming producers emit Delta values, also a closed union,
// that grow a single message incrementally. Both unions are sealed by an
// unexported method so only this package can add variants, and both carry a
// JSON "type" discriminant so they cross process boundaries (Pulse streams,
// Temporal payloads, Mongo documents) without losing their concrete type.
//
// Adding a Delta variant requires adding a method to DeltaVisitor, which
// breaks compilation of every visitor until it handles the new kind.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

// ErrUnknownKind indicates a content or delta payload carried a discriminant
// this package does not know how to decode.
var ErrUnknownKind = errors.New("unknown kind")

type (
	// Author identifies who produced a piece of content.
	Author string

	// StreamingStatus tracks whether a message is still being streamed.
	StreamingStatus string

	// Message is a persisted task message. A message is owned by the streaming
	// session that created it until the session closes; afterwards it is owned
	// by the message store and treated as read-only.
	Message struct {
		// ID is the store-assigned message identifier.
		ID string
		// TaskID identifies the task the message belongs to.
		TaskID string
		// Content is the current message content.
		Content Content
		// StreamingStatus is IN_PROGRESS while a session streams into the
		// message and DONE once final content has been persisted.
		StreamingStatus StreamingStatus
		// CreatedAt records when the message was first persisted.
		CreatedAt time.Time
		// UpdatedAt records the last persisted change.
		UpdatedAt time.Time
	}

	messageJSON struct {
		ID              string          `json:"id,omitempty"`
		TaskID          string          `json:"task_id"`
		Content         json.RawMessage `json:"content,omitempty"`
		StreamingStatus StreamingStatus `json:"streaming_status,omitempty"`
		CreatedAt       time.Time       `json:"created_at,omitzero"`
		UpdatedAt       time.Time       `json:"updated_at,omitzero"`
	}
)

const (
	// AuthorUser marks content produced by the end user.
	AuthorUser Author = "user"
	// AuthorAgent marks content produced by the agent.
	AuthorAgent Author = "agent"
)

const (
	// StatusInProgress marks a message that is still being streamed.
	StatusInProgress StreamingStatus = "IN_PROGRESS"
	// StatusDone marks a message whose final content has been persisted.
	StatusDone StreamingStatus = "DONE"
)

// Clone returns a deep copy of m. It returns nil when m is nil.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	out.Content = CloneContent(m.Content)
	return &out
}

// MarshalJSON encodes the message with its content discriminant.
func (m Message) MarshalJSON() ([]byte, error) {
	wire := messageJSON{
		ID:              m.ID,
		TaskID:          m.TaskID,
		StreamingStatus: m.StreamingStatus,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
	if m.Content != nil {
		raw, err := MarshalContent(m.Content)
		if err != nil {
			return nil, err
		}
		wire.Content = raw
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes a message produced by MarshalJSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	var content Content
	if len(wire.Content) > 0 && string(wire.Content) != "null" {
		c, err := UnmarshalContent(wire.Content)
		if err != nil {
			return fmt.Errorf("decode message content: %w", err)
		}
		content = c
	}
	*m = Message{
		ID:              wire.ID,
		TaskID:          wire.TaskID,
		Content:         content,
		StreamingStatus: wire.StreamingStatus,
		CreatedAt:       wire.CreatedAt,
		UpdatedAt:       wire.UpdatedAt,
	}
	return nil
}

// CloneContent returns a copy of c that shares no mutable state with it.
func CloneContent(c Content) Content {
	switch v := c.(type) {
	case nil:
		return nil
	case TextContent:
		return v
	case DataContent:
		v.Data = maps.Clone(v.Data)
		return v
	case ToolRequestContent:
		v.Arguments = maps.Clone(v.Arguments)
		return v
	case ToolResponseContent:
		return v
	case ReasoningContent:
		v.Summary = slices.Clone(v.Summary)
		v.Content = slices.Clone(v.Content)
		return v
	default:
		panic(fmt.Sprintf("task: unhandled content type %T", c))
	}
}
