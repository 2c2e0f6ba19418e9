package stream

import (
	"encoding/json"
	"fmt"

	"goa.design/agentflow/runtime/task"
)

type (
	// EventType is the discriminant of the Event union.
	EventType string

	// Event is a stream update published to the task topic. The interface is
	// sealed: the variants are Start, Delta, Full and Done.
	Event interface {
		// Type returns the union discriminant.
		Type() EventType
		// ParentMessage returns the message the event belongs to.
		ParentMessage() *task.Message
		event()
	}

	// Start announces a new message and its placeholder content. Exactly one
	// Start is published per session.
	Start struct {
		Parent  *task.Message
		Content task.Content
	}

	// Delta carries one fragment of the message being streamed.
	Delta struct {
		Parent *task.Message
		Delta  task.Delta
	}

	// Full replaces the message content outright and terminates the session.
	Full struct {
		Parent  *task.Message
		Content task.Content
	}

	// Done terminates the session; the persisted content is the assembled
	// deltas, or the last known content when no delta was streamed.
	Done struct {
		Parent *task.Message
	}

	eventJSON struct {
		Type    EventType       `json:"type"`
		Parent  *task.Message   `json:"parent_task_message"`
		Content json.RawMessage `json:"content,omitempty"`
		Delta   json.RawMessage `json:"delta,omitempty"`
	}
)

const (
	EventStart EventType = "start"
	EventDelta EventType = "delta"
	EventFull  EventType = "full"
	EventDone  EventType = "done"
)

func (Start) Type() EventType { return EventStart }
func (Delta) Type() EventType { return EventDelta }
func (Full) Type() EventType  { return EventFull }
func (Done) Type() EventType  { return EventDone }

func (e Start) ParentMessage() *task.Message { return e.Parent }
func (e Delta) ParentMessage() *task.Message { return e.Parent }
func (e Full) ParentMessage() *task.Message  { return e.Parent }
func (e Done) ParentMessage() *task.Message  { return e.Parent }

func (Start) event() {}
func (Delta) event() {}
func (Full) event()  {}
func (Done) event()  {}

// MarshalEvent encodes ev as JSON with a "type" discriminant and the parent
// message under "parent_task_message".
func MarshalEvent(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: nil event", ErrUnexpectedEvent)
	}
	wire := eventJSON{Parent: ev.ParentMessage()}
	switch e := ev.(type) {
	case Start:
		wire.Type = EventStart
		raw, err := task.MarshalContent(e.Content)
		if err != nil {
			return nil, err
		}
		wire.Content = raw
	case Delta:
		wire.Type = EventDelta
		raw, err := task.MarshalDelta(e.Delta)
		if err != nil {
			return nil, err
		}
		wire.Delta = raw
	case Full:
		wire.Type = EventFull
		raw, err := task.MarshalContent(e.Content)
		if err != nil {
			return nil, err
		}
		wire.Content = raw
	case Done:
		wire.Type = EventDone
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedEvent, ev)
	}
	return json.Marshal(wire)
}

// UnmarshalEvent decodes an event produced by MarshalEvent.
func UnmarshalEvent(data []byte) (Event, error) {
	var wire eventJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	switch wire.Type {
	case EventStart:
		c, err := task.UnmarshalContent(wire.Content)
		if err != nil {
			return nil, err
		}
		return Start{Parent: wire.Parent, Content: c}, nil
	case EventDelta:
		d, err := task.UnmarshalDelta(wire.Delta)
		if err != nil {
			return nil, err
		}
		return Delta{Parent: wire.Parent, Delta: d}, nil
	case EventFull:
		c, err := task.UnmarshalContent(wire.Content)
		if err != nil {
			return nil, err
		}
		return Full{Parent: wire.Parent, Content: c}, nil
	case EventDone:
		return Done{Parent: wire.Parent}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedEvent, wire.Type)
	}
}

// withParent returns a copy of ev attached to parent.
func withParent(ev Event, parent *task.Message) Event {
	switch e := ev.(type) {
	case Start:
		e.Parent = parent
		return e
	case Delta:
		e.Parent = parent
		return e
	case Full:
		e.Parent = parent
		return e
	case Done:
		e.Parent = parent
		return e
	default:
		panic(fmt.Sprintf("stream: unhandled event type %T", ev))
	}
}
