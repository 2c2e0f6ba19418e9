package stream

import (
	"context"
	"errors"
	"fmt"

	"goa.design/agentflow/runtime/task"
	"goa.design/agentflow/runtime/telemetry"
)

type (
	// SessionOptions configures a Session.
	SessionOptions struct {
		// Store persists the streamed message. Required.
		Store MessageStore
		// Publisher broadcasts session events. Required.
		Publisher Publisher
		// Logger receives lifecycle diagnostics. Defaults to a noop logger.
		Logger telemetry.Logger
	}

	// Session drives the lifecycle of one streamed message: Open creates the
	// message and publishes Start, Update forwards Delta/Full/Done events, and
	// Close persists the final content and publishes Done exactly once.
	//
	// A Session must be driven by a single producer; it is not safe for
	// concurrent use. Callers typically defer Close right after a successful
	// Open so the message is finalized on every exit path.
	Session struct {
		taskID    string
		topic     string
		store     MessageStore
		publisher Publisher
		logger    telemetry.Logger

		state     sessionState
		message   *task.Message
		assembler *Assembler
	}

	sessionState int
)

const (
	stateUnopened sessionState = iota
	stateOpen
	stateClosed
)

// NewSession returns an unopened session streaming into a new message of
// the given task.
func NewSession(taskID string, opts SessionOptions) (*Session, error) {
	if taskID == "" {
		return nil, errors.New("task id is required")
	}
	if opts.Store == nil {
		return nil, errors.New("message store is required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("publisher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Session{
		taskID:    taskID,
		topic:     Topic(taskID),
		store:     opts.Store,
		publisher: opts.Publisher,
		logger:    logger,
		assembler: NewAssembler(),
	}, nil
}

// TaskID returns the task the session streams into.
func (s *Session) TaskID() string {
	return s.taskID
}

// Message returns a copy of the session message, or nil before Open.
func (s *Session) Message() *task.Message {
	return s.message.Clone()
}

// Closed reports whether the session reached a terminal event.
func (s *Session) Closed() bool {
	return s.state == stateClosed
}

// Open persists a new IN_PROGRESS message with the given placeholder content
// and publishes Start. When the store fails the session stays unopened and
// Open may be retried. When only the Start publish fails the message exists
// and the session is open: the caller must Close it to finalize the message.
func (s *Session) Open(ctx context.Context, initial task.Content) (*task.Message, error) {
	switch s.state {
	case stateOpen:
		return nil, ErrSessionAlreadyOpen
	case stateClosed:
		return nil, ErrSessionClosed
	}
	if initial == nil {
		initial = task.TextContent{Author: task.AuthorAgent}
	}
	msg, err := s.store.Create(ctx, s.taskID, initial, task.StatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	s.message = msg
	s.state = stateOpen
	if err := s.publish(ctx, Start{Content: initial}); err != nil {
		return nil, err
	}
	s.logger.Debug(ctx, "stream session opened", "task_id", s.taskID, "message_id", msg.ID)
	return msg.Clone(), nil
}

// Update applies one stream event. Delta events are folded into the
// assembler before publishing. Full persists the given content as DONE,
// publishes, and closes the session without consulting accumulated deltas.
// Done behaves like Close.
func (s *Session) Update(ctx context.Context, ev Event) (*task.Message, error) {
	switch s.state {
	case stateUnopened:
		return nil, ErrSessionNotOpen
	case stateClosed:
		return nil, ErrSessionClosed
	}
	switch e := ev.(type) {
	case Delta:
		if err := s.assembler.Add(e.Delta); err != nil {
			return nil, err
		}
		if err := s.publish(ctx, e); err != nil {
			return nil, err
		}
		return s.message.Clone(), nil
	case Full:
		if e.Content == nil {
			return nil, fmt.Errorf("%w: full event without content", ErrUnexpectedEvent)
		}
		if err := s.persistDone(ctx, e.Content); err != nil {
			return nil, err
		}
		s.state = stateClosed
		if err := s.publish(ctx, e); err != nil {
			return nil, err
		}
		return s.message.Clone(), nil
	case Done:
		return s.Close(ctx)
	case nil:
		return nil, fmt.Errorf("%w: nil event", ErrUnexpectedEvent)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedEvent, ev.Type())
	}
}

// Close finalizes the session. The first call persists the assembled content
// (or the last known content when no delta was streamed) as DONE and
// publishes Done. Subsequent calls return the finalized message without
// publishing again.
func (s *Session) Close(ctx context.Context) (*task.Message, error) {
	switch s.state {
	case stateUnopened:
		return nil, ErrSessionNotOpen
	case stateClosed:
		return s.message.Clone(), nil
	}
	content := s.message.Content
	if s.assembler.Len() > 0 {
		c, err := s.assembler.Finalize()
		if err != nil {
			return nil, err
		}
		content = c
	}
	if err := s.persistDone(ctx, content); err != nil {
		return nil, err
	}
	s.state = stateClosed
	if err := s.publish(ctx, Done{}); err != nil {
		return nil, err
	}
	s.logger.Debug(ctx, "stream session closed", "task_id", s.taskID, "message_id", s.message.ID)
	return s.message.Clone(), nil
}

func (s *Session) persistDone(ctx context.Context, content task.Content) error {
	msg, err := s.store.Update(ctx, s.taskID, s.message.ID, content, task.StatusDone)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	s.message = msg
	return nil
}

func (s *Session) publish(ctx context.Context, ev Event) error {
	ev = withParent(ev, s.message.Clone())
	if err := s.publisher.Publish(ctx, s.topic, ev); err != nil {
		s.logger.Error(ctx, "failed to publish stream event", "task_id", s.taskID, "type", string(ev.Type()), "err", err)
		return fmt.Errorf("publish %s event: %w", ev.Type(), err)
	}
	return nil
}

// WithSession opens a session, runs fn, and always closes the session, even
// when fn fails or the context is canceled. The close uses a context detached
// from ctx cancellation so a partially streamed message is never left
// IN_PROGRESS. fn may terminate the session itself with a Full or Done event.
func WithSession(ctx context.Context, s *Session, initial task.Content, fn func(context.Context, *Session) error) (msg *task.Message, err error) {
	if _, err := s.Open(ctx, initial); err != nil {
		s.abandon(ctx)
		return nil, err
	}
	defer func() {
		closed, cerr := s.Close(context.WithoutCancel(ctx))
		if err == nil {
			msg, err = closed, cerr
		}
	}()
	return nil, fn(ctx, s)
}

// abandon finalizes a session whose Open created the message but failed to
// publish Start. It is a no-op when no message was created.
func (s *Session) abandon(ctx context.Context) {
	if s.state != stateOpen {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if _, err := s.Close(ctx); err != nil {
		s.logger.Error(ctx, "failed to finalize abandoned stream session", "task_id", s.taskID, "message_id", s.message.ID, "err", err)
	}
}
