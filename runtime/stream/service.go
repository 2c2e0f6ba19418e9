package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"goa.design/agentflow/runtime/dispatch"
	"goa.design/agentflow/runtime/engine"
	"goa.design/agentflow/runtime/task"
	"goa.design/agentflow/runtime/telemetry"
)

// ActivityPublish is the name of the activity publishing one stream event.
const ActivityPublish = "stream-update"

type (
	// ServiceOptions configures a Service.
	ServiceOptions struct {
		// Store persists streamed messages. Inside workflows pass a store
		// whose writes are dispatched as activities (message.Service.Sessions).
		Store MessageStore
		// Publisher broadcasts events. Required.
		Publisher Publisher
		// Logger defaults to a noop logger.
		Logger telemetry.Logger
		// ActivityOptions override the stream-update activity defaults.
		ActivityOptions engine.ActivityOptions
	}

	// Service opens streaming sessions and publishes standalone events. Its
	// publishes run as the stream-update activity when called from workflow
	// code.
	Service struct {
		store     MessageStore
		publisher Publisher
		logger    telemetry.Logger
		publish   dispatch.Activity[PublishRequest, PublishResult]
	}

	// PublishRequest is the stream-update activity input.
	PublishRequest struct {
		Topic string
		Event Event
	}

	// PublishResult is the stream-update activity output.
	PublishResult struct {
		Type EventType `json:"type"`
	}

	publishRequestJSON struct {
		Topic string          `json:"topic"`
		Event json.RawMessage `json:"event"`
	}

	// servicePublisher routes session publishes through the service.
	servicePublisher struct {
		svc *Service
	}
)

// NewService returns a streaming service.
func NewService(opts ServiceOptions) (*Service, error) {
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
	s := &Service{store: opts.Store, publisher: opts.Publisher, logger: logger}
	s.publish = dispatch.Activity[PublishRequest, PublishResult]{
		Name:    ActivityPublish,
		Handler: s.handlePublish,
		Options: opts.ActivityOptions,
	}
	return s, nil
}

// Activities returns the service activities for registration on a worker.
func (s *Service) Activities() []dispatch.Registrar {
	return []dispatch.Registrar{s.publish}
}

// Open opens a session streaming into a new message of taskID. The session
// publishes through the service so its events are dispatched like Publish.
// On error no session is returned and any message already created is
// finalized as DONE.
func (s *Service) Open(ctx context.Context, taskID string, initial task.Content) (*Session, error) {
	sess, err := NewSession(taskID, SessionOptions{
		Store:     s.store,
		Publisher: servicePublisher{svc: s},
		Logger:    s.logger,
	})
	if err != nil {
		return nil, err
	}
	if _, err := sess.Open(ctx, initial); err != nil {
		sess.abandon(ctx)
		return nil, err
	}
	return sess, nil
}

// Stream opens a session, runs fn and closes the session. See WithSession.
func (s *Service) Stream(ctx context.Context, taskID string, initial task.Content, fn func(context.Context, *Session) error) (*task.Message, error) {
	sess, err := NewSession(taskID, SessionOptions{
		Store:     s.store,
		Publisher: servicePublisher{svc: s},
		Logger:    s.logger,
	})
	if err != nil {
		return nil, err
	}
	return WithSession(ctx, sess, initial, fn)
}

// Publish sends one event to the subscribers of taskID without session
// bookkeeping. The event must carry its parent message.
func (s *Service) Publish(ctx context.Context, taskID string, ev Event) error {
	if taskID == "" {
		return errors.New("task id is required")
	}
	return s.send(ctx, Topic(taskID), ev)
}

func (s *Service) send(ctx context.Context, topic string, ev Event) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", ErrUnexpectedEvent)
	}
	_, err := dispatch.Execute(ctx, s.publish, PublishRequest{Topic: topic, Event: ev})
	return err
}

func (s *Service) handlePublish(ctx context.Context, req PublishRequest) (PublishResult, error) {
	if req.Event == nil {
		return PublishResult{}, fmt.Errorf("%w: nil event", ErrUnexpectedEvent)
	}
	engine.Heartbeat(ctx, "stream update")
	if err := s.publisher.Publish(ctx, req.Topic, req.Event); err != nil {
		return PublishResult{}, err
	}
	return PublishResult{Type: req.Event.Type()}, nil
}

func (p servicePublisher) Publish(ctx context.Context, topic string, ev Event) error {
	return p.svc.send(ctx, topic, ev)
}

// MarshalJSON encodes the request with the event wire format.
func (r PublishRequest) MarshalJSON() ([]byte, error) {
	wire := publishRequestJSON{Topic: r.Topic}
	if r.Event != nil {
		raw, err := MarshalEvent(r.Event)
		if err != nil {
			return nil, err
		}
		wire.Event = raw
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes a request produced by MarshalJSON.
func (r *PublishRequest) UnmarshalJSON(data []byte) error {
	var wire publishRequestJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = PublishRequest{Topic: wire.Topic}
	if len(wire.Event) == 0 || string(wire.Event) == "null" {
		return nil
	}
	ev, err := UnmarshalEvent(wire.Event)
	if err != nil {
		return fmt.Errorf("decode stream event: %w", err)
	}
	r.Event = ev
	return nil
}
