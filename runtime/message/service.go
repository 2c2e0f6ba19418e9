package message

import (
	"context"
	"errors"

	"goa.design/agentflow/runtime/dispatch"
	"goa.design/agentflow/runtime/engine"
	"goa.design/agentflow/runtime/stream"
	"goa.design/agentflow/runtime/task"
	"goa.design/agentflow/runtime/telemetry"
	"goa.design/agentflow/runtime/tracing"
)

// Activity names of the message operations.
const (
	ActivityCreate      = "create-message"
	ActivityUpdate      = "update-message"
	ActivityCreateBatch = "create-messages-batch"
	ActivityUpdateBatch = "update-messages-batch"
	ActivityList        = "list-messages"
)

type (
	// ServiceOptions configures a Service.
	ServiceOptions struct {
		// Store persists messages. Required.
		Store Store
		// Publisher receives Full events for created messages when updates
		// are emitted. Required for EmitUpdates.
		Publisher stream.Publisher
		// Tracer records one span per operation when the request carries a
		// trace ID. Defaults to a tracer without processors.
		Tracer *tracing.Tracer
		// Logger defaults to a noop logger.
		Logger telemetry.Logger
		// ActivityOptions override the activity defaults of every operation.
		ActivityOptions engine.ActivityOptions
	}

	// Service exposes the message operations to agent code. Each operation
	// runs inline, or as an activity when called from workflow code.
	Service struct {
		store     Store
		publisher stream.Publisher
		tracer    *tracing.Tracer
		logger    telemetry.Logger

		create      dispatch.Activity[CreateRequest, *task.Message]
		update      dispatch.Activity[UpdateRequest, *task.Message]
		createBatch dispatch.Activity[CreateBatchRequest, []*task.Message]
		updateBatch dispatch.Activity[UpdateBatchRequest, []*task.Message]
		list        dispatch.Activity[ListRequest, []*task.Message]
	}

	// CreateRequest creates one message.
	CreateRequest struct {
		Scope   dispatch.Scope       `json:"scope"`
		Content task.Body            `json:"content"`
		Status  task.StreamingStatus `json:"status,omitempty"`
		// EmitUpdates publishes a Full event for the created message.
		EmitUpdates bool `json:"emit_updates,omitempty"`
	}

	// UpdateRequest replaces the content of one message.
	UpdateRequest struct {
		Scope     dispatch.Scope       `json:"scope"`
		MessageID string               `json:"message_id"`
		Content   task.Body            `json:"content"`
		Status    task.StreamingStatus `json:"status,omitempty"`
	}

	// CreateBatchRequest creates several messages of one task.
	CreateBatchRequest struct {
		Scope       dispatch.Scope `json:"scope"`
		Contents    []task.Body    `json:"contents"`
		EmitUpdates bool           `json:"emit_updates,omitempty"`
	}

	// UpdateBatchRequest replaces the content of several messages.
	UpdateBatchRequest struct {
		Scope   dispatch.Scope       `json:"scope"`
		Updates map[string]task.Body `json:"updates"`
	}

	// ListRequest lists the messages of one task.
	ListRequest struct {
		Scope  dispatch.Scope `json:"scope"`
		Limit  int            `json:"limit,omitempty"`
		Offset int            `json:"offset,omitempty"`
	}

	// sessionStore adapts a Service to stream.MessageStore.
	sessionStore struct {
		svc   *Service
		scope dispatch.Scope
	}
)

// NewService returns a message service.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("message store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = tracing.New(tracing.Options{Logger: logger})
	}
	s := &Service{store: opts.Store, publisher: opts.Publisher, tracer: tracer, logger: logger}
	o := opts.ActivityOptions
	s.create = dispatch.Activity[CreateRequest, *task.Message]{Name: ActivityCreate, Handler: s.handleCreate, Options: o}
	s.update = dispatch.Activity[UpdateRequest, *task.Message]{Name: ActivityUpdate, Handler: s.handleUpdate, Options: o}
	s.createBatch = dispatch.Activity[CreateBatchRequest, []*task.Message]{Name: ActivityCreateBatch, Handler: s.handleCreateBatch, Options: o}
	s.updateBatch = dispatch.Activity[UpdateBatchRequest, []*task.Message]{Name: ActivityUpdateBatch, Handler: s.handleUpdateBatch, Options: o}
	s.list = dispatch.Activity[ListRequest, []*task.Message]{Name: ActivityList, Handler: s.handleList, Options: o}
	return s, nil
}

// Activities returns the service activities for registration on a worker.
func (s *Service) Activities() []dispatch.Registrar {
	return []dispatch.Registrar{s.create, s.update, s.createBatch, s.updateBatch, s.list}
}

// Create creates a message.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*task.Message, error) {
	return dispatch.Execute(ctx, s.create, req)
}

// Update replaces the content of a message.
func (s *Service) Update(ctx context.Context, req UpdateRequest) (*task.Message, error) {
	return dispatch.Execute(ctx, s.update, req)
}

// CreateBatch creates several messages.
func (s *Service) CreateBatch(ctx context.Context, req CreateBatchRequest) ([]*task.Message, error) {
	return dispatch.Execute(ctx, s.createBatch, req)
}

// UpdateBatch replaces the content of several messages.
func (s *Service) UpdateBatch(ctx context.Context, req UpdateBatchRequest) ([]*task.Message, error) {
	return dispatch.Execute(ctx, s.updateBatch, req)
}

// List lists the messages of a task in creation order.
func (s *Service) List(ctx context.Context, req ListRequest) ([]*task.Message, error) {
	return dispatch.Execute(ctx, s.list, req)
}

// Sessions returns a stream.MessageStore whose writes go through the service
// operations with the given scope. Streaming sessions opened from workflow
// code use it so their writes run as activities.
func (s *Service) Sessions(scope dispatch.Scope) stream.MessageStore {
	return sessionStore{svc: s, scope: scope}
}

func (s *Service) handleCreate(ctx context.Context, req CreateRequest) (*task.Message, error) {
	var msg *task.Message
	err := s.span(ctx, req.Scope, "create_message", map[string]any{"task_id": req.Scope.TaskID, "message": req.Content}, func(ctx context.Context, span *tracing.Span) error {
		engine.Heartbeat(ctx, "create message")
		status := req.Status
		if status == "" {
			status = task.StatusDone
		}
		var err error
		if msg, err = s.store.Create(ctx, req.Scope.TaskID, req.Content.Value, status); err != nil {
			return err
		}
		if req.EmitUpdates {
			if err := s.emit(ctx, []*task.Message{msg}); err != nil {
				return err
			}
		}
		return setOutput(span, msg)
	})
	return msg, err
}

func (s *Service) handleUpdate(ctx context.Context, req UpdateRequest) (*task.Message, error) {
	var msg *task.Message
	input := map[string]any{"task_id": req.Scope.TaskID, "message_id": req.MessageID, "message": req.Content}
	err := s.span(ctx, req.Scope, "update_message", input, func(ctx context.Context, span *tracing.Span) error {
		engine.Heartbeat(ctx, "update message")
		var err error
		if msg, err = s.store.Update(ctx, req.Scope.TaskID, req.MessageID, req.Content.Value, req.Status); err != nil {
			return err
		}
		return setOutput(span, msg)
	})
	return msg, err
}

func (s *Service) handleCreateBatch(ctx context.Context, req CreateBatchRequest) ([]*task.Message, error) {
	var msgs []*task.Message
	err := s.span(ctx, req.Scope, "create_messages_batch", map[string]any{"task_id": req.Scope.TaskID, "messages": req.Contents}, func(ctx context.Context, span *tracing.Span) error {
		engine.Heartbeat(ctx, "create messages batch")
		contents := make([]task.Content, len(req.Contents))
		for i, c := range req.Contents {
			contents[i] = c.Value
		}
		var err error
		if msgs, err = s.store.CreateBatch(ctx, req.Scope.TaskID, contents); err != nil {
			return err
		}
		if req.EmitUpdates {
			if err := s.emit(ctx, msgs); err != nil {
				return err
			}
		}
		return setOutput(span, msgs)
	})
	return msgs, err
}

func (s *Service) handleUpdateBatch(ctx context.Context, req UpdateBatchRequest) ([]*task.Message, error) {
	var msgs []*task.Message
	err := s.span(ctx, req.Scope, "update_messages_batch", map[string]any{"task_id": req.Scope.TaskID, "updates": req.Updates}, func(ctx context.Context, span *tracing.Span) error {
		engine.Heartbeat(ctx, "update messages batch")
		updates := make(map[string]task.Content, len(req.Updates))
		for id, c := range req.Updates {
			updates[id] = c.Value
		}
		var err error
		if msgs, err = s.store.UpdateBatch(ctx, req.Scope.TaskID, updates); err != nil {
			return err
		}
		return setOutput(span, msgs)
	})
	return msgs, err
}

func (s *Service) handleList(ctx context.Context, req ListRequest) ([]*task.Message, error) {
	var msgs []*task.Message
	err := s.span(ctx, req.Scope, "list_messages", map[string]any{"task_id": req.Scope.TaskID, "limit": req.Limit}, func(ctx context.Context, span *tracing.Span) error {
		engine.Heartbeat(ctx, "list messages")
		var err error
		if msgs, err = s.store.List(ctx, req.Scope.TaskID, ListOptions{Limit: req.Limit, Offset: req.Offset}); err != nil {
			return err
		}
		return setOutput(span, msgs)
	})
	return msgs, err
}

// emit publishes a Full event for each message.
func (s *Service) emit(ctx context.Context, msgs []*task.Message) error {
	if s.publisher == nil {
		return errors.New("publisher is required to emit updates")
	}
	var errs []error
	for _, msg := range msgs {
		ev := stream.Full{Parent: msg.Clone(), Content: task.CloneContent(msg.Content)}
		if err := s.publisher.Publish(ctx, stream.Topic(msg.TaskID), ev); err != nil {
			s.logger.Error(ctx, "failed to emit message update", "task_id", msg.TaskID, "message_id", msg.ID, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) span(ctx context.Context, scope dispatch.Scope, name string, input any, fn func(context.Context, *tracing.Span) error) error {
	return s.tracer.Trace(scope.TraceID).Child(scope.ParentSpanID).Span(ctx, name, input, fn)
}

func setOutput(span *tracing.Span, v any) error {
	if span == nil {
		return nil
	}
	out, err := tracing.Marshal(v)
	if err != nil {
		return err
	}
	span.Output = out
	return nil
}

func (s sessionStore) Create(ctx context.Context, taskID string, content task.Content, status task.StreamingStatus) (*task.Message, error) {
	scope := s.scope
	scope.TaskID = taskID
	return s.svc.Create(ctx, CreateRequest{Scope: scope, Content: task.Body{Value: content}, Status: status})
}

func (s sessionStore) Update(ctx context.Context, taskID, messageID string, content task.Content, status task.StreamingStatus) (*task.Message, error) {
	scope := s.scope
	scope.TaskID = taskID
	return s.svc.Update(ctx, UpdateRequest{Scope: scope, MessageID: messageID, Content: task.Body{Value: content}, Status: status})
}
