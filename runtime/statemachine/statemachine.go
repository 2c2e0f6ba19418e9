// Package statemachine drives multi-step agent logic as a sequence of named
// states.
//
// A Machine owns an immutable map of states, the name of the current state
// and a data value shared by every state workflow. Step executes the current
// state's workflow and transitions to the state it names; Run steps until the
// terminal condition holds. Transitions can be recorded as tracing spans and
// a machine can be snapshotted with Dump and rebuilt with Load, for example
// when a durable workflow continues as new.
//
// A Machine is not safe for concurrent use: exactly one step runs at a time.
package statemachine

import (
	"context"
	"errors"
	"fmt"

	"goa.design/agentflow/runtime/tracing"
)

var (
	// ErrUnknownState indicates a state name absent from the machine.
	ErrUnknownState = errors.New("unknown state")
	// ErrDuplicateState indicates two states registered under one name.
	ErrDuplicateState = errors.New("duplicate state")
	// ErrMissingTaskID indicates transition tracing enabled on a machine
	// without a task ID.
	ErrMissingTaskID = errors.New("task id must be set before transitions can be traced")
	// ErrNoTerminalCondition indicates Run on a machine without a terminal
	// condition.
	ErrNoTerminalCondition = errors.New("terminal condition is required")
)

// Span names recorded when transitions are traced.
const (
	SpanTransition = "state_transition"
	SpanReset      = "state_transition_reset"
)

type (
	// Workflow implements the logic of one state. Execute may mutate data and
	// returns the name of the next state.
	Workflow[T any] interface {
		Execute(ctx context.Context, m *Machine[T], data T) (string, error)
	}

	// WorkflowFunc adapts a function to the Workflow interface.
	WorkflowFunc[T any] func(ctx context.Context, m *Machine[T], data T) (string, error)

	// NoopWorkflow stays in the current state.
	NoopWorkflow[T any] struct{}

	// State binds a workflow to a name.
	State[T any] struct {
		Name     string
		Workflow Workflow[T]
	}

	// TerminalFunc reports whether Run should stop.
	TerminalFunc[T any] func(ctx context.Context, m *Machine[T]) bool

	// Options configures a Machine.
	Options[T any] struct {
		// InitialState is the state the machine starts in and Reset returns
		// to.
		InitialState string
		// States lists every state of the machine.
		States []State[T]
		// Data is shared by all state workflows. Use a pointer type for data
		// that workflows mutate.
		Data T
		// TaskID identifies the owning task. It is the trace ID of
		// transition spans.
		TaskID string
		// TraceTransitions records each step and reset as a span.
		TraceTransitions bool
		// Tracer records transition spans. Required when TraceTransitions
		// is set.
		Tracer *tracing.Tracer
		// TerminalCondition stops Run when it returns true.
		TerminalCondition TerminalFunc[T]
	}

	// Machine is a state machine over data of type T.
	Machine[T any] struct {
		states   map[string]State[T]
		initial  string
		current  string
		data     T
		taskID   string
		trace    bool
		tracer   *tracing.Tracer
		terminal TerminalFunc[T]
	}
)

// Execute calls f.
func (f WorkflowFunc[T]) Execute(ctx context.Context, m *Machine[T], data T) (string, error) {
	return f(ctx, m, data)
}

// Execute returns the current state.
func (NoopWorkflow[T]) Execute(_ context.Context, m *Machine[T], _ T) (string, error) {
	return m.CurrentState(), nil
}

// New builds a machine positioned on opts.InitialState.
func New[T any](opts Options[T]) (*Machine[T], error) {
	states := make(map[string]State[T], len(opts.States))
	for _, s := range opts.States {
		if s.Name == "" {
			return nil, errors.New("state name is required")
		}
		if s.Workflow == nil {
			return nil, fmt.Errorf("state %q: workflow is required", s.Name)
		}
		if _, ok := states[s.Name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateState, s.Name)
		}
		states[s.Name] = s
	}
	if _, ok := states[opts.InitialState]; !ok {
		return nil, fmt.Errorf("%w: initial state %q", ErrUnknownState, opts.InitialState)
	}
	if opts.TraceTransitions && opts.Tracer == nil {
		return nil, errors.New("tracer is required when tracing transitions")
	}
	return &Machine[T]{
		states:   states,
		initial:  opts.InitialState,
		current:  opts.InitialState,
		data:     opts.Data,
		taskID:   opts.TaskID,
		trace:    opts.TraceTransitions,
		tracer:   opts.Tracer,
		terminal: opts.TerminalCondition,
	}, nil
}

// CurrentState returns the name of the current state.
func (m *Machine[T]) CurrentState() string { return m.current }

// InitialState returns the name of the initial state.
func (m *Machine[T]) InitialState() string { return m.initial }

// CurrentWorkflow returns the workflow of the current state.
func (m *Machine[T]) CurrentWorkflow() Workflow[T] { return m.states[m.current].Workflow }

// Data returns the machine data.
func (m *Machine[T]) Data() T { return m.data }

// SetData replaces the machine data.
func (m *Machine[T]) SetData(data T) { m.data = data }

// TaskID returns the task ID.
func (m *Machine[T]) TaskID() string { return m.taskID }

// SetTaskID sets the task ID used as trace ID.
func (m *Machine[T]) SetTaskID(taskID string) { m.taskID = taskID }

// TraceTransitions reports whether transitions are traced.
func (m *Machine[T]) TraceTransitions() bool { return m.trace }

// Transition makes name the current state.
func (m *Machine[T]) Transition(name string) error {
	if _, ok := m.states[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownState, name)
	}
	m.current = name
	return nil
}

// Step executes the current state's workflow, transitions to the state it
// returns and returns that state's name. Workflow errors are returned as is
// and leave the machine on the current state.
func (m *Machine[T]) Step(ctx context.Context) (string, error) {
	input := m.current
	var span *tracing.Span
	if m.trace {
		if m.taskID == "" {
			return "", ErrMissingTaskID
		}
		in, err := tracing.Marshal(m.data)
		if err != nil {
			return "", err
		}
		data, err := tracing.Marshal(map[string]string{"input_state": input})
		if err != nil {
			return "", err
		}
		span, err = m.tracer.StartSpan(ctx, tracing.StartRequest{
			TraceID: m.taskID,
			Name:    SpanTransition,
			Input:   in,
			Data:    data,
		})
		if err != nil {
			return "", err
		}
	}

	next, err := m.states[input].Workflow.Execute(ctx, m, m.data)
	if span != nil {
		meta := map[string]string{"input_state": input}
		if err != nil {
			meta["error"] = err.Error()
		} else {
			meta["output_state"] = next
		}
		if endErr := m.endSpan(ctx, span, m.data, meta); endErr != nil && err == nil {
			return "", endErr
		}
	}
	if err != nil {
		return "", err
	}
	if err := m.Transition(next); err != nil {
		return "", err
	}
	return next, nil
}

// Run steps until the terminal condition holds. The condition is checked
// before each step, so a machine that starts terminal never steps.
func (m *Machine[T]) Run(ctx context.Context) error {
	if m.terminal == nil {
		return ErrNoTerminalCondition
	}
	for !m.terminal(ctx, m) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := m.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Reset transitions back to the initial state.
func (m *Machine[T]) Reset(ctx context.Context) error {
	var span *tracing.Span
	if m.trace {
		if m.taskID == "" {
			return ErrMissingTaskID
		}
		in, err := tracing.Marshal(map[string]string{"input_state": m.current})
		if err != nil {
			return err
		}
		span, err = m.tracer.StartSpan(ctx, tracing.StartRequest{TraceID: m.taskID, Name: SpanReset, Input: in})
		if err != nil {
			return err
		}
	}
	m.current = m.initial
	if span != nil {
		return m.endSpan(ctx, span, map[string]string{"output_state": m.initial}, nil)
	}
	return nil
}

func (m *Machine[T]) endSpan(ctx context.Context, span *tracing.Span, output any, data any) error {
	var err error
	if span.Output, err = tracing.Marshal(output); err != nil {
		return err
	}
	if data != nil {
		if span.Data, err = tracing.Marshal(data); err != nil {
			return err
		}
	}
	_, err = m.tracer.EndSpan(ctx, span)
	return err
}
