package statemachine

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Snapshot is the serializable state of a Machine. Workflows are not part of
// it: Load rewires them by state name.
type Snapshot struct {
	TaskID           string          `json:"task_id,omitempty"`
	CurrentState     string          `json:"current_state"`
	InitialState     string          `json:"initial_state"`
	Data             json.RawMessage `json:"state_machine_data,omitempty"`
	TraceTransitions bool            `json:"trace_transitions"`
}

// Dump snapshots m.
func (m *Machine[T]) Dump() (Snapshot, error) {
	data, err := json.Marshal(m.data)
	if err != nil {
		return Snapshot{}, fmt.Errorf("dump state machine: %w", err)
	}
	return Snapshot{
		TaskID:           m.taskID,
		CurrentState:     m.current,
		InitialState:     m.initial,
		Data:             data,
		TraceTransitions: m.trace,
	}, nil
}

// Load rebuilds a machine from snap using states for the workflows. Tracer
// and TerminalCondition come from opts; the remaining options are taken from
// the snapshot. A snapshot recorded with tracing loads untraced when opts has
// no Tracer.
func Load[T any](snap Snapshot, states []State[T], opts Options[T]) (*Machine[T], error) {
	m, err := load(snap, states, opts)
	if err != nil {
		return nil, fmt.Errorf("restore state machine: %w", err)
	}
	return m, nil
}

func load[T any](snap Snapshot, states []State[T], opts Options[T]) (*Machine[T], error) {
	if snap.InitialState == "" {
		return nil, errors.New("initial state is missing")
	}
	var data T
	if len(snap.Data) > 0 && string(snap.Data) != "null" {
		if err := json.Unmarshal(snap.Data, &data); err != nil {
			return nil, fmt.Errorf("decode data: %w", err)
		}
	}
	opts.InitialState = snap.InitialState
	opts.States = states
	opts.Data = data
	opts.TaskID = snap.TaskID
	opts.TraceTransitions = snap.TraceTransitions && opts.Tracer != nil
	m, err := New(opts)
	if err != nil {
		return nil, err
	}
	if snap.CurrentState != "" {
		if err := m.Transition(snap.CurrentState); err != nil {
			return nil, err
		}
	}
	return m, nil
}
