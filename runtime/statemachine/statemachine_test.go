package statemachine_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentflow/runtime/statemachine"
	"goa.design/agentflow/runtime/tracing"
)

type counter struct {
	Steps int      `json:"steps"`
	Seen  []string `json:"seen,omitempty"`
}

// visit records the current state and moves to next.
func visit(next string) statemachine.Workflow[*counter] {
	return statemachine.WorkflowFunc[*counter](func(_ context.Context, m *statemachine.Machine[*counter], data *counter) (string, error) {
		data.Steps++
		data.Seen = append(data.Seen, m.CurrentState())
		return next, nil
	})
}

func cycle() []statemachine.State[*counter] {
	return []statemachine.State[*counter]{
		{Name: "A", Workflow: visit("B")},
		{Name: "B", Workflow: visit("C")},
		{Name: "C", Workflow: visit("A")},
	}
}

func TestRunTerminatesAfterKSteps(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("run executes exactly k steps", prop.ForAll(
		func(k int) bool {
			data := &counter{}
			m, err := statemachine.New(statemachine.Options[*counter]{
				InitialState: "A",
				States:       cycle(),
				Data:         data,
				TerminalCondition: func(_ context.Context, m *statemachine.Machine[*counter]) bool {
					return m.Data().Steps >= k
				},
			})
			if err != nil {
				return false
			}
			if err := m.Run(context.Background()); err != nil {
				return false
			}
			want := []string{"A", "B", "C"}[k%3]
			return data.Steps == k && m.CurrentState() == want
		},
		gen.IntRange(0, 30),
	))

	properties.TestingRun(t)
}

func TestSnapshotRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("load(dump(m)) preserves state, task and data", prop.ForAll(
		func(steps int, taskID string, seen []string) bool {
			m, err := statemachine.New(statemachine.Options[*counter]{
				InitialState: "A",
				States:       cycle(),
				Data:         &counter{Seen: seen},
				TaskID:       taskID,
			})
			if err != nil {
				return false
			}
			for range steps {
				if _, err := m.Step(context.Background()); err != nil {
					return false
				}
			}
			snap, err := m.Dump()
			if err != nil {
				return false
			}
			raw, err := json.Marshal(snap)
			if err != nil {
				return false
			}
			var decoded statemachine.Snapshot
			if err := json.Unmarshal(raw, &decoded); err != nil {
				return false
			}
			restored, err := statemachine.Load(decoded, cycle(), statemachine.Options[*counter]{})
			if err != nil {
				return false
			}
			a, _ := json.Marshal(m.Data())
			b, _ := json.Marshal(restored.Data())
			return restored.CurrentState() == m.CurrentState() &&
				restored.InitialState() == "A" &&
				restored.TaskID() == taskID &&
				string(a) == string(b)
		},
		gen.IntRange(0, 10),
		gen.AlphaString(),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

func TestWaitResearchWait(t *testing.T) {
	const (
		wait     = "WAITING"
		research = "RESEARCHING"
	)
	var (
		executed []string
		waits    int
		done     bool
	)
	states := []statemachine.State[*counter]{
		{Name: wait, Workflow: statemachine.WorkflowFunc[*counter](func(context.Context, *statemachine.Machine[*counter], *counter) (string, error) {
			executed = append(executed, wait)
			waits++
			if waits == 2 {
				done = true
			}
			return research, nil
		})},
		{Name: research, Workflow: statemachine.WorkflowFunc[*counter](func(context.Context, *statemachine.Machine[*counter], *counter) (string, error) {
			executed = append(executed, research)
			return wait, nil
		})},
	}
	m, err := statemachine.New(statemachine.Options[*counter]{
		InitialState: wait,
		States:       states,
		Data:         &counter{},
		TerminalCondition: func(context.Context, *statemachine.Machine[*counter]) bool {
			return done
		},
	})
	require.NoError(t, err)

	require.NoError(t, m.Run(context.Background()))
	assert.Equal(t, []string{wait, research, wait}, executed)
	assert.Equal(t, research, m.CurrentState())
}

func TestNew(t *testing.T) {
	_, err := statemachine.New(statemachine.Options[*counter]{InitialState: "Z", States: cycle()})
	assert.ErrorIs(t, err, statemachine.ErrUnknownState)

	dup := append(cycle(), statemachine.State[*counter]{Name: "A", Workflow: visit("A")})
	_, err = statemachine.New(statemachine.Options[*counter]{InitialState: "A", States: dup})
	assert.ErrorIs(t, err, statemachine.ErrDuplicateState)

	_, err = statemachine.New(statemachine.Options[*counter]{InitialState: "A", States: []statemachine.State[*counter]{{Name: "A"}}})
	assert.Error(t, err)

	_, err = statemachine.New(statemachine.Options[*counter]{InitialState: "A", States: cycle(), TraceTransitions: true})
	assert.Error(t, err)
}

func TestTransition(t *testing.T) {
	m, err := statemachine.New(statemachine.Options[*counter]{InitialState: "A", States: cycle(), Data: &counter{}})
	require.NoError(t, err)

	require.NoError(t, m.Transition("C"))
	assert.Equal(t, "C", m.CurrentState())
	assert.NotNil(t, m.CurrentWorkflow())

	assert.ErrorIs(t, m.Transition("Z"), statemachine.ErrUnknownState)
	assert.Equal(t, "C", m.CurrentState())

	next, err := m.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A", next)
}

func TestStepToUnknownState(t *testing.T) {
	m, err := statemachine.New(statemachine.Options[*counter]{
		InitialState: "A",
		States:       []statemachine.State[*counter]{{Name: "A", Workflow: visit("nowhere")}},
		Data:         &counter{},
	})
	require.NoError(t, err)
	_, err = m.Step(context.Background())
	assert.ErrorIs(t, err, statemachine.ErrUnknownState)
	assert.Equal(t, "A", m.CurrentState())
}

func TestRunPropagatesWorkflowError(t *testing.T) {
	boom := errors.New("boom")
	states := append(cycle()[:2], statemachine.State[*counter]{
		Name: "C",
		Workflow: statemachine.WorkflowFunc[*counter](func(context.Context, *statemachine.Machine[*counter], *counter) (string, error) {
			return "", boom
		}),
	})
	m, err := statemachine.New(statemachine.Options[*counter]{
		InitialState:      "A",
		States:            states,
		Data:              &counter{},
		TerminalCondition: func(context.Context, *statemachine.Machine[*counter]) bool { return false },
	})
	require.NoError(t, err)

	assert.ErrorIs(t, m.Run(context.Background()), boom)
	assert.Equal(t, "C", m.CurrentState())
	assert.Equal(t, 2, m.Data().Steps)
}

func TestRunRequiresTerminalCondition(t *testing.T) {
	m, err := statemachine.New(statemachine.Options[*counter]{InitialState: "A", States: cycle(), Data: &counter{}})
	require.NoError(t, err)
	assert.ErrorIs(t, m.Run(context.Background()), statemachine.ErrNoTerminalCondition)
}

func TestRunStopsOnCancel(t *testing.T) {
	m, err := statemachine.New(statemachine.Options[*counter]{
		InitialState:      "A",
		States:            cycle(),
		Data:              &counter{},
		TerminalCondition: func(context.Context, *statemachine.Machine[*counter]) bool { return false },
	})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Run(ctx), context.Canceled)
	assert.Equal(t, 0, m.Data().Steps)
}

func TestNoopWorkflow(t *testing.T) {
	m, err := statemachine.New(statemachine.Options[*counter]{
		InitialState: "idle",
		States:       []statemachine.State[*counter]{{Name: "idle", Workflow: statemachine.NoopWorkflow[*counter]{}}},
	})
	require.NoError(t, err)
	next, err := m.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "idle", next)
}

func TestTracedTransitions(t *testing.T) {
	ctx := context.Background()
	rec := tracing.NewRecorder()
	m, err := statemachine.New(statemachine.Options[*counter]{
		InitialState:     "A",
		States:           cycle(),
		Data:             &counter{},
		TraceTransitions: true,
		Tracer:           tracing.New(tracing.Options{Processors: []tracing.Processor{rec}}),
	})
	require.NoError(t, err)

	_, err = m.Step(ctx)
	assert.ErrorIs(t, err, statemachine.ErrMissingTaskID)
	assert.ErrorIs(t, m.Reset(ctx), statemachine.ErrMissingTaskID)
	assert.Equal(t, 0, m.Data().Steps)

	m.SetTaskID("task-1")
	_, err = m.Step(ctx)
	require.NoError(t, err)

	spans := rec.Named(statemachine.SpanTransition)
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "task-1", span.TraceID)
	assert.JSONEq(t, `{"steps":0}`, string(span.Input))
	assert.JSONEq(t, `{"steps":1,"seen":["A"]}`, string(span.Output))
	assert.JSONEq(t, `{"input_state":"A","output_state":"B"}`, string(span.Data))

	require.NoError(t, m.Reset(ctx))
	assert.Equal(t, "A", m.CurrentState())
	resets := rec.Named(statemachine.SpanReset)
	require.Len(t, resets, 1)
	assert.JSONEq(t, `{"input_state":"B"}`, string(resets[0].Input))
	assert.JSONEq(t, `{"output_state":"A"}`, string(resets[0].Output))
}

func TestTracedTransitionError(t *testing.T) {
	rec := tracing.NewRecorder()
	boom := errors.New("boom")
	m, err := statemachine.New(statemachine.Options[*counter]{
		InitialState: "A",
		States: []statemachine.State[*counter]{{Name: "A", Workflow: statemachine.WorkflowFunc[*counter](func(context.Context, *statemachine.Machine[*counter], *counter) (string, error) {
			return "", boom
		})}},
		Data:             &counter{},
		TaskID:           "task-1",
		TraceTransitions: true,
		Tracer:           tracing.New(tracing.Options{Processors: []tracing.Processor{rec}}),
	})
	require.NoError(t, err)

	_, err = m.Step(context.Background())
	assert.ErrorIs(t, err, boom)
	spans := rec.Named(statemachine.SpanTransition)
	require.Len(t, spans, 1)
	assert.JSONEq(t, `{"input_state":"A","error":"boom"}`, string(spans[0].Data))
}

func TestLoadErrors(t *testing.T) {
	opts := statemachine.Options[*counter]{}

	_, err := statemachine.Load(statemachine.Snapshot{CurrentState: "A"}, cycle(), opts)
	assert.ErrorContains(t, err, "restore state machine")

	_, err = statemachine.Load(statemachine.Snapshot{InitialState: "Z"}, cycle(), opts)
	assert.ErrorIs(t, err, statemachine.ErrUnknownState)

	_, err = statemachine.Load(statemachine.Snapshot{InitialState: "A", CurrentState: "Z"}, cycle(), opts)
	assert.ErrorIs(t, err, statemachine.ErrUnknownState)

	_, err = statemachine.Load(statemachine.Snapshot{InitialState: "A", Data: json.RawMessage(`[1]`)}, cycle(), opts)
	assert.ErrorContains(t, err, "restore state machine")

	m, err := statemachine.Load(statemachine.Snapshot{InitialState: "A", Data: json.RawMessage(`null`)}, cycle(), opts)
	require.NoError(t, err)
	assert.Nil(t, m.Data())
	assert.Equal(t, "A", m.CurrentState())
}

func TestLoadTracedSnapshot(t *testing.T) {
	snap := statemachine.Snapshot{TaskID: "task-1", InitialState: "A", Data: json.RawMessage(`{"steps":0}`), TraceTransitions: true}

	m, err := statemachine.Load(snap, cycle(), statemachine.Options[*counter]{})
	require.NoError(t, err)
	assert.False(t, m.TraceTransitions())
	next, err := m.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "B", next)

	rec := tracing.NewRecorder()
	m, err = statemachine.Load(snap, cycle(), statemachine.Options[*counter]{
		Tracer: tracing.New(tracing.Options{Processors: []tracing.Processor{rec}}),
	})
	require.NoError(t, err)
	assert.True(t, m.TraceTransitions())
	_, err = m.Step(context.Background())
	require.NoError(t, err)
	assert.Len(t, rec.Named(statemachine.SpanTransition), 1)
}

func TestSnapshotWireFormat(t *testing.T) {
	m, err := statemachine.New(statemachine.Options[*counter]{InitialState: "A", States: cycle(), Data: &counter{Steps: 2}, TaskID: "t"})
	require.NoError(t, err)
	require.NoError(t, m.Transition("B"))
	snap, err := m.Dump()
	require.NoError(t, err)
	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.JSONEq(t, `{"task_id":"t","current_state":"B","initial_state":"A","state_machine_data":{"steps":2},"trace_transitions":false}`, string(raw))
}
