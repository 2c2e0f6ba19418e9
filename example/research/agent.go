// Package research is a complete agent built on the runtime: a durable
// workflow driven by a three state machine. The agent waits for a query
// signal, streams a research answer into a new task message, and goes back
// to waiting until it is told to stop or has answered MaxRounds queries.
//
// Answers come from a Researcher. Producing them with a model is left to the
// caller; Echo streams the query back word by word.
package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"goa.design/agentflow/runtime/dispatch"
	"goa.design/agentflow/runtime/engine"
	"goa.design/agentflow/runtime/message"
	"goa.design/agentflow/runtime/statemachine"
	"goa.design/agentflow/runtime/stream"
	"goa.design/agentflow/runtime/task"
	"goa.design/agentflow/runtime/telemetry"
	"goa.design/agentflow/runtime/tracing"
)

// States of the research agent.
const (
	StateWaiting     = "WAITING"
	StateResearching = "RESEARCHING"
	StateCompleted   = "COMPLETED"
)

const (
	// WorkflowName is the registered workflow name.
	WorkflowName = "research-agent"
	// SignalQuery is the signal carrying a Query.
	SignalQuery = "query"
	// ActivityResearch is the activity streaming one answer.
	ActivityResearch = "research"

	defaultHeartbeatInterval = 5 * time.Second
)

type (
	// Researcher produces the answer to a query as a stream of deltas.
	Researcher interface {
		Research(ctx context.Context, query string, emit func(task.Delta) error) error
	}

	// ResearcherFunc adapts a function to Researcher.
	ResearcherFunc func(ctx context.Context, query string, emit func(task.Delta) error) error

	// Query is the payload of the query signal.
	Query struct {
		Text string `json:"text,omitempty"`
		// Done completes the agent instead of starting a round.
		Done bool `json:"done,omitempty"`
	}

	// Data is the state machine data. It is persisted in snapshots.
	Data struct {
		Query    string   `json:"query,omitempty"`
		Answers  []string `json:"answers,omitempty"`
		Rounds   int      `json:"rounds"`
		Finished bool     `json:"finished,omitempty"`
	}

	// ResearchRequest is the research activity input.
	ResearchRequest struct {
		Scope dispatch.Scope `json:"scope"`
		Query string         `json:"query"`
	}

	// ResearchResult is the research activity output.
	ResearchResult struct {
		MessageID string `json:"message_id"`
	}

	// Options configures an Agent.
	Options struct {
		Messages   *message.Service
		Streams    *stream.Service
		Researcher Researcher
		// Tracer enables transition tracing when set.
		Tracer *tracing.Tracer
		// MaxRounds completes the agent after that many answers. Zero means
		// no limit.
		MaxRounds int
		// ActivityOptions configures the research activity. Answers stream
		// for as long as the model talks, so the start-to-close timeout
		// should cover a full answer.
		ActivityOptions engine.ActivityOptions
		Logger          telemetry.Logger
	}

	// Agent is the research agent.
	Agent struct {
		messages   *message.Service
		streams    *stream.Service
		researcher Researcher
		tracer     *tracing.Tracer
		maxRounds  int
		heartbeat  time.Duration
		logger     telemetry.Logger
		research   dispatch.Activity[ResearchRequest, ResearchResult]
	}
)

// Research implements Researcher.
func (f ResearcherFunc) Research(ctx context.Context, query string, emit func(task.Delta) error) error {
	return f(ctx, query, emit)
}

// Echo streams the query back one word at a time.
func Echo() Researcher {
	return ResearcherFunc(func(_ context.Context, query string, emit func(task.Delta) error) error {
		if err := emit(task.TextDelta{Text: "You asked:"}); err != nil {
			return err
		}
		for _, w := range strings.Fields(query) {
			if err := emit(task.TextDelta{Text: " " + w}); err != nil {
				return err
			}
		}
		return nil
	})
}

// New returns a research agent.
func New(opts Options) (*Agent, error) {
	if opts.Messages == nil {
		return nil, errors.New("message service is required")
	}
	if opts.Streams == nil {
		return nil, errors.New("stream service is required")
	}
	researcher := opts.Researcher
	if researcher == nil {
		researcher = Echo()
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	a := &Agent{
		messages:   opts.Messages,
		streams:    opts.Streams,
		researcher: researcher,
		tracer:     opts.Tracer,
		maxRounds:  opts.MaxRounds,
		heartbeat:  heartbeatInterval(opts.ActivityOptions.HeartbeatTimeout),
		logger:     logger,
	}
	a.research = dispatch.Activity[ResearchRequest, ResearchResult]{
		Name:    ActivityResearch,
		Handler: a.handleResearch,
		Options: opts.ActivityOptions,
	}
	return a, nil
}

// Activities returns the agent activities for registration on a worker.
func (a *Agent) Activities() []dispatch.Registrar {
	return []dispatch.Registrar{a.research}
}

// Workflow returns the agent workflow definition. The workflow input Params
// may carry a statemachine.Snapshot to resume from; the output Result is
// the final snapshot.
func (a *Agent) Workflow(queue string) engine.WorkflowDefinition {
	return engine.WorkflowDefinition{Name: WorkflowName, TaskQueue: queue, Handler: a.run}
}

// Machine builds the agent state machine for taskID, restored from snap when
// it is not nil.
func (a *Agent) Machine(taskID string, snap *statemachine.Snapshot) (*statemachine.Machine[*Data], error) {
	opts := statemachine.Options[*Data]{
		InitialState:      StateWaiting,
		States:            a.states(),
		Data:              &Data{},
		TaskID:            taskID,
		TraceTransitions:  a.tracer != nil,
		Tracer:            a.tracer,
		TerminalCondition: completed,
	}
	if snap == nil {
		return statemachine.New(opts)
	}
	m, err := statemachine.Load(*snap, opts.States, opts)
	if err != nil {
		return nil, err
	}
	if m.Data() == nil {
		m.SetData(&Data{})
	}
	if m.TaskID() == "" {
		m.SetTaskID(taskID)
	}
	return m, nil
}

func (a *Agent) run(wf engine.WorkflowContext, input *engine.WorkflowInput) (*engine.WorkflowOutput, error) {
	ctx := wf.Context()
	if input == nil || input.TaskID == "" {
		return nil, errors.New("task id is required")
	}
	var snap *statemachine.Snapshot
	if len(input.Params) > 0 {
		snap = &statemachine.Snapshot{}
		if err := json.Unmarshal(input.Params, snap); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
	}
	m, err := a.Machine(input.TaskID, snap)
	if err != nil {
		return nil, err
	}
	if err := m.Run(ctx); err != nil {
		return nil, err
	}
	out, err := m.Dump()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return &engine.WorkflowOutput{Result: raw}, nil
}

func (a *Agent) states() []statemachine.State[*Data] {
	return []statemachine.State[*Data]{
		{Name: StateWaiting, Workflow: statemachine.WorkflowFunc[*Data](a.wait)},
		{Name: StateResearching, Workflow: statemachine.WorkflowFunc[*Data](a.answer)},
		{Name: StateCompleted, Workflow: statemachine.NoopWorkflow[*Data]{}},
	}
}

func completed(_ context.Context, m *statemachine.Machine[*Data]) bool {
	return m.CurrentState() == StateCompleted
}

func (a *Agent) wait(ctx context.Context, m *statemachine.Machine[*Data], data *Data) (string, error) {
	wf := engine.WorkflowContextFromContext(ctx)
	if wf == nil {
		return "", errors.New("waiting for a query requires a workflow context")
	}
	var q Query
	if err := wf.SignalReceiver(SignalQuery).Receive(ctx, &q); err != nil {
		return "", err
	}
	if q.Done {
		data.Finished = true
		return StateCompleted, nil
	}
	if _, err := a.messages.Create(ctx, message.CreateRequest{
		Scope:       scope(m),
		Content:     task.Body{Value: task.TextContent{Author: task.AuthorUser, Content: q.Text}},
		EmitUpdates: true,
	}); err != nil {
		return "", err
	}
	data.Query = q.Text
	return StateResearching, nil
}

func (a *Agent) answer(ctx context.Context, m *statemachine.Machine[*Data], data *Data) (string, error) {
	res, err := dispatch.Execute(ctx, a.research, ResearchRequest{Scope: scope(m), Query: data.Query})
	if err != nil {
		return "", err
	}
	data.Answers = append(data.Answers, res.MessageID)
	data.Rounds++
	if a.maxRounds > 0 && data.Rounds >= a.maxRounds {
		data.Finished = true
		return StateCompleted, nil
	}
	return StateWaiting, nil
}

func (a *Agent) handleResearch(ctx context.Context, req ResearchRequest) (ResearchResult, error) {
	// The model may think for a while before its first token.
	hb := dispatch.StartHeartbeat(ctx, a.heartbeat, "research")
	defer hb.Stop()
	msg, err := a.streams.Stream(ctx, req.Scope.TaskID, task.NewText(""), func(ctx context.Context, sess *stream.Session) error {
		return a.researcher.Research(ctx, req.Query, func(d task.Delta) error {
			engine.Heartbeat(ctx, "research")
			_, err := sess.Update(ctx, stream.Delta{Delta: d})
			return err
		})
	})
	if err != nil {
		return ResearchResult{}, err
	}
	a.logger.Info(ctx, "research answer streamed", "task_id", req.Scope.TaskID, "message_id", msg.ID)
	return ResearchResult{MessageID: msg.ID}, nil
}

// heartbeatInterval returns a third of the heartbeat timeout so that one
// missed tick does not fail the attempt.
func heartbeatInterval(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return defaultHeartbeatInterval
	}
	return max(timeout/3, time.Millisecond)
}

func scope(m *statemachine.Machine[*Data]) dispatch.Scope {
	return dispatch.Scope{TaskID: m.TaskID(), TraceID: m.TaskID()}
}
