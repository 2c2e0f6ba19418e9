// Package inmem provides an in-memory implementation of the workflow engine
// for tests and development.
//
// Workflows run in their own goroutine. Activities run synchronously inside
// ExecuteActivity with the same JSON payload round trip, timeout, heartbeat
// and retry semantics as a durable engine, so code exercised against this
// engine behaves like it would on a worker. Nothing is persisted.
package inmem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"goa.design/agentflow/runtime/engine"
	"goa.design/agentflow/runtime/telemetry"
)

const (
	defaultStartToClose    = time.Minute
	defaultInitialInterval = time.Second
	defaultBackoff         = 2.0
	signalBuffer           = 16
)

// errHeartbeatTimeout cancels an attempt whose handler stopped heartbeating.
var errHeartbeatTimeout = errors.New("activity heartbeat timeout")

type (
	// Options configures the in-memory engine.
	Options struct {
		// Logger receives workflow and activity diagnostics. Defaults to noop.
		Logger telemetry.Logger
	}

	eng struct {
		logger telemetry.Logger

		mu         sync.RWMutex
		workflows  map[string]engine.WorkflowDefinition
		activities map[string]engine.ActivityDefinition
		runs       map[string]*handle
	}

	handle struct {
		done   chan struct{}
		cancel context.CancelFunc
		wfCtx  *wfCtx

		mu       sync.Mutex
		status   engine.RunStatus
		canceled bool
		result   *engine.WorkflowOutput
		err      error
	}

	wfCtx struct {
		ctx   context.Context
		id    string
		runID string
		eng   *eng
		done  <-chan struct{}

		mu      sync.Mutex
		signals map[string]chan json.RawMessage
	}

	receiver struct {
		ctx  context.Context
		ch   chan json.RawMessage
		done <-chan struct{}
	}
)

// New returns a new in-memory Engine implementation suitable for local
// development, tests, and simple single-process runs. It is not durable or
// replay-safe and should not be used for production workloads.
func New(opts Options) engine.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &eng{
		logger:     logger,
		workflows:  make(map[string]engine.WorkflowDefinition),
		activities: make(map[string]engine.ActivityDefinition),
		runs:       make(map[string]*handle),
	}
}

func (e *eng) RegisterWorkflow(_ context.Context, def engine.WorkflowDefinition) error {
	if def.Handler == nil || def.Name == "" {
		return errors.New("invalid workflow definition")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.workflows[def.Name]; dup {
		return fmt.Errorf("workflow %q already registered", def.Name)
	}
	e.workflows[def.Name] = def
	return nil
}

func (e *eng) RegisterActivity(_ context.Context, def engine.ActivityDefinition) error {
	if def.Name == "" {
		return errors.New("activity name is required")
	}
	if def.Invoke == nil {
		return fmt.Errorf("activity %q: invoke function is required", def.Name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.activities[def.Name]; dup {
		return fmt.Errorf("activity %q already registered", def.Name)
	}
	e.activities[def.Name] = def
	return nil
}

func (e *eng) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	if req.ID == "" {
		return nil, errors.New("workflow id is required")
	}
	e.mu.Lock()
	def, ok := e.workflows[req.Workflow]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("workflow %q not registered", req.Workflow)
	}
	if prev, exists := e.runs[req.ID]; exists && prev.currentStatus() == engine.RunStatusRunning {
		e.mu.Unlock()
		return nil, fmt.Errorf("workflow %q is already running", req.ID)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if req.RunTimeout > 0 {
		runCtx, cancel = withTimeout(runCtx, cancel, req.RunTimeout)
	}
	h := &handle{done: make(chan struct{}), cancel: cancel, status: engine.RunStatusRunning}
	h.wfCtx = &wfCtx{
		ctx:     runCtx,
		id:      req.ID,
		runID:   req.ID, // in-memory assigns the workflow ID as the run ID
		eng:     e,
		done:    h.done,
		signals: make(map[string]chan json.RawMessage),
	}
	e.runs[req.ID] = h
	e.mu.Unlock()

	input := req.Input
	if input == nil {
		input = &engine.WorkflowInput{}
	}
	go h.run(def, input, e.logger)
	return h, nil
}

// QueryRunStatus returns the current lifecycle status for a workflow
// execution by checking the in-memory run table.
func (e *eng) QueryRunStatus(_ context.Context, workflowID string) (engine.RunStatus, error) {
	if workflowID == "" {
		return "", errors.New("workflow id is required")
	}
	e.mu.RLock()
	h, ok := e.runs[workflowID]
	e.mu.RUnlock()
	if !ok {
		return "", engine.ErrWorkflowNotFound
	}
	return h.currentStatus(), nil
}

func (h *handle) run(def engine.WorkflowDefinition, input *engine.WorkflowInput, logger telemetry.Logger) {
	defer close(h.done)
	defer h.cancel()
	res, err := def.Handler(h.wfCtx, input)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.result, h.err = res, err
	switch {
	case err == nil:
		h.status = engine.RunStatusCompleted
	case h.canceled || errors.Is(err, context.Canceled):
		h.status = engine.RunStatusCanceled
	default:
		h.status = engine.RunStatusFailed
		logger.Warn(h.wfCtx.ctx, "workflow failed", "workflow_id", h.wfCtx.id, "err", err)
	}
}

func (h *handle) currentStatus() engine.RunStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *handle) Wait(ctx context.Context) (*engine.WorkflowOutput, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, h.err
	}
}

func (h *handle) Signal(ctx context.Context, name string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode signal %q: %w", name, err)
	}
	select {
	case <-h.done:
		return engine.ErrWorkflowCompleted
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return engine.ErrWorkflowCompleted
	case h.wfCtx.channel(name) <- raw:
		return nil
	}
}

func (h *handle) Cancel(context.Context) error {
	select {
	case <-h.done:
		return engine.ErrWorkflowCompleted
	default:
	}
	h.mu.Lock()
	h.canceled = true
	h.mu.Unlock()
	h.cancel()
	return nil
}

func (w *wfCtx) Context() context.Context {
	return engine.WithWorkflowContext(w.ctx, w)
}

func (w *wfCtx) WorkflowID() string {
	return w.id
}

func (w *wfCtx) RunID() string {
	return w.runID
}

func (w *wfCtx) Now() time.Time {
	return time.Now()
}

func (w *wfCtx) SignalReceiver(name string) engine.Receiver {
	return receiver{ctx: w.ctx, ch: w.channel(name), done: w.done}
}

func (w *wfCtx) channel(name string) chan json.RawMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, ok := w.signals[name]
	if !ok {
		ch = make(chan json.RawMessage, signalBuffer)
		w.signals[name] = ch
	}
	return ch
}

// ExecuteActivity runs the named activity in the caller's goroutine. Each
// attempt gets its own start-to-close deadline and heartbeat watchdog; failed
// attempts are retried according to the merged retry policy.
func (w *wfCtx) ExecuteActivity(ctx context.Context, req engine.ActivityRequest, result any) error {
	if req.Name == "" {
		return errors.New("activity name is required")
	}
	w.eng.mu.RLock()
	def, ok := w.eng.activities[req.Name]
	w.eng.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", engine.ErrActivityNotRegistered, req.Name)
	}
	input, err := json.Marshal(req.Input)
	if err != nil {
		return fmt.Errorf("encode activity %q input: %w", req.Name, err)
	}
	opts := mergeOptions(def.Options, req.Options)
	policy := opts.RetryPolicy
	attempts := max(policy.MaxAttempts, 1)
	interval := policy.InitialInterval
	if interval <= 0 {
		interval = defaultInitialInterval
	}
	coefficient := math.Max(policy.BackoffCoefficient, 1)
	if policy.BackoffCoefficient == 0 {
		coefficient = defaultBackoff
	}
	maxInterval := policy.MaximumInterval
	if maxInterval <= 0 {
		maxInterval = 100 * interval
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		out, err := w.attempt(ctx, def, opts, input)
		if err == nil {
			if result == nil || len(out) == 0 {
				return nil
			}
			if err := json.Unmarshal(out, result); err != nil {
				return fmt.Errorf("decode activity %q result: %w", req.Name, err)
			}
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || nonRetryable(err, policy.NonRetryableErrorTypes) || attempt == attempts {
			break
		}
		w.eng.logger.Debug(ctx, "retrying activity", "activity", req.Name, "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return &engine.ActivityFailure{Name: req.Name, Cause: ctx.Err()}
		case <-time.After(interval):
		}
		interval = min(time.Duration(float64(interval)*coefficient), maxInterval)
	}
	return &engine.ActivityFailure{Name: req.Name, Cause: lastErr}
}

func (w *wfCtx) attempt(ctx context.Context, def engine.ActivityDefinition, opts engine.ActivityOptions, input json.RawMessage) (json.RawMessage, error) {
	timeout := opts.StartToCloseTimeout
	if timeout <= 0 {
		timeout = defaultStartToClose
	}
	actCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	actCtx, cancelTimeout := context.WithTimeout(actCtx, timeout)
	defer cancelTimeout()

	beats := make(chan struct{}, 1)
	if hb := opts.HeartbeatTimeout; hb > 0 {
		go watchHeartbeats(actCtx, hb, beats, cancel)
	}
	actCtx = engine.WithWorkflowContext(actCtx, w)
	actCtx = engine.WithActivityContext(actCtx)
	actCtx = engine.WithHeartbeat(actCtx, func(...any) {
		select {
		case beats <- struct{}{}:
		default:
		}
	})

	out, err := def.Invoke(actCtx, input)
	if err != nil {
		if cause := context.Cause(actCtx); errors.Is(cause, errHeartbeatTimeout) {
			return nil, cause
		}
		return nil, err
	}
	return out, nil
}

// watchHeartbeats cancels the attempt when no heartbeat arrives within timeout.
func watchHeartbeats(ctx context.Context, timeout time.Duration, beats <-chan struct{}, cancel context.CancelCauseFunc) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-beats:
			timer.Reset(timeout)
		case <-timer.C:
			cancel(errHeartbeatTimeout)
			return
		}
	}
}

func (r receiver) Receive(ctx context.Context, out any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return r.ctx.Err()
	case raw := <-r.ch:
		return decodeSignal(raw, out)
	}
}

func (r receiver) ReceiveAsync(out any) bool {
	select {
	case raw := <-r.ch:
		return decodeSignal(raw, out) == nil
	default:
		return false
	}
}

func decodeSignal(raw json.RawMessage, out any) error {
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func mergeOptions(base, override engine.ActivityOptions) engine.ActivityOptions {
	out := base
	if override.Queue != "" {
		out.Queue = override.Queue
	}
	if override.StartToCloseTimeout != 0 {
		out.StartToCloseTimeout = override.StartToCloseTimeout
	}
	if override.HeartbeatTimeout != 0 {
		out.HeartbeatTimeout = override.HeartbeatTimeout
	}
	rp := override.RetryPolicy
	if rp.MaxAttempts != 0 {
		out.RetryPolicy.MaxAttempts = rp.MaxAttempts
	}
	if rp.InitialInterval != 0 {
		out.RetryPolicy.InitialInterval = rp.InitialInterval
	}
	if rp.BackoffCoefficient != 0 {
		out.RetryPolicy.BackoffCoefficient = rp.BackoffCoefficient
	}
	if rp.MaximumInterval != 0 {
		out.RetryPolicy.MaximumInterval = rp.MaximumInterval
	}
	if len(rp.NonRetryableErrorTypes) > 0 {
		out.RetryPolicy.NonRetryableErrorTypes = rp.NonRetryableErrorTypes
	}
	return out
}

// nonRetryable reports whether err's type name is listed in types. Names are
// unqualified and dereferenced the way Temporal derives application error
// types from Go errors (e.g. "*fs.PathError" matches "PathError").
func nonRetryable(err error, types []string) bool {
	if len(types) == 0 {
		return false
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		name := fmt.Sprintf("%T", e)
		name = strings.TrimPrefix(name[strings.LastIndex(name, ".")+1:], "*")
		for _, t := range types {
			if t == name {
				return true
			}
		}
	}
	return false
}

func withTimeout(ctx context.Context, cancel context.CancelFunc, d time.Duration) (context.Context, context.CancelFunc) {
	tctx, tcancel := context.WithTimeout(ctx, d)
	return tctx, func() {
		tcancel()
		cancel()
	}
}
