package tracing

import (
	"context"
	"sync"
)

// Recorder is a Processor that keeps spans in memory.
type Recorder struct {
	mu      sync.Mutex
	started []*Span
	ended   []*Span
}

var _ Processor = (*Recorder)(nil)

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// OnStart records span as started.
func (r *Recorder) OnStart(_ context.Context, span *Span) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, span.Clone())
	return nil
}

// OnEnd records span as ended.
func (r *Recorder) OnEnd(_ context.Context, span *Span) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, span.Clone())
	return nil
}

// Shutdown is a no-op.
func (r *Recorder) Shutdown(context.Context) error { return nil }

// Started returns copies of the started spans in start order.
func (r *Recorder) Started() []*Span {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneAll(r.started)
}

// Ended returns copies of the ended spans in end order.
func (r *Recorder) Ended() []*Span {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneAll(r.ended)
}

// Named returns the ended spans with the given name.
func (r *Recorder) Named(name string) []*Span {
	var out []*Span
	for _, s := range r.Ended() {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// Reset discards all recorded spans.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = nil
	r.ended = nil
}

func cloneAll(spans []*Span) []*Span {
	out := make([]*Span, len(spans))
	for i, s := range spans {
		out[i] = s.Clone()
	}
	return out
}
