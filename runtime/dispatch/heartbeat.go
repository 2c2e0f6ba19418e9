package dispatch

import (
	"context"
	"time"

	"goa.design/agentflow/runtime/engine"
)

// Heartbeater records activity heartbeats at a fixed interval until stopped.
// Long-running handlers start one so the engine can tell a slow attempt from
// a stuck worker.
type Heartbeater struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// StartHeartbeat records a heartbeat immediately and then every interval
// until the returned Heartbeater is stopped or ctx is done. Non-positive
// intervals default to one second. It is harmless outside of an activity:
// engine.Heartbeat is then a no-op.
func StartHeartbeat(ctx context.Context, interval time.Duration, details ...any) *Heartbeater {
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &Heartbeater{cancel: cancel, done: make(chan struct{})}
	engine.Heartbeat(ctx, details...)
	go func() {
		defer close(h.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				engine.Heartbeat(ctx, details...)
			}
		}
	}()
	return h
}

// Stop ends the heartbeat loop and waits for it to exit.
func (h *Heartbeater) Stop() {
	h.cancel()
	<-h.done
}
