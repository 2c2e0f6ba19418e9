// Package inmem provides an in-process stream.Publisher for tests and local
// development. Production deployments publish through features/stream/pulse.
package inmem

import (
	"context"
	"errors"
	"sync"

	"goa.design/agentflow/runtime/stream"
)

type (
	// Bus is an in-memory publisher that records every event per topic and
	// fans events out to live subscribers. It is safe for concurrent use.
	Bus struct {
		mu      sync.RWMutex
		history map[string][]stream.Event
		subs    map[string]map[*subscription]struct{}
		buffer  int
	}

	subscription struct {
		ch chan stream.Event
	}
)

// New returns an empty Bus. buffer sets the channel capacity of each
// subscription (defaults to 64). A subscriber that falls behind blocks
// Publish for its topic.
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		history: make(map[string][]stream.Event),
		subs:    make(map[string]map[*subscription]struct{}),
		buffer:  buffer,
	}
}

// Publish implements stream.Publisher.
func (b *Bus) Publish(ctx context.Context, topic string, event stream.Event) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if event == nil {
		return errors.New("event is required")
	}
	b.mu.Lock()
	b.history[topic] = append(b.history[topic], event)
	b.mu.Unlock()

	// Hold the read lock while delivering so cancel cannot close a channel
	// mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[topic] {
		select {
		case sub.ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Events returns the events published to topic so far, in publish order.
func (b *Bus) Events(topic string) []stream.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]stream.Event, len(b.history[topic]))
	copy(out, b.history[topic])
	return out
}

// Subscribe returns a channel receiving events published to topic after the
// call, and a cancel function that stops delivery and closes the channel.
func (b *Bus) Subscribe(topic string) (<-chan stream.Event, func()) {
	sub := &subscription{ch: make(chan stream.Event, b.buffer)}
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*subscription]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[topic], sub)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}
