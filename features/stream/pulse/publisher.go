// Package pulse publishes agentflow stream events to goa.design/pulse streams
// backed by Redis and consumes them back. Each task topic ("task:<id>") maps
// to one Pulse stream whose entries are JSON envelopes wrapping the stream
// event wire format.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	clientspulse "goa.design/agentflow/features/stream/pulse/clients/pulse"
	"goa.design/agentflow/runtime/stream"
	"goa.design/agentflow/runtime/telemetry"
)

const (
	defaultMaxFailures    = 5
	defaultBreakerTimeout = 30 * time.Second
)

type (
	// Options configures the Pulse publisher.
	Options struct {
		// Client publishes entries. Required.
		Client clientspulse.Client
		// StreamID maps a topic to a Pulse stream name. Defaults to the topic.
		StreamID func(topic string) (string, error)
		// DeltaRate throttles Delta events per publisher. Zero disables
		// throttling. Terminal and Start events are never throttled.
		DeltaRate rate.Limit
		// DeltaBurst is the throttle burst size. Defaults to 1.
		DeltaBurst int
		// Breaker configures the circuit breaker guarding Redis writes.
		Breaker BreakerOptions
		// Logger defaults to a noop logger.
		Logger telemetry.Logger
		// Metrics defaults to noop metrics.
		Metrics telemetry.Metrics
	}

	// BreakerOptions configures the publisher circuit breaker.
	BreakerOptions struct {
		// MaxFailures is the number of consecutive failures that open the
		// circuit. Defaults to 5.
		MaxFailures uint32
		// Timeout is how long the circuit stays open before probing.
		// Defaults to 30s.
		Timeout time.Duration
		// Interval clears failure counts while closed. Zero never clears.
		Interval time.Duration
	}

	// Publisher implements stream.Publisher on Pulse. It is safe for
	// concurrent use.
	Publisher struct {
		client   clientspulse.Client
		streamID func(string) (string, error)
		limiter  *rate.Limiter
		breaker  *gobreaker.CircuitBreaker[string]
		logger   telemetry.Logger
		metrics  telemetry.Metrics
		now      func() time.Time
	}

	// envelope is the payload of a Pulse entry.
	envelope struct {
		// Type is the stream event type.
		Type stream.EventType `json:"type"`
		// Topic is the task topic the event was published to.
		Topic string `json:"topic"`
		// Timestamp records when the event was published (UTC).
		Timestamp time.Time `json:"timestamp"`
		// Event is the stream event wire format.
		Event json.RawMessage `json:"event"`
	}
)

// ErrCircuitOpen indicates a publish rejected because Redis writes failed
// repeatedly.
var ErrCircuitOpen = errors.New("pulse publisher circuit open")

var _ stream.Publisher = (*Publisher)(nil)

// NewPublisher returns a Pulse publisher.
func NewPublisher(opts Options) (*Publisher, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	p := &Publisher{
		client:   opts.Client,
		streamID: defaultStreamID,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if opts.StreamID != nil {
		p.streamID = opts.StreamID
	}
	if p.logger == nil {
		p.logger = telemetry.NewNoopLogger()
	}
	if p.metrics == nil {
		p.metrics = telemetry.NewNoopMetrics()
	}
	if opts.DeltaRate > 0 {
		burst := opts.DeltaBurst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(opts.DeltaRate, burst)
	}
	maxFailures := opts.Breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	timeout := opts.Breaker.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	p.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "pulse-publisher",
		MaxRequests: 1,
		Interval:    opts.Breaker.Interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn(context.Background(), "circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return p, nil
}

// Publish appends ev to the Pulse stream of topic. Delta events wait for
// the throttle when one is configured.
func (p *Publisher) Publish(ctx context.Context, topic string, ev stream.Event) error {
	if ev == nil {
		return errors.New("event is required")
	}
	name, err := p.streamID(topic)
	if err != nil {
		return err
	}
	if p.limiter != nil && ev.Type() == stream.EventDelta {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("throttle delta: %w", err)
		}
	}
	raw, err := stream.MarshalEvent(ev)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(envelope{Type: ev.Type(), Topic: topic, Timestamp: p.now(), Event: raw})
	if err != nil {
		return err
	}
	start := time.Now()
	_, err = p.breaker.Execute(func() (string, error) {
		str, err := p.client.Stream(name)
		if err != nil {
			return "", err
		}
		return str.Add(ctx, string(ev.Type()), payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	if err != nil {
		p.metrics.IncCounter("agentflow.stream.publish_errors", 1, "type", string(ev.Type()))
		return err
	}
	p.metrics.RecordTimer("agentflow.stream.publish", time.Since(start), "type", string(ev.Type()))
	return nil
}

// State returns the circuit breaker state.
func (p *Publisher) State() gobreaker.State {
	return p.breaker.State()
}

// Close closes the underlying client.
func (p *Publisher) Close(ctx context.Context) error {
	return p.client.Close(ctx)
}

func defaultStreamID(topic string) (string, error) {
	if topic == "" {
		return "", errors.New("stream topic is required")
	}
	return topic, nil
}
