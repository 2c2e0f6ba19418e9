package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"goa.design/agentflow/features/model"
	"goa.design/agentflow/runtime/task"
	"goa.design/agentflow/runtime/telemetry"
)

const (
	defaultBreakerFailures uint32 = 5
	defaultBreakerTimeout         = 30 * time.Second
	defaultBreakerInterval        = 60 * time.Second
)

// ErrCircuitOpen is returned without calling the provider while the breaker
// is open.
var ErrCircuitOpen = errors.New("model circuit open")

type (
	// BreakerOptions configures CircuitBreaker.
	BreakerOptions struct {
		// Name identifies the breaker in logs. Defaults to "model".
		Name string
		// MaxFailures is the number of consecutive provider failures that
		// opens the circuit. Defaults to 5.
		MaxFailures uint32
		// Timeout is how long the circuit stays open before a probe.
		// Defaults to 30s.
		Timeout time.Duration
		// Interval clears failure counts while closed. Defaults to 60s.
		Interval time.Duration
		// Logger reports state changes. Defaults to noop.
		Logger telemetry.Logger
	}

	breakerClient struct {
		next    model.Client
		breaker *gobreaker.CircuitBreaker[struct{}]
	}

	// emitError marks errors returned by the caller's emit function so they
	// are not counted against the provider.
	emitError struct{ err error }
)

// CircuitBreaker returns a middleware that fails fast with ErrCircuitOpen
// once the provider failed MaxFailures times in a row. Errors returned by
// emit and context cancellation do not count as failures.
func CircuitBreaker(opts BreakerOptions) model.Middleware {
	name := opts.Name
	if name == "" {
		name = "model"
	}
	maxFailures := opts.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerFailures
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	interval := opts.Interval
	if interval == 0 {
		interval = defaultBreakerInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return func(next model.Client) model.Client {
		if next == nil {
			return nil
		}
		cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn(context.Background(), "circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			},
			IsSuccessful: func(err error) bool {
				var ee emitError
				return err == nil || errors.As(err, &ee) || errors.Is(err, context.Canceled)
			},
		})
		return &breakerClient{next: next, breaker: cb}
	}
}

func (c *breakerClient) Stream(ctx context.Context, req model.Request, emit func(task.Delta) error) error {
	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.next.Stream(ctx, req, func(d task.Delta) error {
			if err := emit(d); err != nil {
				return emitError{err: err}
			}
			return nil
		})
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	var ee emitError
	if errors.As(err, &ee) {
		return ee.err
	}
	return err
}

func (e emitError) Error() string { return e.err.Error() }
func (e emitError) Unwrap() error { return e.err }
