package pulse

import (
	"context"
	"errors"

	clientspulse "goa.design/agentflow/features/stream/pulse/clients/pulse"
)

type (
	// StreamsOptions configures Streams.
	StreamsOptions struct {
		// Client is shared by the publisher and subscribers. Required.
		Client clientspulse.Client
		// Publisher holds publisher overrides. Its Client is ignored.
		Publisher Options
	}

	// Streams owns a publisher and creates subscribers sharing one Pulse
	// client, so a worker keeps a single Redis connection pool.
	Streams struct {
		publisher *Publisher
		client    clientspulse.Client
	}
)

// NewStreams returns the publisher and subscriber factory of a worker.
func NewStreams(opts StreamsOptions) (*Streams, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	pubOpts := opts.Publisher
	pubOpts.Client = opts.Client
	pub, err := NewPublisher(pubOpts)
	if err != nil {
		return nil, err
	}
	return &Streams{publisher: pub, client: opts.Client}, nil
}

// Publisher returns the shared publisher.
func (s *Streams) Publisher() *Publisher {
	return s.publisher
}

// NewSubscriber returns a subscriber using the shared client.
func (s *Streams) NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	opts.Client = s.client
	return NewSubscriber(opts)
}

// Name implements health.Pinger.
func (s *Streams) Name() string {
	return s.client.Name()
}

// Ping implements health.Pinger.
func (s *Streams) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// Close closes the publisher. Cancel subscribers first.
func (s *Streams) Close(ctx context.Context) error {
	return s.publisher.Close(ctx)
}
