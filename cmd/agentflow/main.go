// Command agentflow runs the research agent worker.
//
// The worker registers the message, stream, tracing and research activities
// together with the research workflow on the configured engine, and serves
// a small HTTP API to start tasks, send queries and read task messages.
// See package goa.design/agentflow/runtime/config for the environment
// variables it reads.
//
// With ENGINE=temporal the worker connects to Temporal. REDIS_URL switches
// stream events from the in-process bus to Pulse streams, and MONGO_URI
// switches messages and trace spans from memory to MongoDB. MODEL_PROVIDER
// selects the model answering queries; the default echoes them back.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.temporal.io/sdk/client"
	"goa.design/clue/health"
	"goa.design/clue/log"

	"goa.design/agentflow/example/research"
	msgmongo "goa.design/agentflow/features/message/mongo"
	msgclient "goa.design/agentflow/features/message/mongo/clients/mongo"
	"goa.design/agentflow/features/stream/pulse"
	clientspulse "goa.design/agentflow/features/stream/pulse/clients/pulse"
	spanmongo "goa.design/agentflow/features/tracing/mongo"
	spanclient "goa.design/agentflow/features/tracing/mongo/clients/mongo"
	"goa.design/agentflow/runtime/config"
	"goa.design/agentflow/runtime/dispatch"
	"goa.design/agentflow/runtime/engine"
	"goa.design/agentflow/runtime/engine/inmem"
	"goa.design/agentflow/runtime/engine/temporal"
	"goa.design/agentflow/runtime/message"
	msgmem "goa.design/agentflow/runtime/message/inmem"
	"goa.design/agentflow/runtime/stream"
	streammem "goa.design/agentflow/runtime/stream/inmem"
	"goa.design/agentflow/runtime/telemetry"
	"goa.design/agentflow/runtime/tracing"
)

const shutdownTimeout = 10 * time.Second

func main() {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(ctx, err)
	}
	if cfg.Debug {
		ctx = log.Context(ctx, log.WithDebug())
	}
	if err := run(ctx, cfg); err != nil {
		log.Fatal(ctx, err)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.TraceExporter)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "tracing shutdown"})
		}
	}()

	logger := telemetry.NewClueLogger()
	var pingers []health.Pinger

	// Messages and spans
	var (
		store      message.Store = msgmem.New()
		processors               = []tracing.Processor{tracing.NewOTelProcessor(telemetry.NewClueTracer())}
	)
	if cfg.Mongo.URI != "" {
		mc, err := mongodriver.Connect(options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return fmt.Errorf("connect mongo: %w", err)
		}
		defer func() {
			_ = mc.Disconnect(context.Background())
		}()
		mcl, err := msgclient.New(msgclient.Options{Client: mc, Database: cfg.Mongo.Database})
		if err != nil {
			return fmt.Errorf("message client: %w", err)
		}
		ms, err := msgmongo.NewStore(mcl)
		if err != nil {
			return err
		}
		scl, err := spanclient.New(spanclient.Options{Client: mc, Database: cfg.Mongo.Database})
		if err != nil {
			return fmt.Errorf("span client: %w", err)
		}
		sp, err := spanmongo.NewProcessor(scl)
		if err != nil {
			return err
		}
		store = ms
		processors = append(processors, sp)
		pingers = append(pingers, ms, sp)
	}

	// Stream events
	var (
		publisher stream.Publisher = streammem.New(0)
		rdb       *redis.Client
	)
	if cfg.Redis.URL != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.URL, Password: cfg.Redis.Password})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.Redis.URL, err)
		}
		defer func() {
			_ = rdb.Close()
		}()
		pc, err := clientspulse.New(clientspulse.Options{Redis: rdb, StreamMaxLen: cfg.Redis.StreamMaxLen})
		if err != nil {
			return err
		}
		streams, err := pulse.NewStreams(pulse.StreamsOptions{Client: pc})
		if err != nil {
			return err
		}
		defer func() {
			if err := streams.Close(context.Background()); err != nil {
				log.Error(ctx, err, log.KV{K: "msg", V: "close streams"})
			}
		}()
		publisher = streams.Publisher()
		pingers = append(pingers, streams)
	}

	// Services
	tracer := tracing.New(tracing.Options{Processors: processors, Logger: logger})
	defer func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "tracer shutdown"})
		}
	}()
	messages, err := message.NewService(message.ServiceOptions{
		Store:           store,
		Publisher:       publisher,
		Tracer:          tracer,
		Logger:          logger,
		ActivityOptions: cfg.ActivityOptions(),
	})
	if err != nil {
		return err
	}
	streamSvc, err := stream.NewService(stream.ServiceOptions{
		Store:           messages.Sessions(dispatch.Scope{}),
		Publisher:       publisher,
		Logger:          logger,
		ActivityOptions: cfg.ActivityOptions(),
	})
	if err != nil {
		return err
	}
	researcher, closeResearcher, err := newResearcher(ctx, cfg.Model, rdb, logger)
	if err != nil {
		return err
	}
	defer closeResearcher()
	agent, err := research.New(research.Options{
		Messages:        messages,
		Streams:         streamSvc,
		Researcher:      researcher,
		Tracer:          tracer,
		ActivityOptions: cfg.ResearchActivityOptions(),
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	// Engine
	eng, closeEngine, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer closeEngine()

	var activities []dispatch.Registrar
	activities = append(activities, messages.Activities()...)
	activities = append(activities, streamSvc.Activities()...)
	activities = append(activities, tracer.Activities()...)
	activities = append(activities, agent.Activities()...)
	if err := dispatch.Register(ctx, eng, activities...); err != nil {
		return err
	}
	if err := eng.RegisterWorkflow(ctx, agent.Workflow(cfg.Temporal.TaskQueue)); err != nil {
		return fmt.Errorf("register workflow: %w", err)
	}
	if te, ok := eng.(*temporal.Engine); ok {
		te.Worker().Start()
	}

	// HTTP
	mux := http.NewServeMux()
	mux.Handle("GET /livez", health.Handler(health.NewChecker(pingers...)))
	newTaskHandler(eng, messages, cfg.Temporal.TaskQueue).mount(mux)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Print(ctx, log.KV{K: "msg", V: "listening"}, log.KV{K: "addr", V: cfg.HTTPAddr},
			log.KV{K: "engine", V: cfg.Engine}, log.KV{K: "agent", V: cfg.AgentName},
			log.KV{K: "model", V: cfg.Model.Provider})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
		log.Print(ctx, log.KV{K: "msg", V: "shutting down"})
	case err := <-errc:
		return fmt.Errorf("serve http: %w", err)
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

// newEngine builds the configured workflow engine and returns a function
// releasing it.
func newEngine(cfg config.Config, logger telemetry.Logger) (engine.Engine, func(), error) {
	switch cfg.Engine {
	case config.EngineInMemory:
		return inmem.New(inmem.Options{Logger: logger}), func() {}, nil
	case config.EngineTemporal:
		eng, err := temporal.New(temporal.Options{
			ClientOptions: &client.Options{
				HostPort:  cfg.Temporal.Address,
				Namespace: cfg.Temporal.Namespace,
			},
			WorkerOptions:          temporal.WorkerOptions{TaskQueue: cfg.Temporal.TaskQueue},
			DisableWorkerAutoStart: true,
			Logger:                 logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return eng, func() {
			eng.Worker().Stop()
			eng.Close()
		}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported engine %q", cfg.Engine)
	}
}
