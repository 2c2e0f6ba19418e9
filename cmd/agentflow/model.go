package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/rmap"

	"goa.design/agentflow/example/research"
	"goa.design/agentflow/features/model"
	"goa.design/agentflow/features/model/anthropic"
	"goa.design/agentflow/features/model/bedrock"
	"goa.design/agentflow/features/model/middleware"
	"goa.design/agentflow/features/model/openai"
	"goa.design/agentflow/runtime/config"
	"goa.design/agentflow/runtime/task"
	"goa.design/agentflow/runtime/telemetry"
)

// limitsMapName is the replicated map shared by workers to agree on the
// provider tokens-per-minute budget.
const limitsMapName = "agentflow-model-limits"

// newResearcher builds the researcher answering queries. The echo provider
// needs no model. Other providers are wrapped with a circuit breaker and,
// when a budget is configured, an adaptive rate limiter shared through rdb
// if set.
func newResearcher(ctx context.Context, cfg config.Model, rdb *redis.Client, logger telemetry.Logger) (research.Researcher, func(), error) {
	noop := func() {}
	client, err := newModelClient(ctx, cfg, logger)
	if err != nil {
		return nil, noop, err
	}
	if client == nil {
		return research.Echo(), noop, nil
	}

	mws := []model.Middleware{middleware.CircuitBreaker(middleware.BreakerOptions{
		Name:   cfg.Provider,
		Logger: logger,
	})}
	closeFn := noop
	if cfg.TokensPerMinute > 0 {
		var limits *rmap.Map
		if rdb != nil {
			limits, err = rmap.Join(ctx, limitsMapName, rdb)
			if err != nil {
				return nil, noop, fmt.Errorf("join %s: %w", limitsMapName, err)
			}
			closeFn = limits.Close
		}
		limiter := middleware.NewAdaptiveRateLimiter(ctx, limits, cfg.Provider+"-tpm", cfg.TokensPerMinute, cfg.TokensPerMinute)
		mws = append(mws, limiter.Middleware())
	}
	client = model.Chain(client, mws...)

	req := model.Request{System: cfg.SystemPrompt}
	return research.ResearcherFunc(func(ctx context.Context, query string, emit func(task.Delta) error) error {
		r := req
		r.Prompt = query
		return client.Stream(ctx, r, emit)
	}), closeFn, nil
}

// newModelClient returns the provider client or nil for the echo provider.
func newModelClient(ctx context.Context, cfg config.Model, logger telemetry.Logger) (model.Client, error) {
	switch cfg.Provider {
	case config.ModelEcho, "":
		return nil, nil
	case config.ModelAnthropic:
		return anthropic.NewFromAPIKey(cfg.APIKey, anthropic.Options{
			DefaultModel: cfg.Name,
			MaxTokens:    cfg.MaxTokens,
		})
	case config.ModelOpenAI:
		return openai.NewFromAPIKey(cfg.APIKey, openai.Options{
			DefaultModel: cfg.Name,
			MaxTokens:    cfg.MaxTokens,
		})
	case config.ModelBedrock:
		return bedrock.NewFromRegion(ctx, cfg.Region, bedrock.Options{
			DefaultModel: cfg.Name,
			MaxTokens:    cfg.MaxTokens,
			Logger:       logger,
		})
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}
}
