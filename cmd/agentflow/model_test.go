package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/agentflow/runtime/config"
	"goa.design/agentflow/runtime/task"
	"goa.design/agentflow/runtime/telemetry"
)

func TestNewResearcherEcho(t *testing.T) {
	r, closeFn, err := newResearcher(context.Background(), config.Model{Provider: config.ModelEcho}, nil, telemetry.NewNoopLogger())
	require.NoError(t, err)
	defer closeFn()

	var text string
	require.NoError(t, r.Research(context.Background(), "hi", func(d task.Delta) error {
		if td, ok := d.(task.TextDelta); ok {
			text += td.Text
		}
		return nil
	}))
	assert.Contains(t, text, "hi")
}

func TestNewResearcherProvider(t *testing.T) {
	cfg := config.Model{
		Provider:        config.ModelAnthropic,
		Name:            "claude-sonnet-4-5",
		APIKey:          "test-key",
		MaxTokens:       256,
		TokensPerMinute: 1000,
	}
	r, closeFn, err := newResearcher(context.Background(), cfg, nil, telemetry.NewNoopLogger())
	require.NoError(t, err)
	defer closeFn()
	assert.NotNil(t, r)
}

func TestNewResearcherErrors(t *testing.T) {
	_, _, err := newResearcher(context.Background(), config.Model{Provider: "llama"}, nil, telemetry.NewNoopLogger())
	assert.ErrorContains(t, err, `unsupported model provider "llama"`)

	_, _, err = newResearcher(context.Background(), config.Model{Provider: config.ModelOpenAI, APIKey: "k"}, nil, telemetry.NewNoopLogger())
	assert.ErrorContains(t, err, "default model is required")
}
