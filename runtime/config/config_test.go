package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"AGENTFLOW_CONFIG", "AGENT_NAME", "ENGINE", "TEMPORAL_ADDRESS", "TEMPORAL_NAMESPACE",
	"WORKFLOW_TASK_QUEUE", "REDIS_URL", "REDIS_PASSWORD", "STREAM_MAX_LEN", "MONGO_URI",
	"MONGO_DATABASE", "HTTP_ADDR", "TRACE_EXPORTER", "DEBUG", "ACTIVITY_TIMEOUT",
	"ACTIVITY_HEARTBEAT_TIMEOUT", "ACTIVITY_MAX_ATTEMPTS", "MODEL_PROVIDER", "MODEL_NAME",
	"MODEL_API_KEY", "MODEL_REGION", "MODEL_MAX_TOKENS", "MODEL_SYSTEM_PROMPT",
	"MODEL_TOKENS_PER_MINUTE", "RESEARCH_TIMEOUT", "RESEARCH_HEARTBEAT_TIMEOUT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "agentflow", cfg.AgentName)
	assert.Equal(t, EngineTemporal, cfg.Engine)
	assert.Equal(t, "localhost:7233", cfg.Temporal.Address)
	assert.Equal(t, "agentflow-queue", cfg.Temporal.TaskQueue)
	assert.Equal(t, 5*time.Second, cfg.Activity.Timeout)
	assert.Equal(t, 1, cfg.Activity.MaxAttempts)
	assert.False(t, cfg.Debug)
	assert.Equal(t, ModelEcho, cfg.Model.Provider)
	assert.Equal(t, 1024, cfg.Model.MaxTokens)
	assert.Zero(t, cfg.Model.TokensPerMinute)
}

func TestLoadEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("AGENT_NAME", "researcher")
	t.Setenv("ENGINE", "inmem")
	t.Setenv("REDIS_URL", "redis:6379")
	t.Setenv("STREAM_MAX_LEN", "50")
	t.Setenv("DEBUG", "true")
	t.Setenv("ACTIVITY_TIMEOUT", "30s")
	t.Setenv("ACTIVITY_HEARTBEAT_TIMEOUT", "10s")
	t.Setenv("ACTIVITY_MAX_ATTEMPTS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "researcher", cfg.AgentName)
	assert.Equal(t, "researcher-queue", cfg.Temporal.TaskQueue)
	assert.Equal(t, EngineInMemory, cfg.Engine)
	assert.Equal(t, "redis:6379", cfg.Redis.URL)
	assert.Equal(t, 50, cfg.Redis.StreamMaxLen)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 1, cfg.Activity.MaxAttempts, "invalid values fall back")

	opts := cfg.ActivityOptions()
	assert.Equal(t, "researcher-queue", opts.Queue)
	assert.Equal(t, 30*time.Second, opts.StartToCloseTimeout)
	assert.Equal(t, 10*time.Second, opts.HeartbeatTimeout)
	assert.Equal(t, 1, opts.RetryPolicy.MaxAttempts)
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "agentflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agent_name: from-file
engine: inmem
temporal:
  task_queue: file-queue
mongo:
  uri: mongodb://mongo:27017
activity:
  timeout: 2m
  max_attempts: 3
`), 0o600))
	t.Setenv("AGENTFLOW_CONFIG", path)
	t.Setenv("ACTIVITY_MAX_ATTEMPTS", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.AgentName)
	assert.Equal(t, "file-queue", cfg.Temporal.TaskQueue)
	assert.Equal(t, "mongodb://mongo:27017", cfg.Mongo.URI)
	assert.Equal(t, "agentflow", cfg.Mongo.Database)
	assert.Equal(t, 2*time.Minute, cfg.Activity.Timeout)
	assert.Equal(t, 5, cfg.Activity.MaxAttempts)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("AGENTFLOW_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.ErrorContains(t, err, "read config file")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("engine: ["), 0o600))
	t.Setenv("AGENTFLOW_CONFIG", bad)
	_, err = Load()
	assert.ErrorContains(t, err, "parse config file")

	t.Setenv("AGENTFLOW_CONFIG", "")
	t.Setenv("ENGINE", "kafka")
	t.Setenv("TRACE_EXPORTER", "jaeger")
	_, err = Load()
	assert.ErrorContains(t, err, `unsupported engine "kafka"`)
	assert.ErrorContains(t, err, `unsupported trace exporter "jaeger"`)
}

func TestLoadModel(t *testing.T) {
	clearEnv(t)
	t.Setenv("MODEL_PROVIDER", "bedrock")
	t.Setenv("MODEL_NAME", "anthropic.claude-3-5-sonnet")
	t.Setenv("MODEL_REGION", "eu-west-1")
	t.Setenv("MODEL_TOKENS_PER_MINUTE", "12000.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ModelBedrock, cfg.Model.Provider)
	assert.Equal(t, "eu-west-1", cfg.Model.Region)
	assert.InDelta(t, 12000.5, cfg.Model.TokensPerMinute, 0.001)
}

func TestValidateModel(t *testing.T) {
	cases := []struct {
		name    string
		model   Model
		wantErr string
	}{
		{"echo", Model{Provider: ModelEcho}, ""},
		{"anthropic", Model{Provider: ModelAnthropic, Name: "claude", APIKey: "k"}, ""},
		{"missing key", Model{Provider: ModelOpenAI, Name: "gpt"}, "model api key is required for openai"},
		{"missing name", Model{Provider: ModelBedrock}, "model name is required"},
		{"unknown", Model{Provider: "llama"}, `unsupported model provider "llama"`},
		{"negative budget", Model{Provider: ModelEcho, TokensPerMinute: -1}, "must not be negative"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Model = tc.model
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestResearchActivityOptions(t *testing.T) {
	clearEnv(t)
	t.Setenv("ACTIVITY_MAX_ATTEMPTS", "3")
	t.Setenv("RESEARCH_TIMEOUT", "10m")

	cfg, err := Load()
	require.NoError(t, err)
	opts := cfg.ResearchActivityOptions()
	assert.Equal(t, 10*time.Minute, opts.StartToCloseTimeout)
	assert.Equal(t, 30*time.Second, opts.HeartbeatTimeout)
	assert.Equal(t, 3, opts.RetryPolicy.MaxAttempts)
	assert.Equal(t, cfg.Temporal.TaskQueue, opts.Queue)
	assert.Equal(t, 5*time.Second, cfg.ActivityOptions().StartToCloseTimeout)

	cfg.Research.Timeout = 0
	assert.ErrorContains(t, cfg.Validate(), "research timeout must be positive")
}
