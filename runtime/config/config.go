// Package config loads the runtime configuration of agentflow workers.
//
// Configuration is resolved once at startup and passed explicitly to the
// components that need it. Values come from, in increasing precedence:
// built-in defaults, the YAML file named by AGENTFLOW_CONFIG, and
// environment variables.
//
// Environment variables:
//
//	AGENTFLOW_CONFIG            - Optional YAML configuration file
//	AGENT_NAME                  - Agent name (default: "agentflow")
//	ENGINE                      - Workflow engine: "temporal" or "inmem" (default: "temporal")
//	TEMPORAL_ADDRESS            - Temporal frontend address (default: "localhost:7233")
//	TEMPORAL_NAMESPACE          - Temporal namespace (default: "default")
//	WORKFLOW_TASK_QUEUE         - Task queue (default: "<AGENT_NAME>-queue")
//	REDIS_URL                   - Redis address for stream events (optional)
//	REDIS_PASSWORD              - Redis password (optional)
//	STREAM_MAX_LEN              - Maximum events kept per task stream (default: 1000)
//	MONGO_URI                   - MongoDB URI for messages and spans (optional)
//	MONGO_DATABASE              - MongoDB database (default: "agentflow")
//	HTTP_ADDR                   - Health endpoint address (default: ":8080")
//	TRACE_EXPORTER              - "stdout" or "noop" (default: "noop")
//	DEBUG                       - Enable debug logs (default: false)
//	ACTIVITY_TIMEOUT            - Activity start-to-close timeout (default: "5s")
//	ACTIVITY_HEARTBEAT_TIMEOUT  - Activity heartbeat timeout (default: none)
//	ACTIVITY_MAX_ATTEMPTS       - Activity attempts (default: 1)
//	RESEARCH_TIMEOUT            - Research activity start-to-close timeout (default: "5m")
//	RESEARCH_HEARTBEAT_TIMEOUT  - Research activity heartbeat timeout (default: "30s")
//	MODEL_PROVIDER              - "echo", "anthropic", "openai" or "bedrock" (default: "echo")
//	MODEL_NAME                  - Provider model identifier (required unless echo)
//	MODEL_API_KEY               - Anthropic or OpenAI API key
//	MODEL_REGION                - AWS region for Bedrock (default: "us-east-1")
//	MODEL_MAX_TOKENS            - Completion cap (default: 1024)
//	MODEL_SYSTEM_PROMPT         - System prompt sent with every query (optional)
//	MODEL_TOKENS_PER_MINUTE     - Initial rate limit budget, 0 disables (default: 0)
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"goa.design/agentflow/runtime/engine"
)

// Supported engines.
const (
	EngineTemporal = "temporal"
	EngineInMemory = "inmem"
)

// Supported model providers.
const (
	ModelEcho      = "echo"
	ModelAnthropic = "anthropic"
	ModelOpenAI    = "openai"
	ModelBedrock   = "bedrock"
)

type (
	// Config is the worker configuration.
	Config struct {
		AgentName     string   `yaml:"agent_name"`
		Engine        string   `yaml:"engine"`
		Temporal      Temporal `yaml:"temporal"`
		Redis         Redis    `yaml:"redis"`
		Mongo         Mongo    `yaml:"mongo"`
		HTTPAddr      string   `yaml:"http_addr"`
		TraceExporter string   `yaml:"trace_exporter"`
		Debug         bool     `yaml:"debug"`
		Activity      Activity `yaml:"activity"`
		Research      Research `yaml:"research"`
		Model         Model    `yaml:"model"`
	}

	// Temporal configures the Temporal client and worker.
	Temporal struct {
		Address   string `yaml:"address"`
		Namespace string `yaml:"namespace"`
		TaskQueue string `yaml:"task_queue"`
	}

	// Redis configures the Pulse stream backend. An empty URL selects the
	// in-memory bus.
	Redis struct {
		URL          string `yaml:"url"`
		Password     string `yaml:"password"`
		StreamMaxLen int    `yaml:"stream_max_len"`
	}

	// Mongo configures durable message and span storage. An empty URI
	// selects the in-memory stores.
	Mongo struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	}

	// Model selects the model answering research queries.
	Model struct {
		Provider        string  `yaml:"provider"`
		Name            string  `yaml:"name"`
		APIKey          string  `yaml:"api_key"`
		Region          string  `yaml:"region"`
		MaxTokens       int     `yaml:"max_tokens"`
		SystemPrompt    string  `yaml:"system_prompt"`
		TokensPerMinute float64 `yaml:"tokens_per_minute"`
	}

	// Activity holds the default options of dispatched activities.
	Activity struct {
		Timeout          time.Duration `yaml:"timeout"`
		HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
		MaxAttempts      int           `yaml:"max_attempts"`
	}

	// Research holds the options of the long-running research activity.
	// Attempts follow Activity.MaxAttempts.
	Research struct {
		Timeout          time.Duration `yaml:"timeout"`
		HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	}
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		AgentName: "agentflow",
		Engine:    EngineTemporal,
		Temporal: Temporal{
			Address:   "localhost:7233",
			Namespace: "default",
		},
		Redis:         Redis{StreamMaxLen: 1000},
		Mongo:         Mongo{Database: "agentflow"},
		HTTPAddr:      ":8080",
		TraceExporter: "noop",
		Activity: Activity{
			Timeout:     5 * time.Second,
			MaxAttempts: 1,
		},
		Research: Research{
			Timeout:          5 * time.Minute,
			HeartbeatTimeout: 30 * time.Second,
		},
		Model: Model{
			Provider:  ModelEcho,
			Region:    "us-east-1",
			MaxTokens: 1024,
		},
	}
}

// Load resolves the configuration from defaults, the optional YAML file and
// the environment, then validates it.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("AGENTFLOW_CONFIG"); path != "" {
		if err := cfg.readFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if cfg.Temporal.TaskQueue == "" {
		cfg.Temporal.TaskQueue = cfg.AgentName + "-queue"
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports invalid settings.
func (c Config) Validate() error {
	var errs []error
	if c.AgentName == "" {
		errs = append(errs, errors.New("agent name is required"))
	}
	switch c.Engine {
	case EngineTemporal:
		if c.Temporal.Address == "" {
			errs = append(errs, errors.New("temporal address is required"))
		}
	case EngineInMemory:
	default:
		errs = append(errs, fmt.Errorf("unsupported engine %q", c.Engine))
	}
	if c.Temporal.TaskQueue == "" {
		errs = append(errs, errors.New("task queue is required"))
	}
	switch c.TraceExporter {
	case "stdout", "noop":
	default:
		errs = append(errs, fmt.Errorf("unsupported trace exporter %q", c.TraceExporter))
	}
	if c.Activity.Timeout <= 0 {
		errs = append(errs, errors.New("activity timeout must be positive"))
	}
	if c.Research.Timeout <= 0 {
		errs = append(errs, errors.New("research timeout must be positive"))
	}
	if c.Research.HeartbeatTimeout < 0 {
		errs = append(errs, errors.New("research heartbeat timeout must not be negative"))
	}
	if c.Activity.MaxAttempts < 0 {
		errs = append(errs, errors.New("activity max attempts must not be negative"))
	}
	if c.Redis.StreamMaxLen < 0 {
		errs = append(errs, errors.New("stream max length must not be negative"))
	}
	switch c.Model.Provider {
	case ModelEcho:
	case ModelAnthropic, ModelOpenAI:
		if c.Model.APIKey == "" {
			errs = append(errs, fmt.Errorf("model api key is required for %s", c.Model.Provider))
		}
		fallthrough
	case ModelBedrock:
		if c.Model.Name == "" {
			errs = append(errs, errors.New("model name is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported model provider %q", c.Model.Provider))
	}
	if c.Model.TokensPerMinute < 0 {
		errs = append(errs, errors.New("model tokens per minute must not be negative"))
	}
	return errors.Join(errs...)
}

// ActivityOptions returns the configured activity defaults.
func (c Config) ActivityOptions() engine.ActivityOptions {
	return engine.ActivityOptions{
		Queue:               c.Temporal.TaskQueue,
		StartToCloseTimeout: c.Activity.Timeout,
		HeartbeatTimeout:    c.Activity.HeartbeatTimeout,
		RetryPolicy:         engine.RetryPolicy{MaxAttempts: c.Activity.MaxAttempts},
	}
}

// ResearchActivityOptions returns the options of the research activity.
func (c Config) ResearchActivityOptions() engine.ActivityOptions {
	opts := c.ActivityOptions()
	opts.StartToCloseTimeout = c.Research.Timeout
	opts.HeartbeatTimeout = c.Research.HeartbeatTimeout
	return opts
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.AgentName = envOr("AGENT_NAME", c.AgentName)
	c.Engine = envOr("ENGINE", c.Engine)
	c.Temporal.Address = envOr("TEMPORAL_ADDRESS", c.Temporal.Address)
	c.Temporal.Namespace = envOr("TEMPORAL_NAMESPACE", c.Temporal.Namespace)
	c.Temporal.TaskQueue = envOr("WORKFLOW_TASK_QUEUE", c.Temporal.TaskQueue)
	c.Redis.URL = envOr("REDIS_URL", c.Redis.URL)
	c.Redis.Password = envOr("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.StreamMaxLen = envIntOr("STREAM_MAX_LEN", c.Redis.StreamMaxLen)
	c.Mongo.URI = envOr("MONGO_URI", c.Mongo.URI)
	c.Mongo.Database = envOr("MONGO_DATABASE", c.Mongo.Database)
	c.HTTPAddr = envOr("HTTP_ADDR", c.HTTPAddr)
	c.TraceExporter = envOr("TRACE_EXPORTER", c.TraceExporter)
	c.Debug = envBoolOr("DEBUG", c.Debug)
	c.Activity.Timeout = envDurationOr("ACTIVITY_TIMEOUT", c.Activity.Timeout)
	c.Activity.HeartbeatTimeout = envDurationOr("ACTIVITY_HEARTBEAT_TIMEOUT", c.Activity.HeartbeatTimeout)
	c.Activity.MaxAttempts = envIntOr("ACTIVITY_MAX_ATTEMPTS", c.Activity.MaxAttempts)
	c.Research.Timeout = envDurationOr("RESEARCH_TIMEOUT", c.Research.Timeout)
	c.Research.HeartbeatTimeout = envDurationOr("RESEARCH_HEARTBEAT_TIMEOUT", c.Research.HeartbeatTimeout)
	c.Model.Provider = envOr("MODEL_PROVIDER", c.Model.Provider)
	c.Model.Name = envOr("MODEL_NAME", c.Model.Name)
	c.Model.APIKey = envOr("MODEL_API_KEY", c.Model.APIKey)
	c.Model.Region = envOr("MODEL_REGION", c.Model.Region)
	c.Model.MaxTokens = envIntOr("MODEL_MAX_TOKENS", c.Model.MaxTokens)
	c.Model.SystemPrompt = envOr("MODEL_SYSTEM_PROMPT", c.Model.SystemPrompt)
	c.Model.TokensPerMinute = envFloatOr("MODEL_TOKENS_PER_MINUTE", c.Model.TokensPerMinute)
}

// envOr returns the environment variable value or a default.
func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envIntOr returns the environment variable as int or a default.
func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

// envFloatOr returns the environment variable as float64 or a default.
func envFloatOr(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// envBoolOr returns the environment variable as bool or a default.
func envBoolOr(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

// envDurationOr returns the environment variable as duration or a default.
func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
