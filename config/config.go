// Package config loads process configuration from the environment, per
// spec.md §6 "Configuration (process env)".
package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every environment-sourced setting the core needs to run.
type Config struct {
	// MasterKeyBase64 is the base64-encoded 32-byte master key used to wrap
	// per-secret data encryption keys (see redis/crypto).
	MasterKeyBase64 string `envconfig:"REDIS_SRE_MASTER_KEY" required:"true"`

	// RedisURL is the connection string for the Redis deployment backing
	// every store in this module.
	RedisURL string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`

	// EmbeddingModel names the embedding model used by the Q&A recorder's
	// deferred embedding job and by knowledge ingestion (read-only here).
	EmbeddingModel string `envconfig:"SRE_EMBEDDING_MODEL" default:"text-embedding-3-small"`

	// DefaultModel, HighReasoningModel, and SmallModel name the Anthropic
	// models used respectively for planning, the workers and the corrector;
	// diagnose reasoning; and the router/subject classifiers.
	DefaultModel       string `envconfig:"SRE_DEFAULT_MODEL" default:"claude-sonnet-4-5"`
	HighReasoningModel string `envconfig:"SRE_HIGH_MODEL" default:"claude-opus-4-1"`
	SmallModel         string `envconfig:"SRE_SMALL_MODEL" default:"claude-haiku-4-5"`

	// AnthropicAPIKey authenticates the default llm.Client implementation.
	AnthropicAPIKey string `envconfig:"ANTHROPIC_API_KEY"`

	// TracingEndpoint is the optional OTLP collector endpoint. Empty disables
	// exporting and falls back to the noop tracer.
	TracingEndpoint string `envconfig:"SRE_TRACING_ENDPOINT"`

	// TaskRedeliveryTimeout is loaded from the environment, but nothing in
	// this module reads it: the task queue is a plain list leased with
	// BRPOP and never redelivers a leased task.
	TaskRedeliveryTimeout time.Duration `envconfig:"SRE_TASK_REDELIVERY_TIMEOUT" default:"120s"`

	// WorkerConcurrency is the number of tasks a single worker process runs
	// in parallel (spec.md §5 default: 2).
	WorkerConcurrency int `envconfig:"SRE_WORKER_CONCURRENCY" default:"2"`
}

// Load reads a .env file if present (best-effort, ignored if missing) and
// then populates Config from the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
