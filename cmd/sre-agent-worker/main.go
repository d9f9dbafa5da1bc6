// Command sre-agent-worker runs the Task Runner: it dequeues tasks from
// the shared Redis queue and executes them against the Agent Workflow
// Engine until interrupted. Grounded on
// original_source/redis_sre_agent/worker.py's entrypoint shape (load
// config, register/connect, run until Ctrl+C) and the teacher's worker
// concurrency knob, rendered as N goroutines each running
// taskrunner.Runner.Run rather than docket's redelivery-timeout workers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/redis-sre/agentcore/agent"
	"github.com/redis-sre/agentcore/config"
	"github.com/redis-sre/agentcore/knowledge"
	"github.com/redis-sre/agentcore/llm/anthropic"
	"github.com/redis-sre/agentcore/qa"
	"github.com/redis-sre/agentcore/redistools"
	"github.com/redis-sre/agentcore/task"
	"github.com/redis-sre/agentcore/taskrunner"
	"github.com/redis-sre/agentcore/telemetry"
	"github.com/redis-sre/agentcore/thread"
	"github.com/redis-sre/agentcore/toolmanager"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sre-agent-worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := telemetry.NewZerologLogger(zerolog.New(os.Stderr).With().Timestamp().Logger())
	var tracer telemetry.Tracer = telemetry.NewNoopTracer()
	if cfg.TracingEndpoint != "" {
		// The global TracerProvider is expected to be configured by the
		// deployment's OTEL SDK bootstrap (OTEL_EXPORTER_OTLP_ENDPOINT and
		// friends); NewOTelTracer only looks it up.
		tracer = telemetry.NewOTelTracer("github.com/redis-sre/agentcore/taskrunner")
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	threads := thread.New(rdb, nil)
	tasks := task.New(rdb)
	qaStore := qa.New(rdb, nil)
	kb := knowledge.New(rdb, "idx:sre_knowledge")
	cache := toolmanager.NewCache(rdb)

	model, err := anthropic.NewFromAPIKey(cfg.AnthropicAPIKey, anthropic.Options{
		DefaultModel: cfg.DefaultModel,
		HighModel:    cfg.HighReasoningModel,
		SmallModel:   cfg.SmallModel,
	})
	if err != nil {
		return fmt.Errorf("build llm client: %w", err)
	}

	runner := &taskrunner.Runner{
		Tasks:   tasks,
		Threads: threads,
		QA:      qaStore,
		Model:   model,
		Extract: taskrunner.ExtractInstanceID,
		Tracer:  tracer,
		Logger:  logger,
		// Every resolved instance shares the process's Redis connection: a
		// per-instance connection pool (one client per target deployment)
		// is deployment-specific wiring this module doesn't own, so every
		// instance id resolves against the same client here.
		BuildTools: func(_ context.Context, instanceID string, _ agent.InstanceFacts) (*toolmanager.Manager, *toolmanager.Manager, error) {
			scope := instanceID
			if scope == "" {
				scope = toolmanager.AllInstancesScope
			}
			return redistools.Build(cache, scope, rdb, kb)
		},
	}

	logger.Info(context.Background(), "starting sre-agent-worker", "redis_url", cfg.RedisURL, "concurrency", cfg.WorkerConcurrency)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runner.Run(ctx); err != nil {
				logger.Info(ctx, "worker loop stopped", "error", err.Error())
			}
		}()
	}
	wg.Wait()
	return nil
}
