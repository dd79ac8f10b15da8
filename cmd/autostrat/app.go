package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mohammad-safakhou/autostrat/config"
	"github.com/mohammad-safakhou/autostrat/internal/agent/core"
	agenttools "github.com/mohammad-safakhou/autostrat/internal/agent/tools"
	"github.com/mohammad-safakhou/autostrat/internal/archive"
	"github.com/mohammad-safakhou/autostrat/internal/metrics"
	"github.com/mohammad-safakhou/autostrat/internal/queue/streams"
	"github.com/mohammad-safakhou/autostrat/internal/store"
	"github.com/mohammad-safakhou/autostrat/internal/worker"
	"github.com/redis/go-redis/v9"
)

// app holds the dependencies shared by serve and worker.
type app struct {
	cfg      *config.Config
	store    store.TaskStore
	metrics  *metrics.Metrics
	archive  *archive.Archive
	redis    *redis.Client
	registry *streams.SchemaRegistry
}

func newLogger(cfg *config.Config, prefix string) *log.Logger {
	flags := log.LstdFlags
	if cfg.General.Debug {
		flags |= log.Lshortfile
	}
	return log.New(os.Stdout, prefix, flags)
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	if cfg.Telemetry.MetricsEnabled {
		a.metrics = metrics.New()
	}
	st, err := store.New(ctx, cfg.Storage, newLogger(cfg, "[STORE] "))
	if err != nil {
		return nil, err
	}
	a.store = st

	a.archive, err = archive.New()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("report archive: %w", err)
	}

	if cfg.Queue.Backend == config.QueueRedis {
		a.redis = store.NewRedisClient(cfg.Storage.Redis)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("queue redis ping: %w", err)
		}
		a.registry, err = streams.DefaultRegistry()
		if err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) close() {
	if a.archive != nil {
		_ = a.archive.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

// newExecutor wires LLM, tools and pipeline into a worker pool.
func (a *app) newExecutor() (*worker.Executor, error) {
	cfg := a.cfg
	llm, err := core.NewLLMProvider(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	tools, err := agenttools.FromConfig(newLogger(cfg, "[TOOLS] "), cfg.Search)
	if err != nil {
		return nil, fmt.Errorf("tools: %w", err)
	}
	pipeline := core.NewPipeline(newLogger(cfg, "[PIPELINE] "), llm, tools, core.PipelineConfig{
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		MaxSteps:    cfg.Pipeline.MaxSteps,
	}, a.metrics)

	logger := newLogger(cfg, "[WORKER] ")
	runner := worker.NewRunner(logger, pipeline, cfg.Pipeline.Timeout)
	exec := worker.NewExecutor(logger, a.store, runner, worker.ExecutorConfig{
		Workers:   cfg.Queue.Workers,
		QueueSize: cfg.Queue.Size,
		Grace:     cfg.Queue.ShutdownGrace,
	}, worker.WithMetrics(a.metrics), worker.WithCompletionHook(a.archiveHook(logger)))
	logger.Printf("executor ready: provider=%s model=%s search=%s workers=%d", llm.Name(), cfg.LLM.Model, cfg.Search.Provider, cfg.Queue.Workers)
	return exec, nil
}

// archiveHook indexes completed reports. Failed tasks are not archived.
func (a *app) archiveHook(logger *log.Logger) worker.CompletionHook {
	return func(_ context.Context, task worker.Task, c worker.Completion) {
		if c.Status != store.StatusCompleted {
			return
		}
		err := a.archive.Index(archive.Report{TaskID: task.ID, Topic: task.Topic, Body: c.Result, FinishedAt: time.Now()})
		if err != nil {
			logger.Printf("task %s: archive: %v", task.ID, err)
		}
	}
}

func (a *app) newProcessor(exec *worker.Executor) *worker.Processor {
	q := a.cfg.Queue
	logger := newLogger(a.cfg, "[QUEUE] ")
	cons := streams.NewConsumer(a.redis, a.registry, logger, q.Stream, q.Group, q.Consumer)
	return worker.NewProcessor(logger, a.store, cons, exec, worker.ProcessorConfig{
		Block:        q.Block,
		ReclaimIdle:  q.ReclaimIdle,
		ReclaimEvery: q.ReclaimInterval,
	})
}

func (a *app) newStreamDispatcher() *worker.StreamDispatcher {
	pub := streams.NewPublisher(a.redis, a.registry, a.cfg.Queue.MaxLen)
	return worker.NewStreamDispatcher(pub, a.cfg.Queue.Stream)
}
