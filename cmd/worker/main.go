// Package main is the entrypoint for the JobForge worker: a blocking consumer
// loop that feeds delivered tasks to the execution engine, one at a time.
// Scale out by running more worker processes; the transactional claim keeps
// overlapping deliveries safe.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ankitraval/jobforge/internal/backoff"
	"github.com/ankitraval/jobforge/internal/config"
	"github.com/ankitraval/jobforge/internal/handlers"
	"github.com/ankitraval/jobforge/internal/queue"
	"github.com/ankitraval/jobforge/internal/service"
	"github.com/ankitraval/jobforge/internal/store"
	"github.com/ankitraval/jobforge/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	dispatcher, err := queue.NewRedisDispatcher(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}
	defer dispatcher.Close()

	if err := dispatcher.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	registry := worker.NewRegistry()
	if err := handlers.Register(registry); err != nil {
		return fmt.Errorf("register handlers: %w", err)
	}
	slog.Info("handlers registered", "types", registry.Types())

	pgStore := store.NewPostgresStore(pool)
	jobService := service.NewJobService(pgStore, dispatcher, cfg.Jobs.DefaultMaxAttempts)
	w := worker.New(pgStore, dispatcher, registry, backoff.Default(), jobService)

	slog.Info("worker started")
	for {
		task, err := dispatcher.Dequeue(ctx, cfg.Jobs.DequeueBlock)
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			slog.Error("dequeue failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if task == nil {
			continue
		}

		if err := w.Process(ctx, *task); err != nil {
			// Infrastructure error: the job row was not marked failed. The
			// delivery is dropped; the stuck-job sweep recovers the claim if
			// one was taken.
			slog.Error("task processing failed", "job_id", task.JobID, "error", err)
		}
	}

	slog.Info("worker stopped gracefully")
	return nil
}
