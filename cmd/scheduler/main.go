// Package main is the entrypoint for the JobForge scheduler: a singleton loop
// that promotes due delayed tasks into the ready queue and sweeps stuck jobs.
// A Postgres advisory lock keeps at most one scheduler active; standbys keep
// retrying the lock and take over if the leader dies.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ankitraval/jobforge/internal/config"
	"github.com/ankitraval/jobforge/internal/queue"
	"github.com/ankitraval/jobforge/internal/service"
	"github.com/ankitraval/jobforge/internal/store"
)

// schedulerLockKey is the advisory lock id shared by all scheduler instances.
const schedulerLockKey = 7342001

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("scheduler failed", "error", err)
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

	pgStore := store.NewPostgresStore(pool)
	jobService := service.NewJobService(pgStore, dispatcher, cfg.Jobs.DefaultMaxAttempts)

	// The advisory lock lives on a dedicated connection for the process
	// lifetime; losing the connection releases the lock for a standby.
	lockConn, err := acquireLeadership(ctx, pool)
	if err != nil {
		return err
	}
	defer lockConn.Release()
	slog.Info("scheduler leadership acquired")

	ticker := time.NewTicker(cfg.Jobs.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped gracefully")
			return nil
		case <-ticker.C:
		}

		promoted, err := dispatcher.PromoteDue(ctx, time.Now().UTC(), cfg.Jobs.PromoteBatch)
		if err != nil {
			slog.Error("promote due tasks failed", "error", err)
		} else if promoted > 0 {
			slog.Info("promoted due tasks", "count", promoted)
		}

		requeued, err := jobService.RequeueStuckJobs(ctx, cfg.Jobs.StuckAfter)
		if err != nil {
			slog.Error("stuck-job sweep failed", "error", err)
		} else if requeued > 0 {
			slog.Info("stuck-job sweep finished", "requeued", requeued)
		}
	}
}

// acquireLeadership blocks until this instance holds the scheduler advisory
// lock, polling so a standby takes over promptly when the leader exits.
func acquireLeadership(ctx context.Context, pool *pgxpool.Pool) (*pgxpool.Conn, error) {
	for {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire lock connection: %w", err)
		}

		var locked bool
		if err := conn.QueryRow(ctx,
			`SELECT pg_try_advisory_lock($1)`, schedulerLockKey).Scan(&locked); err != nil {
			conn.Release()
			return nil, fmt.Errorf("try advisory lock: %w", err)
		}
		if locked {
			return conn, nil
		}
		conn.Release()

		slog.Info("another scheduler is active, standing by")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Second):
		}
	}
}
