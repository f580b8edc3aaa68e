// Package worker contains the execution engine invoked once per delivered
// task: claim the job transactionally, run its handler, finalize the outcome.
// Correctness under at-least-once delivery rests entirely on the conditional
// claim; everything after it tolerates duplicates and races by re-checking
// status on every write.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ankitraval/jobforge/internal/backoff"
	"github.com/ankitraval/jobforge/internal/queue"
	"github.com/ankitraval/jobforge/internal/service"
	"github.com/ankitraval/jobforge/internal/store"
	"github.com/ankitraval/jobforge/pkg/models"
)

// JobCreator creates chained follow-on jobs. Satisfied by *service.JobService.
type JobCreator interface {
	CreateJob(ctx context.Context, params service.CreateJobParams) (*models.Job, error)
}

// Worker processes delivered tasks.
type Worker struct {
	store      store.Store
	dispatcher queue.Dispatcher
	registry   *Registry
	backoff    backoff.Strategy
	jobs       JobCreator
}

// New creates a Worker.
func New(st store.Store, d queue.Dispatcher, reg *Registry, b backoff.Strategy, jobs JobCreator) *Worker {
	return &Worker{
		store:      st,
		dispatcher: d,
		registry:   reg,
		backoff:    b,
		jobs:       jobs,
	}
}

// Process handles one delivered task end to end. A nil return means the task
// is consumed: either the job ran to a finalized outcome, or the delivery was
// a duplicate/late one and was dropped. A non-nil return is an infrastructure
// error and the job document was not marked failed because of it.
func (w *Worker) Process(ctx context.Context, task models.Task) error {
	job, err := w.store.ClaimJob(ctx, task.JobID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("task references unknown job", "job_id", task.JobID)
		return nil
	}
	if errors.Is(err, store.ErrNotClaimable) {
		return w.handleClaimRejection(ctx, task)
	}
	if err != nil {
		return fmt.Errorf("claim job %s: %w", task.JobID, err)
	}

	// The RETURNING row is the post-transaction read; anything but RUNNING
	// means the claim did not actually take effect.
	if job.Status != models.JobStatusRunning {
		slog.Warn("claimed job not running, dropping task",
			"job_id", job.ID, "status", job.Status)
		return nil
	}
	if task.IdempotencyKey != job.IdempotencyKey {
		slog.Warn("task idempotency key does not match job",
			"job_id", job.ID, "task_key", task.IdempotencyKey, "job_key", job.IdempotencyKey)
	}

	slog.Info("job claimed",
		"job_id", job.ID,
		"tenant_id", job.TenantID,
		"type", job.Type,
		"attempt", job.Attempts,
		"max_attempts", job.MaxAttempts,
	)

	result, handlerErr := w.invoke(ctx, job)
	if handlerErr != nil {
		return w.finalizeFailure(ctx, job, handlerErr)
	}
	return w.finalizeSuccess(ctx, job, result)
}

// handleClaimRejection decides what a rejected claim means. A delivery can
// arrive ahead of the job's run_after (the whole-second queue clock runs
// coarser than the store's); consuming it would strand the job as QUEUED
// until the undelivered sweep, so it is re-enqueued at the due time instead.
// Everything else is a duplicate delivery, a lost race, or a terminal job,
// and the delivery is dropped.
func (w *Worker) handleClaimRejection(ctx context.Context, task models.Task) error {
	job, err := w.store.GetJobByID(ctx, task.JobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("re-read job %s after claim miss: %w", task.JobID, err)
	}

	if job.Status == models.JobStatusQueued && job.RunAfter.After(time.Now()) {
		slog.Info("task delivered before run_after, re-enqueueing",
			"job_id", job.ID, "run_after", job.RunAfter)
		if err := w.dispatcher.Enqueue(ctx, task, job.RunAfter); err != nil {
			// The row stays QUEUED; the undelivered sweep converges on it.
			slog.Error("early-delivery re-enqueue failed", "job_id", job.ID, "error", err)
		}
		return nil
	}

	slog.Debug("claim rejected, dropping task",
		"job_id", task.JobID, "idempotency_key", task.IdempotencyKey)
	return nil
}

// invoke looks up and runs the handler, converting panics into errors so a
// misbehaving handler lands on the regular retry path.
func (w *Worker) invoke(ctx context.Context, job *models.Job) (result *Result, err error) {
	handler, ok := w.registry.Get(job.Type)
	if !ok {
		return nil, fmt.Errorf("no handler registered for job type %q", job.Type)
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("handler panicked", "job_id", job.ID, "panic", r)
			result = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return handler(ctx, job, w.progressFunc(job))
}

// progressFunc returns the durable progress callback for one job. Progress
// writes go straight to the store: observability must survive a worker crash.
func (w *Worker) progressFunc(job *models.Job) ProgressFunc {
	return func(ctx context.Context, percent int, message string) error {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		err := w.store.UpdateProgress(ctx, job.ID, percent, message)
		if errors.Is(err, store.ErrNotClaimable) {
			// Job was cancelled under the handler; progress is moot.
			return nil
		}
		return err
	}
}

// finalizeSuccess persists chained children, then marks the parent done.
// The ordering is the point: children must be durable before the parent is
// SUCCEEDED, so a crash in between loses nothing.
func (w *Worker) finalizeSuccess(ctx context.Context, job *models.Job, result *Result) error {
	var output json.RawMessage
	if result != nil {
		output = result.Output

		for _, child := range result.Children {
			created, err := w.jobs.CreateJob(ctx, child)
			if err != nil {
				// Child creation is part of the execution: fail the attempt
				// so the whole unit retries. Re-execution may duplicate
				// children; chaining is at-least-once by design.
				return w.finalizeFailure(ctx, job, fmt.Errorf("create chained job: %w", err))
			}
			slog.Info("chained job created",
				"parent_job_id", job.ID, "child_job_id", created.ID, "type", created.Type)
		}
	}

	err := w.store.MarkSucceeded(ctx, job.ID, output)
	if errors.Is(err, store.ErrNotClaimable) {
		// Cancelled while the handler ran; never overwrite CANCELLED.
		slog.Info("job left RUNNING before finalize, keeping its state", "job_id", job.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("finalize job %s: %w", job.ID, err)
	}

	slog.Info("job succeeded", "job_id", job.ID, "attempt", job.Attempts)
	return nil
}

// finalizeFailure retries the job with backoff, or dead-letters it once
// attempts are exhausted. Every handler error is retryable until then.
func (w *Worker) finalizeFailure(ctx context.Context, job *models.Job, handlerErr error) error {
	if job.Attempts >= job.MaxAttempts {
		details, _ := json.Marshal(map[string]any{
			"attempts":   job.Attempts,
			"last_error": handlerErr.Error(),
		})
		err := w.store.MarkDeadLetter(ctx, job.ID, models.JobError{
			Code:    models.ErrCodeMaxAttemptsExceeded,
			Message: fmt.Sprintf("gave up after %d attempts", job.Attempts),
			Details: details,
		})
		if errors.Is(err, store.ErrNotClaimable) {
			slog.Info("job left RUNNING before dead-letter, keeping its state", "job_id", job.ID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("dead-letter job %s: %w", job.ID, err)
		}
		slog.Error("job dead-lettered",
			"job_id", job.ID, "attempts", job.Attempts, "error", handlerErr)
		return nil
	}

	delay := w.backoff.Delay(job.Attempts)
	runAfter := time.Now().UTC().Add(delay)

	err := w.store.ScheduleRetry(ctx, job.ID, runAfter, models.JobError{
		Code:    models.ErrCodeRetryable,
		Message: handlerErr.Error(),
	})
	if errors.Is(err, store.ErrNotClaimable) {
		slog.Info("job left RUNNING before retry scheduling, keeping its state", "job_id", job.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("schedule retry for job %s: %w", job.ID, err)
	}

	task := models.Task{
		JobID:          job.ID,
		TenantID:       job.TenantID,
		IdempotencyKey: job.IdempotencyKey,
	}
	if err := w.dispatcher.Enqueue(ctx, task, runAfter); err != nil {
		// The row is QUEUED either way; the sweep's undelivered scan
		// re-enqueues it if this delivery never materializes.
		slog.Error("retry dispatch failed", "job_id", job.ID, "error", err)
	}

	slog.Warn("job scheduled for retry",
		"job_id", job.ID,
		"attempt", job.Attempts,
		"delay", delay,
		"error", handlerErr,
	)
	return nil
}
