// Package service exposes the public job orchestration API: create, read,
// list, cancel, and the stuck-job sweep. The HTTP layer and the worker both
// sit on top of this package; neither talks to the store directly for these
// operations.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ankitraval/jobforge/internal/queue"
	"github.com/ankitraval/jobforge/internal/store"
	"github.com/ankitraval/jobforge/pkg/models"
)

// ErrValidation marks bad input at creation. The job is never persisted.
var ErrValidation = errors.New("validation failed")

// ErrDispatchFailed means the job row was persisted but the task enqueue
// failed. The creation is reported as failed so the caller does not hold an
// id it believes is in flight; the sweep's undelivered scan re-enqueues the
// orphaned row later.
var ErrDispatchFailed = errors.New("task dispatch failed")

// JobService orchestrates job lifecycle operations over the store and the
// dispatch queue. Persistence always happens before dispatch: a task must
// never reference a job that failed to persist.
type JobService struct {
	store              store.Store
	dispatcher         queue.Dispatcher
	defaultMaxAttempts int
}

// NewJobService creates a JobService. defaultMaxAttempts applies when a
// creation request does not set its own limit.
func NewJobService(st store.Store, d queue.Dispatcher, defaultMaxAttempts int) *JobService {
	return &JobService{
		store:              st,
		dispatcher:         d,
		defaultMaxAttempts: defaultMaxAttempts,
	}
}

// CreateJobParams holds the inputs for CreateJob. MaxAttempts of zero means
// the service default.
type CreateJobParams struct {
	TenantID        uuid.UUID
	Type            string
	Input           json.RawMessage
	InspectionID    *uuid.UUID
	CreatedByUserID *uuid.UUID
	MaxAttempts     int
}

// CreateJob persists a QUEUED job and dispatches a task for it.
func (s *JobService) CreateJob(ctx context.Context, params CreateJobParams) (*models.Job, error) {
	if err := validateCreate(params); err != nil {
		return nil, err
	}

	input := params.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = s.defaultMaxAttempts
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:              uuid.New(),
		TenantID:        params.TenantID,
		InspectionID:    params.InspectionID,
		Type:            params.Type,
		Status:          models.JobStatusQueued,
		Attempts:        0,
		MaxAttempts:     maxAttempts,
		RunAfter:        now,
		Input:           input,
		IdempotencyKey:  uuid.New(),
		CreatedByUserID: params.CreatedByUserID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	task := models.Task{
		JobID:          job.ID,
		TenantID:       job.TenantID,
		IdempotencyKey: job.IdempotencyKey,
	}
	if err := s.dispatcher.Enqueue(ctx, task, now); err != nil {
		return nil, fmt.Errorf("%w: job %s: %v", ErrDispatchFailed, job.ID, err)
	}

	slog.Info("job created",
		"job_id", job.ID,
		"tenant_id", job.TenantID,
		"type", job.Type,
		"idempotency_key", job.IdempotencyKey,
	)
	return job, nil
}

func validateCreate(params CreateJobParams) error {
	if params.TenantID == uuid.Nil {
		return fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if !models.ValidJobTypes[params.Type] {
		return fmt.Errorf("%w: unknown job type %q", ErrValidation, params.Type)
	}
	if len(params.Input) > 0 && !json.Valid(params.Input) {
		return fmt.Errorf("%w: input is not valid JSON", ErrValidation)
	}
	if params.MaxAttempts < 0 {
		return fmt.Errorf("%w: max attempts must not be negative", ErrValidation)
	}
	return nil
}

// GetJob returns the job scoped to the tenant. An absent job and a job owned
// by another tenant are both store.ErrNotFound: existence never leaks across
// tenants.
func (s *JobService) GetJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error) {
	return s.store.GetJob(ctx, id, tenantID)
}

// ListJobs returns the tenant's jobs newest-first, optionally filtered by
// inspection and status.
func (s *JobService) ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, error) {
	if filter.TenantID == uuid.Nil {
		return nil, fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if filter.Status != "" {
		valid := filter.Status == models.JobStatusQueued ||
			filter.Status == models.JobStatusRunning ||
			models.TerminalStatuses[filter.Status]
		if !valid {
			return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, filter.Status)
		}
	}
	return s.store.ListJobs(ctx, filter)
}

// CancelJob marks a QUEUED or RUNNING job CANCELLED. Cancelling an already
// terminal job is a silent no-op; cancellation is cooperative and does not
// interrupt an in-flight handler. Returns store.ErrNotFound when the job is
// absent or belongs to another tenant.
func (s *JobService) CancelJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	cancelled, err := s.store.CancelJob(ctx, id, tenantID)
	if err != nil {
		return err
	}
	if cancelled {
		slog.Info("job cancelled", "job_id", id, "tenant_id", tenantID)
	}
	return nil
}

const sweepBatch = 500

// RequeueStuckJobs recovers work abandoned by crashed workers: every RUNNING
// job untouched for longer than olderThan is reset to QUEUED and re-dispatched.
// It also re-enqueues QUEUED jobs that became runnable before the cutoff but
// were never delivered (a dispatch lost after a successful persist). Safe to
// run concurrently with live workers: a false-positive reset is bounded by
// choosing olderThan well above the slowest handler, and re-dispatch is
// idempotent with respect to the claim step.
func (s *JobService) RequeueStuckJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	reset, err := s.store.ResetStuckJobs(ctx, cutoff, sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	for _, job := range reset {
		slog.Warn("re-queued stuck job",
			"job_id", job.ID,
			"tenant_id", job.TenantID,
			"attempts", job.Attempts,
		)
		s.redispatch(ctx, job)
	}

	undelivered, err := s.store.ListUndelivered(ctx, cutoff, sweepBatch)
	if err != nil {
		return len(reset), fmt.Errorf("list undelivered jobs: %w", err)
	}
	for _, job := range undelivered {
		slog.Warn("re-dispatched undelivered job", "job_id", job.ID, "tenant_id", job.TenantID)
		s.redispatch(ctx, job)
	}

	return len(reset), nil
}

// redispatch enqueues a task for an existing job. Failures are logged, not
// returned: the next sweep converges on the same jobs.
func (s *JobService) redispatch(ctx context.Context, job *models.Job) {
	task := models.Task{
		JobID:          job.ID,
		TenantID:       job.TenantID,
		IdempotencyKey: job.IdempotencyKey,
	}
	if err := s.dispatcher.Enqueue(ctx, task, job.RunAfter); err != nil {
		slog.Error("re-dispatch failed", "job_id", job.ID, "error", err)
	}
}
