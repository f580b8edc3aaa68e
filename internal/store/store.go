package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ankitraval/jobforge/pkg/models"
)

var ErrNotFound = errors.New("resource not found")

// ErrNotClaimable means the job exists but the conditional write did not
// apply: another worker holds the claim, the job is terminal, or its run_after
// is still in the future. Callers treat this as "lost the race", not a failure.
var ErrNotClaimable = errors.New("job not claimable")

// Store is the data access interface. All database operations go through here.
// Every status transition is a conditional single-row write, so the database
// is the only synchronization point; no in-process locks exist anywhere.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error)
	GetJobByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error)

	// ClaimJob atomically transitions QUEUED -> RUNNING and increments
	// attempts. Exactly one of N concurrent claims succeeds; the rest get
	// ErrNotClaimable. Returns the post-claim row.
	ClaimJob(ctx context.Context, id uuid.UUID) (*models.Job, error)

	// MarkSucceeded finalizes a RUNNING job. ErrNotClaimable if the job left
	// RUNNING in the meantime (e.g. cancelled), so a late finalize never
	// overwrites CANCELLED.
	MarkSucceeded(ctx context.Context, id uuid.UUID, result json.RawMessage) error

	// ScheduleRetry moves a RUNNING job back to QUEUED with a new run_after.
	ScheduleRetry(ctx context.Context, id uuid.UUID, runAfter time.Time, jobErr models.JobError) error

	// MarkDeadLetter terminally fails a RUNNING job after exhausted attempts.
	MarkDeadLetter(ctx context.Context, id uuid.UUID, jobErr models.JobError) error

	// CancelJob sets CANCELLED if the job is still QUEUED or RUNNING.
	// Returns false (and no error) when the job is already terminal;
	// ErrNotFound when absent or owned by a different tenant.
	CancelJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (bool, error)

	// UpdateProgress durably records handler progress. Only a RUNNING job
	// accepts progress.
	UpdateProgress(ctx context.Context, id uuid.UUID, percent int, message string) error

	// ResetStuckJobs re-queues RUNNING jobs whose updated_at is older than
	// cutoff and returns the reset rows so the caller can re-dispatch them.
	ResetStuckJobs(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error)

	// ListUndelivered returns QUEUED jobs that became runnable before cutoff
	// and have not been touched since, i.e. jobs whose dispatch was likely
	// lost. Read-only; the caller re-enqueues them.
	ListUndelivered(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error)
}

// JobFilter narrows ListJobs. TenantID is mandatory; the rest are optional.
type JobFilter struct {
	TenantID     uuid.UUID
	InspectionID *uuid.UUID
	Status       string
	Limit        int
}
