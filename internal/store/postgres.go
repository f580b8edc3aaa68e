package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ankitraval/jobforge/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const jobColumns = `id, tenant_id, inspection_id, type, status, attempts, max_attempts,
	run_after, input, progress_percent, progress_message, result,
	error_code, error_message, error_details, idempotency_key,
	created_by_user_id, started_at, finished_at, created_at, updated_at`

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		j               models.Job
		progressPercent *int
		progressMessage *string
		errCode         *string
		errMessage      *string
		errDetails      []byte
	)
	err := row.Scan(&j.ID, &j.TenantID, &j.InspectionID, &j.Type, &j.Status,
		&j.Attempts, &j.MaxAttempts, &j.RunAfter, &j.Input,
		&progressPercent, &progressMessage, &j.Result,
		&errCode, &errMessage, &errDetails, &j.IdempotencyKey,
		&j.CreatedByUserID, &j.StartedAt, &j.FinishedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if progressPercent != nil || progressMessage != nil {
		p := models.Progress{}
		if progressPercent != nil {
			p.Percent = *progressPercent
		}
		if progressMessage != nil {
			p.Message = *progressMessage
		}
		j.Progress = &p
	}
	if errCode != nil {
		j.Error = &models.JobError{Code: *errCode, Details: errDetails}
		if errMessage != nil {
			j.Error.Message = *errMessage
		}
	}
	return &j, nil
}

// --- Creation and reads ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, tenant_id, inspection_id, type, status, attempts, max_attempts,
		                   run_after, input, idempotency_key, created_by_user_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		job.ID, job.TenantID, job.InspectionID, job.Type, job.Status, job.Attempts,
		job.MaxAttempts, job.RunAfter, job.Input, job.IdempotencyKey,
		job.CreatedByUserID, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// GetJob returns a job scoped to its owning tenant. A job owned by a
// different tenant is indistinguishable from an absent one.
func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetJobByID returns a job without tenant scoping. Worker-side only; the
// tenant boundary is enforced at the service layer for client reads.
func (s *PostgresStore) GetJobByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job by id: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error) {
	conditions := []string{"tenant_id = $1"}
	args := []any{filter.TenantID}
	argIdx := 2

	if filter.InspectionID != nil {
		conditions = append(conditions, fmt.Sprintf("inspection_id = $%d", argIdx))
		args = append(args, *filter.InspectionID)
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	query := fmt.Sprintf(`SELECT `+jobColumns+` FROM jobs WHERE %s ORDER BY created_at DESC LIMIT $%d`,
		strings.Join(conditions, " AND "), argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// --- Claim and finalize ---

// ClaimJob is the mutual-exclusion point of the engine. The conditional
// UPDATE commits for exactly one of N concurrent claimers; everyone else sees
// zero rows and backs off. Duplicate deliveries for terminal jobs land here
// too and are rejected the same way.
func (s *PostgresStore) ClaimJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE jobs
		    SET status = 'RUNNING', attempts = attempts + 1,
		        started_at = NOW(), updated_at = NOW()
		  WHERE id = $1 AND status = 'QUEUED' AND run_after <= NOW()
		 RETURNING `+jobColumns, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.classifyMiss(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// classifyMiss distinguishes "job does not exist" from "job exists but the
// conditional write did not apply".
func (s *PostgresStore) classifyMiss(ctx context.Context, id uuid.UUID) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("classify claim miss: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrNotClaimable
}

func (s *PostgresStore) MarkSucceeded(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs
		    SET status = 'SUCCEEDED', result = $2,
		        progress_percent = 100, progress_message = 'Complete',
		        error_code = NULL, error_message = NULL, error_details = NULL,
		        finished_at = NOW(), updated_at = NOW()
		  WHERE id = $1 AND status = 'RUNNING'`, id, result)
	if err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMiss(ctx, id)
	}
	return nil
}

func (s *PostgresStore) ScheduleRetry(ctx context.Context, id uuid.UUID, runAfter time.Time, jobErr models.JobError) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs
		    SET status = 'QUEUED', run_after = $2,
		        error_code = $3, error_message = $4, error_details = $5,
		        updated_at = NOW()
		  WHERE id = $1 AND status = 'RUNNING'`,
		id, runAfter, jobErr.Code, jobErr.Message, jobErr.Details)
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMiss(ctx, id)
	}
	return nil
}

func (s *PostgresStore) MarkDeadLetter(ctx context.Context, id uuid.UUID, jobErr models.JobError) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs
		    SET status = 'DEAD_LETTER',
		        error_code = $2, error_message = $3, error_details = $4,
		        finished_at = NOW(), updated_at = NOW()
		  WHERE id = $1 AND status = 'RUNNING'`,
		id, jobErr.Code, jobErr.Message, jobErr.Details)
	if err != nil {
		return fmt.Errorf("mark dead letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMiss(ctx, id)
	}
	return nil
}

// --- Cancellation ---

func (s *PostgresStore) CancelJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs
		    SET status = 'CANCELLED', finished_at = NOW(), updated_at = NOW()
		  WHERE id = $1 AND tenant_id = $2 AND status IN ('QUEUED', 'RUNNING')`,
		id, tenantID)
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// Either absent, wrong tenant, or already terminal.
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1 AND tenant_id = $2)`,
		id, tenantID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("cancel job lookup: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	// Terminal: cancellation never resurrects a finished job.
	return false, nil
}

// --- Progress ---

func (s *PostgresStore) UpdateProgress(ctx context.Context, id uuid.UUID, percent int, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs
		    SET progress_percent = $2, progress_message = $3, updated_at = NOW()
		  WHERE id = $1 AND status = 'RUNNING'`,
		id, percent, message)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMiss(ctx, id)
	}
	return nil
}

// --- Stuck-job sweep ---

// ResetStuckJobs reclaims jobs abandoned by crashed workers. SKIP LOCKED
// keeps concurrent sweeps from fighting over the same rows.
func (s *PostgresStore) ResetStuckJobs(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE jobs
		    SET status = 'QUEUED', run_after = NOW(),
		        progress_message = 'Re-queued after worker timeout',
		        updated_at = NOW()
		  WHERE id IN (
		        SELECT id FROM jobs
		         WHERE status = 'RUNNING' AND updated_at < $1
		         ORDER BY updated_at ASC
		         LIMIT $2
		           FOR UPDATE SKIP LOCKED)
		 RETURNING `+jobColumns, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("reset stuck jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stuck job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) ListUndelivered(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		  WHERE status = 'QUEUED' AND run_after < $1 AND updated_at < $1
		  ORDER BY run_after ASC
		  LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list undelivered jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan undelivered job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
