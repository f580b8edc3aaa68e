package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job statuses. A job only ever moves forward:
// QUEUED -> RUNNING -> {SUCCEEDED | QUEUED (retry) | DEAD_LETTER},
// with QUEUED|RUNNING -> CANCELLED as an externally-triggered side transition.
const (
	JobStatusQueued     = "QUEUED"
	JobStatusRunning    = "RUNNING"
	JobStatusSucceeded  = "SUCCEEDED"
	JobStatusFailed     = "FAILED"
	JobStatusCancelled  = "CANCELLED"
	JobStatusDeadLetter = "DEAD_LETTER"
)

// Job types. Each type maps to exactly one registered handler.
const (
	JobTypeAnalyzeRoom       = "ANALYZE_ROOM"
	JobTypeAnalyzeInspection = "ANALYZE_INSPECTION"
	JobTypeGenerateReport    = "GENERATE_REPORT"
)

// ValidJobTypes is the closed set of job types accepted at creation.
var ValidJobTypes = map[string]bool{
	JobTypeAnalyzeRoom:       true,
	JobTypeAnalyzeInspection: true,
	JobTypeGenerateReport:    true,
}

// TerminalStatuses are statuses a job never leaves. Cancelling a job in one of
// these states is a silent no-op; a delivered task for one is dropped.
var TerminalStatuses = map[string]bool{
	JobStatusSucceeded:  true,
	JobStatusFailed:     true,
	JobStatusCancelled:  true,
	JobStatusDeadLetter: true,
}

// Error codes recorded on a job document.
const (
	ErrCodeRetryable           = "RETRYABLE_ERROR"
	ErrCodeMaxAttemptsExceeded = "MAX_ATTEMPTS_EXCEEDED"
)

// Progress is the last progress report from the currently-executing handler.
type Progress struct {
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// JobError describes why a job failed or was dead-lettered.
type JobError struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

// Job is a persisted unit of asynchronous work. The API returns a job id on
// POST /api/v1/jobs; the client polls GET /api/v1/jobs/{id} until the status
// is terminal. All mutation happens through store transactions; the store is
// the single source of truth and the only synchronization point.
type Job struct {
	ID              uuid.UUID       `db:"id"                 json:"id"`
	TenantID        uuid.UUID       `db:"tenant_id"          json:"tenant_id"`
	InspectionID    *uuid.UUID      `db:"inspection_id"      json:"inspection_id,omitempty"`
	Type            string          `db:"type"               json:"type"`
	Status          string          `db:"status"             json:"status"`
	Attempts        int             `db:"attempts"           json:"attempts"`
	MaxAttempts     int             `db:"max_attempts"       json:"max_attempts"`
	RunAfter        time.Time       `db:"run_after"          json:"run_after"`
	Input           json.RawMessage `db:"input"              json:"input"`
	Progress        *Progress       `db:"-"                  json:"progress,omitempty"`
	Result          json.RawMessage `db:"result"             json:"result,omitempty"`
	Error           *JobError       `db:"-"                  json:"error,omitempty"`
	IdempotencyKey  uuid.UUID       `db:"idempotency_key"    json:"idempotency_key"`
	CreatedByUserID *uuid.UUID      `db:"created_by_user_id" json:"created_by_user_id,omitempty"`
	StartedAt       *time.Time      `db:"started_at"         json:"started_at,omitempty"`
	FinishedAt      *time.Time      `db:"finished_at"        json:"finished_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at"         json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"         json:"updated_at"`
}

// Terminal reports whether the job is in a state it will never leave.
func (j *Job) Terminal() bool {
	return TerminalStatuses[j.Status]
}
