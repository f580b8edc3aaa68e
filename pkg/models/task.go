package models

import "github.com/google/uuid"

// Task is the payload delivered through the dispatch queue. Delivery is
// at-least-once: the same task may arrive more than once and arbitrarily late.
// The transactional claim on the job row is the sole correctness boundary; the
// idempotency key travels with the task for provenance and log correlation.
type Task struct {
	JobID          uuid.UUID `json:"job_id"`
	TenantID       uuid.UUID `json:"tenant_id"`
	IdempotencyKey uuid.UUID `json:"idempotency_key"`
}
