package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankitraval/jobforge/internal/service"
	"github.com/ankitraval/jobforge/internal/store"
	"github.com/ankitraval/jobforge/pkg/models"
)

// --- mocks ---

// opLog records the order of store writes and dispatcher enqueues so tests
// can assert the persist-happens-before-dispatch ordering.
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) record(op string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
}

func (l *opLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

type mockStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job
	log  *opLog

	createErr error

	stuck       []*models.Job
	undelivered []*models.Job
}

func newMockStore(log *opLog) *mockStore {
	return &mockStore{jobs: make(map[uuid.UUID]*models.Job), log: log}
}

func (s *mockStore) Ping(_ context.Context) error { return nil }

func (s *mockStore) CreateJob(_ context.Context, job *models.Job) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	s.log.record("create:" + job.ID.String())
	return nil
}

func (s *mockStore) GetJob(_ context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *mockStore) GetJobByID(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *mockStore) ListJobs(_ context.Context, filter store.JobFilter) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, job := range s.jobs {
		if job.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		cp := *job
		out = append(out, &cp)
	}
	return out, nil
}

func (s *mockStore) ClaimJob(_ context.Context, _ uuid.UUID) (*models.Job, error) {
	return nil, store.ErrNotClaimable
}

func (s *mockStore) MarkSucceeded(_ context.Context, _ uuid.UUID, _ json.RawMessage) error {
	return nil
}

func (s *mockStore) ScheduleRetry(_ context.Context, _ uuid.UUID, _ time.Time, _ models.JobError) error {
	return nil
}

func (s *mockStore) MarkDeadLetter(_ context.Context, _ uuid.UUID, _ models.JobError) error {
	return nil
}

func (s *mockStore) CancelJob(_ context.Context, id uuid.UUID, tenantID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.TenantID != tenantID {
		return false, store.ErrNotFound
	}
	if job.Terminal() {
		return false, nil
	}
	job.Status = models.JobStatusCancelled
	return true, nil
}

func (s *mockStore) UpdateProgress(_ context.Context, _ uuid.UUID, _ int, _ string) error {
	return nil
}

func (s *mockStore) ResetStuckJobs(_ context.Context, _ time.Time, _ int) ([]*models.Job, error) {
	return s.stuck, nil
}

func (s *mockStore) ListUndelivered(_ context.Context, _ time.Time, _ int) ([]*models.Job, error) {
	return s.undelivered, nil
}

type mockDispatcher struct {
	mu         sync.Mutex
	calls      []models.Task
	notBefores []time.Time
	log        *opLog
	enqueueErr error
}

func (d *mockDispatcher) Enqueue(_ context.Context, task models.Task, notBefore time.Time) error {
	if d.enqueueErr != nil {
		return d.enqueueErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, task)
	d.notBefores = append(d.notBefores, notBefore)
	if d.log != nil {
		d.log.record("enqueue:" + task.JobID.String())
	}
	return nil
}

func (d *mockDispatcher) Dequeue(_ context.Context, _ time.Duration) (*models.Task, error) {
	return nil, nil
}

func (d *mockDispatcher) PromoteDue(_ context.Context, _ time.Time, _ int) (int, error) {
	return 0, nil
}

func (d *mockDispatcher) Ping(_ context.Context) error { return nil }

// --- helpers ---

func newService(t *testing.T) (*service.JobService, *mockStore, *mockDispatcher) {
	t.Helper()
	log := &opLog{}
	st := newMockStore(log)
	d := &mockDispatcher{log: log}
	return service.NewJobService(st, d, 3), st, d
}

// --- tests ---

func TestCreateJob_PersistsBeforeDispatch(t *testing.T) {
	svc, st, _ := newService(t)

	job, err := svc.CreateJob(context.Background(), service.CreateJobParams{
		TenantID: uuid.New(),
		Type:     models.JobTypeAnalyzeRoom,
		Input:    json.RawMessage(`{"room_id":"r1"}`),
	})
	require.NoError(t, err)

	ops := st.log.list()
	require.Len(t, ops, 2)
	assert.Equal(t, "create:"+job.ID.String(), ops[0])
	assert.Equal(t, "enqueue:"+job.ID.String(), ops[1])
}

func TestCreateJob_Defaults(t *testing.T) {
	svc, _, d := newService(t)

	job, err := svc.CreateJob(context.Background(), service.CreateJobParams{
		TenantID: uuid.New(),
		Type:     models.JobTypeGenerateReport,
	})
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, 0, job.Attempts)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.NotEqual(t, uuid.Nil, job.ID)
	assert.NotEqual(t, uuid.Nil, job.IdempotencyKey)
	assert.JSONEq(t, `{}`, string(job.Input))
	assert.WithinDuration(t, time.Now(), job.RunAfter, 2*time.Second)

	require.Len(t, d.calls, 1)
	assert.Equal(t, job.ID, d.calls[0].JobID)
	assert.Equal(t, job.IdempotencyKey, d.calls[0].IdempotencyKey)
}

func TestCreateJob_Validation(t *testing.T) {
	svc, st, _ := newService(t)

	tests := []struct {
		name   string
		params service.CreateJobParams
	}{
		{"missing tenant", service.CreateJobParams{Type: models.JobTypeAnalyzeRoom}},
		{"unknown type", service.CreateJobParams{TenantID: uuid.New(), Type: "MINE_BITCOIN"}},
		{"invalid input", service.CreateJobParams{TenantID: uuid.New(), Type: models.JobTypeAnalyzeRoom, Input: json.RawMessage(`{oops`)}},
		{"negative attempts", service.CreateJobParams{TenantID: uuid.New(), Type: models.JobTypeAnalyzeRoom, MaxAttempts: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateJob(context.Background(), tt.params)
			require.ErrorIs(t, err, service.ErrValidation)
		})
	}
	assert.Empty(t, st.jobs, "no job may be persisted on validation failure")
}

func TestCreateJob_DispatchFailurePropagates(t *testing.T) {
	svc, st, d := newService(t)
	d.enqueueErr = errors.New("redis down")

	_, err := svc.CreateJob(context.Background(), service.CreateJobParams{
		TenantID: uuid.New(),
		Type:     models.JobTypeAnalyzeRoom,
	})
	require.ErrorIs(t, err, service.ErrDispatchFailed)

	// The row was persisted before the failed dispatch; the sweep's
	// undelivered scan will pick it up.
	assert.Len(t, st.jobs, 1)
	for _, job := range st.jobs {
		assert.Equal(t, models.JobStatusQueued, job.Status)
	}
}

func TestGetJob_TenantIsolationByOmission(t *testing.T) {
	svc, st, _ := newService(t)
	tenant := uuid.New()

	job, err := svc.CreateJob(context.Background(), service.CreateJobParams{
		TenantID: tenant,
		Type:     models.JobTypeAnalyzeRoom,
	})
	require.NoError(t, err)

	got, err := svc.GetJob(context.Background(), job.ID, tenant)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	// A different tenant sees absence, not an authorization error.
	_, err = svc.GetJob(context.Background(), job.ID, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
	_ = st
}

func TestListJobs_RequiresTenantAndValidStatus(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.ListJobs(context.Background(), store.JobFilter{})
	require.ErrorIs(t, err, service.ErrValidation)

	_, err = svc.ListJobs(context.Background(), store.JobFilter{
		TenantID: uuid.New(),
		Status:   "SORT_OF_DONE",
	})
	require.ErrorIs(t, err, service.ErrValidation)

	_, err = svc.ListJobs(context.Background(), store.JobFilter{
		TenantID: uuid.New(),
		Status:   models.JobStatusDeadLetter,
	})
	require.NoError(t, err)
}

func TestCancelJob_NoResurrection(t *testing.T) {
	svc, st, _ := newService(t)
	tenant := uuid.New()

	job, err := svc.CreateJob(context.Background(), service.CreateJobParams{
		TenantID: tenant,
		Type:     models.JobTypeAnalyzeRoom,
	})
	require.NoError(t, err)

	// Finished jobs stay finished.
	st.jobs[job.ID].Status = models.JobStatusSucceeded
	require.NoError(t, svc.CancelJob(context.Background(), job.ID, tenant))
	assert.Equal(t, models.JobStatusSucceeded, st.jobs[job.ID].Status)

	// Live jobs cancel.
	st.jobs[job.ID].Status = models.JobStatusRunning
	require.NoError(t, svc.CancelJob(context.Background(), job.ID, tenant))
	assert.Equal(t, models.JobStatusCancelled, st.jobs[job.ID].Status)

	// Absent or foreign jobs are NotFound.
	err = svc.CancelJob(context.Background(), uuid.New(), tenant)
	assert.ErrorIs(t, err, store.ErrNotFound)
	err = svc.CancelJob(context.Background(), job.ID, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRequeueStuckJobs_ResetsAndRedispatches(t *testing.T) {
	svc, st, d := newService(t)

	stuck := &models.Job{
		ID:             uuid.New(),
		TenantID:       uuid.New(),
		Status:         models.JobStatusQueued, // post-reset snapshot
		RunAfter:       time.Now().UTC(),
		IdempotencyKey: uuid.New(),
	}
	st.stuck = []*models.Job{stuck}

	count, err := svc.RequeueStuckJobs(context.Background(), 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.Len(t, d.calls, 1)
	assert.Equal(t, stuck.ID, d.calls[0].JobID)
	assert.Equal(t, stuck.IdempotencyKey, d.calls[0].IdempotencyKey)
}

func TestRequeueStuckJobs_RedeliversUndeliveredQueued(t *testing.T) {
	svc, st, d := newService(t)

	orphan := &models.Job{
		ID:             uuid.New(),
		TenantID:       uuid.New(),
		Status:         models.JobStatusQueued,
		RunAfter:       time.Now().UTC().Add(-time.Hour),
		IdempotencyKey: uuid.New(),
	}
	st.undelivered = []*models.Job{orphan}

	count, err := svc.RequeueStuckJobs(context.Background(), 15*time.Minute)
	require.NoError(t, err)

	// Undelivered re-dispatch does not count as a stuck reset.
	assert.Equal(t, 0, count)
	require.Len(t, d.calls, 1)
	assert.Equal(t, orphan.ID, d.calls[0].JobID)
}

func TestRequeueStuckJobs_DispatchFailureDoesNotAbortSweep(t *testing.T) {
	svc, st, d := newService(t)
	d.enqueueErr = errors.New("redis down")

	st.stuck = []*models.Job{
		{ID: uuid.New(), TenantID: uuid.New(), IdempotencyKey: uuid.New()},
		{ID: uuid.New(), TenantID: uuid.New(), IdempotencyKey: uuid.New()},
	}

	count, err := svc.RequeueStuckJobs(context.Background(), 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
