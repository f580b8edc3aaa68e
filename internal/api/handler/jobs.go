// Package handler translates HTTP requests into Job Service calls. No
// orchestration logic lives here: handlers validate the transport shape, call
// the service, and map typed errors onto response envelopes.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/ankitraval/jobforge/internal/api/middleware"
	"github.com/ankitraval/jobforge/internal/api/response"
	"github.com/ankitraval/jobforge/internal/service"
	"github.com/ankitraval/jobforge/internal/store"
	"github.com/ankitraval/jobforge/pkg/models"
)

// JobService is the slice of the service layer the HTTP surface needs.
type JobService interface {
	CreateJob(ctx context.Context, params service.CreateJobParams) (*models.Job, error)
	GetJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, error)
	CancelJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error
}

// Jobs holds the job endpoints.
type Jobs struct {
	svc JobService
}

// NewJobs creates the job endpoint handlers.
func NewJobs(svc JobService) *Jobs {
	return &Jobs{svc: svc}
}

type createJobRequest struct {
	Type         string          `json:"type"`
	Input        json.RawMessage `json:"input"`
	InspectionID *uuid.UUID      `json:"inspection_id,omitempty"`
	MaxAttempts  int             `json:"max_attempts,omitempty"`
}

// Create handles POST /api/v1/jobs.
func (h *Jobs) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := mw.GetTenantID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "MISSING_TENANT", "tenant not resolved", nil)
		return
	}

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_BODY", "request body must be valid JSON", nil)
		return
	}

	params := service.CreateJobParams{
		TenantID:     tenantID,
		Type:         req.Type,
		Input:        req.Input,
		InspectionID: req.InspectionID,
		MaxAttempts:  req.MaxAttempts,
	}
	if userID, ok := mw.GetUserID(r); ok {
		params.CreatedByUserID = &userID
	}

	job, err := h.svc.CreateJob(r.Context(), params)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.Created(w, job)
}

// Get handles GET /api/v1/jobs/{jobID}.
func (h *Jobs) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := mw.GetTenantID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "MISSING_TENANT", "tenant not resolved", nil)
		return
	}
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_ID", "job id must be a UUID", nil)
		return
	}

	job, err := h.svc.GetJob(r.Context(), jobID, tenantID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	response.JSON(w, job)
}

// List handles GET /api/v1/jobs.
func (h *Jobs) List(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := mw.GetTenantID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "MISSING_TENANT", "tenant not resolved", nil)
		return
	}

	filter := store.JobFilter{
		TenantID: tenantID,
		Status:   r.URL.Query().Get("status"),
	}
	if raw := r.URL.Query().Get("inspection_id"); raw != "" {
		inspectionID, err := uuid.Parse(raw)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_ID", "inspection_id must be a UUID", nil)
			return
		}
		filter.InspectionID = &inspectionID
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			response.Error(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", nil)
			return
		}
		// The store clamps the upper bound.
		filter.Limit = limit
	}

	jobs, err := h.svc.ListJobs(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	response.JSON(w, jobs)
}

// Cancel handles DELETE /api/v1/jobs/{jobID}.
func (h *Jobs) Cancel(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := mw.GetTenantID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "MISSING_TENANT", "tenant not resolved", nil)
		return
	}
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_ID", "job id must be a UUID", nil)
		return
	}

	if err := h.svc.CancelJob(r.Context(), jobID, tenantID); err != nil {
		writeServiceError(w, err)
		return
	}
	response.NoContent(w)
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "job not found", nil)
	case errors.Is(err, service.ErrDispatchFailed):
		slog.Error("job dispatch failed", "error", err)
		response.Error(w, http.StatusServiceUnavailable, "DISPATCH_FAILED",
			"job could not be scheduled, try again", nil)
	default:
		slog.Error("job request failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
