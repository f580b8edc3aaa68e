package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ankitraval/jobforge/internal/worker"
	"github.com/ankitraval/jobforge/pkg/models"
)

type generateReportInput struct {
	InspectionID uuid.UUID          `json:"inspection_id"`
	RoomScores   map[string]float64 `json:"room_scores"`
	OverallScore float64            `json:"overall_score"`
}

type reportSection struct {
	RoomID string  `json:"room_id"`
	Score  float64 `json:"score"`
	Rating string  `json:"rating"`
}

type generateReportResult struct {
	InspectionID  uuid.UUID       `json:"inspection_id"`
	GeneratedAt   time.Time       `json:"generated_at"`
	OverallRating string          `json:"overall_rating"`
	Sections      []reportSection `json:"sections"`
}

// GenerateReport renders a structured condition report from per-room scores.
// Usually chained from ANALYZE_INSPECTION, but callable directly.
func GenerateReport(ctx context.Context, job *models.Job, report worker.ProgressFunc) (*worker.Result, error) {
	var input generateReportInput
	if err := json.Unmarshal(job.Input, &input); err != nil {
		return nil, fmt.Errorf("parse report input: %w", err)
	}
	if input.InspectionID == uuid.Nil {
		return nil, fmt.Errorf("report input missing inspection_id")
	}

	if err := report(ctx, 20, "Rendering report sections"); err != nil {
		return nil, err
	}

	result := generateReportResult{
		InspectionID:  input.InspectionID,
		GeneratedAt:   time.Now().UTC(),
		OverallRating: rating(input.OverallScore),
		Sections:      make([]reportSection, 0, len(input.RoomScores)),
	}
	for roomID, score := range input.RoomScores {
		result.Sections = append(result.Sections, reportSection{
			RoomID: roomID,
			Score:  score,
			Rating: rating(score),
		})
	}

	if err := report(ctx, 90, "Finalizing report"); err != nil {
		return nil, err
	}

	output, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return &worker.Result{Output: output}, nil
}

func rating(score float64) string {
	switch {
	case score >= 0.85:
		return "excellent"
	case score >= 0.65:
		return "good"
	case score >= 0.40:
		return "fair"
	default:
		return "poor"
	}
}
