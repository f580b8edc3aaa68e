package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ankitraval/jobforge/internal/service"
	"github.com/ankitraval/jobforge/internal/worker"
	"github.com/ankitraval/jobforge/pkg/models"
)

type analyzeInspectionInput struct {
	InspectionID uuid.UUID `json:"inspection_id"`
	Rooms        []struct {
		RoomID      string       `json:"room_id"`
		Annotations []annotation `json:"annotations"`
	} `json:"rooms"`
}

type analyzeInspectionResult struct {
	InspectionID uuid.UUID          `json:"inspection_id"`
	RoomScores   map[string]float64 `json:"room_scores"`
	OverallScore float64            `json:"overall_score"`
}

// AnalyzeInspection scores every room of an inspection and chains a
// GENERATE_REPORT job carrying the aggregate. The engine persists the child
// before this job is finalized.
func AnalyzeInspection(ctx context.Context, job *models.Job, report worker.ProgressFunc) (*worker.Result, error) {
	var input analyzeInspectionInput
	if err := json.Unmarshal(job.Input, &input); err != nil {
		return nil, fmt.Errorf("parse inspection input: %w", err)
	}
	if input.InspectionID == uuid.Nil {
		return nil, fmt.Errorf("inspection input missing inspection_id")
	}
	if len(input.Rooms) == 0 {
		return nil, fmt.Errorf("inspection %s has no rooms to analyze", input.InspectionID)
	}

	result := analyzeInspectionResult{
		InspectionID: input.InspectionID,
		RoomScores:   make(map[string]float64, len(input.Rooms)),
	}
	var total float64
	for i, room := range input.Rooms {
		if room.RoomID == "" {
			return nil, fmt.Errorf("inspection %s: room %d missing room_id", input.InspectionID, i)
		}
		score := conditionScore(room.Annotations)
		result.RoomScores[room.RoomID] = score
		total += score

		percent := (i + 1) * 80 / len(input.Rooms)
		if err := report(ctx, percent, fmt.Sprintf("Analyzed room %s", room.RoomID)); err != nil {
			return nil, err
		}
	}
	result.OverallScore = total / float64(len(input.Rooms))

	output, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode inspection result: %w", err)
	}

	if err := report(ctx, 95, "Queueing report generation"); err != nil {
		return nil, err
	}

	inspectionID := input.InspectionID
	child := service.CreateJobParams{
		TenantID:     job.TenantID,
		Type:         models.JobTypeGenerateReport,
		InspectionID: &inspectionID,
		Input:        output,
	}
	return &worker.Result{
		Output:   output,
		Children: []service.CreateJobParams{child},
	}, nil
}
