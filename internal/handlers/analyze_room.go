package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ankitraval/jobforge/internal/worker"
	"github.com/ankitraval/jobforge/pkg/models"
)

type analyzeRoomInput struct {
	RoomID      string       `json:"room_id"`
	Annotations []annotation `json:"annotations"`
}

type analyzeRoomResult struct {
	RoomID         string   `json:"room_id"`
	ConditionScore float64  `json:"condition_score"`
	Findings       []string `json:"findings"`
}

// AnalyzeRoom scores a single room from its photo annotations.
func AnalyzeRoom(ctx context.Context, job *models.Job, report worker.ProgressFunc) (*worker.Result, error) {
	var input analyzeRoomInput
	if err := json.Unmarshal(job.Input, &input); err != nil {
		return nil, fmt.Errorf("parse room input: %w", err)
	}
	if input.RoomID == "" {
		return nil, fmt.Errorf("room input missing room_id")
	}

	if err := report(ctx, 10, "Scoring room condition"); err != nil {
		return nil, err
	}

	result := analyzeRoomResult{
		RoomID:         input.RoomID,
		ConditionScore: conditionScore(input.Annotations),
		Findings:       make([]string, 0, len(input.Annotations)),
	}
	for _, a := range input.Annotations {
		result.Findings = append(result.Findings, fmt.Sprintf("%s (%s)", a.Label, a.Severity))
	}

	if err := report(ctx, 90, "Assembling findings"); err != nil {
		return nil, err
	}

	output, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode room result: %w", err)
	}
	return &worker.Result{Output: output}, nil
}
