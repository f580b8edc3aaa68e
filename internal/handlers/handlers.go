// Package handlers ships the built-in job handlers for the inspection
// pipeline. Each handler follows the narrow engine contract: parse the job's
// input, report durable progress, and hand back a result (plus any follow-on
// job specs) or an error. Handlers never touch the store or the queue
// directly.
package handlers

import (
	"github.com/ankitraval/jobforge/internal/worker"
	"github.com/ankitraval/jobforge/pkg/models"
)

// Register binds all built-in handlers to the registry.
func Register(reg *worker.Registry) error {
	if err := reg.Register(models.JobTypeAnalyzeRoom, AnalyzeRoom); err != nil {
		return err
	}
	if err := reg.Register(models.JobTypeAnalyzeInspection, AnalyzeInspection); err != nil {
		return err
	}
	return reg.Register(models.JobTypeGenerateReport, GenerateReport)
}

// severityWeights maps annotation severities to their score penalty.
var severityWeights = map[string]float64{
	"minor":    0.05,
	"moderate": 0.15,
	"major":    0.35,
	"critical": 0.60,
}

// annotation is a single observation attached to a room photo.
type annotation struct {
	Label    string `json:"label"`
	Severity string `json:"severity"`
}

// conditionScore folds annotations into a 0..1 score, 1 meaning pristine.
func conditionScore(annotations []annotation) float64 {
	score := 1.0
	for _, a := range annotations {
		score -= severityWeights[a.Severity]
	}
	if score < 0 {
		score = 0
	}
	return score
}
