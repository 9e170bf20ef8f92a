package engine

import (
	"math"
	"time"

	"admitflow/backend/pkg/models"
)

// The calculator is pure: every function derives its output from the
// definition, the entry and the caller-supplied now. Nothing here caches
// temporal state on the entry.

// OverallProgress returns the percentage complete for an entry positioned at
// currentStage, clamped to [0,100]. A stage id missing from the definition
// yields 0: stage sets can change after entries exist, and that data
// condition must not blow up a progress view.
func OverallProgress(def *models.PipelineDefinition, currentStage string) float64 {
	total := len(def.Stages)
	if total == 0 {
		return 0
	}
	idx := def.StageIndex(currentStage)
	if idx < 0 {
		return 0
	}
	pct := float64(idx+1) / float64(total) * 100
	return math.Min(100, math.Max(0, pct))
}

// daysRemaining is the whole-day count until deadline, rounded up. Negative
// once the deadline has passed by at least a full day boundary.
func daysRemaining(deadline, now time.Time) int {
	return int(math.Ceil(deadline.Sub(now).Hours() / 24))
}

// StageProgressList tags every stage of the definition relative to the
// entry's position. Only the active stage carries live SLA numbers.
func StageProgressList(def *models.PipelineDefinition, entry *models.PipelineEntry, now time.Time) []models.StageProgress {
	current := def.StageIndex(entry.CurrentStage)
	out := make([]models.StageProgress, 0, len(def.Stages))
	for i := range def.Stages {
		stage := &def.Stages[i]
		sp := models.StageProgress{
			StageID:      stage.ID,
			Name:         stage.Name,
			DurationDays: stage.DurationDays,
			Status:       models.StageViewNotStarted,
		}
		switch {
		case current >= 0 && i < current:
			sp.Status = models.StageViewCompleted
		case i == current:
			sp.Status = models.StageViewActive
			if entry.SLADeadline != nil {
				d := daysRemaining(*entry.SLADeadline, now)
				sp.DaysRemaining = &d
				sp.IsOverdue = d < 0
			}
		}
		out = append(out, sp)
	}
	return out
}

// NextSteps returns the stage immediately following the current one, empty
// when the entry sits on the last stage or its stage is unknown.
func NextSteps(def *models.PipelineDefinition, currentStage string) []models.NextStep {
	idx := def.StageIndex(currentStage)
	if idx < 0 || idx+1 >= len(def.Stages) {
		return []models.NextStep{}
	}
	next := def.Stages[idx+1]
	return []models.NextStep{{
		StageID:      next.ID,
		Name:         next.Name,
		Description:  next.Description,
		Requirements: next.Requirements,
	}}
}

// SLAStatusFor summarizes the entry's SLA position at now.
func SLAStatusFor(entry *models.PipelineEntry, now time.Time) models.SLAStatus {
	status := models.SLAStatus{Breached: entry.SLABreached}
	if entry.SLADeadline != nil {
		d := daysRemaining(*entry.SLADeadline, now)
		status.Deadline = entry.SLADeadline
		status.DaysRemaining = &d
		if d < 0 {
			status.Breached = true
		}
	}
	return status
}

// BuildProgressView composes the full read model for an entry.
func BuildProgressView(def *models.PipelineDefinition, entry *models.PipelineEntry, events []*models.JourneyEvent, now time.Time) *models.ProgressView {
	return &models.ProgressView{
		Entry:           entry,
		Stages:          StageProgressList(def, entry, now),
		OverallProgress: OverallProgress(def, entry.CurrentStage),
		SLA:             SLAStatusFor(entry, now),
		NextSteps:       NextSteps(def, entry.CurrentStage),
		RecentEvents:    events,
	}
}

// stageDeadline computes the SLA deadline for entering stage at now, nil when
// SLA tracking is off or the stage carries no duration.
func stageDeadline(def *models.PipelineDefinition, stage *models.Stage, now time.Time) *time.Time {
	if !def.EnableSLA || stage == nil || stage.DurationDays <= 0 {
		return nil
	}
	d := now.Add(time.Duration(stage.DurationDays) * 24 * time.Hour)
	return &d
}
