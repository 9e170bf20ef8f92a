package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"admitflow/backend/pkg/models"
)

func fourStageDef() *models.PipelineDefinition {
	return &models.PipelineDefinition{
		ID:        "p1",
		EnableSLA: true,
		Stages: []models.Stage{
			{ID: "a", Name: "A", DurationDays: 3},
			{ID: "b", Name: "B", DurationDays: 7},
			{ID: "c", Name: "C", DurationDays: 5},
			{ID: "d", Name: "D", DurationDays: 2},
		},
	}
}

func TestOverallProgress(t *testing.T) {
	def := fourStageDef()

	assert.Equal(t, 25.0, OverallProgress(def, "a"))
	assert.Equal(t, 50.0, OverallProgress(def, "b"))
	assert.Equal(t, 75.0, OverallProgress(def, "c"))
	assert.Equal(t, 100.0, OverallProgress(def, "d"))
}

func TestOverallProgress_MonotonicAcrossStages(t *testing.T) {
	def := fourStageDef()
	prev := 0.0
	for _, stage := range def.Stages {
		pct := OverallProgress(def, stage.ID)
		assert.Greater(t, pct, prev, "stage %s", stage.ID)
		prev = pct
	}
}

func TestOverallProgress_UnknownStage(t *testing.T) {
	def := fourStageDef()
	assert.Equal(t, 0.0, OverallProgress(def, "removed-stage"))
}

func TestOverallProgress_EmptyDefinition(t *testing.T) {
	def := &models.PipelineDefinition{ID: "empty"}
	assert.Equal(t, 0.0, OverallProgress(def, "a"))
}

func TestDaysRemaining_RoundsUp(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 1, daysRemaining(now.Add(1*time.Hour), now))
	assert.Equal(t, 1, daysRemaining(now.Add(24*time.Hour), now))
	assert.Equal(t, 2, daysRemaining(now.Add(25*time.Hour), now))
	assert.Equal(t, 0, daysRemaining(now.Add(-1*time.Hour), now))
	assert.Equal(t, -1, daysRemaining(now.Add(-30*time.Hour), now))
}

func TestStageProgressList(t *testing.T) {
	def := fourStageDef()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	deadline := now.Add(48 * time.Hour)
	entry := &models.PipelineEntry{
		CurrentStage: "c",
		SLADeadline:  &deadline,
	}

	stages := StageProgressList(def, entry, now)
	assert.Len(t, stages, 4)

	assert.Equal(t, models.StageViewCompleted, stages[0].Status)
	assert.Equal(t, models.StageViewCompleted, stages[1].Status)
	assert.Equal(t, models.StageViewActive, stages[2].Status)
	assert.Equal(t, models.StageViewNotStarted, stages[3].Status)

	// Only the active stage carries SLA numbers.
	assert.Nil(t, stages[0].DaysRemaining)
	if assert.NotNil(t, stages[2].DaysRemaining) {
		assert.Equal(t, 2, *stages[2].DaysRemaining)
	}
	assert.False(t, stages[2].IsOverdue)
	assert.Nil(t, stages[3].DaysRemaining)
}

func TestStageProgressList_OverdueActiveStage(t *testing.T) {
	def := fourStageDef()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	deadline := now.Add(-48 * time.Hour)
	entry := &models.PipelineEntry{CurrentStage: "b", SLADeadline: &deadline}

	stages := StageProgressList(def, entry, now)
	assert.True(t, stages[1].IsOverdue)
	if assert.NotNil(t, stages[1].DaysRemaining) {
		assert.Equal(t, -2, *stages[1].DaysRemaining)
	}
}

func TestNextSteps(t *testing.T) {
	def := fourStageDef()
	def.Stages[2].Requirements = []string{"interview booked"}

	steps := NextSteps(def, "b")
	if assert.Len(t, steps, 1) {
		assert.Equal(t, "c", steps[0].StageID)
		assert.Equal(t, []string{"interview booked"}, steps[0].Requirements)
	}
}

func TestNextSteps_LastAndUnknownStage(t *testing.T) {
	def := fourStageDef()

	assert.Empty(t, NextSteps(def, "d"))
	assert.Empty(t, NextSteps(def, "gone"))
	// Empty, not nil: the view serializes to a JSON array either way.
	assert.NotNil(t, NextSteps(def, "d"))
}

func TestSLAStatusFor(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("no deadline", func(t *testing.T) {
		status := SLAStatusFor(&models.PipelineEntry{}, now)
		assert.Nil(t, status.Deadline)
		assert.Nil(t, status.DaysRemaining)
		assert.False(t, status.Breached)
	})

	t.Run("past deadline implies breached", func(t *testing.T) {
		deadline := now.Add(-72 * time.Hour)
		status := SLAStatusFor(&models.PipelineEntry{SLADeadline: &deadline}, now)
		assert.True(t, status.Breached)
		if assert.NotNil(t, status.DaysRemaining) {
			assert.Equal(t, -3, *status.DaysRemaining)
		}
	})

	t.Run("breach flag carried from entry", func(t *testing.T) {
		deadline := now.Add(24 * time.Hour)
		status := SLAStatusFor(&models.PipelineEntry{SLADeadline: &deadline, SLABreached: true}, now)
		assert.True(t, status.Breached)
	})
}

func TestStageDeadline(t *testing.T) {
	def := fourStageDef()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	d := stageDeadline(def, &def.Stages[1], now)
	if assert.NotNil(t, d) {
		assert.Equal(t, now.Add(7*24*time.Hour), *d)
	}

	// SLA disabled on the definition
	def.EnableSLA = false
	assert.Nil(t, stageDeadline(def, &def.Stages[1], now))

	// no duration on the stage
	def.EnableSLA = true
	def.Stages[1].DurationDays = 0
	assert.Nil(t, stageDeadline(def, &def.Stages[1], now))
}

func TestBuildProgressView(t *testing.T) {
	def := fourStageDef()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	deadline := now.Add(24 * time.Hour)
	entry := &models.PipelineEntry{ID: "e1", CurrentStage: "b", SLADeadline: &deadline}
	events := []*models.JourneyEvent{{ID: "ev1", PipelineEntryID: "e1", EventType: models.EventEnrolled}}

	view := BuildProgressView(def, entry, events, now)
	assert.Equal(t, entry, view.Entry)
	assert.Equal(t, 50.0, view.OverallProgress)
	assert.Len(t, view.Stages, 4)
	assert.Equal(t, events, view.RecentEvents)
	if assert.Len(t, view.NextSteps, 1) {
		assert.Equal(t, "c", view.NextSteps[0].StageID)
	}
}
