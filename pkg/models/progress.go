package models

import (
	"time"
)

// StageViewStatus tags each stage in the progress view relative to the entry's
// current position.
type StageViewStatus string

const (
	StageViewCompleted  StageViewStatus = "COMPLETED"
	StageViewActive     StageViewStatus = "ACTIVE"
	StageViewNotStarted StageViewStatus = "NOT_STARTED"
)

// StageProgress is one row of the per-stage progress view. Only the active
// stage carries live SLA numbers; completed and upcoming stages report static
// defaults.
type StageProgress struct {
	StageID       string          `json:"stage_id"`
	Name          string          `json:"name"`
	Status        StageViewStatus `json:"status"`
	DurationDays  int             `json:"duration_days,omitempty"`
	DaysRemaining *int            `json:"days_remaining,omitempty"`
	IsOverdue     bool            `json:"is_overdue"`
}

// NextStep describes the stage immediately following the current one.
type NextStep struct {
	StageID      string   `json:"stage_id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Requirements []string `json:"requirements,omitempty"`
}

// SLAStatus summarizes the active stage's SLA position at view time.
type SLAStatus struct {
	Deadline      *time.Time `json:"deadline,omitempty"`
	DaysRemaining *int       `json:"days_remaining,omitempty"`
	Breached      bool       `json:"breached"`
}

// ProgressView is the composed read model returned by GetProgress.
type ProgressView struct {
	Entry           *PipelineEntry  `json:"entry"`
	Stages          []StageProgress `json:"stages"`
	OverallProgress float64         `json:"overall_progress"`
	SLA             SLAStatus       `json:"sla"`
	NextSteps       []NextStep      `json:"next_steps"`
	RecentEvents    []*JourneyEvent `json:"recent_events"`
}

// ActionCategory classifies automation actions in reports.
type ActionCategory string

const (
	ActionTask         ActionCategory = "TASK"
	ActionNotification ActionCategory = "NOTIFICATION"
	ActionEmail        ActionCategory = "EMAIL"
	ActionSMS          ActionCategory = "SMS"
	ActionFieldUpdate  ActionCategory = "FIELD_UPDATE"
)

// ActionResult records the outcome of a single automation action. Error is
// empty on success.
type ActionResult struct {
	Category ActionCategory `json:"category"`
	Detail   string         `json:"detail,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// AutomationReport aggregates the fan-out outcome of one stage entry.
// Automation failure is reported here, never as failure of the transition
// that triggered it.
type AutomationReport struct {
	Attempted int            `json:"attempted"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Results   []ActionResult `json:"results,omitempty"`
}

// TransitionResult is returned by every mutating engine operation: the updated
// entry plus whatever automations were attempted for it.
type TransitionResult struct {
	Entry      *PipelineEntry    `json:"entry"`
	Automation *AutomationReport `json:"automation,omitempty"`
}
