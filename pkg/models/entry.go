package models

import (
	"time"
)

// StageStatus is the lifecycle status of a pipeline entry.
type StageStatus string

const (
	StageStatusNotStarted StageStatus = "NOT_STARTED"
	StageStatusInProgress StageStatus = "IN_PROGRESS"
	StageStatusCompleted  StageStatus = "COMPLETED"
	// StageStatusCancelled is terminal; cancellation is a status, not a row
	// deletion.
	StageStatusCancelled StageStatus = "CANCELLED"
)

// PipelineEntry is the mutable record of one entity's position in one
// pipeline. All mutations go through the transition protocol in
// internal/engine; Revision backs the optimistic concurrency check there.
type PipelineEntry struct {
	ID                 string         `json:"id" db:"id"`
	TenantID           string         `json:"tenant_id" db:"tenant_id"`
	PipelineID         string         `json:"pipeline_id" db:"pipeline_id"`
	EntityID           string         `json:"entity_id" db:"entity_id"`
	EntityType         EntityType     `json:"entity_type" db:"entity_type"`
	CurrentStage       string         `json:"current_stage" db:"current_stage"`
	PreviousStage      string         `json:"previous_stage,omitempty" db:"previous_stage"`
	StageStatus        StageStatus    `json:"stage_status" db:"stage_status"`
	Progress           float64        `json:"progress" db:"progress"`
	PercentageComplete float64        `json:"percentage_complete" db:"percentage_complete"`
	EnteredAt          time.Time      `json:"entered_at" db:"entered_at"`
	MovedAt            time.Time      `json:"moved_at" db:"moved_at"`
	SLADeadline        *time.Time     `json:"sla_deadline,omitempty" db:"sla_deadline"`
	SLABreached        bool           `json:"sla_breached" db:"sla_breached"`
	Notes              string         `json:"notes,omitempty" db:"notes"`
	Data               map[string]any `json:"data,omitempty" db:"data"`
	Revision           int            `json:"revision" db:"revision"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at" db:"updated_at"`
}

// Terminal reports whether the entry is closed to further stage movement.
func (e *PipelineEntry) Terminal() bool {
	return e.StageStatus == StageStatusCompleted || e.StageStatus == StageStatusCancelled
}

// Open reports whether the entry still counts against the one-open-entry-per
// -pipeline constraint.
func (e *PipelineEntry) Open() bool {
	return !e.Terminal()
}

// EventType classifies journey events.
type EventType string

const (
	EventEnrolled       EventType = "ENROLLED"
	EventStageChanged   EventType = "STAGE_CHANGED"
	EventManualOverride EventType = "MANUAL_OVERRIDE"
	EventSLABreached    EventType = "SLA_BREACHED"
	EventCancelled      EventType = "CANCELLED"
	EventCompleted      EventType = "COMPLETED"
)

// TriggeredByType distinguishes operator actions from engine-initiated ones.
type TriggeredByType string

const (
	TriggeredByUser   TriggeredByType = "USER"
	TriggeredBySystem TriggeredByType = "SYSTEM"
)

// JourneyEvent is an immutable audit record of a transition or override.
// Events are append-only; ordering by CreatedAt reconstructs entry history.
type JourneyEvent struct {
	ID              string          `json:"id" db:"id"`
	PipelineEntryID string          `json:"pipeline_entry_id" db:"pipeline_entry_id"`
	EventType       EventType       `json:"event_type" db:"event_type"`
	FromStage       string          `json:"from_stage,omitempty" db:"from_stage"`
	ToStage         string          `json:"to_stage,omitempty" db:"to_stage"`
	Description     string          `json:"description,omitempty" db:"description"`
	TriggeredBy     string          `json:"triggered_by,omitempty" db:"triggered_by"`
	TriggeredByType TriggeredByType `json:"triggered_by_type,omitempty" db:"triggered_by_type"`
	Payload         map[string]any  `json:"payload,omitempty" db:"payload"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// OverrideKind identifies a manual override operation.
type OverrideKind string

const (
	OverrideFastForward OverrideKind = "FAST_FORWARD"
	OverrideRollback    OverrideKind = "ROLLBACK"
	OverrideExtendSLA   OverrideKind = "EXTEND_SLA"
)

// Entity is the engine's read view of the record an entry tracks. Fields holds
// tenant-defined extra attributes used for template personalization.
type Entity struct {
	ID         string            `json:"id"`
	Type       EntityType        `json:"type"`
	FirstName  string            `json:"first_name"`
	LastName   string            `json:"last_name"`
	Email      string            `json:"email"`
	Phone      string            `json:"phone"`
	AssignedTo string            `json:"assigned_to"`
	Fields     map[string]string `json:"fields,omitempty"`
}
