// Package models defines the domain models for the pipeline automation engine.
package models

import (
	"time"
)

// EntityType tags the kind of record an entry tracks. Entity references are
// always the pair (EntityType, EntityID); the engine never inspects the id
// itself to decide what it points at.
type EntityType string

const (
	EntityTypeStudent     EntityType = "STUDENT"
	EntityTypeLead        EntityType = "LEAD"
	EntityTypeApplication EntityType = "APPLICATION"
)

// Valid reports whether t is one of the known entity kinds.
func (t EntityType) Valid() bool {
	switch t {
	case EntityTypeStudent, EntityTypeLead, EntityTypeApplication:
		return true
	}
	return false
}

// PipelineDefinition is the immutable-per-version description of an ordered
// stage graph. Stage order is semantically meaningful: it defines the progress
// fraction and what "forward" means for operators.
type PipelineDefinition struct {
	ID                string    `json:"id" db:"id"`
	TenantID          string    `json:"tenant_id" db:"tenant_id"`
	Name              string    `json:"name" db:"name" yaml:"name"`
	Type              string    `json:"type" db:"type" yaml:"type"`
	EnableSLA         bool      `json:"enable_sla" db:"enable_sla" yaml:"enable_sla"`
	EnableAutoActions bool      `json:"enable_auto_actions" db:"enable_auto_actions" yaml:"enable_auto_actions"`
	Stages            []Stage   `json:"stages" db:"stages" yaml:"stages"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// StageIndex returns the position of stageID in the definition, or -1 when the
// stage is not part of it. Entries can outlive stage edits, so a missing stage
// is an expected condition, not a programming error.
func (d *PipelineDefinition) StageIndex(stageID string) int {
	for i := range d.Stages {
		if d.Stages[i].ID == stageID {
			return i
		}
	}
	return -1
}

// StageByID returns the stage with the given id, if present.
func (d *PipelineDefinition) StageByID(stageID string) (*Stage, bool) {
	if i := d.StageIndex(stageID); i >= 0 {
		return &d.Stages[i], true
	}
	return nil, false
}

// LastStage returns the final stage of the definition, or nil for an empty
// definition.
func (d *PipelineDefinition) LastStage() *Stage {
	if len(d.Stages) == 0 {
		return nil
	}
	return &d.Stages[len(d.Stages)-1]
}

// Stage is one step in a pipeline. DurationDays drives both the due-date
// calculation for created tasks and the default SLA window.
type Stage struct {
	ID           string             `json:"id" yaml:"id"`
	Name         string             `json:"name" yaml:"name"`
	Description  string             `json:"description,omitempty" yaml:"description"`
	DurationDays int                `json:"duration_days,omitempty" yaml:"duration_days"`
	Requirements []string           `json:"requirements,omitempty" yaml:"requirements"`
	Automation   *AutomationRuleSet `json:"automation,omitempty" yaml:"automation"`
}

// AutomationRuleSet lists the actions to run when an entry enters a stage.
// Each list is independent; a failing action never blocks its siblings.
type AutomationRuleSet struct {
	Tasks         []TaskTemplate         `json:"tasks,omitempty" yaml:"tasks"`
	Notifications []NotificationTemplate `json:"notifications,omitempty" yaml:"notifications"`
	Emails        []EmailTemplate        `json:"emails,omitempty" yaml:"emails"`
	SMS           []SMSTemplate          `json:"sms,omitempty" yaml:"sms"`
	FieldUpdates  []FieldUpdate          `json:"field_updates,omitempty" yaml:"field_updates"`
}

// Empty reports whether the rule set configures no actions at all.
func (r *AutomationRuleSet) Empty() bool {
	if r == nil {
		return true
	}
	return len(r.Tasks) == 0 && len(r.Notifications) == 0 && len(r.Emails) == 0 &&
		len(r.SMS) == 0 && len(r.FieldUpdates) == 0
}

// TaskTemplate describes a task to create on stage entry. Title, Description
// and Assignee support {{placeholder}} substitution.
type TaskTemplate struct {
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description"`
	Assignee    string `json:"assignee,omitempty" yaml:"assignee"`
	DueInDays   int    `json:"due_in_days,omitempty" yaml:"due_in_days"`
}

// RecipientKind selects who an in-app notification goes to.
type RecipientKind string

const (
	// RecipientEntity targets the tracked entity itself.
	RecipientEntity RecipientKind = "ENTITY"
	// RecipientAssignee targets the staff member assigned to the entity.
	RecipientAssignee RecipientKind = "ASSIGNEE"
)

// NotificationTemplate describes an in-app notification to dispatch on stage
// entry.
type NotificationTemplate struct {
	Recipient RecipientKind `json:"recipient" yaml:"recipient"`
	Channel   string        `json:"channel,omitempty" yaml:"channel"`
	Title     string        `json:"title" yaml:"title"`
	Message   string        `json:"message" yaml:"message"`
}

// EmailTemplate describes an email to send on stage entry. To defaults to the
// entity's email address when empty.
type EmailTemplate struct {
	To      string `json:"to,omitempty" yaml:"to"`
	Subject string `json:"subject" yaml:"subject"`
	Body    string `json:"body" yaml:"body"`
}

// SMSTemplate describes an SMS to send to the entity's phone on stage entry.
type SMSTemplate struct {
	Body string `json:"body" yaml:"body"`
}

// FieldUpdate writes a value to a field of the tracked entity on stage entry.
// Value supports {{placeholder}} substitution.
type FieldUpdate struct {
	Field string `json:"field" yaml:"field"`
	Value string `json:"value" yaml:"value"`
}
