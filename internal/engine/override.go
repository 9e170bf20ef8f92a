package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"admitflow/backend/internal/repository"
	"admitflow/backend/pkg/models"
)

// OverrideRequest carries an operator-directed exception. Reason and Actor
// are mandatory for every kind: overrides exist to be audited.
type OverrideRequest struct {
	Kind models.OverrideKind `json:"kind"`
	// TargetStage and PercentageComplete apply to ROLLBACK.
	TargetStage        string   `json:"target_stage,omitempty"`
	PercentageComplete *float64 `json:"percentage_complete,omitempty"`
	// NewDeadline applies to EXTEND_SLA. Past deadlines are accepted; the
	// next sweep simply re-flags the breach.
	NewDeadline *time.Time `json:"new_deadline,omitempty"`
	Reason      string     `json:"reason"`
	Actor       string     `json:"actor"`
}

// ApplyOverride applies a manual override through the same transition
// protocol as normal movement, so every override lands in the journey log as
// a MANUAL_OVERRIDE event carrying its kind and payload.
func (e *Engine) ApplyOverride(ctx context.Context, tenantID, entryID string, req OverrideRequest) (*models.TransitionResult, error) {
	if strings.TrimSpace(req.Reason) == "" {
		return nil, invalidf("reason", "must not be empty")
	}
	if strings.TrimSpace(req.Actor) == "" {
		return nil, invalidf("actor", "must not be empty")
	}

	switch req.Kind {
	case models.OverrideFastForward:
		return e.fastForward(ctx, tenantID, entryID, req)
	case models.OverrideRollback:
		return e.rollback(ctx, tenantID, entryID, req)
	case models.OverrideExtendSLA:
		return e.extendSLA(ctx, tenantID, entryID, req)
	default:
		return nil, invalidf("kind", "unknown override kind %q", req.Kind)
	}
}

// fastForward jumps the entry to the pipeline's last stage and closes it as
// COMPLETED with full progress, regardless of where it was.
func (e *Engine) fastForward(ctx context.Context, tenantID, entryID string, req OverrideRequest) (*models.TransitionResult, error) {
	entry, err := e.getEntry(ctx, tenantID, entryID)
	if err != nil {
		return nil, err
	}
	def, err := e.getDefinition(ctx, tenantID, entry.PipelineID)
	if err != nil {
		return nil, err
	}
	last := def.LastStage()
	if last == nil {
		return nil, ErrStageNotFound
	}

	full := 1.0
	return e.transition(ctx, tenantID, entryID, transitionSpec{
		target:           last.ID,
		forceStatus:      models.StageStatusCompleted,
		progressOverride: &full,
		eventType:        models.EventManualOverride,
		description:      req.Reason,
		actor:            req.Actor,
		payload: map[string]any{
			"kind":   string(models.OverrideFastForward),
			"reason": req.Reason,
		},
	})
}

// rollback moves the entry to an operator-specified stage with an operator-
// specified completion percentage. It may reopen a COMPLETED entry; CANCELLED
// stays closed.
func (e *Engine) rollback(ctx context.Context, tenantID, entryID string, req OverrideRequest) (*models.TransitionResult, error) {
	if req.TargetStage == "" {
		return nil, invalidf("target_stage", "required for ROLLBACK")
	}

	spec := transitionSpec{
		target:      req.TargetStage,
		forceStatus: models.StageStatusInProgress,
		eventType:   models.EventManualOverride,
		description: req.Reason,
		actor:       req.Actor,
		allowReopen: true,
		payload: map[string]any{
			"kind":         string(models.OverrideRollback),
			"target_stage": req.TargetStage,
			"reason":       req.Reason,
		},
	}
	if req.PercentageComplete != nil {
		if *req.PercentageComplete < 0 || *req.PercentageComplete > 100 {
			return nil, invalidf("percentage_complete", "must be within [0,100], got %v", *req.PercentageComplete)
		}
		fraction := *req.PercentageComplete / 100
		spec.progressOverride = &fraction
		spec.payload["percentage_complete"] = *req.PercentageComplete
	}
	return e.transition(ctx, tenantID, entryID, spec)
}

// extendSLA sets a new deadline and clears the breach flag without moving the
// entry. The engine deliberately accepts any deadline, past or future; breach
// state is recomputed by the next sweep.
func (e *Engine) extendSLA(ctx context.Context, tenantID, entryID string, req OverrideRequest) (*models.TransitionResult, error) {
	if req.NewDeadline == nil {
		return nil, invalidf("new_deadline", "required for EXTEND_SLA")
	}

	for attempt := 0; attempt < casRetries; attempt++ {
		entry, err := e.getEntry(ctx, tenantID, entryID)
		if err != nil {
			return nil, err
		}
		if entry.StageStatus == models.StageStatusCancelled {
			return nil, ErrEntryTerminal
		}

		entry.SLADeadline = req.NewDeadline
		entry.SLABreached = false

		err = e.repo.UpdateEntry(ctx, entry, entry.Revision)
		if errors.Is(err, repository.ErrRevisionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		e.appendEvent(ctx, &models.JourneyEvent{
			PipelineEntryID: entry.ID,
			EventType:       models.EventManualOverride,
			FromStage:       entry.CurrentStage,
			ToStage:         entry.CurrentStage,
			Description:     req.Reason,
			TriggeredBy:     req.Actor,
			TriggeredByType: models.TriggeredByUser,
			Payload: map[string]any{
				"kind":         string(models.OverrideExtendSLA),
				"new_deadline": req.NewDeadline.Format(time.RFC3339),
				"reason":       req.Reason,
			},
		})
		return &models.TransitionResult{Entry: entry}, nil
	}
	return nil, ErrConcurrentUpdate
}
