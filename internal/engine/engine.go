package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"admitflow/backend/internal/logging"
	"admitflow/backend/internal/repository"
	"admitflow/backend/pkg/models"
)

const (
	// casRetries bounds how often a mutation re-reads and retries after
	// losing the revision check to a concurrent writer.
	casRetries = 3
	// recentEventsLimit caps the journey window returned by GetProgress.
	recentEventsLimit = 15
)

// Engine owns the pipeline entry transition protocol. Every mutation, from
// enrollment through overrides and notes, flows through the same revision-
// checked read-modify-write, so the journey log always carries exactly one
// event per accepted mutation.
type Engine struct {
	repo     repository.Repository
	executor *AutomationExecutor
	logger   *logging.Logger

	// now is the clock; tests override it.
	now func() time.Time

	transitions metric.Int64Counter
}

// New creates a new Engine.
func New(repo repository.Repository, executor *AutomationExecutor, logger *logging.Logger) *Engine {
	meter := otel.Meter("admitflow/backend/engine")
	transitions, _ := meter.Int64Counter("pipeline_transitions_total",
		metric.WithDescription("Accepted pipeline entry transitions, by operation"))

	return &Engine{
		repo:        repo,
		executor:    executor,
		logger:      logger,
		now:         time.Now,
		transitions: transitions,
	}
}

// EnrollRequest enrolls an entity into a pipeline. StartStage defaults to the
// definition's first stage.
type EnrollRequest struct {
	PipelineID string            `json:"pipeline_id"`
	EntityID   string            `json:"entity_id"`
	EntityType models.EntityType `json:"entity_type"`
	StartStage string            `json:"start_stage,omitempty"`
	Actor      string            `json:"actor,omitempty"`
	Data       map[string]any    `json:"data,omitempty"`
}

// Enroll creates a new open entry for an entity in a pipeline. An entity may
// occupy at most one open entry per pipeline; a second enrollment fails with
// ErrDuplicateEntry.
func (e *Engine) Enroll(ctx context.Context, tenantID string, req EnrollRequest) (*models.TransitionResult, error) {
	if !req.EntityType.Valid() {
		return nil, invalidf("entity_type", "unknown entity type %q", req.EntityType)
	}
	if req.PipelineID == "" {
		return nil, invalidf("pipeline_id", "must not be empty")
	}
	if req.EntityID == "" {
		return nil, invalidf("entity_id", "must not be empty")
	}

	def, err := e.getDefinition(ctx, tenantID, req.PipelineID)
	if err != nil {
		return nil, err
	}

	startStage := req.StartStage
	if startStage == "" && len(def.Stages) > 0 {
		startStage = def.Stages[0].ID
	}
	stage, ok := def.StageByID(startStage)
	if !ok {
		return nil, ErrStageNotFound
	}

	// Pre-flight duplicate check for a clean error; the store's uniqueness
	// constraint still backstops the race with a concurrent enrollment.
	_, err = e.repo.FindOpenEntry(ctx, tenantID, def.ID, req.EntityType, req.EntityID)
	if err == nil {
		return nil, ErrDuplicateEntry
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	now := e.now().UTC()
	entry := &models.PipelineEntry{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		PipelineID:   def.ID,
		EntityID:     req.EntityID,
		EntityType:   req.EntityType,
		CurrentStage: stage.ID,
		StageStatus:  models.StageStatusNotStarted,
		EnteredAt:    now,
		MovedAt:      now,
		SLADeadline:  stageDeadline(def, stage, now),
		Data:         req.Data,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := e.repo.CreateEntry(ctx, entry); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrDuplicateEntry
		}
		return nil, err
	}

	e.appendEvent(ctx, &models.JourneyEvent{
		PipelineEntryID: entry.ID,
		EventType:       models.EventEnrolled,
		ToStage:         stage.ID,
		Description:     "enrolled into pipeline " + def.Name,
		TriggeredBy:     req.Actor,
		TriggeredByType: actorType(req.Actor),
	})
	e.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", "enroll")))

	var report *models.AutomationReport
	if def.EnableAutoActions {
		report = e.executor.Execute(ctx, entry, stage, now)
	}
	return &models.TransitionResult{Entry: entry, Automation: report}, nil
}

// MoveToStage moves an entry to targetStage. Movement is not restricted to
// the forward direction; directionality rules belong to callers, not the
// engine. The transition is applied even when automations later fail.
func (e *Engine) MoveToStage(ctx context.Context, tenantID, entryID, targetStage, reason, actor string) (*models.TransitionResult, error) {
	if targetStage == "" {
		return nil, invalidf("target_stage", "must not be empty")
	}
	return e.transition(ctx, tenantID, entryID, transitionSpec{
		target:      targetStage,
		eventType:   models.EventStageChanged,
		description: reason,
		actor:       actor,
	})
}

// UpdateProgress records partial progress within the current stage. It is not
// a stage change and emits no STAGE_CHANGED event.
func (e *Engine) UpdateProgress(ctx context.Context, tenantID, entryID string, progress, percentageComplete float64) (*models.PipelineEntry, error) {
	if progress < 0 || progress > 1 {
		return nil, invalidf("progress", "must be within [0,1], got %v", progress)
	}
	if percentageComplete < 0 || percentageComplete > 100 {
		return nil, invalidf("percentage_complete", "must be within [0,100], got %v", percentageComplete)
	}

	for attempt := 0; attempt < casRetries; attempt++ {
		entry, err := e.getEntry(ctx, tenantID, entryID)
		if err != nil {
			return nil, err
		}
		if entry.Terminal() {
			return nil, ErrEntryTerminal
		}

		entry.Progress = progress
		entry.PercentageComplete = percentageComplete
		if entry.StageStatus == models.StageStatusNotStarted {
			entry.StageStatus = models.StageStatusInProgress
		}

		err = e.repo.UpdateEntry(ctx, entry, entry.Revision)
		if errors.Is(err, repository.ErrRevisionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return entry, nil
	}
	return nil, ErrConcurrentUpdate
}

// AddNote appends an audit note to the entry without touching stage or
// progress.
func (e *Engine) AddNote(ctx context.Context, tenantID, entryID, note, actor string) (*models.PipelineEntry, error) {
	if strings.TrimSpace(note) == "" {
		return nil, invalidf("note", "must not be empty")
	}

	for attempt := 0; attempt < casRetries; attempt++ {
		entry, err := e.getEntry(ctx, tenantID, entryID)
		if err != nil {
			return nil, err
		}

		if entry.Notes == "" {
			entry.Notes = note
		} else {
			entry.Notes = entry.Notes + "\n" + note
		}

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
			Description:     note,
			TriggeredBy:     actor,
			TriggeredByType: actorType(actor),
			Payload:         map[string]any{"action": "NOTE"},
		})
		return entry, nil
	}
	return nil, ErrConcurrentUpdate
}

// Complete marks the entry COMPLETED at its current stage.
func (e *Engine) Complete(ctx context.Context, tenantID, entryID, actor string) (*models.PipelineEntry, error) {
	return e.close(ctx, tenantID, entryID, models.StageStatusCompleted, models.EventCompleted, "completed", actor)
}

// Cancel closes the entry with CANCELLED status. Cancellation is terminal;
// the row stays for audit.
func (e *Engine) Cancel(ctx context.Context, tenantID, entryID, reason, actor string) (*models.PipelineEntry, error) {
	desc := "cancelled"
	if reason != "" {
		desc = reason
	}
	return e.close(ctx, tenantID, entryID, models.StageStatusCancelled, models.EventCancelled, desc, actor)
}

func (e *Engine) close(ctx context.Context, tenantID, entryID string, status models.StageStatus, eventType models.EventType, description, actor string) (*models.PipelineEntry, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		entry, err := e.getEntry(ctx, tenantID, entryID)
		if err != nil {
			return nil, err
		}
		if entry.Terminal() {
			return nil, ErrEntryTerminal
		}

		entry.StageStatus = status
		if status == models.StageStatusCompleted {
			entry.Progress = 1.0
			entry.PercentageComplete = 100
		}
		entry.MovedAt = e.now().UTC()

		err = e.repo.UpdateEntry(ctx, entry, entry.Revision)
		if errors.Is(err, repository.ErrRevisionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		e.appendEvent(ctx, &models.JourneyEvent{
			PipelineEntryID: entry.ID,
			EventType:       eventType,
			FromStage:       entry.CurrentStage,
			ToStage:         entry.CurrentStage,
			Description:     description,
			TriggeredBy:     actor,
			TriggeredByType: actorType(actor),
		})
		e.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", strings.ToLower(string(eventType)))))
		return entry, nil
	}
	return nil, ErrConcurrentUpdate
}

// GetProgress composes the read model: entry, per-stage SLA view, overall
// progress, next steps and the recent journey window.
func (e *Engine) GetProgress(ctx context.Context, tenantID, entryID string) (*models.ProgressView, error) {
	entry, err := e.getEntry(ctx, tenantID, entryID)
	if err != nil {
		return nil, err
	}
	def, err := e.getDefinition(ctx, tenantID, entry.PipelineID)
	if err != nil {
		return nil, err
	}
	events, err := e.repo.ListEvents(ctx, entry.ID, recentEventsLimit)
	if err != nil {
		return nil, err
	}
	return BuildProgressView(def, entry, events, e.now().UTC()), nil
}

// transitionSpec parameterizes the shared stage-transition path used by
// MoveToStage and the manual overrides.
type transitionSpec struct {
	target           string
	forceStatus      models.StageStatus // empty: derive from position
	progressOverride *float64           // fraction in [0,1]
	eventType        models.EventType
	description      string
	actor            string
	payload          map[string]any
	// allowReopen lets ROLLBACK reopen a COMPLETED entry. CANCELLED is
	// terminal for everyone.
	allowReopen bool
}

func (e *Engine) transition(ctx context.Context, tenantID, entryID string, spec transitionSpec) (*models.TransitionResult, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		entry, err := e.getEntry(ctx, tenantID, entryID)
		if err != nil {
			return nil, err
		}
		if entry.StageStatus == models.StageStatusCancelled {
			return nil, ErrEntryTerminal
		}
		if entry.StageStatus == models.StageStatusCompleted && !spec.allowReopen {
			return nil, ErrEntryTerminal
		}

		def, err := e.getDefinition(ctx, tenantID, entry.PipelineID)
		if err != nil {
			return nil, err
		}
		stage, ok := def.StageByID(spec.target)
		if !ok {
			return nil, ErrStageNotFound
		}

		now := e.now().UTC()
		fromStage := entry.CurrentStage

		entry.PreviousStage = entry.CurrentStage
		entry.CurrentStage = stage.ID
		pct := OverallProgress(def, stage.ID)
		entry.Progress = pct / 100
		entry.PercentageComplete = pct
		if spec.progressOverride != nil {
			entry.Progress = *spec.progressOverride
			entry.PercentageComplete = *spec.progressOverride * 100
		}
		switch {
		case spec.forceStatus != "":
			entry.StageStatus = spec.forceStatus
		case def.StageIndex(stage.ID) == len(def.Stages)-1:
			entry.StageStatus = models.StageStatusCompleted
		default:
			entry.StageStatus = models.StageStatusInProgress
		}
		entry.MovedAt = now
		// Entering a stage restarts its SLA window; a prior breach belongs to
		// the stage that was left.
		entry.SLADeadline = stageDeadline(def, stage, now)
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
			EventType:       spec.eventType,
			FromStage:       fromStage,
			ToStage:         stage.ID,
			Description:     spec.description,
			TriggeredBy:     spec.actor,
			TriggeredByType: actorType(spec.actor),
			Payload:         spec.payload,
		})
		e.transitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", strings.ToLower(string(spec.eventType)))))

		var report *models.AutomationReport
		if def.EnableAutoActions {
			report = e.executor.Execute(ctx, entry, stage, now)
		}
		return &models.TransitionResult{Entry: entry, Automation: report}, nil
	}
	return nil, ErrConcurrentUpdate
}

func (e *Engine) getEntry(ctx context.Context, tenantID, id string) (*models.PipelineEntry, error) {
	entry, err := e.repo.GetEntry(ctx, tenantID, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrEntryNotFound
	}
	return entry, err
}

func (e *Engine) getDefinition(ctx context.Context, tenantID, id string) (*models.PipelineDefinition, error) {
	def, err := e.repo.GetDefinition(ctx, tenantID, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPipelineNotFound
	}
	return def, err
}

// appendEvent writes to the journey log. The entry mutation has already been
// accepted at this point; an append failure is logged and the operation still
// reports success, with the log as the repair trail.
func (e *Engine) appendEvent(ctx context.Context, event *models.JourneyEvent) {
	if err := e.repo.AppendEvent(ctx, event); err != nil {
		e.logger.Error("failed to append journey event",
			"entry_id", event.PipelineEntryID, "event_type", event.EventType, "error", err)
	}
}

func actorType(actor string) models.TriggeredByType {
	if actor == "" || actor == "system" {
		return models.TriggeredBySystem
	}
	return models.TriggeredByUser
}
