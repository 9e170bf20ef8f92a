package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/valyala/fasttemplate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"admitflow/backend/internal/logging"
	"admitflow/backend/internal/services"
	"admitflow/backend/pkg/models"
)

const (
	defaultActionTimeout = 3 * time.Second
	defaultMaxParallel   = 4
)

// ExecutorConfig tunes the automation fan-out.
type ExecutorConfig struct {
	// ActionTimeout bounds each individual action; a timed-out action is a
	// failure, never a stalled caller.
	ActionTimeout time.Duration
	// MaxParallel bounds the worker group.
	MaxParallel int
}

// AutomationExecutor fans out the side-effecting actions configured on a
// stage: task creation, notifications, email, SMS and entity field updates.
// Action failure is captured per action and never aborts siblings or the
// stage transition that triggered the fan-out.
type AutomationExecutor struct {
	entities services.EntityStore
	tasks    services.TaskCreator
	notify   services.NotificationDispatcher
	email    services.EmailSender
	sms      services.SMSSender
	logger   *logging.Logger
	timeout  time.Duration
	parallel int
	actions  metric.Int64Counter
}

// NewAutomationExecutor creates a new AutomationExecutor.
func NewAutomationExecutor(
	entities services.EntityStore,
	tasks services.TaskCreator,
	notify services.NotificationDispatcher,
	email services.EmailSender,
	sms services.SMSSender,
	logger *logging.Logger,
	cfg ExecutorConfig,
) *AutomationExecutor {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = defaultActionTimeout
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = defaultMaxParallel
	}

	meter := otel.Meter("admitflow/backend/engine")
	actions, _ := meter.Int64Counter("automation_actions_total",
		metric.WithDescription("Automation actions attempted, by category and outcome"))

	return &AutomationExecutor{
		entities: entities,
		tasks:    tasks,
		notify:   notify,
		email:    email,
		sms:      sms,
		logger:   logger,
		timeout:  cfg.ActionTimeout,
		parallel: cfg.MaxParallel,
		actions:  actions,
	}
}

// Execute runs the automation rule set of the stage the entry just entered.
// It blocks until every action has completed or definitively failed, so the
// caller observes a consistent "transition applied, automations attempted"
// result.
func (x *AutomationExecutor) Execute(ctx context.Context, entry *models.PipelineEntry, stage *models.Stage, now time.Time) *models.AutomationReport {
	report := &models.AutomationReport{}
	if stage == nil || stage.Automation.Empty() {
		return report
	}
	rules := stage.Automation

	// Entity lookup failure degrades rather than aborts: personalization
	// renders empty and entity-bound actions fail individually.
	entity, err := x.entities.Lookup(ctx, entry.EntityType, entry.EntityID)
	if err != nil {
		x.logger.Warn("automation entity lookup failed",
			"entry_id", entry.ID, "entity_type", entry.EntityType, "entity_id", entry.EntityID, "error", err)
		entity = nil
	}
	vars := templateVars(entity, entry, stage)

	var work []func(context.Context) models.ActionResult

	for _, t := range rules.Tasks {
		t := t
		work = append(work, func(actx context.Context) models.ActionResult {
			res := models.ActionResult{Category: models.ActionTask, Detail: render(t.Title, vars)}
			req := services.TaskRequest{
				TenantID:    entry.TenantID,
				Title:       render(t.Title, vars),
				Description: render(t.Description, vars),
				Assignee:    render(t.Assignee, vars),
				EntityID:    entry.EntityID,
				EntityType:  entry.EntityType,
			}
			if t.DueInDays > 0 {
				due := now.Add(time.Duration(t.DueInDays) * 24 * time.Hour)
				req.DueDate = &due
			}
			if _, err := x.tasks.CreateTask(actx, req); err != nil {
				res.Error = err.Error()
			}
			return res
		})
	}

	for _, n := range rules.Notifications {
		n := n
		work = append(work, func(actx context.Context) models.ActionResult {
			res := models.ActionResult{Category: models.ActionNotification, Detail: render(n.Title, vars)}
			recipientID, recipientType, err := resolveRecipient(n.Recipient, entity)
			if err != nil {
				res.Error = err.Error()
				return res
			}
			err = x.notify.Notify(actx, services.Notification{
				TenantID:      entry.TenantID,
				RecipientID:   recipientID,
				RecipientType: recipientType,
				Channel:       n.Channel,
				Title:         render(n.Title, vars),
				Message:       render(n.Message, vars),
				Payload: map[string]any{
					"pipeline_entry_id": entry.ID,
					"stage_id":          stage.ID,
				},
			})
			if err != nil {
				res.Error = err.Error()
			}
			return res
		})
	}

	for _, e := range rules.Emails {
		e := e
		work = append(work, func(actx context.Context) models.ActionResult {
			res := models.ActionResult{Category: models.ActionEmail, Detail: render(e.Subject, vars)}
			to := render(e.To, vars)
			if e.To == "" {
				to = vars["email"]
			}
			if to == "" {
				res.Error = "no recipient email address"
				return res
			}
			if _, err := x.email.SendEmail(actx, to, render(e.Subject, vars), render(e.Body, vars)); err != nil {
				res.Error = err.Error()
			}
			return res
		})
	}

	for _, s := range rules.SMS {
		s := s
		work = append(work, func(actx context.Context) models.ActionResult {
			res := models.ActionResult{Category: models.ActionSMS}
			to := vars["phone"]
			if to == "" {
				res.Error = "no recipient phone number"
				return res
			}
			if _, err := x.sms.SendSMS(actx, to, render(s.Body, vars)); err != nil {
				res.Error = err.Error()
			}
			return res
		})
	}

	for _, f := range rules.FieldUpdates {
		f := f
		work = append(work, func(actx context.Context) models.ActionResult {
			res := models.ActionResult{Category: models.ActionFieldUpdate, Detail: f.Field}
			err := x.entities.UpdateFields(actx, entry.EntityType, entry.EntityID,
				map[string]string{f.Field: render(f.Value, vars)})
			if err != nil {
				res.Error = err.Error()
			}
			return res
		})
	}

	results := make([]models.ActionResult, len(work))
	var g errgroup.Group
	g.SetLimit(x.parallel)
	for i, action := range work {
		i, action := i, action
		g.Go(func() error {
			actx, cancel := context.WithTimeout(ctx, x.timeout)
			defer cancel()
			results[i] = runAction(actx, action)
			return nil
		})
	}
	_ = g.Wait()

	report.Results = results
	report.Attempted = len(results)
	for _, res := range results {
		outcome := "succeeded"
		if res.Error != "" {
			outcome = "failed"
			report.Failed++
			x.logger.Warn("automation action failed",
				"entry_id", entry.ID, "stage_id", stage.ID, "category", res.Category, "error", res.Error)
		} else {
			report.Succeeded++
		}
		x.actions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("category", string(res.Category)),
			attribute.String("outcome", outcome)))
	}
	return report
}

// runAction executes one action and converts a deadline overrun into a
// regular per-action failure.
func runAction(ctx context.Context, action func(context.Context) models.ActionResult) models.ActionResult {
	done := make(chan models.ActionResult, 1)
	go func() { done <- action(ctx) }()
	select {
	case res := <-done:
		if res.Error == "" && ctx.Err() != nil {
			res.Error = ctx.Err().Error()
		}
		return res
	case <-ctx.Done():
		return models.ActionResult{Error: fmt.Sprintf("action timed out: %v", ctx.Err())}
	}
}

func resolveRecipient(kind models.RecipientKind, entity *models.Entity) (id, recipientType string, err error) {
	if entity == nil {
		return "", "", fmt.Errorf("entity unavailable for recipient %q", kind)
	}
	switch kind {
	case models.RecipientAssignee:
		if entity.AssignedTo == "" {
			return "", "", fmt.Errorf("entity has no assignee")
		}
		return entity.AssignedTo, "USER", nil
	case models.RecipientEntity, "":
		return entity.ID, string(entity.Type), nil
	default:
		return "", "", fmt.Errorf("unknown recipient kind %q", kind)
	}
}

// templateVars builds the substitution map for {{placeholder}} rendering.
func templateVars(entity *models.Entity, entry *models.PipelineEntry, stage *models.Stage) map[string]string {
	vars := map[string]string{
		"stageName":        stage.Name,
		"stageDescription": stage.Description,
		"pipelineId":       entry.PipelineID,
		"entityId":         entry.EntityID,
		"entityType":       string(entry.EntityType),
	}
	if entity != nil {
		vars["firstName"] = entity.FirstName
		vars["lastName"] = entity.LastName
		vars["fullName"] = joinName(entity.FirstName, entity.LastName)
		vars["email"] = entity.Email
		vars["phone"] = entity.Phone
		vars["assignedTo"] = entity.AssignedTo
		for k, v := range entity.Fields {
			if _, taken := vars[k]; !taken {
				vars[k] = v
			}
		}
	}
	return vars
}

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}

// render substitutes {{tag}} placeholders from vars. Missing tags render as
// empty strings; a malformed template falls back to the raw string.
func render(template string, vars map[string]string) string {
	if template == "" {
		return ""
	}
	out, err := fasttemplate.ExecuteFuncStringWithErr(template, "{{", "}}",
		func(w io.Writer, tag string) (int, error) {
			if v, ok := vars[tag]; ok {
				return w.Write([]byte(v))
			}
			return 0, nil
		})
	if err != nil {
		return template
	}
	return out
}
