package engine

import (
	"context"
	"sync"
	"time"

	"admitflow/backend/internal/logging"
	"admitflow/backend/internal/repository"
	"admitflow/backend/internal/services"
	"admitflow/backend/pkg/models"
)

// Fakes for the external capabilities the engine fans out to. All of them
// record calls under a mutex because the executor runs actions concurrently.

type fakeEntityStore struct {
	mu        sync.Mutex
	entity    *models.Entity
	lookupErr error
	updateErr error
	updates   []map[string]string
}

func (f *fakeEntityStore) Lookup(ctx context.Context, entityType models.EntityType, entityID string) (*models.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	if f.entity == nil {
		return nil, services.ErrEntityNotFound
	}
	return f.entity, nil
}

func (f *fakeEntityStore) UpdateFields(ctx context.Context, entityType models.EntityType, entityID string, fields map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, fields)
	return nil
}

type fakeTaskCreator struct {
	mu       sync.Mutex
	err      error
	delay    time.Duration
	requests []services.TaskRequest
}

func (f *fakeTaskCreator) CreateTask(ctx context.Context, req services.TaskRequest) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.requests = append(f.requests, req)
	return "task-1", nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	err  error
	sent []services.Notification
}

func (f *fakeNotifier) Notify(ctx context.Context, n services.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

type sentEmail struct {
	To      string
	Subject string
	Body    string
}

type fakeEmailSender struct {
	mu   sync.Mutex
	err  error
	sent []sentEmail
}

func (f *fakeEmailSender) SendEmail(ctx context.Context, to, subject, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, sentEmail{To: to, Subject: subject, Body: body})
	return "msg-1", nil
}

type sentSMS struct {
	To   string
	Body string
}

type fakeSMSSender struct {
	mu   sync.Mutex
	err  error
	sent []sentSMS
}

func (f *fakeSMSSender) SendSMS(ctx context.Context, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, sentSMS{To: to, Body: body})
	return "sms-1", nil
}

// testHarness bundles an engine over an in-memory repository with every fake
// reachable for assertions.
type testHarness struct {
	repo     *repository.InMemory
	entities *fakeEntityStore
	tasks    *fakeTaskCreator
	notify   *fakeNotifier
	email    *fakeEmailSender
	sms      *fakeSMSSender
	engine   *Engine
	now      time.Time
}

func newTestHarness() *testHarness {
	h := &testHarness{
		repo: repository.NewInMemory(),
		entities: &fakeEntityStore{entity: &models.Entity{
			ID:         "student-1",
			Type:       models.EntityTypeStudent,
			FirstName:  "Ada",
			LastName:   "Okafor",
			Email:      "ada@example.com",
			Phone:      "+15550100",
			AssignedTo: "counselor-1",
		}},
		tasks:  &fakeTaskCreator{},
		notify: &fakeNotifier{},
		email:  &fakeEmailSender{},
		sms:    &fakeSMSSender{},
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	executor := NewAutomationExecutor(h.entities, h.tasks, h.notify, h.email, h.sms, logging.NewNop(), ExecutorConfig{
		ActionTimeout: 200 * time.Millisecond,
		MaxParallel:   4,
	})
	h.engine = New(h.repo, executor, logging.NewNop())
	h.engine.now = func() time.Time { return h.now }
	return h
}

// threeStagePipeline is the canonical test fixture: inquiry, application,
// decision, with SLA and automations enabled.
func (h *testHarness) threeStagePipeline(ctx context.Context, tenantID string) *models.PipelineDefinition {
	def := &models.PipelineDefinition{
		TenantID:          tenantID,
		Name:              "Admissions",
		Type:              "ADMISSIONS",
		EnableSLA:         true,
		EnableAutoActions: true,
		Stages: []models.Stage{
			{ID: "inquiry", Name: "Inquiry", DurationDays: 3},
			{
				ID: "application", Name: "Application", DurationDays: 7,
				Requirements: []string{"transcript"},
				Automation: &models.AutomationRuleSet{
					Emails: []models.EmailTemplate{{Subject: "Hello {{firstName}}", Body: "Next: {{stageName}}"}},
				},
			},
			{ID: "decision", Name: "Decision", DurationDays: 2},
		},
	}
	if err := h.repo.CreateDefinition(ctx, def); err != nil {
		panic(err)
	}
	return def
}
