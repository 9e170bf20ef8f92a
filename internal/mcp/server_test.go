package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admitflow/backend/internal/engine"
	"admitflow/backend/internal/logging"
	"admitflow/backend/internal/repository"
	"admitflow/backend/internal/services"
	"admitflow/backend/pkg/models"
)

const testTenant = "tenant-1"

type stubEntityStore struct{}

func (stubEntityStore) Lookup(ctx context.Context, entityType models.EntityType, entityID string) (*models.Entity, error) {
	return nil, services.ErrEntityNotFound
}
func (stubEntityStore) UpdateFields(ctx context.Context, entityType models.EntityType, entityID string, fields map[string]string) error {
	return nil
}

type stubTaskCreator struct{}

func (stubTaskCreator) CreateTask(ctx context.Context, req services.TaskRequest) (string, error) {
	return "task-1", nil
}

type stubNotifier struct{}

func (stubNotifier) Notify(ctx context.Context, n services.Notification) error { return nil }

type stubMessenger struct{}

func (stubMessenger) SendEmail(ctx context.Context, to, subject, body string) (string, error) {
	return "msg-1", nil
}
func (stubMessenger) SendSMS(ctx context.Context, to, body string) (string, error) {
	return "sms-1", nil
}

func newTestMCPServer(t *testing.T) (*Server, *repository.InMemory, *models.PipelineEntry) {
	t.Helper()
	repo := repository.NewInMemory()
	executor := engine.NewAutomationExecutor(
		stubEntityStore{}, stubTaskCreator{}, stubNotifier{}, stubMessenger{}, stubMessenger{},
		logging.NewNop(), engine.ExecutorConfig{})
	eng := engine.New(repo, executor, logging.NewNop())

	def := &models.PipelineDefinition{
		TenantID: testTenant,
		Name:     "Admissions",
		Type:     "ADMISSIONS",
		Stages: []models.Stage{
			{ID: "inquiry", Name: "Inquiry"},
			{ID: "decision", Name: "Decision"},
		},
	}
	require.NoError(t, repo.CreateDefinition(context.Background(), def))

	result, err := eng.Enroll(context.Background(), testTenant, engine.EnrollRequest{
		PipelineID: def.ID, EntityID: "student-1", EntityType: models.EntityTypeStudent})
	require.NoError(t, err)

	return NewServer(eng, repo), repo, result.Entry
}

func callRequest(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestToolSurfaceIsReadOnly(t *testing.T) {
	s, _, _ := newTestMCPServer(t)

	resp := s.GetMCPServer().HandleMessage(context.Background(),
		json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	// The unauthenticated mount only ever exposes reads.
	assert.Contains(t, string(raw), "pipeline_progress")
	assert.Contains(t, string(raw), "recent_activity")
	assert.NotContains(t, string(raw), "move_stage")
}

func TestHandleProgress(t *testing.T) {
	s, _, entry := newTestMCPServer(t)

	result, err := s.handleProgress(context.Background(), callRequest(map[string]interface{}{
		"tenant_id": testTenant,
		"entry_id":  entry.ID,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var view models.ProgressView
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &view))
	assert.Equal(t, 50.0, view.OverallProgress)
	assert.Len(t, view.Stages, 2)
}

func TestHandleProgress_MissingTenant(t *testing.T) {
	s, _, entry := newTestMCPServer(t)

	result, err := s.handleProgress(context.Background(), callRequest(map[string]interface{}{
		"entry_id": entry.ID,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleRecentActivity_TenantScoped(t *testing.T) {
	s, _, entry := newTestMCPServer(t)

	result, err := s.handleRecentActivity(context.Background(), callRequest(map[string]interface{}{
		"tenant_id": testTenant,
		"entry_id":  entry.ID,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var events []*models.JourneyEvent
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &events))
	require.Len(t, events, 1)
	assert.Equal(t, models.EventEnrolled, events[0].EventType)

	// A different tenant cannot read the entry's journey.
	result, err = s.handleRecentActivity(context.Background(), callRequest(map[string]interface{}{
		"tenant_id": "other-tenant",
		"entry_id":  entry.ID,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
