package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admitflow/backend/internal/auth"
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

func newTestServer() (*Server, *repository.InMemory) {
	repo := repository.NewInMemory()
	executor := engine.NewAutomationExecutor(
		stubEntityStore{}, stubTaskCreator{}, stubNotifier{}, stubMessenger{}, stubMessenger{},
		logging.NewNop(), engine.ExecutorConfig{})
	eng := engine.New(repo, executor, logging.NewNop())
	return NewServer(eng, repo, logging.NewNop()), repo
}

func doRequest(s *Server, handler echo.HandlerFunc, method, path, body string, params map[string]string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req = req.WithContext(auth.WithTenantID(req.Context(), testTenant))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	for k, v := range params {
		c.SetParamNames(k)
		c.SetParamValues(v)
	}
	_ = handler(c)
	return rec
}

func seedPipeline(t *testing.T, repo *repository.InMemory) *models.PipelineDefinition {
	t.Helper()
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
	return def
}

func TestCreatePipeline_Validation(t *testing.T) {
	s, _ := newTestServer()

	rec := doRequest(s, s.CreatePipeline, http.MethodPost, "/api/v1/pipelines",
		`{"name":"Empty","type":"X","stages":[]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var p ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "Validation Error", p.Title)
	assert.Contains(t, p.Detail, "at least one stage")
}

func TestCreatePipeline_DuplicateStageIDs(t *testing.T) {
	s, _ := newTestServer()

	rec := doRequest(s, s.CreatePipeline, http.MethodPost, "/api/v1/pipelines",
		`{"name":"Dup","type":"X","stages":[{"id":"a","name":"A"},{"id":"a","name":"B"}]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePipeline_SetsTenantFromContext(t *testing.T) {
	s, repo := newTestServer()

	rec := doRequest(s, s.CreatePipeline, http.MethodPost, "/api/v1/pipelines",
		`{"name":"Admissions","type":"ADMISSIONS","stages":[{"id":"a","name":"A"}]}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	defs, err := repo.ListDefinitions(context.Background(), testTenant)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, testTenant, defs[0].TenantID)
}

func TestGetPipeline_NotFound(t *testing.T) {
	s, _ := newTestServer()

	rec := doRequest(s, s.GetPipeline, http.MethodGet, "/api/v1/pipelines/missing", "",
		map[string]string{"id": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "application/problem+json")
}

func TestEnrollAndMove(t *testing.T) {
	s, repo := newTestServer()
	def := seedPipeline(t, repo)

	rec := doRequest(s, s.Enroll, http.MethodPost, "/api/v1/entries",
		`{"pipeline_id":"`+def.ID+`","entity_id":"student-1","entity_type":"STUDENT"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var result models.TransitionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "inquiry", result.Entry.CurrentStage)

	rec = doRequest(s, s.MoveToStage, http.MethodPost, "/api/v1/entries/"+result.Entry.ID+"/move",
		`{"target_stage":"decision","actor":"staff"}`, map[string]string{"id": result.Entry.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	var moved models.TransitionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &moved))
	assert.Equal(t, "decision", moved.Entry.CurrentStage)
	assert.Equal(t, models.StageStatusCompleted, moved.Entry.StageStatus)
}

func TestEnroll_DuplicateMapsToConflict(t *testing.T) {
	s, repo := newTestServer()
	def := seedPipeline(t, repo)
	body := `{"pipeline_id":"` + def.ID + `","entity_id":"student-1","entity_type":"STUDENT"}`

	rec := doRequest(s, s.Enroll, http.MethodPost, "/api/v1/entries", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(s, s.Enroll, http.MethodPost, "/api/v1/entries", body, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var p ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "Conflict", p.Title)
	assert.Equal(t, http.StatusConflict, p.Status)
}

func TestEnroll_UnknownEntityTypeMapsToValidation(t *testing.T) {
	s, repo := newTestServer()
	def := seedPipeline(t, repo)

	rec := doRequest(s, s.Enroll, http.MethodPost, "/api/v1/entries",
		`{"pipeline_id":"`+def.ID+`","entity_id":"x","entity_type":"ROBOT"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetProgress(t *testing.T) {
	s, repo := newTestServer()
	def := seedPipeline(t, repo)

	rec := doRequest(s, s.Enroll, http.MethodPost, "/api/v1/entries",
		`{"pipeline_id":"`+def.ID+`","entity_id":"student-1","entity_type":"STUDENT"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var result models.TransitionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	rec = doRequest(s, s.GetProgress, http.MethodGet, "/api/v1/entries/"+result.Entry.ID+"/progress", "",
		map[string]string{"id": result.Entry.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	var view models.ProgressView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, 50.0, view.OverallProgress)
	assert.Len(t, view.Stages, 2)
}

func TestMissingTenantIsUnauthorized(t *testing.T) {
	s, _ := newTestServer()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/pipelines", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := s.ListPipelines(c)
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}
