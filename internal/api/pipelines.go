package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"admitflow/backend/internal/auth"
	"admitflow/backend/internal/engine"
	"admitflow/backend/internal/repository"
	"admitflow/backend/pkg/models"
)

// RegisterRoutes mounts the pipeline engine API on the given group. The group
// is expected to carry the tenant-resolution middleware.
func (s *Server) RegisterRoutes(g *echo.Group) {
	g.POST("/pipelines", s.CreatePipeline)
	g.GET("/pipelines", s.ListPipelines)
	g.GET("/pipelines/:id", s.GetPipeline)

	g.POST("/entries", s.Enroll)
	g.GET("/entries", s.ListEntries)
	g.POST("/entries/:id/move", s.MoveToStage)
	g.POST("/entries/:id/progress", s.UpdateProgress)
	g.GET("/entries/:id/progress", s.GetProgress)
	g.POST("/entries/:id/notes", s.AddNote)
	g.POST("/entries/:id/override", s.ApplyOverride)
	g.POST("/entries/:id/complete", s.Complete)
	g.POST("/entries/:id/cancel", s.Cancel)
}

func tenantID(c echo.Context) (string, error) {
	id, ok := auth.TenantID(c.Request().Context())
	if !ok || id == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "Tenant ID not found in context")
	}
	return id, nil
}

// CreatePipeline creates a pipeline definition.
// (POST /api/v1/pipelines)
func (s *Server) CreatePipeline(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	var def models.PipelineDefinition
	if err := c.Bind(&def); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	def.TenantID = tenant

	if def.Name == "" {
		return problem(c, &engine.ValidationError{Field: "name", Reason: "must not be empty"})
	}
	if len(def.Stages) == 0 {
		return problem(c, &engine.ValidationError{Field: "stages", Reason: "a pipeline needs at least one stage"})
	}
	seen := make(map[string]bool, len(def.Stages))
	for _, stage := range def.Stages {
		if stage.ID == "" {
			return problem(c, &engine.ValidationError{Field: "stages", Reason: "every stage needs an id"})
		}
		if seen[stage.ID] {
			return problem(c, &engine.ValidationError{Field: "stages", Reason: "duplicate stage id " + stage.ID})
		}
		seen[stage.ID] = true
	}

	if err := s.Repo.CreateDefinition(c.Request().Context(), &def); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return echo.NewHTTPError(http.StatusConflict, "Pipeline already exists")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save pipeline: "+err.Error())
	}
	return c.JSON(http.StatusCreated, def)
}

// ListPipelines returns all pipeline definitions for the tenant.
// (GET /api/v1/pipelines)
func (s *Server) ListPipelines(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	defs, err := s.Repo.ListDefinitions(c.Request().Context(), tenant)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, defs)
}

// GetPipeline returns one pipeline definition.
// (GET /api/v1/pipelines/:id)
func (s *Server) GetPipeline(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	def, err := s.Repo.GetDefinition(c.Request().Context(), tenant, c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		return problem(c, engine.ErrPipelineNotFound)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, def)
}

// Enroll enrolls an entity into a pipeline.
// (POST /api/v1/entries)
func (s *Server) Enroll(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	var req engine.EnrollRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	result, err := s.Engine.Enroll(c.Request().Context(), tenant, req)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusCreated, result)
}

// ListEntries returns entries matching the query filters.
// (GET /api/v1/entries)
func (s *Server) ListEntries(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	filter := repository.EntryFilter{
		PipelineID:  c.QueryParam("pipeline_id"),
		EntityType:  models.EntityType(c.QueryParam("entity_type")),
		StageStatus: models.StageStatus(c.QueryParam("status")),
		Stage:       c.QueryParam("stage"),
	}
	if v := c.QueryParam("breached"); v != "" {
		breached := v == "true"
		filter.Breached = &breached
	}
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	entries, err := s.Repo.ListEntries(c.Request().Context(), tenant, filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, entries)
}

type moveRequest struct {
	TargetStage string `json:"target_stage"`
	Reason      string `json:"reason,omitempty"`
	Actor       string `json:"actor,omitempty"`
}

// MoveToStage moves an entry to a target stage and reports the automation
// outcome alongside the updated entry. A move with failed automations is
// still a successful move.
// (POST /api/v1/entries/:id/move)
func (s *Server) MoveToStage(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	var req moveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	result, err := s.Engine.MoveToStage(c.Request().Context(), tenant, c.Param("id"), req.TargetStage, req.Reason, req.Actor)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

type progressRequest struct {
	Progress           float64 `json:"progress"`
	PercentageComplete float64 `json:"percentage_complete"`
}

// UpdateProgress records partial progress within the current stage.
// (POST /api/v1/entries/:id/progress)
func (s *Server) UpdateProgress(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	var req progressRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	entry, err := s.Engine.UpdateProgress(c.Request().Context(), tenant, c.Param("id"), req.Progress, req.PercentageComplete)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, entry)
}

// GetProgress returns the composed progress view for an entry.
// (GET /api/v1/entries/:id/progress)
func (s *Server) GetProgress(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}
	view, err := s.Engine.GetProgress(c.Request().Context(), tenant, c.Param("id"))
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

type noteRequest struct {
	Note  string `json:"note"`
	Actor string `json:"actor,omitempty"`
}

// AddNote appends an audit note to an entry.
// (POST /api/v1/entries/:id/notes)
func (s *Server) AddNote(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	var req noteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	entry, err := s.Engine.AddNote(c.Request().Context(), tenant, c.Param("id"), req.Note, req.Actor)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, entry)
}

// ApplyOverride applies a manual override (FAST_FORWARD, ROLLBACK,
// EXTEND_SLA).
// (POST /api/v1/entries/:id/override)
func (s *Server) ApplyOverride(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	var req engine.OverrideRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	result, err := s.Engine.ApplyOverride(c.Request().Context(), tenant, c.Param("id"), req)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

type closeRequest struct {
	Reason string `json:"reason,omitempty"`
	Actor  string `json:"actor,omitempty"`
}

// Complete marks an entry COMPLETED at its current stage.
// (POST /api/v1/entries/:id/complete)
func (s *Server) Complete(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	var req closeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	entry, err := s.Engine.Complete(c.Request().Context(), tenant, c.Param("id"), req.Actor)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, entry)
}

// Cancel closes an entry with CANCELLED status.
// (POST /api/v1/entries/:id/cancel)
func (s *Server) Cancel(c echo.Context) error {
	tenant, err := tenantID(c)
	if err != nil {
		return err
	}

	var req closeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	entry, err := s.Engine.Cancel(c.Request().Context(), tenant, c.Param("id"), req.Reason, req.Actor)
	if err != nil {
		return problem(c, err)
	}
	return c.JSON(http.StatusOK, entry)
}
