// Package api contains the HTTP handlers for the pipeline engine REST API.
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"admitflow/backend/internal/engine"
	"admitflow/backend/internal/logging"
	"admitflow/backend/internal/repository"
)

// Server holds the dependencies for the API handlers.
type Server struct {
	Engine *engine.Engine
	Repo   repository.Repository
	Logger *logging.Logger
}

// NewServer creates a new Server.
func NewServer(eng *engine.Engine, repo repository.Repository, logger *logging.Logger) *Server {
	return &Server{Engine: eng, Repo: repo, Logger: logger}
}

// HealthStatus is the health check response.
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HandleHealth reports service health including database reachability.
func (s *Server) HandleHealth(c echo.Context) error {
	status := HealthStatus{
		Status:    "ok",
		Service:   "admitflow-pipeline",
		Version:   "1.0.0",
		Timestamp: time.Now().UTC(),
		Checks:    map[string]string{"database": "ok"},
	}
	if err := s.Repo.Ping(c.Request().Context()); err != nil {
		status.Status = "degraded"
		status.Checks["database"] = err.Error()
		return c.JSON(http.StatusServiceUnavailable, status)
	}
	return c.JSON(http.StatusOK, status)
}

// ProblemDetails is an RFC 7807 Problem Details response.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// problem writes an RFC 7807 response mapped from the engine error taxonomy.
func problem(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	title := "Internal Server Error"
	switch {
	case engine.IsNotFound(err):
		status = http.StatusNotFound
		title = "Not Found"
	case engine.IsConflict(err):
		status = http.StatusConflict
		title = "Conflict"
	case engine.IsValidation(err):
		status = http.StatusBadRequest
		title = "Validation Error"
	}

	p := ProblemDetails{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   err.Error(),
		Instance: c.Request().URL.Path,
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, p)
}
