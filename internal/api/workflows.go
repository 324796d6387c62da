// Package api contains the HTTP handlers for the outreach engine REST API.
package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"outreach-mcp/internal/orchestrator"
	"outreach-mcp/internal/repository"
	"outreach-mcp/pkg/models"
)

// Server holds the dependencies for the API server.
type Server struct {
	Repo repository.Store
	Orch *orchestrator.Orchestrator
}

// NewServer creates a new Server.
func NewServer(repo repository.Store, orch *orchestrator.Orchestrator) *Server {
	return &Server{Repo: repo, Orch: orch}
}

// RegisterHandlers mounts the workflow routes on the given group. The resume
// route additionally runs the operate-scope middleware: only operators may
// clear an escalation.
func (s *Server) RegisterHandlers(g *echo.Group, operate echo.MiddlewareFunc) {
	g.GET("/workflows", s.ListWorkflows)
	g.GET("/workflows/:id", s.GetWorkflow)
	g.POST("/workflows", s.StartWorkflow)
	g.POST("/workflows/:id/resume", s.ResumeWorkflow, operate)
}

// ListWorkflows returns the latest checkpoint of every workflow.
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	ctx := c.Request().Context()

	workflows, err := s.Repo.ListWorkflows(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, workflows)
}

// GetWorkflow returns one workflow record.
// (GET /api/v1/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	rec, err := s.Repo.GetWorkflow(ctx, c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if rec == nil {
		return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
	}

	return c.JSON(http.StatusOK, rec)
}

// StartWorkflowRequest is the body of POST /workflows.
type StartWorkflowRequest struct {
	ProspectID string `json:"prospect_id"`
}

// StartWorkflow creates a workflow run for a prospect and runs it until a
// pause or terminal state.
// (POST /api/v1/workflows)
func (s *Server) StartWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	var req StartWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	if req.ProspectID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prospect_id is required")
	}

	prospect, err := s.Repo.GetProspect(ctx, req.ProspectID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if prospect == nil {
		return echo.NewHTTPError(http.StatusNotFound, "prospect not found")
	}

	rec, err := s.Orch.StartWorkflow(ctx, req.ProspectID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to start workflow: "+err.Error())
	}

	return c.JSON(http.StatusCreated, rec)
}

// ResumeWorkflowRequest is the body of POST /workflows/:id/resume.
type ResumeWorkflowRequest struct {
	Stage string `json:"stage,omitempty"`
}

// ResumeWorkflow clears the intervention flag on an escalated workflow and
// re-enters the stage graph. Requires the operate scope, enforced by the
// route middleware.
// (POST /api/v1/workflows/:id/resume)
func (s *Server) ResumeWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	var req ResumeWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	rec, err := s.Orch.Resume(ctx, c.Param("id"), models.Stage(req.Stage))
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrWorkflowNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, orchestrator.ErrNotEscalated):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	return c.JSON(http.StatusOK, rec)
}
