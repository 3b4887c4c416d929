// Package api contains the HTTP handlers for the approval workflow service
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"heritage-portal/backend/internal/auth"
	"heritage-portal/backend/internal/repository"
	"heritage-portal/backend/internal/services"
	"heritage-portal/backend/pkg/models"

	"github.com/labstack/echo/v4"
)

// Server holds the dependencies for the API server.
type Server struct {
	Workflows *services.WorkflowService
	Consensus *services.ConsensusService
	Monitor   *services.DelayMonitor
	Store     repository.Store

	// DefaultSLAThresholdDays is used when the delayed listing is called
	// without an explicit threshold.
	DefaultSLAThresholdDays int
}

// NewServer creates a new Server.
func NewServer(workflows *services.WorkflowService, consensus *services.ConsensusService, monitor *services.DelayMonitor, store repository.Store, slaDays int) *Server {
	return &Server{
		Workflows:               workflows,
		Consensus:               consensus,
		Monitor:                 monitor,
		Store:                   store,
		DefaultSLAThresholdDays: slaDays,
	}
}

// RegisterHandlers wires all REST routes onto the given group.
func RegisterHandlers(g *echo.Group, s *Server) {
	g.GET("/health", s.HandleHealth)

	g.POST("/definitions", s.CreateDefinition)
	g.GET("/definitions", s.ListDefinitions)
	g.GET("/definitions/:id", s.GetDefinition)
	g.PUT("/definitions/:id", s.UpdateDefinition)

	g.POST("/workflows", s.StartWorkflow)
	g.GET("/workflows", s.ListWorkflows)
	g.GET("/workflows/delayed", s.ListDelayed)
	g.GET("/workflows/:id", s.GetWorkflow)
	g.POST("/workflows/:id/steps/:index", s.RecordStepOutcome)
	g.POST("/workflows/:id/cancel", s.CancelWorkflow)

	g.POST("/reviews/:subjectID/rounds", s.OpenReviewRound)
	g.POST("/reviews/:subjectID/votes", s.RecordVote)
	g.GET("/reviews/:subjectID", s.ListReviews)
	g.GET("/reviews/:subjectID/consensus", s.GetConsensus)

	g.POST("/committee/members", s.AppointMember)
	g.GET("/committee/members", s.ListMembers)
	g.POST("/committee/members/:id/deactivate", s.DeactivateMember)

	g.GET("/audit/:subjectID", s.AuditTrail)
}

func actor(c echo.Context) (models.Actor, error) {
	a, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return models.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "no authenticated actor in request")
	}
	return a, nil
}

// CreateDefinition registers a new workflow definition
// (POST /api/v1/definitions)
func (s *Server) CreateDefinition(c echo.Context) error {
	ctx := c.Request().Context()

	var def models.WorkflowDefinition
	if err := c.Bind(&def); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	created, err := s.Workflows.CreateDefinition(ctx, &def)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

// ListDefinitions returns all workflow definitions
// (GET /api/v1/definitions)
func (s *Server) ListDefinitions(c echo.Context) error {
	defs, err := s.Store.ListDefinitions(c.Request().Context())
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, defs)
}

// GetDefinition returns one workflow definition
// (GET /api/v1/definitions/:id)
func (s *Server) GetDefinition(c echo.Context) error {
	def, err := s.Store.GetDefinition(c.Request().Context(), c.Param("id"))
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, def)
}

// UpdateDefinition updates a workflow definition while it is still inactive
// (PUT /api/v1/definitions/:id)
func (s *Server) UpdateDefinition(c echo.Context) error {
	ctx := c.Request().Context()

	var def models.WorkflowDefinition
	if err := c.Bind(&def); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	def.ID = c.Param("id")

	updated, err := s.Workflows.UpdateDefinition(ctx, &def)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

// StartWorkflowRequest is the payload for starting an approval workflow.
type StartWorkflowRequest struct {
	DefinitionID string          `json:"definition_id"`
	SubjectID    string          `json:"subject_id"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// StartWorkflow starts a workflow instance for a subject
// (POST /api/v1/workflows)
func (s *Server) StartWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	act, err := actor(c)
	if err != nil {
		return err
	}

	var req StartWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	inst, err := s.Workflows.StartInstance(ctx, req.DefinitionID, req.SubjectID, act, req.Metadata)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusCreated, inst)
}

// ListWorkflows returns all workflow instances
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	instances, err := s.Store.ListInstances(c.Request().Context())
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, instances)
}

// WorkflowDetail bundles an instance with its step executions.
type WorkflowDetail struct {
	Instance *models.WorkflowInstance `json:"instance"`
	Steps    []*models.StepExecution  `json:"steps"`
}

// GetWorkflow returns an instance with its steps
// (GET /api/v1/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	inst, steps, err := s.Workflows.GetInstance(c.Request().Context(), c.Param("id"))
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, WorkflowDetail{Instance: inst, Steps: steps})
}

// StepOutcomeRequest is the payload for recording a step decision.
type StepOutcomeRequest struct {
	Decision models.Decision `json:"decision"`
	Comments string          `json:"comments,omitempty"`
}

// RecordStepOutcome records an approval or rejection on the current step
// (POST /api/v1/workflows/:id/steps/:index)
func (s *Server) RecordStepOutcome(c echo.Context) error {
	ctx := c.Request().Context()

	act, err := actor(c)
	if err != nil {
		return err
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "step index must be an integer")
	}

	var req StepOutcomeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	step, err := s.Workflows.RecordStepOutcome(ctx, c.Param("id"), index, act, req.Decision, req.Comments)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, step)
}

// CancelWorkflow cancels an in-flight instance
// (POST /api/v1/workflows/:id/cancel)
func (s *Server) CancelWorkflow(c echo.Context) error {
	act, err := actor(c)
	if err != nil {
		return err
	}

	inst, err := s.Workflows.CancelInstance(c.Request().Context(), c.Param("id"), act)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, inst)
}

// ListDelayed returns non-terminal instances older than the SLA threshold
// (GET /api/v1/workflows/delayed?threshold_days=N)
func (s *Server) ListDelayed(c echo.Context) error {
	days := s.DefaultSLAThresholdDays
	if raw := c.QueryParam("threshold_days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "threshold_days must be an integer")
		}
		days = parsed
	}

	delayed, err := s.Monitor.ListDelayed(c.Request().Context(), days)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, delayed)
}

// OpenReviewRound opens a committee review round for a subject
// (POST /api/v1/reviews/:subjectID/rounds)
func (s *Server) OpenReviewRound(c echo.Context) error {
	act, err := actor(c)
	if err != nil {
		return err
	}

	reviews, err := s.Consensus.OpenReviewRound(c.Request().Context(), c.Param("subjectID"), act)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusCreated, reviews)
}

// VoteRequest is the payload for a committee member's vote.
type VoteRequest struct {
	MemberID  string              `json:"member_id"`
	Decision  models.ReviewStatus `json:"decision"`
	Comments  string              `json:"comments,omitempty"`
	Rationale string              `json:"rationale,omitempty"`
}

// VoteResponse reports the consensus outcome after a vote is recorded.
type VoteResponse struct {
	Outcome models.ConsensusOutcome `json:"outcome"`
}

// RecordVote records a committee member's verdict for the current round
// (POST /api/v1/reviews/:subjectID/votes)
func (s *Server) RecordVote(c echo.Context) error {
	var req VoteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	outcome, err := s.Consensus.RecordVote(c.Request().Context(), c.Param("subjectID"), req.MemberID, req.Decision, req.Comments, req.Rationale)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, VoteResponse{Outcome: outcome})
}

// ListReviews returns the current round's review slots for a subject
// (GET /api/v1/reviews/:subjectID)
func (s *Server) ListReviews(c echo.Context) error {
	reviews, err := s.Consensus.ListReviews(c.Request().Context(), c.Param("subjectID"))
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, reviews)
}

// GetConsensus evaluates the current round without mutating it
// (GET /api/v1/reviews/:subjectID/consensus)
func (s *Server) GetConsensus(c echo.Context) error {
	outcome, err := s.Consensus.EvaluateConsensus(c.Request().Context(), c.Param("subjectID"))
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, VoteResponse{Outcome: outcome})
}

// AppointMember appoints a committee member
// (POST /api/v1/committee/members)
func (s *Server) AppointMember(c echo.Context) error {
	act, err := actor(c)
	if err != nil {
		return err
	}

	var member models.CommitteeMember
	if err := c.Bind(&member); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	created, err := s.Consensus.AppointMember(c.Request().Context(), &member, act)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

// ListMembers returns committee members, optionally only active ones
// (GET /api/v1/committee/members?active=true)
func (s *Server) ListMembers(c echo.Context) error {
	activeOnly := c.QueryParam("active") == "true"
	members, err := s.Consensus.ListMembers(c.Request().Context(), activeOnly)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, members)
}

// DeactivateMember retires a committee member without deleting history
// (POST /api/v1/committee/members/:id/deactivate)
func (s *Server) DeactivateMember(c echo.Context) error {
	act, err := actor(c)
	if err != nil {
		return err
	}

	member, err := s.Consensus.DeactivateMember(c.Request().Context(), c.Param("id"), act)
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, member)
}

// AuditTrail returns the append-only audit history for a subject
// (GET /api/v1/audit/:subjectID)
func (s *Server) AuditTrail(c echo.Context) error {
	entries, err := s.Workflows.AuditTrail(c.Request().Context(), c.Param("subjectID"))
	if err != nil {
		return domainError(c, err)
	}
	return c.JSON(http.StatusOK, entries)
}
