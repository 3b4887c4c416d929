package api

import (
	"errors"
	"net/http"
	"time"

	"heritage-portal/backend/pkg/models"

	"github.com/labstack/echo/v4"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// HandleHealth returns basic health status. It degrades to 503 when the
// backing store is unreachable.
func (s *Server) HandleHealth(c echo.Context) error {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "heritage-portal",
		Version:   "1.0.0",
	}
	if err := s.Store.Ping(c.Request().Context()); err != nil {
		status.Status = "degraded"
		return c.JSON(http.StatusServiceUnavailable, status)
	}
	return c.JSON(http.StatusOK, status)
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// writeProblem writes an RFC 7807 Problem Details JSON error response
func writeProblem(c echo.Context, status int, title, detail string) error {
	problem := ProblemDetails{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	}
	// echo only sets Content-Type when it is still empty, so the problem+json
	// media type set here survives the JSON write below.
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, problem)
}

// domainError maps the service error taxonomy onto HTTP problem responses.
func domainError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, models.ErrValidation):
		return writeProblem(c, http.StatusBadRequest, "Validation failed", err.Error())
	case errors.Is(err, models.ErrPermission):
		return writeProblem(c, http.StatusForbidden, "Not permitted", err.Error())
	case errors.Is(err, models.ErrNotFound):
		return writeProblem(c, http.StatusNotFound, "Not found", err.Error())
	case errors.Is(err, models.ErrConflict):
		return writeProblem(c, http.StatusConflict, "Concurrent update", err.Error())
	case errors.Is(err, models.ErrAlreadyRunning):
		return writeProblem(c, http.StatusConflict, "Already running", err.Error())
	case errors.Is(err, models.ErrState), errors.Is(err, models.ErrDefinitionInactive):
		return writeProblem(c, http.StatusUnprocessableEntity, "Invalid state", err.Error())
	default:
		return writeProblem(c, http.StatusInternalServerError, "Internal error", err.Error())
	}
}
