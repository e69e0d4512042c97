package scraper

import (
	"errors"
	"net/http"
	"time"

	"scrapeflow/internal/engine"
	"scrapeflow/internal/pkg/health"
	"scrapeflow/internal/pkg/logger"
	"scrapeflow/internal/pkg/server"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Handler handles scraping API requests
type Handler struct {
	engine   *engine.Engine
	tokens   *TokenService
	health   *health.Service
	validate *validator.Validate
	logger   *logger.Logger
}

// NewHandler creates a new scraper handler
func NewHandler(eng *engine.Engine, tokens *TokenService, healthSvc *health.Service, log *logger.Logger) *Handler {
	return &Handler{
		engine:   eng,
		tokens:   tokens,
		health:   healthSvc,
		validate: validator.New(),
		logger:   log,
	}
}

// SubmitTask accepts one task for execution
func (h *Handler) SubmitTask(c echo.Context) error {
	var dto SubmitTaskDTO
	if err := c.Bind(&dto); err != nil {
		return server.ErrorResponse(c, http.StatusBadRequest, err.Error(), "Invalid request body")
	}
	if err := h.validate.Struct(&dto); err != nil {
		return server.ErrorResponse(c, http.StatusBadRequest, err.Error(), "Validation failed")
	}

	task := h.buildTask(dto)
	if err := h.engine.Submit(task); err != nil {
		return h.submitError(c, err)
	}

	return server.SuccessResponse(c, http.StatusAccepted, SubmitResponse{
		TaskID:   task.ID,
		Status:   task.Status(),
		Priority: task.Priority.String(),
	}, "Task accepted")
}

// SubmitBulk accepts up to 100 tasks at once. Submission stops early on
// backpressure; remaining tasks are rejected with the queue-full error.
func (h *Handler) SubmitBulk(c echo.Context) error {
	var dto BulkSubmitDTO
	if err := c.Bind(&dto); err != nil {
		return server.ErrorResponse(c, http.StatusBadRequest, err.Error(), "Invalid request body")
	}
	if err := h.validate.Struct(&dto); err != nil {
		return server.ErrorResponse(c, http.StatusBadRequest, err.Error(), "Validation failed")
	}

	resp := BulkSubmitResponse{Results: make([]BulkSubmitResult, 0, len(dto.Tasks))}
	for _, t := range dto.Tasks {
		task := h.buildTask(t)
		if err := h.engine.Submit(task); err != nil {
			resp.Rejected++
			resp.Results = append(resp.Results, BulkSubmitResult{Error: err.Error()})
			continue
		}
		resp.Accepted++
		resp.Results = append(resp.Results, BulkSubmitResult{TaskID: task.ID})
	}

	status := http.StatusAccepted
	if resp.Accepted == 0 {
		status = http.StatusServiceUnavailable
	}
	return server.SuccessResponse(c, status, resp, "Bulk submission processed")
}

// GetTask returns a full task snapshot
func (h *Handler) GetTask(c echo.Context) error {
	view, ok := h.engine.GetTask(c.Param("id"))
	if !ok {
		return server.ErrorResponse(c, http.StatusNotFound, nil, "Task not found")
	}
	return server.SuccessResponse(c, http.StatusOK, view, "Task retrieved")
}

// CancelTask requests cancellation of a task
func (h *Handler) CancelTask(c echo.Context) error {
	id := c.Param("id")
	if _, ok := h.engine.GetStatus(id); !ok {
		return server.ErrorResponse(c, http.StatusNotFound, nil, "Task not found")
	}
	if !h.engine.Cancel(id) {
		return server.ErrorResponse(c, http.StatusConflict, nil, "Task already finished")
	}
	return server.SuccessResponse(c, http.StatusOK, nil, "Cancellation requested")
}

// GetMetrics returns aggregate engine metrics
func (h *Handler) GetMetrics(c echo.Context) error {
	return server.SuccessResponse(c, http.StatusOK, h.engine.GetMetrics(), "Metrics retrieved")
}

// GetEngineStatus returns the engine state, workers, and queue depth
func (h *Handler) GetEngineStatus(c echo.Context) error {
	return server.SuccessResponse(c, http.StatusOK, h.engine.Status(), "Engine status retrieved")
}

// PauseEngine pauses task dispatch
func (h *Handler) PauseEngine(c echo.Context) error {
	h.engine.Pause()
	return server.SuccessResponse(c, http.StatusOK, map[string]string{
		"state": string(h.engine.State()),
	}, "Engine paused")
}

// ResumeEngine resumes task dispatch
func (h *Handler) ResumeEngine(c echo.Context) error {
	h.engine.Resume()
	return server.SuccessResponse(c, http.StatusOK, map[string]string{
		"state": string(h.engine.State()),
	}, "Engine resumed")
}

// GetHealth runs all health checks
func (h *Handler) GetHealth(c echo.Context) error {
	resp := h.health.Check(c.Request().Context())
	status := http.StatusOK
	if resp.Status == health.StatusDown {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, resp)
}

// IssueToken issues an API token. Exposed only when a signing secret is
// configured; intended for operator bootstrapping, not end users.
func (h *Handler) IssueToken(c echo.Context) error {
	var dto TokenRequestDTO
	if err := c.Bind(&dto); err != nil {
		return server.ErrorResponse(c, http.StatusBadRequest, err.Error(), "Invalid request body")
	}
	if err := h.validate.Struct(&dto); err != nil {
		return server.ErrorResponse(c, http.StatusBadRequest, err.Error(), "Validation failed")
	}

	token, expiresAt, err := h.tokens.Issue(dto.Subject)
	if err != nil {
		h.logger.Error("Token issuance failed", zap.Error(err))
		return server.ErrorResponse(c, http.StatusInternalServerError, nil, "Token issuance failed")
	}

	return server.SuccessResponse(c, http.StatusOK, TokenResponse{
		Token:     token,
		ExpiresAt: expiresAt.Unix(),
	}, "Token issued")
}

func (h *Handler) buildTask(dto SubmitTaskDTO) *engine.Task {
	task := engine.NewTask(dto.Site, dto.URL, dto.Parameters, engine.ParsePriority(dto.Priority))
	if dto.MaxRetries != nil {
		task.SetMaxRetries(*dto.MaxRetries)
	}
	return task
}

func (h *Handler) submitError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, engine.ErrQueueFull):
		c.Response().Header().Set("Retry-After", retryAfter())
		return server.ErrorResponse(c, http.StatusServiceUnavailable, err.Error(), "Queue full, retry later")
	case errors.Is(err, engine.ErrNotAccepting):
		return server.ErrorResponse(c, http.StatusConflict, err.Error(), "Engine not accepting tasks")
	default:
		h.logger.Error("Task submission failed", zap.Error(err))
		return server.ErrorResponse(c, http.StatusInternalServerError, err.Error(), "Submission failed")
	}
}

func retryAfter() string {
	return time.Now().Add(5 * time.Second).UTC().Format(http.TimeFormat)
}
