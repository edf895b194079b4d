package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/order-transcriber/internal/apperr"
	"github.com/garyjia/order-transcriber/internal/models"
	"github.com/garyjia/order-transcriber/internal/pipeline"
	"github.com/garyjia/order-transcriber/internal/profile"
	"github.com/garyjia/order-transcriber/internal/render"
	"github.com/garyjia/order-transcriber/internal/repository"
	"github.com/garyjia/order-transcriber/pkg/utils"
)

// Runner executes transcription runs
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// RunStore reads run history
type RunStore interface {
	GetByRunID(ctx context.Context, runID string) (*models.RunRecord, error)
	Checks(ctx context.Context, runID string) ([]models.ValidationCheck, error)
	List(ctx context.Context, filter models.RunFilter) ([]*models.RunRecord, error)
}

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// HandlerConfig holds what the handlers need to build run requests
type HandlerConfig struct {
	// OutputDir is the root under which every run gets its own directory
	OutputDir string
	Templates map[profile.Tag]string
	Strategy  render.Strategy
	Version   string
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	runner Runner
	runs   RunStore
	health HealthChecker
	cfg    HandlerConfig
	logger *zap.Logger
}

// NewHandlers creates a new Handlers instance. health may be nil.
func NewHandlers(runner Runner, runs RunStore, health HealthChecker, cfg HandlerConfig, logger *zap.Logger) *Handlers {
	return &Handlers{
		runner: runner,
		runs:   runs,
		health: health,
		cfg:    cfg,
		logger: logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Database  string `json:"database,omitempty"`
}

// CreateRunRequest is the body of POST /api/v1/runs
type CreateRunRequest struct {
	Partner  string          `json:"partner" binding:"required"`
	FieldSet json.RawMessage `json:"field_set" binding:"required"`
	Validate bool            `json:"validate"`
	Render   bool            `json:"render"`
	Strategy string          `json:"strategy"`
}

// ListRunsRequest represents query parameters for listing runs
type ListRunsRequest struct {
	Partner string `form:"partner"`
	Status  string `form:"status"`
	Limit   int    `form:"limit"`
	Offset  int    `form:"offset"`
}

// RunResponse is a history entry with its checks and stored result record
type RunResponse struct {
	*models.RunRecord
	Checks []models.ValidationCheck `json:"checks"`
	Result json.RawMessage          `json:"result,omitempty"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.cfg.Version,
	}
	status := http.StatusOK

	if h.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		response.Database = "ok"
		if err := h.health.Healthy(ctx); err != nil {
			h.logger.Warn("Health check failed", zap.Error(err))
			response.Status = "degraded"
			response.Database = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, Response{
		Success: status == http.StatusOK,
		Data:    response,
	})
}

// CreateRun handles POST /api/v1/runs
func (h *Handlers) CreateRun(c *gin.Context) {
	var req CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	tag, err := profile.ParseTag(req.Partner)
	if err != nil {
		h.badRequest(c, "unsupported partner", err)
		return
	}
	template := h.cfg.Templates[tag]
	if template == "" {
		h.badRequest(c, "no template configured for partner", errors.New(tag.String()))
		return
	}
	fs, err := models.ParseFieldSet(req.FieldSet)
	if err != nil {
		h.badRequest(c, "invalid field set", err)
		return
	}
	strategy := h.cfg.Strategy
	if req.Strategy != "" {
		if strategy, err = render.ParseStrategy(req.Strategy); err != nil {
			h.badRequest(c, "invalid strategy", err)
			return
		}
	}

	runID := uuid.NewString()
	result, err := h.runner.Run(c.Request.Context(), pipeline.Request{
		RunID:        runID,
		Partner:      tag,
		TemplatePath: template,
		FieldSet:     fs,
		OutputDir:    filepath.Join(h.cfg.OutputDir, runID),
		Validate:     req.Validate,
		Render:       req.Render,
		Strategy:     strategy,
	})
	if err != nil {
		h.logger.Error("Run failed",
			zap.String("run_id", runID),
			zap.String("partner", tag.String()),
			zap.Error(err))
		c.JSON(statusFor(apperr.KindOf(err)), Response{
			Success: false,
			Data:    result,
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    result,
	})
}

// ListRuns handles GET /api/v1/runs
func (h *Handlers) ListRuns(c *gin.Context) {
	var req ListRunsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, "invalid query parameters", err)
		return
	}

	filter := models.RunFilter{Limit: req.Limit, Offset: req.Offset}
	if req.Limit <= 0 || req.Limit > 100 {
		filter.Limit = 20
	}
	if req.Offset < 0 {
		filter.Offset = 0
	}
	if req.Partner != "" {
		tag, err := profile.ParseTag(req.Partner)
		if err != nil {
			h.badRequest(c, "unsupported partner", err)
			return
		}
		filter.Partner = tag.String()
	}
	if req.Status != "" {
		filter.Status = strings.ToUpper(req.Status)
		switch filter.Status {
		case models.RunStatusRunning, models.RunStatusSucceeded, models.RunStatusFailed:
		default:
			h.badRequest(c, "invalid status", errors.New(utils.SanitizeString(req.Status)))
			return
		}
	}

	runs, err := h.runs.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to retrieve runs",
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    runs,
	})
}

// GetRun handles GET /api/v1/runs/:id
func (h *Handlers) GetRun(c *gin.Context) {
	id := c.Param("id")
	if err := utils.ValidateRunID(id); err != nil {
		h.badRequest(c, "invalid run ID", err)
		return
	}

	run, err := h.runs.GetByRunID(c.Request.Context(), id)
	if errors.Is(err, repository.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, Response{
			Success: false,
			Error:   "run not found",
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get run", zap.String("run_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to retrieve run",
		})
		return
	}

	checks, err := h.runs.Checks(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get run checks", zap.String("run_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to retrieve run checks",
		})
		return
	}

	response := RunResponse{RunRecord: run, Checks: checks}
	if run.ResultJSON != "" && json.Valid([]byte(run.ResultJSON)) {
		response.Result = json.RawMessage(run.ResultJSON)
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    response,
	})
}

func (h *Handlers) badRequest(c *gin.Context, msg string, err error) {
	h.logger.Warn("Rejected request",
		zap.String("path", c.Request.URL.Path),
		zap.String("reason", msg),
		zap.Error(err))
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error:   msg + ": " + err.Error(),
	})
}

// statusFor maps an error kind to the response status of a failed run
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInput:
		return http.StatusBadRequest
	case apperr.KindBusinessRule, apperr.KindValidation:
		return http.StatusUnprocessableEntity
	case apperr.KindEngine:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
