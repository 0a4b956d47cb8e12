package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mbellido/agentpay/internal/application/orchestrator"
	"github.com/mbellido/agentpay/internal/application/workers"
	"github.com/mbellido/agentpay/pkg/domain"
)

// RunSubmitResponse represents a run submission response
type RunSubmitResponse struct {
	RunID       string `json:"run_id"`
	Status      string `json:"status"`
	SubmittedAt string `json:"submitted_at"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	workerPool := "ok"
	if s.pool != nil && !s.pool.Health().IsHealthy() {
		workerPool = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks": gin.H{
			"orchestrator": "ok",
			"worker_pool":  workerPool,
		},
	})
}

// RoleInfo describes one built-in role in the catalog
type RoleInfo struct {
	Role    domain.Role `json:"role"`
	AgentID uint64      `json:"agent_id"`
}

// handleListRoles returns the built-in role catalog and default pipeline
// ordering
func (s *Server) handleListRoles(c *gin.Context) {
	roles := []RoleInfo{{Role: domain.RoleCoordinator, AgentID: domain.RoleCoordinator.AgentID()}}
	for _, role := range domain.DefaultPipeline() {
		roles = append(roles, RoleInfo{Role: role, AgentID: role.AgentID()})
	}

	c.JSON(http.StatusOK, gin.H{
		"roles":            roles,
		"default_pipeline": domain.DefaultPipeline(),
	})
}

// handleSubmitRun handles run submission
func (s *Server) handleSubmitRun(c *gin.Context) {
	var req orchestrator.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Error("invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}

	runID, err := s.manager.Submit(c.Request.Context(), req)
	if err != nil {
		s.logger.Error("failed to submit run", zap.Error(err))

		switch {
		case errors.Is(err, domain.ErrInvalidPricing):
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: ErrorDetail{
					Code:    "INVALID_PRICING",
					Message: err.Error(),
				},
			})
		case errors.Is(err, workers.ErrQueueFull):
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{
				Error: ErrorDetail{
					Code:    "QUEUE_FULL",
					Message: err.Error(),
				},
			})
		default:
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
				Error: ErrorDetail{
					Code:    "SUBMISSION_FAILED",
					Message: err.Error(),
				},
			})
		}
		return
	}

	c.JSON(http.StatusCreated, RunSubmitResponse{
		RunID:       runID,
		Status:      "submitted",
		SubmittedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleGetRun handles getting run status and result
func (s *Server) handleGetRun(c *gin.Context) {
	runID := c.Param("id")

	status, err := s.manager.Status(runID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_FOUND",
				Message: "Run not found",
			},
		})
		return
	}

	c.JSON(http.StatusOK, status)
}

// handleCancelRun handles run cancellation
func (s *Server) handleCancelRun(c *gin.Context) {
	runID := c.Param("id")

	if err := s.manager.Cancel(runID); err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: ErrorDetail{
					Code:    "NOT_FOUND",
					Message: "Run not found",
				},
			})
			return
		}
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{
				Code:    "CANCELLATION_FAILED",
				Message: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id": runID,
		"status": "cancellation requested",
	})
}

// handleGetTask handles getting the authoritative ledger task state
func (s *Server) handleGetTask(c *gin.Context) {
	taskID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: "task id must be an unsigned integer",
			},
		})
		return
	}

	task, err := s.ledger.GetTask(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: ErrorDetail{
					Code:    "NOT_FOUND",
					Message: "Task not found",
				},
			})
			return
		}
		s.logger.Error("failed to read task", zap.Uint64("task_id", taskID), zap.Error(err))
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error: ErrorDetail{
				Code:    "LEDGER_ERROR",
				Message: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, task)
}
