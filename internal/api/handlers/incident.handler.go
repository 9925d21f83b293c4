package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/opsforge/sentinel-core/internal/models"
	"github.com/opsforge/sentinel-core/internal/sop"
	"github.com/opsforge/sentinel-core/internal/storage"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

type IncidentHandler struct {
	pipeline IncidentPipeline
	logger   logger.Logger
}

func NewIncidentHandler(pipeline IncidentPipeline, logger logger.Logger) *IncidentHandler {
	return &IncidentHandler{
		pipeline: pipeline,
		logger:   logger,
	}
}

// ApprovalDecision carries the approver identity for an approve/reject call.
type ApprovalDecision struct {
	DecidedBy     string `json:"decided_by" binding:"required"`
	Justification string `json:"justification"`
}

// StepCompletion reports the outcome of a manually executed runbook step.
type StepCompletion struct {
	Outcome string `json:"outcome" binding:"required"`
	Note    string `json:"note"`
}

// GET /api/v1/incidents/:id - Durable incident record lookup
func (h *IncidentHandler) GetIncident(c *gin.Context) {
	id := c.Param("id")

	rec, err := h.pipeline.LoadIncident(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "incident_not_found"})
			return
		}
		h.logger.Error("Incident lookup failed", "incident_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "incident_lookup_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "incident": rec})
}

// POST /api/v1/approvals/:token/approve - Resume a gated execution
func (h *IncidentHandler) Approve(c *gin.Context) {
	h.decide(c, true)
}

// POST /api/v1/approvals/:token/reject - Decline a gated execution
func (h *IncidentHandler) Reject(c *gin.Context) {
	h.decide(c, false)
}

func (h *IncidentHandler) decide(c *gin.Context, approve bool) {
	tokenID := c.Param("token")

	var req ApprovalDecision
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid_request_format"})
		return
	}

	rec, err := h.pipeline.ResolveApproval(c.Request.Context(), tokenID, req.DecidedBy, approve)
	if err != nil {
		switch {
		case errors.Is(err, sop.ErrApprovalNotFound):
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "approval_not_found"})
		case errors.Is(err, sop.ErrApprovalExpired):
			resp := gin.H{"status": "error", "error": "approval_expired"}
			if rec != nil {
				resp["incident"] = rec
			}
			c.JSON(http.StatusGone, resp)
		default:
			h.logger.Error("Approval decision failed", "token_id", tokenID, "error", err)
			resp := gin.H{"status": "error", "error": "approval_decision_failed"}
			if rec != nil {
				resp["incident"] = rec
			}
			c.JSON(http.StatusConflict, resp)
		}
		return
	}

	h.logger.Info("Approval decided",
		"token_id", tokenID,
		"approved", approve,
		"decided_by", req.DecidedBy,
		"incident_status", string(rec.Status),
	)
	c.JSON(http.StatusOK, gin.H{"status": "success", "incident": rec})
}

// POST /api/v1/executions/:id/steps/:index - Complete a parked manual step
func (h *IncidentHandler) CompleteStep(c *gin.Context) {
	executionID := c.Param("id")
	stepIndex, err := strconv.Atoi(c.Param("index"))
	if err != nil || stepIndex < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid_step_index"})
		return
	}

	var req StepCompletion
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid_request_format"})
		return
	}

	outcome := models.StepStatus(req.Outcome)
	if outcome != models.StepSucceeded && outcome != models.StepFailed {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid_outcome"})
		return
	}

	rec, err := h.pipeline.ResumeStep(c.Request.Context(), executionID, stepIndex, outcome, req.Note)
	if err != nil {
		switch {
		case errors.Is(err, sop.ErrExecutionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "execution_not_found"})
		case errors.Is(err, sop.ErrWrongStep):
			c.JSON(http.StatusConflict, gin.H{"status": "error", "error": "step_mismatch"})
		case errors.Is(err, storage.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "incident_not_found"})
		default:
			h.logger.Error("Step completion failed", "execution_id", executionID, "step", stepIndex, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "step_completion_failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "incident": rec})
}
