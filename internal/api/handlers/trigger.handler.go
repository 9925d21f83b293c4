package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opsforge/sentinel-core/internal/models"
	"github.com/opsforge/sentinel-core/pkg/cache"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

// alarmDedupeWindow suppresses re-fired cloud alarms for the same alarm id.
const alarmDedupeWindow = 60 * time.Second

type TriggerHandler struct {
	pipeline IncidentPipeline
	cache    cache.Store
	logger   logger.Logger
}

func NewTriggerHandler(pipeline IncidentPipeline, cache cache.Store, logger logger.Logger) *TriggerHandler {
	return &TriggerHandler{
		pipeline: pipeline,
		cache:    cache,
		logger:   logger,
	}
}

// AlarmWebhook is the shape sentinel-core needs from a cloud alarm payload.
type AlarmWebhook struct {
	AlarmID    string   `json:"alarm_id" binding:"required"`
	Name       string   `json:"name"`
	ResourceID string   `json:"resource_id"`
	Service    string   `json:"service"`
	State      string   `json:"state"`
	Severity   string   `json:"severity"`
	Services   []string `json:"services"`
}

// TriggerRequest carries the optional scoping for non-alarm triggers.
type TriggerRequest struct {
	Services []string               `json:"services"`
	Reason   string                 `json:"reason"`
	Payload  map[string]interface{} `json:"payload"`
}

// POST /api/v1/triggers/alarm - Cloud alarm webhook entry point
func (h *TriggerHandler) Alarm(c *gin.Context) {
	var req AlarmWebhook
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid_request_format"})
		return
	}

	first, err := h.cache.MarkSeen(c.Request.Context(), "alarm:"+req.AlarmID, alarmDedupeWindow)
	if err != nil {
		// Cache outage must not drop alarms; accept the duplicate risk.
		h.logger.Warn("Alarm dedupe check degraded", "alarm_id", req.AlarmID, "error", err)
		first = true
	}
	if !first {
		h.logger.Info("Alarm suppressed as duplicate", "alarm_id", req.AlarmID)
		c.JSON(http.StatusAccepted, gin.H{"status": "duplicate", "alarm_id": req.AlarmID})
		return
	}

	payload := map[string]interface{}{
		"alarm_id": req.AlarmID,
	}
	if req.Name != "" {
		payload["name"] = req.Name
	}
	if req.ResourceID != "" {
		payload["resource_id"] = req.ResourceID
	}
	if req.Service != "" {
		payload["service"] = req.Service
	}
	if req.State != "" {
		payload["state"] = req.State
	}
	if req.Severity != "" {
		payload["severity"] = req.Severity
	}
	if len(req.Services) > 0 {
		payload["services"] = req.Services
	}

	id := h.pipeline.Submit(models.TriggerAlarm, payload)
	h.logger.Info("Alarm trigger accepted", "alarm_id", req.AlarmID, "incident_id", id)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "incident_id": id})
}

// POST /api/v1/triggers/anomaly - Anomaly detector entry point
func (h *TriggerHandler) Anomaly(c *gin.Context) {
	h.submit(c, models.TriggerAnomaly)
}

// POST /api/v1/triggers/manual - Operator-initiated run
func (h *TriggerHandler) Manual(c *gin.Context) {
	h.submit(c, models.TriggerManual)
}

// POST /api/v1/triggers/proactive - Scheduled sweep entry point
func (h *TriggerHandler) Proactive(c *gin.Context) {
	h.submit(c, models.TriggerProactive)
}

func (h *TriggerHandler) submit(c *gin.Context, trigger models.TriggerType) {
	var req TriggerRequest
	// An empty body is a valid trigger with no scoping.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid_request_format"})
			return
		}
	}

	payload := req.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	if len(req.Services) > 0 {
		payload["services"] = req.Services
	}
	if req.Reason != "" {
		payload["reason"] = req.Reason
	}

	id := h.pipeline.Submit(trigger, payload)
	h.logger.Info("Trigger accepted", "trigger", string(trigger), "incident_id", id)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "incident_id": id})
}
