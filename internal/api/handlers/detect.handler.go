package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opsforge/sentinel-core/pkg/logger"
)

type DetectHandler struct {
	agent  DetectReader
	logger logger.Logger
}

func NewDetectHandler(agent DetectReader, logger logger.Logger) *DetectHandler {
	return &DetectHandler{
		agent:  agent,
		logger: logger,
	}
}

// GET /api/v1/detections/latest?source=&max_age= - Read the freshest snapshot
func (h *DetectHandler) Latest(c *gin.Context) {
	source := c.Query("source")

	var maxAge time.Duration
	if raw := c.Query("max_age"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid_max_age"})
			return
		}
		maxAge = time.Duration(secs) * time.Second
	}

	res := h.agent.GetLatest(source, maxAge)
	if res == nil {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "no_detection_available"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "detection": res})
}
