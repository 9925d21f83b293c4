package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opsforge/sentinel-core/pkg/cache"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

const serviceVersion = "v0.3.1"

type HealthHandler struct {
	agent    DetectReader
	patterns KnowledgeBase
	cache    cache.Store
	logger   logger.Logger
}

func NewHealthHandler(agent DetectReader, patterns KnowledgeBase, cache cache.Store, logger logger.Logger) *HealthHandler {
	return &HealthHandler{
		agent:    agent,
		patterns: patterns,
		cache:    cache,
		logger:   logger,
	}
}

// GET /health - Liveness probe
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "sentinel-core",
		"version":   serviceVersion,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// GET /ready - Readiness with component detail
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	httpStatus := http.StatusOK

	var cacheErr error
	if h.cache != nil {
		cacheErr = h.cache.HealthCheck(ctx)
		if cacheErr != nil {
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	resp := gin.H{
		"status":    status,
		"service":   "sentinel-core",
		"version":   serviceVersion,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if cacheErr != nil {
		resp["error"] = cacheErr.Error()
	}

	if h.agent != nil {
		ah := h.agent.Health()
		resp["detect"] = gin.H{
			"collecting":         ah.Collecting,
			"latest_detect_id":   ah.LatestDetectID,
			"latest_age_seconds": ah.LatestAgeSeconds,
			"cache_size":         ah.CacheSize,
		}
	}
	if h.patterns != nil {
		total, indexed := h.patterns.Stats()
		resp["knowledge"] = gin.H{"patterns": total, "indexed": indexed}
	}

	c.JSON(httpStatus, resp)
}
