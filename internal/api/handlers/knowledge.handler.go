package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opsforge/sentinel-core/internal/storage"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

type KnowledgeHandler struct {
	patterns KnowledgeBase
	logger   logger.Logger
}

func NewKnowledgeHandler(patterns KnowledgeBase, logger logger.Logger) *KnowledgeHandler {
	return &KnowledgeHandler{
		patterns: patterns,
		logger:   logger,
	}
}

// GET /api/v1/knowledge/patterns/:id - Read one learned pattern
func (h *KnowledgeHandler) GetPattern(c *gin.Context) {
	id := c.Param("id")

	p, err := h.patterns.GetPattern(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "pattern_not_found"})
			return
		}
		h.logger.Error("Pattern lookup failed", "pattern_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "pattern_lookup_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "pattern": p})
}

// GET /api/v1/knowledge/stats - Store and index counters
func (h *KnowledgeHandler) Stats(c *gin.Context) {
	total, indexed := h.patterns.Stats()
	c.JSON(http.StatusOK, gin.H{"status": "success", "patterns": total, "indexed": indexed})
}

// POST /api/v1/knowledge/reindex - Rebuild the search index from the store
func (h *KnowledgeHandler) Reindex(c *gin.Context) {
	report, err := h.patterns.RebuildIndex(c.Request.Context())
	if err != nil {
		h.logger.Error("Index rebuild failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "reindex_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"rebuilt": report.Rebuilt,
		"failed":  report.Failed,
		"skipped": report.Skipped,
	})
}
