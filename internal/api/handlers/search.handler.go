package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/opsforge/sentinel-core/internal/search"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

type SearchHandler struct {
	searcher PatternSearch
	logger   logger.Logger
}

func NewSearchHandler(searcher PatternSearch, logger logger.Logger) *SearchHandler {
	return &SearchHandler{
		searcher: searcher,
		logger:   logger,
	}
}

// POST /api/v1/search - Layered pattern search
func (h *SearchHandler) Search(c *gin.Context) {
	var req search.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid_request_format"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "query_required"})
		return
	}

	result, err := h.searcher.Search(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("Pattern search failed", "query", req.Query, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": "search_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "success",
		"hits":          result.Hits,
		"strategy_used": result.StrategyUsed,
		"levels_tried":  result.LevelsTried,
		"duration_ms":   result.DurationMS,
		"total_hits":    result.TotalHits,
	})
}
