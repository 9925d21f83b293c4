// internal/api/handlers/dependencies.go - slices of the core the API consumes
package handlers

import (
	"context"
	"time"

	"github.com/opsforge/sentinel-core/internal/detect"
	"github.com/opsforge/sentinel-core/internal/knowledge"
	"github.com/opsforge/sentinel-core/internal/models"
	"github.com/opsforge/sentinel-core/internal/search"
)

// IncidentPipeline is the orchestrator surface the HTTP host drives.
type IncidentPipeline interface {
	Submit(trigger models.TriggerType, payload map[string]interface{}) string
	LoadIncident(ctx context.Context, id string) (*models.IncidentRecord, error)
	ResolveApproval(ctx context.Context, tokenID, decidedBy string, approve bool) (*models.IncidentRecord, error)
	ResumeStep(ctx context.Context, executionID string, stepIndex int, outcome models.StepStatus, note string) (*models.IncidentRecord, error)
}

// DetectReader exposes the detect agent's read-only side.
type DetectReader interface {
	GetLatest(source string, maxAge time.Duration) *models.DetectResult
	Health() detect.Health
}

// PatternSearch runs the layered pattern search.
type PatternSearch interface {
	Search(ctx context.Context, req search.Request) (*search.Result, error)
}

// KnowledgeBase is the pattern store's operational surface.
type KnowledgeBase interface {
	GetPattern(ctx context.Context, id string) (*models.Pattern, error)
	RebuildIndex(ctx context.Context) (*knowledge.RebuildReport, error)
	Stats() (total, indexed int)
}
