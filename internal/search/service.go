// Package search layers three retrieval levels over the knowledge
// store: the in-process keyword index, the vector index, and an
// optional managed knowledge base. Layers are walked in order and
// their scores are never cross-ranked.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opsforge/sentinel-core/internal/config"
	"github.com/opsforge/sentinel-core/internal/knowledge"
	"github.com/opsforge/sentinel-core/internal/llm"
	"github.com/opsforge/sentinel-core/internal/metrics"
	"github.com/opsforge/sentinel-core/internal/models"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

type Strategy string

const (
	StrategyFast     Strategy = "fast"
	StrategySemantic Strategy = "semantic"
	StrategyDeep     Strategy = "deep"
	StrategyAuto     Strategy = "auto"
)

func (s Strategy) valid() bool {
	switch s {
	case StrategyFast, StrategySemantic, StrategyDeep, StrategyAuto:
		return true
	}
	return false
}

// maxLevel is the deepest layer the strategy may reach.
func (s Strategy) maxLevel() int {
	switch s {
	case StrategyFast:
		return 1
	case StrategySemantic:
		return 2
	default:
		return 3
	}
}

// shortCircuits reports whether the walk stops once a layer clears its
// threshold. Deep always attempts every layer it can reach.
func (s Strategy) shortCircuits() bool {
	return s != StrategyDeep
}

type Request struct {
	Query    string   `json:"query"`
	Strategy Strategy `json:"strategy,omitempty"`
	Category string   `json:"category,omitempty"`
	Service  string   `json:"service,omitempty"`
	Severity string   `json:"severity,omitempty"`
	Limit    int      `json:"limit,omitempty"`
	MinScore float64  `json:"min_score,omitempty"`
}

type Result struct {
	Hits         []models.SearchHit `json:"hits"`
	StrategyUsed Strategy           `json:"strategy_used"`
	LevelsTried  []string           `json:"levels_tried"`
	DurationMS   int64              `json:"duration_ms"`
	TotalHits    int                `json:"total_hits"`
}

// PatternSearcher is the slice of the knowledge store the service
// walks for L1 and L2.
type PatternSearcher interface {
	SearchKeyword(ctx context.Context, query string, f knowledge.Filter, k int) ([]models.SearchHit, error)
	SearchVector(ctx context.Context, query string, f knowledge.Filter, k int, minScore float64) ([]models.SearchHit, error)
}

type Service struct {
	patterns PatternSearcher
	deep     llm.Retriever
	cfg      config.SearchConfig
	logger   logger.Logger
}

// NewService wires the layered retriever. deep may be nil; the deep
// layer is then skipped even under the deep strategy.
func NewService(patterns PatternSearcher, deep llm.Retriever, cfg config.SearchConfig, log logger.Logger) *Service {
	return &Service{patterns: patterns, deep: deep, cfg: cfg, logger: log}
}

// Search walks the layers allowed by the strategy. Each layer
// contributes its own top-k; hits concatenate keyword-first and later
// layers drop ids an earlier layer already returned. Layer failures
// degrade the walk to whatever earlier layers produced.
func (s *Service) Search(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()

	strategy := req.Strategy
	if strategy == "" {
		strategy = Strategy(s.cfg.DefaultStrategy)
	}
	if strategy == "" {
		strategy = StrategyAuto
	}
	if !strategy.valid() {
		return nil, fmt.Errorf("unknown search strategy %q", strategy)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if limit <= 0 {
		limit = config.DefaultSearchLimit
	}

	f := knowledge.Filter{Category: req.Category, Service: req.Service, Severity: req.Severity}
	res := &Result{StrategyUsed: strategy, Hits: []models.SearchHit{}}
	seen := make(map[string]bool)

	res.LevelsTried = append(res.LevelsTried, models.LayerKeyword)
	kwHits, err := s.patterns.SearchKeyword(ctx, req.Query, f, limit)
	if err != nil {
		s.logger.Warn("Keyword search failed", "error", err)
		metrics.SearchLayerFailures.WithLabelValues(models.LayerKeyword, "error").Inc()
		kwHits = nil
	}
	kwHits = aboveMin(kwHits, req.MinScore)
	appendHits(res, seen, kwHits)
	recordLayer(models.LayerKeyword, kwHits)

	if strategy.maxLevel() < 2 || (strategy.shortCircuits() && topScore(kwHits) >= s.keywordThreshold()) {
		return finish(res, started), nil
	}

	res.LevelsTried = append(res.LevelsTried, models.LayerVector)
	vecHits, err := s.patterns.SearchVector(ctx, req.Query, f, limit, req.MinScore)
	if err != nil {
		reason := "error"
		if errors.Is(err, knowledge.ErrIndexUnavailable) {
			reason = "unavailable"
		}
		s.logger.Warn("Vector search degraded", "reason", reason, "error", err)
		metrics.SearchLayerFailures.WithLabelValues(models.LayerVector, reason).Inc()
		vecHits = nil
	}
	appendHits(res, seen, vecHits)
	recordLayer(models.LayerVector, vecHits)

	if strategy.maxLevel() < 3 || (strategy.shortCircuits() && topScore(vecHits) >= s.vectorThreshold()) {
		return finish(res, started), nil
	}
	if s.deep == nil {
		return finish(res, started), nil
	}

	res.LevelsTried = append(res.LevelsTried, models.LayerDeep)
	deepHits := s.searchDeep(ctx, req.Query, limit, req.MinScore)
	appendHits(res, seen, deepHits)
	recordLayer(models.LayerDeep, deepHits)

	return finish(res, started), nil
}

// searchDeep queries the managed knowledge base. Failures degrade
// silently, same as the vector layer.
func (s *Service) searchDeep(ctx context.Context, query string, limit int, minScore float64) []models.SearchHit {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.DeepTimeout())
	defer cancel()

	raw, err := s.deep.Retrieve(ctx, query, limit)
	if err != nil {
		s.logger.Warn("Deep retrieval degraded", "error", err)
		metrics.SearchLayerFailures.WithLabelValues(models.LayerDeep, "error").Inc()
		return nil
	}

	hits := make([]models.SearchHit, 0, len(raw))
	for _, h := range raw {
		score := h.Score
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		if score < minScore {
			continue
		}
		hits = append(hits, models.SearchHit{
			Snippet: clip(h.Text, 240),
			Score:   score,
			Layer:   models.LayerDeep,
			Source:  h.Source,
		})
	}
	return hits
}

func (s *Service) keywordThreshold() float64 {
	if s.cfg.KeywordThreshold > 0 {
		return s.cfg.KeywordThreshold
	}
	return config.DefaultKeywordThreshold
}

func (s *Service) vectorThreshold() float64 {
	if s.cfg.VectorThreshold > 0 {
		return s.cfg.VectorThreshold
	}
	return config.DefaultVectorThreshold
}

func appendHits(res *Result, seen map[string]bool, hits []models.SearchHit) {
	for _, h := range hits {
		if h.ID != "" {
			if seen[h.ID] {
				continue
			}
			seen[h.ID] = true
		}
		res.Hits = append(res.Hits, h)
	}
}

func recordLayer(layer string, hits []models.SearchHit) {
	if len(hits) > 0 {
		metrics.SearchLayerHits.WithLabelValues(layer).Add(float64(len(hits)))
	}
}

func aboveMin(hits []models.SearchHit, min float64) []models.SearchHit {
	if min <= 0 {
		return hits
	}
	out := make([]models.SearchHit, 0, len(hits))
	for _, h := range hits {
		if h.Score >= min {
			out = append(out, h)
		}
	}
	return out
}

func topScore(hits []models.SearchHit) float64 {
	var top float64
	for _, h := range hits {
		if h.Score > top {
			top = h.Score
		}
	}
	return top
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func finish(res *Result, started time.Time) *Result {
	res.TotalHits = len(res.Hits)
	res.DurationMS = time.Since(started).Milliseconds()
	return res
}
