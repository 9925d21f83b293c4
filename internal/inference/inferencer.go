// Package inference produces root-cause hypotheses for correlated
// events. The cascade is rule short-circuit, then a mid-capability
// model, then a high-capability escalation; it degrades to an unknown
// result instead of failing.
package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/opsforge/sentinel-core/internal/config"
	"github.com/opsforge/sentinel-core/internal/llm"
	"github.com/opsforge/sentinel-core/internal/metrics"
	"github.com/opsforge/sentinel-core/internal/models"
	"github.com/opsforge/sentinel-core/internal/rules"
	"github.com/opsforge/sentinel-core/internal/search"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

const (
	tierMid  = "mid"
	tierHigh = "high"

	maxReferencePatterns = 3
)

// RuleSource supplies the current compiled ruleset.
type RuleSource interface {
	Snapshot() *rules.Ruleset
}

// Searcher retrieves reference patterns for the model prompt.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Result, error)
}

type Inferencer interface {
	Analyse(ctx context.Context, event *models.CorrelatedEvent) *models.RCAResult
}

type Engine struct {
	rules     RuleSource
	searcher  Searcher
	completer llm.Completer
	cfg       config.ModelsConfig
	logger    logger.Logger
	now       func() time.Time
}

// NewEngine wires the cascade. completer may be nil; the engine then
// answers from rules alone and degrades to unknown otherwise.
func NewEngine(ruleSource RuleSource, searcher Searcher, completer llm.Completer, cfg config.ModelsConfig, log logger.Logger) *Engine {
	return &Engine{
		rules:     ruleSource,
		searcher:  searcher,
		completer: completer,
		cfg:       cfg,
		logger:    log,
		now:       time.Now,
	}
}

// Analyse never fails: a terminally degraded cascade yields an unknown
// result with confidence 0.
func (e *Engine) Analyse(ctx context.Context, event *models.CorrelatedEvent) *models.RCAResult {
	var match *models.RuleMatch
	if e.rules != nil {
		match = e.rules.Snapshot().Match(event.Telemetry)
	}
	if match != nil && match.Confidence >= config.DefaultRuleShortCircuit {
		return e.fromRule(match)
	}

	refs := e.referencePatterns(ctx, event)
	prompt := buildPrompt(event, refs)

	mid := e.invoke(ctx, tierMid, e.cfg.MidModel, e.cfg.MidTimeout(), prompt)
	if mid != nil && mid.Confidence >= config.DefaultEscalationFloor {
		return e.fromModel(mid, tierMid, e.cfg.MidModel, refs)
	}

	high := e.invoke(ctx, tierHigh, e.cfg.HighModel, e.cfg.HighTimeout(), prompt)
	best, tier, model := pickAnswer(mid, high, e.cfg.MidModel, e.cfg.HighModel)
	if best == nil {
		return e.unknown(event)
	}
	return e.fromModel(best, tier, model, refs)
}

func (e *Engine) fromRule(match *models.RuleMatch) *models.RCAResult {
	rootCause := match.RootCauseHint
	if rootCause == "" {
		rootCause = match.Name
	}
	var action string
	if len(match.SOPHints) > 0 {
		action = match.SOPHints[0]
	}
	return &models.RCAResult{
		RootCause:         rootCause,
		Category:          match.Category,
		Severity:          match.Severity,
		Confidence:        match.Confidence,
		PatternID:         "rule:" + match.RuleID,
		ModelTag:          "rule:" + match.RuleID,
		Evidence:          match.MatchedClauses,
		RecommendedAction: action,
		CreatedAt:         e.now(),
	}
}

func (e *Engine) fromModel(ans *modelAnswer, tier, model string, refs []models.SearchHit) *models.RCAResult {
	patternID := models.UnknownPatternID
	var references []string
	for _, r := range refs {
		if r.ID == "" {
			continue
		}
		if patternID == models.UnknownPatternID {
			patternID = r.ID
		}
		references = append(references, r.ID)
	}
	return &models.RCAResult{
		RootCause:         ans.RootCause,
		Severity:          models.Severity(ans.Severity),
		Confidence:        ans.Confidence,
		PatternID:         patternID,
		ModelTag:          fmt.Sprintf("model:%s:%s", tier, model),
		Evidence:          ans.Evidence,
		References:        references,
		RecommendedAction: ans.RecommendedAction,
		CreatedAt:         e.now(),
	}
}

func (e *Engine) unknown(event *models.CorrelatedEvent) *models.RCAResult {
	return &models.RCAResult{
		RootCause:  "unknown",
		Severity:   event.Severity,
		Confidence: 0,
		PatternID:  models.UnknownPatternID,
		ModelTag:   models.UnknownPatternID,
		CreatedAt:  e.now(),
	}
}

// referencePatterns runs the semantic strategy and keeps up to three
// pattern-backed hits. Search trouble only costs the prompt context.
func (e *Engine) referencePatterns(ctx context.Context, event *models.CorrelatedEvent) []models.SearchHit {
	if e.searcher == nil {
		return nil
	}
	res, err := e.searcher.Search(ctx, search.Request{
		Query:    summaryOf(event),
		Strategy: search.StrategySemantic,
		Limit:    maxReferencePatterns,
	})
	if err != nil {
		e.logger.Warn("Reference pattern search failed", "error", err)
		return nil
	}
	hits := res.Hits
	if len(hits) > maxReferencePatterns {
		hits = hits[:maxReferencePatterns]
	}
	return hits
}

// invoke submits the prompt to one model tier. Transport errors retry
// up to the configured budget with jitter inside the tier deadline;
// parse failures fall through by returning nil.
func (e *Engine) invoke(ctx context.Context, tier, model string, timeout time.Duration, prompt string) *modelAnswer {
	if e.completer == nil || model == "" {
		return nil
	}

	tierCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	maxRetries := e.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = config.DefaultModelMaxRetries
	}
	backoff := retry.WithMaxRetries(uint64(maxRetries), retry.WithJitter(100*time.Millisecond, retry.NewConstant(400*time.Millisecond)))

	started := time.Now()
	var raw string
	err := retry.Do(tierCtx, backoff, func(ctx context.Context) error {
		out, err := e.completer.Complete(ctx, model, prompt)
		if err != nil {
			return retry.RetryableError(err)
		}
		raw = out
		return nil
	})
	metrics.ModelLatency.WithLabelValues(tier).Observe(time.Since(started).Seconds())
	if err != nil {
		e.logger.Warn("Model invocation failed", "tier", tier, "model", model, "error", err)
		metrics.ModelInvocations.WithLabelValues(tier, model, "error").Inc()
		return nil
	}

	ans, err := parseAnswer(raw)
	if err != nil {
		e.logger.Warn("Model response rejected", "tier", tier, "model", model, "error", err)
		metrics.ModelInvocations.WithLabelValues(tier, model, "parse_error").Inc()
		return nil
	}
	metrics.ModelInvocations.WithLabelValues(tier, model, "ok").Inc()
	return ans
}

// pickAnswer takes the higher-confidence parse of the two tiers.
func pickAnswer(mid, high *modelAnswer, midModel, highModel string) (*modelAnswer, string, string) {
	switch {
	case mid == nil && high == nil:
		return nil, "", ""
	case mid == nil:
		return high, tierHigh, highModel
	case high == nil:
		return mid, tierMid, midModel
	case high.Confidence >= mid.Confidence:
		return high, tierHigh, highModel
	default:
		return mid, tierMid, midModel
	}
}
