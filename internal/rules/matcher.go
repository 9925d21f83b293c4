package rules

import (
	"sort"
	"strings"

	"github.com/opsforge/sentinel-core/internal/models"
)

// Match returns the best-scoring rule for the snapshot, or nil when no
// rule matches. Deterministic: confidence desc, then optional clauses
// matched desc, then declaration order.
func (rs *Ruleset) Match(t models.TelemetrySnapshot) *models.RuleMatch {
	all := rs.MatchAll(t)
	if len(all) == 0 {
		return nil
	}
	return &all[0]
}

// MatchAll returns every matching rule, best first. A rule matches when
// at least one required clause holds and no required clause fails;
// a metric named by a required clause but absent from the snapshot is a
// failure, not a skip.
func (rs *Ruleset) MatchAll(t models.TelemetrySnapshot) []models.RuleMatch {
	type scored struct {
		match models.RuleMatch
		order int
	}

	var candidates []scored
	for i := range rs.Rules {
		rule := &rs.Rules[i]
		requiredMatched := 0
		requiredFailed := false
		optionalMatched := 0
		var clauses []string

		for j := range rule.Clauses {
			c := &rule.Clauses[j]
			ok := evalClause(c, t)
			if c.Required {
				if !ok {
					requiredFailed = true
					break
				}
				requiredMatched++
			} else if ok {
				optionalMatched++
			}
			if ok {
				clauses = append(clauses, c.describe())
			}
		}

		if requiredFailed || requiredMatched == 0 {
			continue
		}

		candidates = append(candidates, scored{
			order: i,
			match: models.RuleMatch{
				RuleID:          rule.ID,
				Name:            rule.Name,
				Category:        rule.Category,
				Severity:        rule.Severity,
				Confidence:      rule.Confidence,
				OptionalMatches: optionalMatched,
				MatchedClauses:  clauses,
				SOPHints:        rule.hints(),
				RootCauseHint:   rule.RootCause,
			},
		})
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].match.Confidence != candidates[b].match.Confidence {
			return candidates[a].match.Confidence > candidates[b].match.Confidence
		}
		if candidates[a].match.OptionalMatches != candidates[b].match.OptionalMatches {
			return candidates[a].match.OptionalMatches > candidates[b].match.OptionalMatches
		}
		return candidates[a].order < candidates[b].order
	})

	out := make([]models.RuleMatch, len(candidates))
	for i, c := range candidates {
		out[i] = c.match
	}
	return out
}

func evalClause(c *Clause, t models.TelemetrySnapshot) bool {
	switch c.Source {
	case SourceEvents:
		return evalEventClause(c, t.Events)
	case SourceMetrics:
		return evalMetricClause(c, t.Metrics)
	case SourceLogs:
		return evalLogClause(c, t.Logs)
	}
	return false
}

func evalEventClause(c *Clause, events []models.EventRecord) bool {
	field := normalizeEventField(c.Field)
	for _, e := range events {
		switch field {
		case "reason":
			if e.Reason == c.Equals {
				return true
			}
		case "source":
			if e.Source == c.Equals {
				return true
			}
		case "message":
			if strings.Contains(strings.ToLower(e.Message), strings.ToLower(c.Contains)) {
				return true
			}
		}
	}
	return false
}

func evalMetricClause(c *Clause, metrics map[string]float64) bool {
	v, ok := metrics[c.Field]
	if !ok {
		return false
	}
	if c.Op != "" && c.Value != nil {
		return compare(v, c.Op, *c.Value)
	}
	if c.Min != nil && v < *c.Min {
		return false
	}
	if c.Max != nil && v > *c.Max {
		return false
	}
	return true
}

func evalLogClause(c *Clause, logs []string) bool {
	if c.re == nil {
		return false
	}
	for _, line := range logs {
		if c.re.MatchString(line) {
			return true
		}
	}
	return false
}

func compare(v float64, op string, target float64) bool {
	switch op {
	case ">":
		return v > target
	case ">=":
		return v >= target
	case "<":
		return v < target
	case "<=":
		return v <= target
	case "==":
		return v == target
	case "!=":
		return v != target
	}
	return false
}
