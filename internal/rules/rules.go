// Package rules loads declarative detection rules and matches them
// against telemetry snapshots. Rule files are YAML; a loaded ruleset is
// immutable, so an incident that started with one snapshot keeps it even
// if the registry reloads mid-flight.
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/opsforge/sentinel-core/internal/models"
)

const (
	SourceEvents  = "events"
	SourceMetrics = "metrics"
	SourceLogs    = "logs"
)

// File is one rule document on disk.
type File struct {
	Version string `yaml:"version"`
	Rules   []Rule `yaml:"rules" validate:"required,min=1,dive"`
}

// Rule is a declarative match specification. Confidence is the score the
// rule contributes when all its required clauses hold.
type Rule struct {
	ID          string          `yaml:"id" validate:"required"`
	Name        string          `yaml:"name" validate:"required"`
	Description string          `yaml:"description"`
	Category    string          `yaml:"category" validate:"required"`
	Severity    models.Severity `yaml:"severity" validate:"required,oneof=info low medium high critical"`
	Confidence  float64         `yaml:"confidence" validate:"required,gt=0,lte=1"`
	RootCause   string          `yaml:"root_cause"`
	Clauses     []Clause        `yaml:"clauses" validate:"required,min=1,dive"`
	SOPHints    []string        `yaml:"sop_hints"`
	Remediation *Remediation    `yaml:"remediation"`
}

// Clause is one symptom condition. The source decides which clause
// fields apply: events use field + equals/contains, metrics use
// field + op/value or min/max (bare field is a presence check), logs
// use regex.
type Clause struct {
	Source   string   `yaml:"source" validate:"required,oneof=events metrics logs"`
	Field    string   `yaml:"field"`
	Equals   string   `yaml:"equals"`
	Contains string   `yaml:"contains"`
	Op       string   `yaml:"op" validate:"omitempty,oneof=> >= < <= == !="`
	Value    *float64 `yaml:"value"`
	Min      *float64 `yaml:"min"`
	Max      *float64 `yaml:"max"`
	Regex    string   `yaml:"regex"`
	Required bool     `yaml:"required"`

	re *regexp.Regexp
}

// Remediation couples a rule to the SOP catalog by action id.
type Remediation struct {
	Action      string            `yaml:"action" validate:"required"`
	AutoExecute bool              `yaml:"auto_execute"`
	Params      map[string]string `yaml:"params"`
	Conditions  []string          `yaml:"conditions"`
	Rollback    string            `yaml:"rollback"`
	Checklist   []string          `yaml:"checklist"`
}

// compile finishes what struct tags cannot express: per-source clause
// shape, regex compilation, and the at-least-one-required invariant.
func (r *Rule) compile() error {
	required := 0
	for i := range r.Clauses {
		c := &r.Clauses[i]
		if c.Required {
			required++
		}
		switch c.Source {
		case SourceEvents:
			switch c.Field {
			case "reason", "type", "source":
				if c.Equals == "" {
					return fmt.Errorf("rule %s clause %d: events.%s needs equals", r.ID, i, c.Field)
				}
			case "message":
				if c.Contains == "" {
					return fmt.Errorf("rule %s clause %d: events.message needs contains", r.ID, i)
				}
			default:
				return fmt.Errorf("rule %s clause %d: unknown event field %q", r.ID, i, c.Field)
			}
		case SourceMetrics:
			if c.Field == "" {
				return fmt.Errorf("rule %s clause %d: metrics clause needs field", r.ID, i)
			}
			if c.Op != "" && c.Value == nil {
				return fmt.Errorf("rule %s clause %d: op %q needs value", r.ID, i, c.Op)
			}
		case SourceLogs:
			if c.Regex == "" {
				return fmt.Errorf("rule %s clause %d: logs clause needs regex", r.ID, i)
			}
			re, err := regexp.Compile("(?i)" + c.Regex)
			if err != nil {
				return fmt.Errorf("rule %s clause %d: bad regex: %w", r.ID, i, err)
			}
			c.re = re
		}
	}
	if required == 0 {
		return fmt.Errorf("rule %s: needs at least one required clause", r.ID)
	}
	return nil
}

// hints resolves the SOP identifiers a match should suggest.
func (r *Rule) hints() []string {
	if len(r.SOPHints) > 0 {
		return r.SOPHints
	}
	if r.Remediation != nil && r.Remediation.Action != "" {
		return []string{r.Remediation.Action}
	}
	return nil
}

func (c *Clause) describe() string {
	switch c.Source {
	case SourceEvents:
		if c.Field == "message" {
			return fmt.Sprintf("events.message~=%q", c.Contains)
		}
		return fmt.Sprintf("events.%s=%s", c.Field, c.Equals)
	case SourceMetrics:
		if c.Op != "" && c.Value != nil {
			return fmt.Sprintf("metrics.%s%s%g", c.Field, c.Op, *c.Value)
		}
		if c.Min != nil || c.Max != nil {
			return fmt.Sprintf("metrics.%s in range", c.Field)
		}
		return fmt.Sprintf("metrics.%s present", c.Field)
	case SourceLogs:
		return fmt.Sprintf("logs~=%q", c.Regex)
	}
	return c.Source
}

func normalizeEventField(field string) string {
	// "type" is the historical alias for the record's source tag.
	if field == "type" {
		return "source"
	}
	return strings.ToLower(field)
}
