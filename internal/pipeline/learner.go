package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/opsforge/sentinel-core/internal/models"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

// PatternSink is what the learner needs from the knowledge store.
type PatternSink interface {
	UpsertPattern(ctx context.Context, p *models.Pattern, quality float64) (bool, error)
	GetPattern(ctx context.Context, id string) (*models.Pattern, error)
}

// Learner folds closed incidents back into the knowledge store so the
// next occurrence of the same failure ranks higher and carries a
// track record.
type Learner struct {
	patterns PatternSink
	logger   logger.Logger
	now      func() time.Time
}

func NewLearner(patterns PatternSink, log logger.Logger) *Learner {
	return &Learner{patterns: patterns, logger: log, now: time.Now}
}

// Record synthesises a pattern from the incident's hypothesis and
// upserts it. Executed incidents contribute an outcome to the success
// rate; advisory and dry-run closes only count the occurrence. Unknown
// hypotheses record nothing.
func (l *Learner) Record(ctx context.Context, rec *models.IncidentRecord) {
	if l.patterns == nil || rec == nil || rec.RCA == nil || rec.RCA.Unknown() {
		return
	}
	rca := rec.RCA

	id := rca.PatternID
	if id == "" || id == models.UnknownPatternID {
		id = models.PatternIDFor(rca.Category, rca.RootCause)
	}

	p := &models.Pattern{
		ID:          id,
		Title:       rca.RootCause,
		Description: rca.RootCause,
		Category:    rca.Category,
		Services:    incidentServices(rec),
		Severity:    rca.Severity,
		Symptoms:    rca.Evidence,
		RootCause:   rca.RootCause,
		Remediation: remediationOf(rec),
		SuccessRate: l.successOf(ctx, rec, id),
	}

	indexed, err := l.patterns.UpsertPattern(ctx, p, rca.Confidence)
	if err != nil {
		l.logger.Warn("Pattern learning failed", "pattern_id", id, "incident_id", rec.ID, "error", err)
		return
	}
	l.logger.Info("Pattern learned",
		"pattern_id", id,
		"incident_id", rec.ID,
		"indexed", indexed,
		"status", rec.Status)
}

// successOf turns the execution outcome into a success-rate sample. A
// live success counts 1, a live failure 0; everything else (advisory,
// dry-run) carries the stored rate forward so the occurrence is counted
// without an outcome opinion.
func (l *Learner) successOf(ctx context.Context, rec *models.IncidentRecord, id string) float64 {
	exec := rec.Execution
	if exec != nil && !exec.DryRun {
		if exec.Status == models.ExecutionSucceeded {
			return 1
		}
		return 0
	}
	if existing, err := l.patterns.GetPattern(ctx, id); err == nil {
		return existing.SuccessRate
	}
	return 0.5
}

func remediationOf(rec *models.IncidentRecord) []string {
	if rec.Execution != nil && rec.Execution.SOPID != "" {
		return []string{rec.Execution.SOPID}
	}
	if rec.RCA != nil && rec.RCA.RecommendedAction != "" {
		return []string{rec.RCA.RecommendedAction}
	}
	return nil
}

func incidentServices(rec *models.IncidentRecord) []string {
	if rec.Detect == nil || rec.Detect.Event == nil {
		return nil
	}
	event := rec.Detect.Event
	seen := make(map[string]bool)
	for _, al := range event.Alarms {
		if al.Service != "" {
			seen[al.Service] = true
		}
	}
	for _, an := range event.Anomalies {
		if an.Service != "" {
			seen[an.Service] = true
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
