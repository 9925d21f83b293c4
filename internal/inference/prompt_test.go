package inference

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsforge/sentinel-core/internal/models"
)

func TestBuildPrompt_AnomaliesSeverityDescThenTimeAsc(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	event := &models.CorrelatedEvent{
		Anomalies: []models.Anomaly{
			{ResourceID: "r-low", Metric: "m_low", Severity: models.SeverityLow, Timestamp: base},
			{ResourceID: "r-crit-late", Metric: "m_late", Severity: models.SeverityCritical, Timestamp: base.Add(2 * time.Minute)},
			{ResourceID: "r-crit-early", Metric: "m_early", Severity: models.SeverityCritical, Timestamp: base.Add(time.Minute)},
		},
	}

	prompt := buildPrompt(event, nil)

	early := strings.Index(prompt, "m_early")
	late := strings.Index(prompt, "m_late")
	low := strings.Index(prompt, "m_low")
	require.True(t, early >= 0 && late >= 0 && low >= 0)
	assert.Less(t, early, late)
	assert.Less(t, late, low)
}

func TestBuildPrompt_OnlyActiveAlarms(t *testing.T) {
	event := &models.CorrelatedEvent{
		Alarms: []models.AlarmEvent{
			{Name: "cpu-alarm", ResourceID: "i-1", State: "ALARM", Reason: "CPUUtilization > 90"},
			{Name: "old-alarm", ResourceID: "i-2", State: "OK"},
		},
	}

	prompt := buildPrompt(event, nil)
	assert.Contains(t, prompt, "cpu-alarm")
	assert.Contains(t, prompt, "CPUUtilization > 90")
	assert.NotContains(t, prompt, "old-alarm")
}

func TestBuildPrompt_ChangesTrimmedToTenNewest(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	event := &models.CorrelatedEvent{}
	for i := 0; i < 12; i++ {
		event.Changes = append(event.Changes, models.ChangeEvent{
			ResourceID: fmt.Sprintf("chg-%02d", i),
			ChangeType: "deploy",
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
		})
	}

	prompt := buildPrompt(event, nil)

	assert.NotContains(t, prompt, "chg-00")
	assert.NotContains(t, prompt, "chg-01")
	assert.Contains(t, prompt, "chg-02")
	assert.Contains(t, prompt, "chg-11")
	// Newest first.
	assert.Less(t, strings.Index(prompt, "chg-11"), strings.Index(prompt, "chg-02"))
}

func TestBuildPrompt_ReferencePatternsWithScores(t *testing.T) {
	refs := []models.SearchHit{
		{ID: "pat-1", Title: "Crash loop after deploy", Score: 0.88,
			Pattern: &models.Pattern{RootCause: "bad liveness probe"}},
		{ID: "pat-2", Title: "OOM on burst", Score: 0.71, Snippet: "memory spikes"},
	}

	prompt := buildPrompt(&models.CorrelatedEvent{}, refs)

	assert.Contains(t, prompt, "Crash loop after deploy")
	assert.Contains(t, prompt, "0.88")
	assert.Contains(t, prompt, "bad liveness probe")
	assert.Contains(t, prompt, "memory spikes")
}

func TestBuildPrompt_SchemaInstructionAlwaysPresent(t *testing.T) {
	prompt := buildPrompt(&models.CorrelatedEvent{}, nil)
	assert.Contains(t, prompt, `"root_cause"`)
	assert.Contains(t, prompt, `"confidence"`)
	assert.Contains(t, prompt, "low|medium|high|critical")
	assert.Contains(t, prompt, "must not be empty")
}

func TestSummaryOf(t *testing.T) {
	event := &models.CorrelatedEvent{
		Anomalies: []models.Anomaly{
			{Service: "aws", Metric: "CPUUtilization", Direction: "above"},
		},
		Alarms: []models.AlarmEvent{
			{Name: "cpu-high", State: "ALARM", Reason: "threshold crossed"},
			{Name: "quiet", State: "OK"},
		},
		Telemetry: models.TelemetrySnapshot{
			Events: []models.EventRecord{{Reason: "BackOff"}},
		},
	}

	summary := summaryOf(event)
	assert.Contains(t, summary, "CPUUtilization")
	assert.Contains(t, summary, "cpu-high")
	assert.Contains(t, summary, "BackOff")
	assert.NotContains(t, summary, "quiet")
}

func TestSummaryOf_FallsBackToSeverityAndResources(t *testing.T) {
	event := &models.CorrelatedEvent{
		Severity:    models.SeverityHigh,
		ResourceIDs: []string{"pod/api-7f"},
	}
	summary := summaryOf(event)
	assert.Contains(t, summary, "high")
	assert.Contains(t, summary, "pod/api-7f")
}
