package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opsforge/sentinel-core/internal/knowledge"
)

func TestParseQuery_PlainTextPassesThrough(t *testing.T) {
	p := ParseQuery("pods crashing after deploy")
	assert.Equal(t, "pods crashing after deploy", p.Text)
	assert.Equal(t, knowledge.Filter{}, p.Filter)
}

func TestParseQuery_ExtractsKnownFields(t *testing.T) {
	p := ParseQuery("service:ec2 AND severity:HIGH cpu credits exhausted")
	assert.Equal(t, "ec2", p.Filter.Service)
	assert.Equal(t, "high", p.Filter.Severity)
	assert.Contains(t, p.Text, "cpu")
	assert.Contains(t, p.Text, "credits")
	assert.Contains(t, p.Text, "exhausted")
}

func TestParseQuery_CategoryAliases(t *testing.T) {
	for _, field := range []string{"category", "doc_type", "type"} {
		p := ParseQuery(field + ":container_crash restarts")
		assert.Equal(t, "container_crash", p.Filter.Category, field)
	}
}

func TestParseQuery_UnknownFieldBecomesText(t *testing.T) {
	p := ParseQuery("region:us-east-1 service:aws throttled")
	assert.Equal(t, "aws", p.Filter.Service)
	assert.Contains(t, p.Text, "us-east-1")
	assert.Contains(t, p.Text, "throttled")
}

func TestParseQuery_FilterOnlyQueryLeavesEmptyText(t *testing.T) {
	p := ParseQuery("service:kubernetes")
	assert.Equal(t, "kubernetes", p.Filter.Service)
	assert.Empty(t, p.Text)
}

func TestParseQuery_BracesSkipParsing(t *testing.T) {
	raw := `rate(errors{service:"api"}[5m])`
	p := ParseQuery(raw)
	assert.Equal(t, raw, p.Text)
	assert.Equal(t, knowledge.Filter{}, p.Filter)
}

func TestParseQuery_EmptyString(t *testing.T) {
	p := ParseQuery("   ")
	assert.Empty(t, p.Text)
	assert.Equal(t, knowledge.Filter{}, p.Filter)
}
