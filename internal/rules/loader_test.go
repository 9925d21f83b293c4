package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsforge/sentinel-core/internal/models"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

func writeRules(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Testdata(t *testing.T) {
	rs, err := Load(filepath.Join("testdata", "default.yaml"))
	require.NoError(t, err)
	require.Len(t, rs.Rules, 4)
	assert.Equal(t, "crash-001", rs.Rules[0].ID)
	assert.Equal(t, "image-001", rs.Rules[1].ID)
	// Log clause regexes are compiled at load time.
	assert.NotNil(t, rs.Rules[0].Clauses[2].re)
}

func TestLoad_DirectoryMergesInFilenameOrder(t *testing.T) {
	dir := t.TempDir()
	writeRules(t, dir, "20-extra.yaml", `
rules:
  - id: later-001
    name: Later
    category: test
    severity: low
    confidence: 0.5
    clauses:
      - {source: metrics, field: x, required: true}
`)
	writeRules(t, dir, "10-base.yaml", `
rules:
  - id: base-001
    name: Base
    category: test
    severity: low
    confidence: 0.5
    clauses:
      - {source: metrics, field: x, required: true}
`)
	writeRules(t, dir, "notes.txt", "ignored")

	rs, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, rs.Rules, 2)
	assert.Equal(t, "base-001", rs.Rules[0].ID)
	assert.Equal(t, "later-001", rs.Rules[1].ID)
}

func TestLoad_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"no required clause",
			`
rules:
  - id: opt-001
    name: Optional only
    category: test
    severity: low
    confidence: 0.5
    clauses:
      - {source: metrics, field: x}
`,
			"at least one required clause",
		},
		{
			"bad severity",
			`
rules:
  - id: sev-001
    name: Bad severity
    category: test
    severity: catastrophic
    confidence: 0.5
    clauses:
      - {source: metrics, field: x, required: true}
`,
			"validate rules",
		},
		{
			"confidence above one",
			`
rules:
  - id: conf-001
    name: Overconfident
    category: test
    severity: low
    confidence: 1.5
    clauses:
      - {source: metrics, field: x, required: true}
`,
			"validate rules",
		},
		{
			"unknown clause source",
			`
rules:
  - id: src-001
    name: Bad source
    category: test
    severity: low
    confidence: 0.5
    clauses:
      - {source: traces, field: x, required: true}
`,
			"validate rules",
		},
		{
			"logs without regex",
			`
rules:
  - id: log-001
    name: No regex
    category: test
    severity: low
    confidence: 0.5
    clauses:
      - {source: logs, required: true}
`,
			"needs regex",
		},
		{
			"broken regex",
			`
rules:
  - id: re-001
    name: Broken regex
    category: test
    severity: low
    confidence: 0.5
    clauses:
      - {source: logs, regex: "([", required: true}
`,
			"bad regex",
		},
		{
			"metric op without value",
			`
rules:
  - id: op-001
    name: Op missing value
    category: test
    severity: low
    confidence: 0.5
    clauses:
      - {source: metrics, field: x, op: ">", required: true}
`,
			"needs value",
		},
		{
			"unknown event field",
			`
rules:
  - id: ev-001
    name: Bad event field
    category: test
    severity: low
    confidence: 0.5
    clauses:
      - {source: events, field: labels, equals: x, required: true}
`,
			"unknown event field",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeRules(t, t.TempDir(), "rules.yaml", tc.content)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoad_DuplicateIDAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	body := `
rules:
  - id: dup-001
    name: Dup
    category: test
    severity: low
    confidence: 0.5
    clauses:
      - {source: metrics, field: x, required: true}
`
	writeRules(t, dir, "a.yaml", body)
	writeRules(t, dir, "b.yaml", body)

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate rule id")
}

func TestRegistry_ReloadSwapsSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := writeRules(t, dir, "rules.yaml", `
rules:
  - id: v1-001
    name: V1
    category: test
    severity: low
    confidence: 0.5
    clauses:
      - {source: metrics, field: x, required: true}
`)

	reg, err := NewRegistry(path, logger.Nop())
	require.NoError(t, err)

	before := reg.Snapshot()
	require.Len(t, before.Rules, 1)

	writeRules(t, dir, "rules.yaml", `
rules:
  - id: v2-001
    name: V2
    category: test
    severity: low
    confidence: 0.9
    clauses:
      - {source: metrics, field: x, required: true}
`)
	require.NoError(t, reg.Reload())

	after := reg.Snapshot()
	assert.Equal(t, "v2-001", after.Rules[0].ID)
	// The old snapshot keeps working for in-flight consumers.
	m := before.Match(models.TelemetrySnapshot{Metrics: map[string]float64{"x": 1}})
	require.NotNil(t, m)
	assert.Equal(t, "v1-001", m.RuleID)
}

func TestRegistry_ReloadKeepsSnapshotOnError(t *testing.T) {
	dir := t.TempDir()
	path := writeRules(t, dir, "rules.yaml", `
rules:
  - id: ok-001
    name: OK
    category: test
    severity: low
    confidence: 0.5
    clauses:
      - {source: metrics, field: x, required: true}
`)

	reg, err := NewRegistry(path, logger.Nop())
	require.NoError(t, err)

	writeRules(t, dir, "rules.yaml", "rules: [")
	require.Error(t, reg.Reload())
	assert.Equal(t, "ok-001", reg.Snapshot().Rules[0].ID)
}
