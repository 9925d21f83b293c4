package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnswer_PlainJSON(t *testing.T) {
	ans, err := parseAnswer(`{"root_cause": "oom", "severity": "high", "confidence": 0.8, "evidence": ["restarts"]}`)
	require.NoError(t, err)
	assert.Equal(t, "oom", ans.RootCause)
	assert.Equal(t, "high", ans.Severity)
	assert.InDelta(t, 0.8, ans.Confidence, 0.0001)
	assert.Equal(t, []string{"restarts"}, ans.Evidence)
}

func TestParseAnswer_MarkdownFences(t *testing.T) {
	raw := "Here is my analysis:\n```json\n" +
		`{"root_cause": "disk full", "severity": "medium", "confidence": 0.7, "evidence": ["df 98%"]}` +
		"\n```\nLet me know if you need more."
	ans, err := parseAnswer(raw)
	require.NoError(t, err)
	assert.Equal(t, "disk full", ans.RootCause)
}

func TestParseAnswer_Rejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"no json", "the root cause is probably memory"},
		{"broken json", `{"root_cause": "x", `},
		{"missing root cause", `{"severity": "high", "confidence": 0.8, "evidence": ["e"]}`},
		{"bad severity", `{"root_cause": "x", "severity": "catastrophic", "confidence": 0.8, "evidence": ["e"]}`},
		{"confidence above one", `{"root_cause": "x", "severity": "high", "confidence": 1.2, "evidence": ["e"]}`},
		{"negative confidence", `{"root_cause": "x", "severity": "high", "confidence": -0.1, "evidence": ["e"]}`},
		{"confident without evidence", `{"root_cause": "x", "severity": "high", "confidence": 0.9, "evidence": []}`},
		{"confident with blank evidence", `{"root_cause": "x", "severity": "high", "confidence": 0.9, "evidence": ["  "]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseAnswer(tc.raw)
			assert.Error(t, err)
		})
	}
}

func TestParseAnswer_ZeroConfidenceMayLackEvidence(t *testing.T) {
	ans, err := parseAnswer(`{"root_cause": "unclear", "severity": "low", "confidence": 0, "evidence": []}`)
	require.NoError(t, err)
	assert.Zero(t, ans.Confidence)
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, extractJSON("prefix {\"a\": 1} suffix"))
	assert.Equal(t, `{"a": {"b": 2}}`, extractJSON(`{"a": {"b": 2}}`))
	assert.Empty(t, extractJSON("no braces here"))
	assert.Empty(t, extractJSON("}{"))
}
