package models

import (
	"crypto/sha1"
	"fmt"
	"strings"
	"time"
)

// PatternIDFor derives a stable id from category and root-cause text, so
// re-detections and re-learnings of the same phenomenon merge into one
// pattern record instead of piling up near-duplicates.
func PatternIDFor(category, rootCause string) string {
	norm := strings.ToLower(strings.TrimSpace(category)) + "|" + strings.ToLower(strings.TrimSpace(rootCause))
	sum := sha1.Sum([]byte(norm))
	slug := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(category)), "_", "-")
	if slug == "" {
		slug = "general"
	}
	return fmt.Sprintf("pat-%s-%x", slug, sum[:4])
}

// Pattern is a learned (or curated) incident pattern. The object store copy
// is authoritative; the vector index is a projection.
type Pattern struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Category     string    `json:"category"`
	Services     []string  `json:"services,omitempty"`
	Severity     Severity  `json:"severity"`
	Symptoms     []string  `json:"symptoms,omitempty"`
	RootCause    string    `json:"root_cause"`
	Remediation  []string  `json:"remediation,omitempty"` // SOP ids or freeform hints
	Occurrences  int       `json:"occurrence_count"`
	SuccessRate  float64   `json:"success_rate"`
	QualityScore float64   `json:"quality_score"`
	Vectorized   bool      `json:"vectorized"`
	NeedsReindex bool      `json:"needs_reindex,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

// Search layers, also used for per-hit provenance tags.
const (
	LayerKeyword = "keyword"
	LayerVector  = "vector"
	LayerDeep    = "deep"
)

// SearchHit is one retrieval result. Pattern is populated for keyword and
// vector hits; deep hits carry only Snippet and Source.
type SearchHit struct {
	ID      string   `json:"id"`
	Title   string   `json:"title,omitempty"`
	Snippet string   `json:"snippet,omitempty"`
	Score   float64  `json:"score"`
	Layer   string   `json:"layer"`
	Source  string   `json:"source,omitempty"`
	Pattern *Pattern `json:"pattern,omitempty"`
}
