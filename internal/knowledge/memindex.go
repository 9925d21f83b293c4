package knowledge

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/opsforge/sentinel-core/internal/models"
)

// MemIndex is a brute-force in-process vector index. It backs
// deployments without a Weaviate endpoint and all tests.
type MemIndex struct {
	mu      sync.RWMutex
	entries map[string]memIndexEntry
}

type memIndexEntry struct {
	vector   []float32
	category string
	severity string
	services []string
}

func NewMemIndex() *MemIndex {
	return &MemIndex{entries: make(map[string]memIndexEntry)}
}

func (m *MemIndex) EnsureReady(ctx context.Context) error { return nil }

func (m *MemIndex) Upsert(ctx context.Context, p *models.Pattern, vector []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[p.ID] = memIndexEntry{
		vector:   append([]float32(nil), vector...),
		category: p.Category,
		severity: string(p.Severity),
		services: append([]string(nil), p.Services...),
	}
	return nil
}

func (m *MemIndex) Delete(ctx context.Context, patternID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, patternID)
	return nil
}

func (m *MemIndex) Search(ctx context.Context, vector []float32, f Filter, k int, minScore float64) ([]IndexHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []IndexHit
	for id, e := range m.entries {
		if !e.matches(f) {
			continue
		}
		score := cosine(vector, e.vector)
		if score < minScore {
			continue
		}
		hits = append(hits, IndexHit{PatternID: id, Score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].PatternID < hits[j].PatternID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (e memIndexEntry) matches(f Filter) bool {
	if f.Category != "" && e.category != f.Category {
		return false
	}
	if f.Severity != "" && e.severity != f.Severity {
		return false
	}
	if f.Service != "" {
		found := false
		for _, s := range e.services {
			if s == f.Service {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// cosine similarity clamped to [0,1], matching the 1-distance score the
// remote index reports.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	score := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
