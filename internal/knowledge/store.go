// Package knowledge persists incident patterns and serves the keyword
// and vector retrieval layers. The object store copy is written first
// and is authoritative; the vector index is a best-effort projection
// that can always be rebuilt from it.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opsforge/sentinel-core/internal/config"
	"github.com/opsforge/sentinel-core/internal/llm"
	"github.com/opsforge/sentinel-core/internal/metrics"
	"github.com/opsforge/sentinel-core/internal/models"
	"github.com/opsforge/sentinel-core/internal/storage"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

const patternPrefix = "patterns/"

func patternKey(id string) string {
	return patternPrefix + id + ".json"
}

// StoreConfig wires the store's collaborators.
type StoreConfig struct {
	Objects       storage.ObjectStore
	Index         VectorIndex
	Embedder      llm.Embedder // nil disables vector indexing
	Knowledge     config.KnowledgeConfig
	EmbedTimeout  time.Duration
	VectorTimeout time.Duration
}

// Store owns pattern persistence and retrieval.
type Store struct {
	objects       storage.ObjectStore
	index         VectorIndex
	embedder      llm.Embedder
	keyword       *keywordIndex
	logger        logger.Logger
	quality       float64
	embedMaxChars int
	embedTimeout  time.Duration
	vectorTimeout time.Duration
	now           func() time.Time

	mu       sync.RWMutex
	patterns map[string]*models.Pattern

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewStore(cfg StoreConfig, log logger.Logger) (*Store, error) {
	if cfg.Objects == nil {
		return nil, errors.New("knowledge store needs an object store")
	}
	if cfg.Index == nil {
		return nil, errors.New("knowledge store needs a vector index")
	}
	kw, err := newKeywordIndex()
	if err != nil {
		return nil, err
	}

	quality := cfg.Knowledge.QualityThreshold
	if quality == 0 {
		quality = config.DefaultQualityThreshold
	}
	maxChars := cfg.Knowledge.EmbedMaxChars
	if maxChars == 0 {
		maxChars = config.DefaultEmbedMaxChars
	}
	embedTimeout := cfg.EmbedTimeout
	if embedTimeout == 0 {
		embedTimeout = config.DefaultEmbedTimeoutMS * time.Millisecond
	}
	vectorTimeout := cfg.VectorTimeout
	if vectorTimeout == 0 {
		vectorTimeout = config.DefaultVectorTimeoutMS * time.Millisecond
	}

	return &Store{
		objects:       cfg.Objects,
		index:         cfg.Index,
		embedder:      cfg.Embedder,
		keyword:       kw,
		logger:        log,
		quality:       quality,
		embedMaxChars: maxChars,
		embedTimeout:  embedTimeout,
		vectorTimeout: vectorTimeout,
		now:           time.Now,
		patterns:      make(map[string]*models.Pattern),
		locks:         make(map[string]*sync.Mutex),
	}, nil
}

// Load reads every persisted pattern into the in-process cache. Called
// once at startup; patterns written by other replicas appear after a
// RebuildIndex or restart.
func (s *Store) Load(ctx context.Context) error {
	keys, err := s.objects.List(ctx, patternPrefix)
	if err != nil {
		return fmt.Errorf("list patterns: %w", err)
	}

	loaded := 0
	for _, key := range keys {
		var p models.Pattern
		if err := storage.GetJSON(ctx, s.objects, key, &p); err != nil {
			s.logger.Warn("Skipping unreadable pattern", "key", key, "error", err)
			continue
		}
		s.cachePattern(&p)
		if p.QualityScore >= s.quality {
			if err := s.keyword.add(&p); err != nil {
				s.logger.Warn("Keyword index add failed", "pattern_id", p.ID, "error", err)
			}
		}
		loaded++
	}
	s.logger.Info("Knowledge store loaded", "patterns", loaded)
	return nil
}

func (s *Store) Close() error {
	return s.keyword.close()
}

// UpsertPattern persists the pattern (write-ahead) and then indexes it
// best-effort. Returns whether the pattern made it into the vector
// index; a false return with nil error means stored-but-not-indexed.
// Concurrent upserts of the same id serialise on a per-id lock;
// occurrence counts increment and the success rate folds in as a
// running average.
func (s *Store) UpsertPattern(ctx context.Context, p *models.Pattern, quality float64) (bool, error) {
	if p == nil || p.ID == "" {
		return false, errors.New("pattern id required")
	}

	unlock := s.lockPattern(p.ID)
	defer unlock()

	now := s.now().UTC()
	merged, err := s.merge(ctx, p, quality, now)
	if err != nil {
		return false, err
	}

	if err := storage.PutJSON(ctx, s.objects, patternKey(merged.ID), merged); err != nil {
		metrics.PatternUpserts.WithLabelValues("error").Inc()
		return false, fmt.Errorf("persist pattern %s: %w", merged.ID, err)
	}
	s.cachePattern(merged)

	if quality < s.quality {
		// Stored but never searched.
		s.keyword.remove(merged.ID)
		metrics.PatternUpserts.WithLabelValues("stored").Inc()
		return false, nil
	}

	if err := s.keyword.add(merged); err != nil {
		s.logger.Warn("Keyword index add failed", "pattern_id", merged.ID, "error", err)
	}

	if s.embedder == nil {
		metrics.PatternUpserts.WithLabelValues("deferred").Inc()
		return false, nil
	}

	if err := s.indexPattern(ctx, merged); err != nil {
		s.logger.Warn("Vector index write failed; pattern flagged for reindex",
			"pattern_id", merged.ID, "error", err)
		metrics.PatternUpserts.WithLabelValues("index_failed").Inc()
		return false, nil
	}

	merged.Vectorized = true
	merged.NeedsReindex = false
	if err := storage.PutJSON(ctx, s.objects, patternKey(merged.ID), merged); err != nil {
		s.logger.Warn("Pattern flag update failed", "pattern_id", merged.ID, "error", err)
	}
	s.cachePattern(merged)
	metrics.PatternUpserts.WithLabelValues("indexed").Inc()
	return true, nil
}

// merge folds the incoming pattern into the stored record, if any.
func (s *Store) merge(ctx context.Context, p *models.Pattern, quality float64, now time.Time) (*models.Pattern, error) {
	merged := *p

	var existing models.Pattern
	err := storage.GetJSON(ctx, s.objects, patternKey(p.ID), &existing)
	switch {
	case err == nil:
		merged.CreatedAt = existing.CreatedAt
		merged.Occurrences = existing.Occurrences + 1
		n := float64(merged.Occurrences)
		merged.SuccessRate = existing.SuccessRate + (p.SuccessRate-existing.SuccessRate)/n
		if merged.Title == "" {
			merged.Title = existing.Title
		}
		if merged.Description == "" {
			merged.Description = existing.Description
		}
		if merged.RootCause == "" {
			merged.RootCause = existing.RootCause
		}
		if merged.Category == "" {
			merged.Category = existing.Category
		}
		if merged.Severity == "" {
			merged.Severity = existing.Severity
		}
		merged.Symptoms = unionStrings(existing.Symptoms, p.Symptoms)
		merged.Services = unionStrings(existing.Services, p.Services)
		merged.Remediation = unionStrings(existing.Remediation, p.Remediation)
	case errors.Is(err, storage.ErrNotFound):
		if merged.Occurrences == 0 {
			merged.Occurrences = 1
		}
		if merged.CreatedAt.IsZero() {
			merged.CreatedAt = now
		}
	default:
		return nil, fmt.Errorf("read pattern %s: %w", p.ID, err)
	}

	merged.QualityScore = quality
	merged.UpdatedAt = now
	merged.LastSeenAt = now
	merged.Vectorized = false
	merged.NeedsReindex = quality >= s.quality
	return &merged, nil
}

func (s *Store) indexPattern(ctx context.Context, p *models.Pattern) error {
	vec, err := s.embed(ctx, embedText(p, s.embedMaxChars))
	if err != nil {
		return err
	}
	vctx, cancel := context.WithTimeout(ctx, s.vectorTimeout)
	defer cancel()
	return s.index.Upsert(vctx, p, vec)
}

func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	ectx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	defer cancel()
	vec, err := s.embedder.Embed(ectx, text)
	if err != nil {
		return nil, indexErr(err)
	}
	return vec, nil
}

// GetPattern reads from the in-process cache, falling back to the object
// store. Returns storage.ErrNotFound when the id is unknown.
func (s *Store) GetPattern(ctx context.Context, id string) (*models.Pattern, error) {
	if p := s.getCached(id); p != nil {
		return p, nil
	}

	var p models.Pattern
	if err := storage.GetJSON(ctx, s.objects, patternKey(id), &p); err != nil {
		return nil, err
	}
	s.cachePattern(&p)
	return &p, nil
}

// SearchKeyword scores patterns by query-token coverage. Hits carry a
// [0,1] score comparable against the fast-layer threshold.
func (s *Store) SearchKeyword(ctx context.Context, query string, f Filter, k int) ([]models.SearchHit, error) {
	if k <= 0 {
		k = 5
	}
	candidateLimit := k * 4
	if candidateLimit < 20 {
		candidateLimit = 20
	}

	ids, err := s.keyword.retrieve(ctx, query, candidateLimit)
	if err != nil {
		return nil, err
	}

	tokens := tokenize(query)
	var hits []models.SearchHit
	for _, id := range ids {
		p := s.getCached(id)
		if p == nil || p.QualityScore < s.quality || !matchesFilter(p, f) {
			continue
		}
		score := keywordScore(tokens, query, p)
		if score <= 0 {
			continue
		}
		hits = append(hits, models.SearchHit{
			ID:      p.ID,
			Title:   p.Title,
			Snippet: snippet(p),
			Score:   score,
			Layer:   models.LayerKeyword,
			Pattern: p,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// SearchVector embeds the query and runs kNN against the index. All
// failures surface as ErrIndexUnavailable so callers can degrade.
func (s *Store) SearchVector(ctx context.Context, query string, f Filter, k int, minScore float64) ([]models.SearchHit, error) {
	if s.embedder == nil {
		return nil, indexErr(errors.New("no embedder configured"))
	}
	if k <= 0 {
		k = 5
	}

	vec, err := s.embed(ctx, truncate(query, s.embedMaxChars))
	if err != nil {
		return nil, err
	}

	vctx, cancel := context.WithTimeout(ctx, s.vectorTimeout)
	defer cancel()
	indexHits, err := s.index.Search(vctx, vec, f, k, minScore)
	if err != nil {
		return nil, indexErr(err)
	}

	hits := make([]models.SearchHit, 0, len(indexHits))
	for _, h := range indexHits {
		p := s.getCached(h.PatternID)
		if p == nil || p.QualityScore < s.quality {
			continue
		}
		hits = append(hits, models.SearchHit{
			ID:      p.ID,
			Title:   p.Title,
			Snippet: snippet(p),
			Score:   h.Score,
			Layer:   models.LayerVector,
			Pattern: p,
		})
	}
	return hits, nil
}

// RebuildReport counts RebuildIndex outcomes.
type RebuildReport struct {
	Rebuilt int `json:"rebuilt"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// RebuildIndex re-reads every stored pattern, refreshes the in-process
// cache and keyword index, and re-issues embeddings for every pattern
// at or above the quality threshold.
func (s *Store) RebuildIndex(ctx context.Context) (*RebuildReport, error) {
	keys, err := s.objects.List(ctx, patternPrefix)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	if err := s.keyword.reset(); err != nil {
		return nil, fmt.Errorf("reset keyword index: %w", err)
	}

	report := &RebuildReport{}
	for _, key := range keys {
		var p models.Pattern
		if err := storage.GetJSON(ctx, s.objects, key, &p); err != nil {
			s.logger.Warn("Skipping unreadable pattern", "key", key, "error", err)
			report.Failed++
			continue
		}
		s.cachePattern(&p)

		if p.QualityScore < s.quality {
			report.Skipped++
			continue
		}
		if err := s.keyword.add(&p); err != nil {
			s.logger.Warn("Keyword index add failed", "pattern_id", p.ID, "error", err)
		}

		if s.embedder == nil {
			report.Failed++
			continue
		}
		if err := s.indexPattern(ctx, &p); err != nil {
			s.logger.Warn("Reindex failed", "pattern_id", p.ID, "error", err)
			report.Failed++
			continue
		}
		p.Vectorized = true
		p.NeedsReindex = false
		if err := storage.PutJSON(ctx, s.objects, key, &p); err != nil {
			s.logger.Warn("Pattern flag update failed", "pattern_id", p.ID, "error", err)
		}
		s.cachePattern(&p)
		report.Rebuilt++
	}

	s.logger.Info("Vector index rebuilt",
		"rebuilt", report.Rebuilt, "failed", report.Failed, "skipped", report.Skipped)
	return report, nil
}

// Stats reports cache size for health checks.
func (s *Store) Stats() (total, indexed int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.patterns {
		total++
		if p.Vectorized {
			indexed++
		}
	}
	return total, indexed
}

func (s *Store) lockPattern(id string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}

func (s *Store) cachePattern(p *models.Pattern) {
	cp := *p
	s.mu.Lock()
	s.patterns[p.ID] = &cp
	s.mu.Unlock()
}

func (s *Store) getCached(id string) *models.Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.patterns[id]
}

func matchesFilter(p *models.Pattern, f Filter) bool {
	if f.Category != "" && p.Category != f.Category {
		return false
	}
	if f.Severity != "" && string(p.Severity) != f.Severity {
		return false
	}
	if f.Service != "" {
		found := false
		for _, svc := range p.Services {
			if svc == f.Service {
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

// embedText composes the text the pattern is indexed under.
func embedText(p *models.Pattern, maxChars int) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{p.Title, p.Description, p.RootCause} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return truncate(strings.Join(parts, " "), maxChars)
}

func truncate(s string, max int) string {
	if max > 0 && len(s) > max {
		return s[:max]
	}
	return s
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
