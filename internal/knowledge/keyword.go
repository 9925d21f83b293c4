package knowledge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/blevesearch/bleve/v2"

	"github.com/opsforge/sentinel-core/internal/models"
)

// keywordIndex is the in-process full-text index behind the fast search
// layer. Bleve does retrieval and rough ranking; final scores come from
// token coverage so they stay in [0,1] and are comparable against the
// layer threshold.
type keywordIndex struct {
	mu    sync.RWMutex
	index bleve.Index
}

func newKeywordIndex() (*keywordIndex, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("keyword index: %w", err)
	}
	return &keywordIndex{index: idx}, nil
}

func (k *keywordIndex) add(p *models.Pattern) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	doc := map[string]any{
		"title":       p.Title,
		"description": p.Description,
		"category":    p.Category,
		"severity":    string(p.Severity),
		"services":    strings.Join(p.Services, " "),
		"symptoms":    strings.Join(p.Symptoms, " "),
		"root_cause":  p.RootCause,
	}
	return k.index.Index(p.ID, doc)
}

func (k *keywordIndex) remove(patternID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	_ = k.index.Delete(patternID)
}

// retrieve returns candidate pattern ids for the query, widest first.
func (k *keywordIndex) retrieve(ctx context.Context, query string, limit int) ([]string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	mq := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(mq, limit, 0, false)
	res, err := k.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

func (k *keywordIndex) reset() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.index.Close(); err != nil {
		return err
	}
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return err
	}
	k.index = idx
	return nil
}

func (k *keywordIndex) close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.index.Close()
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "for": true, "in": true,
	"is": true, "of": true, "on": true, "or": true, "the": true, "to": true,
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

// keywordScore is the fraction of query tokens covered by the pattern's
// searchable text, with a small bonus per whole symptom phrase present
// in the query.
func keywordScore(queryTokens []string, query string, p *models.Pattern) float64 {
	if len(queryTokens) == 0 {
		return 0
	}

	corpus := make(map[string]bool)
	for _, part := range []string{p.Title, p.Description, p.Category, p.RootCause} {
		for _, tok := range tokenize(part) {
			corpus[tok] = true
		}
	}
	for _, sym := range p.Symptoms {
		for _, tok := range tokenize(sym) {
			corpus[tok] = true
		}
	}
	for _, svc := range p.Services {
		for _, tok := range tokenize(svc) {
			corpus[tok] = true
		}
	}

	matched := 0
	for _, tok := range queryTokens {
		if corpus[tok] {
			matched++
		}
	}
	score := float64(matched) / float64(len(queryTokens))

	queryLower := strings.ToLower(query)
	for _, sym := range p.Symptoms {
		sym = strings.ToLower(strings.TrimSpace(sym))
		if sym != "" && strings.Contains(queryLower, sym) {
			score += 0.05
		}
	}

	if score > 1 {
		score = 1
	}
	return score
}

func snippet(p *models.Pattern) string {
	text := p.Description
	if text == "" {
		text = p.RootCause
	}
	if text == "" {
		text = p.Title
	}
	const max = 160
	if len(text) > max {
		return text[:max-3] + "..."
	}
	return text
}
