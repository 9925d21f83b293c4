// Package sop matches declarative runbooks to RCA hypotheses, gates
// them through the safety policy and executes their steps.
package sop

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/opsforge/sentinel-core/internal/models"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

// MaxCandidates caps how many runbooks MatchSOPs returns.
const MaxCandidates = 5

var validateSOP = validator.New()

type catalogFile struct {
	Version int           `yaml:"version"`
	SOPs    []*models.SOP `yaml:"sops"`
}

// Catalog is the loaded runbook library. Individual SOPs are immutable;
// Reload swaps the whole set.
type Catalog struct {
	mu     sync.RWMutex
	path   string
	sops   []*models.SOP
	byID   map[string]*models.SOP
	logger logger.Logger
}

// LoadCatalog reads one YAML file or every *.yaml/*.yml in a directory,
// in filename order.
func LoadCatalog(path string, log logger.Logger) (*Catalog, error) {
	files, err := catalogFiles(path)
	if err != nil {
		return nil, err
	}

	c := &Catalog{path: path, byID: make(map[string]*models.SOP), logger: log}
	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read sop catalog %s: %w", file, err)
		}
		var doc catalogFile
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse sop catalog %s: %w", file, err)
		}
		for _, s := range doc.SOPs {
			if err := validateSOP.Struct(s); err != nil {
				return nil, fmt.Errorf("sop catalog %s: sop %q: %w", file, s.ID, err)
			}
			if _, dup := c.byID[s.ID]; dup {
				return nil, fmt.Errorf("sop catalog: duplicate sop id %q in %s", s.ID, file)
			}
			c.byID[s.ID] = s
			c.sops = append(c.sops, s)
		}
	}
	if len(c.sops) == 0 {
		return nil, fmt.Errorf("sop catalog %s: no runbooks defined", path)
	}

	log.Info("SOP catalog loaded", "path", path, "sops", len(c.sops))
	return c, nil
}

func catalogFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("sop catalog %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("sop catalog %s: %w", path, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Reload re-reads the catalog path. A broken file keeps the previous
// catalog in place.
func (c *Catalog) Reload() error {
	next, err := LoadCatalog(c.path, c.logger)
	if err != nil {
		c.logger.Error("SOP catalog reload failed; keeping previous catalog", "path", c.path, "error", err)
		return err
	}
	c.mu.Lock()
	c.sops = next.sops
	c.byID = next.byID
	c.mu.Unlock()
	return nil
}

// Get returns a runbook by id.
func (c *Catalog) Get(sopID string) (*models.SOP, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.byID[sopID]
	return s, ok
}

// Len reports the catalog size.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sops)
}

// MatchSOPs scores every runbook against the RCA hypothesis and
// returns up to MaxCandidates ordered by success_rate x match
// confidence, id ascending on ties. Unknown RCA matches nothing.
func (c *Catalog) MatchSOPs(rca *models.RCAResult, resourceIDs []string) []models.SOPCandidate {
	if rca == nil || rca.Unknown() {
		return nil
	}

	c.mu.RLock()
	sops := c.sops
	c.mu.RUnlock()

	candidates := make([]models.SOPCandidate, 0, len(sops))
	for _, s := range sops {
		conf, reasons := matchConfidence(s, rca, resourceIDs)
		if conf <= 0 {
			continue
		}
		candidates = append(candidates, models.SOPCandidate{
			SOP:             s,
			MatchConfidence: conf,
			CombinedScore:   s.SuccessRate * conf,
			Reasons:         reasons,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].CombinedScore != candidates[j].CombinedScore {
			return candidates[i].CombinedScore > candidates[j].CombinedScore
		}
		return candidates[i].SOP.ID < candidates[j].SOP.ID
	})
	if len(candidates) > MaxCandidates {
		candidates = candidates[:MaxCandidates]
	}
	return candidates
}

// matchConfidence takes the strongest applicable signal: a direct
// recommendation beats a pattern trigger beats a category trigger
// beats keyword and service hints.
func matchConfidence(s *models.SOP, rca *models.RCAResult, resourceIDs []string) (float64, []string) {
	var conf float64
	var reasons []string
	bump := func(c float64, reason string) {
		if c > conf {
			conf = c
		}
		reasons = append(reasons, reason)
	}

	if rca.RecommendedAction != "" && rca.RecommendedAction == s.ID {
		bump(1.0, "recommended by analysis")
	}
	if rca.PatternID != "" && rca.PatternID != models.UnknownPatternID {
		for _, want := range s.Triggers.PatternIDs {
			if want == rca.PatternID {
				bump(0.9, "pattern "+rca.PatternID)
			}
		}
	}
	if rca.Category != "" {
		for _, cat := range s.Triggers.Categories {
			if strings.EqualFold(cat, rca.Category) {
				bump(0.7, "category "+rca.Category)
			}
		}
	}
	rootCause := strings.ToLower(rca.RootCause)
	for _, kw := range s.Triggers.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(rootCause, kw) {
			bump(0.5, "keyword "+kw)
		}
	}
	for _, svc := range s.Triggers.Services {
		for _, rid := range resourceIDs {
			if resourceService(rid) == svc {
				bump(0.3, "service "+svc)
				break
			}
		}
	}

	return conf, reasons
}

// resourceService guesses the owning service plane from the resource
// id shape used across the collectors.
func resourceService(resourceID string) string {
	switch {
	case strings.HasPrefix(resourceID, "pod/"),
		strings.HasPrefix(resourceID, "deploy/"),
		strings.HasPrefix(resourceID, "node/"),
		strings.HasPrefix(resourceID, "sts/"):
		return "kubernetes"
	case strings.HasPrefix(resourceID, "i-"),
		strings.HasPrefix(resourceID, "vol-"),
		strings.HasPrefix(resourceID, "sg-"),
		strings.HasPrefix(resourceID, "db-"):
		return "aws"
	default:
		return ""
	}
}
