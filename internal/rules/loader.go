package rules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/opsforge/sentinel-core/pkg/logger"
)

var validate = validator.New()

// Ruleset is an immutable snapshot of all loaded rules in declaration
// order (file name order, then in-file order).
type Ruleset struct {
	Rules    []Rule
	LoadedAt time.Time
}

// Load reads one YAML file or every *.yaml / *.yml in a directory.
func Load(path string) (*Ruleset, error) {
	files, err := ruleFiles(path)
	if err != nil {
		return nil, err
	}

	rs := &Ruleset{LoadedAt: time.Now().UTC()}
	seen := make(map[string]string)
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read rules %s: %w", file, err)
		}

		var doc File
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse rules %s: %w", file, err)
		}
		if err := validate.Struct(&doc); err != nil {
			return nil, fmt.Errorf("validate rules %s: %w", file, err)
		}

		for i := range doc.Rules {
			rule := doc.Rules[i]
			if err := rule.compile(); err != nil {
				return nil, fmt.Errorf("rules %s: %w", file, err)
			}
			if prev, dup := seen[rule.ID]; dup {
				return nil, fmt.Errorf("rules %s: duplicate rule id %s (also in %s)", file, rule.ID, prev)
			}
			seen[rule.ID] = file
			rs.Rules = append(rs.Rules, rule)
		}
	}

	if len(rs.Rules) == 0 {
		return nil, fmt.Errorf("no rules found under %s", path)
	}
	return rs, nil
}

func ruleFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat rules path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read rules dir: %w", err)
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
	if len(files) == 0 {
		return nil, fmt.Errorf("no rule files under %s", path)
	}
	return files, nil
}

// Registry hands out the current ruleset snapshot. Reload swaps the
// snapshot atomically; readers holding the old one are unaffected.
type Registry struct {
	path   string
	logger logger.Logger
	snap   atomic.Pointer[Ruleset]
}

func NewRegistry(path string, log logger.Logger) (*Registry, error) {
	rs, err := Load(path)
	if err != nil {
		return nil, err
	}
	r := &Registry{path: path, logger: log}
	r.snap.Store(rs)
	log.Info("Rules loaded", "path", path, "rules", len(rs.Rules))
	return r, nil
}

func (r *Registry) Snapshot() *Ruleset {
	return r.snap.Load()
}

// Reload re-reads the rule path. A broken file keeps the previous
// snapshot in place.
func (r *Registry) Reload() error {
	rs, err := Load(r.path)
	if err != nil {
		r.logger.Error("Rules reload failed; keeping previous snapshot", "path", r.path, "error", err)
		return err
	}
	r.snap.Store(rs)
	r.logger.Info("Rules reloaded", "path", r.path, "rules", len(rs.Rules))
	return nil
}

// Watch blocks reloading the registry whenever the rule path changes,
// until ctx is done. Edits are debounced so editors that write in
// several syscalls trigger one reload.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create rules watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(r.path); err != nil {
		return fmt.Errorf("watch rules path %s: %w", r.path, err)
	}
	r.logger.Info("Rules watcher started", "path", r.path)

	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()
	debounced := make(chan struct{}, 1)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(250*time.Millisecond, func() {
				select {
				case debounced <- struct{}{}:
				default:
				}
			})

		case <-debounced:
			_ = r.Reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Error("Rules watcher error", "error", err)

		case <-ctx.Done():
			return nil
		}
	}
}
