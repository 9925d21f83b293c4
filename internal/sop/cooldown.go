package sop

import (
	"fmt"
	"sync"
	"time"

	"github.com/opsforge/sentinel-core/internal/config"
)

// CooldownGuard rate-limits executions: one per (resource, sop) pair
// inside the pair window, and a global per-sop budget inside a sliding
// window. State is in-process; restarts reset it, which only errs on
// the permissive side of a 30 minute window.
type CooldownGuard struct {
	pairWindow   time.Duration
	globalWindow time.Duration
	globalMax    int

	mu     sync.Mutex
	last   map[string]time.Time
	global map[string][]time.Time
}

func NewCooldownGuard(cfg config.SafetyConfig) *CooldownGuard {
	globalMax := cfg.GlobalMaxExecutions
	if globalMax <= 0 {
		globalMax = config.DefaultGlobalMaxExecutions
	}
	return &CooldownGuard{
		pairWindow:   cfg.Cooldown(),
		globalWindow: cfg.GlobalWindow(),
		globalMax:    globalMax,
		last:         make(map[string]time.Time),
		global:       make(map[string][]time.Time),
	}
}

// Allow reports whether an execution of sopID on resourceID may start
// now, with the blocking reason when it may not.
func (g *CooldownGuard) Allow(resourceID, sopID string, now time.Time) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := pairKey(resourceID, sopID)
	if last, ok := g.last[key]; ok && now.Sub(last) < g.pairWindow {
		return false, fmt.Sprintf("cooldown: %s ran on %s %s ago", sopID, resourceID, now.Sub(last).Round(time.Second))
	}

	recent := pruneBefore(g.global[sopID], now.Add(-g.globalWindow))
	g.global[sopID] = recent
	if len(recent) >= g.globalMax {
		return false, fmt.Sprintf("cooldown: %s ran %d times in the last %s", sopID, len(recent), g.globalWindow)
	}
	return true, ""
}

// Reserve atomically re-checks the windows and records the execution
// start when allowed. Two concurrent incidents cannot both reserve the
// same (resource, sop) pair.
func (g *CooldownGuard) Reserve(resourceID, sopID string, now time.Time) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := pairKey(resourceID, sopID)
	if last, ok := g.last[key]; ok && now.Sub(last) < g.pairWindow {
		return false, fmt.Sprintf("cooldown: %s ran on %s %s ago", sopID, resourceID, now.Sub(last).Round(time.Second))
	}
	recent := pruneBefore(g.global[sopID], now.Add(-g.globalWindow))
	if len(recent) >= g.globalMax {
		g.global[sopID] = recent
		return false, fmt.Sprintf("cooldown: %s ran %d times in the last %s", sopID, len(recent), g.globalWindow)
	}

	g.last[key] = now
	g.global[sopID] = append(recent, now)
	return true, ""
}

func pairKey(resourceID, sopID string) string {
	return resourceID + "|" + sopID
}

func pruneBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	out := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			out = append(out, ts)
		}
	}
	return out
}
