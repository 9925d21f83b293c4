package sop

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCooldown_PairWindow(t *testing.T) {
	guard := NewCooldownGuard(testSafetyConfig())
	t0 := time.Date(2025, 7, 14, 10, 0, 0, 0, time.UTC)

	ok, _ := guard.Reserve("pod/a", "restart", t0)
	require.True(t, ok)

	ok, reason := guard.Allow("pod/a", "restart", t0.Add(29*time.Minute))
	assert.False(t, ok)
	assert.Contains(t, reason, "cooldown")

	ok, _ = guard.Allow("pod/a", "restart", t0.Add(31*time.Minute))
	assert.True(t, ok)

	// A different resource is outside the pair window.
	ok, _ = guard.Allow("pod/b", "restart", t0.Add(time.Minute))
	assert.True(t, ok)
}

func TestCooldown_GlobalBudget(t *testing.T) {
	guard := NewCooldownGuard(testSafetyConfig())
	t0 := time.Date(2025, 7, 14, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		ok, _ := guard.Reserve(fmt.Sprintf("pod/%d", i), "restart", t0.Add(time.Duration(i)*time.Minute))
		require.True(t, ok)
	}

	ok, reason := guard.Reserve("pod/4", "restart", t0.Add(3*time.Minute))
	assert.False(t, ok)
	assert.Contains(t, reason, "3 times")

	// The budget is per sop id.
	ok, _ = guard.Allow("pod/4", "scale", t0.Add(3*time.Minute))
	assert.True(t, ok)

	// Once the oldest executions age out of the window the budget frees up.
	ok, _ = guard.Reserve("pod/4", "restart", t0.Add(8*time.Minute))
	assert.True(t, ok)
}

func TestCooldown_AllowDoesNotConsume(t *testing.T) {
	guard := NewCooldownGuard(testSafetyConfig())
	t0 := time.Date(2025, 7, 14, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		ok, _ := guard.Allow("pod/a", "restart", t0)
		require.True(t, ok)
	}
	ok, _ := guard.Reserve("pod/a", "restart", t0)
	assert.True(t, ok)
}

func TestCooldown_ReserveIsAtomic(t *testing.T) {
	guard := NewCooldownGuard(testSafetyConfig())
	t0 := time.Date(2025, 7, 14, 10, 0, 0, 0, time.UTC)

	first, _ := guard.Reserve("pod/a", "restart", t0)
	second, _ := guard.Reserve("pod/a", "restart", t0)
	assert.True(t, first)
	assert.False(t, second)
}
