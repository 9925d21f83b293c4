package sop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsforge/sentinel-core/internal/models"
	"github.com/opsforge/sentinel-core/internal/storage"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func newTestApprovals(store storage.ObjectStore) (*ApprovalManager, *fakeClock) {
	clock := newFakeClock(time.Date(2025, 7, 14, 10, 0, 0, 0, time.UTC))
	m := NewApprovalManager(testSafetyConfig(), store, logger.Nop())
	m.now = clock.Now
	return m, clock
}

func stopDecision() models.SafetyDecision {
	return models.SafetyDecision{
		SOPID:   "stop-instance",
		Risk:    models.RiskIrreversible,
		Mode:    models.ModeApprovalRequired,
		Reasons: []string{"risk L4: irreversible"},
	}
}

func TestApprovals_CreatePersistsPendingToken(t *testing.T) {
	store := storage.NewMemStore()
	m, clock := newTestApprovals(store)

	tok, err := m.Create(context.Background(), "inc-1", "i-0abc123", stopDecision())
	require.NoError(t, err)
	assert.NotEmpty(t, tok.ID)
	assert.Equal(t, models.ApprovalPending, tok.Status)
	assert.Equal(t, clock.Now().Add(15*time.Minute), tok.ExpiresAt)
	assert.Equal(t, "inc-1", tok.IncidentID)

	var stored models.ApprovalToken
	require.NoError(t, storage.GetJSON(context.Background(), store, approvalKey(tok.ID), &stored))
	assert.Equal(t, models.ApprovalPending, stored.Status)
	assert.Equal(t, "stop-instance", stored.SOPID)
}

func TestApprovals_ApproveAndReject(t *testing.T) {
	m, clock := newTestApprovals(storage.NewMemStore())
	ctx := context.Background()

	tok, err := m.Create(ctx, "inc-1", "i-0abc123", stopDecision())
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	approved, err := m.Approve(ctx, tok.ID, "oncall@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, approved.Status)
	assert.Equal(t, "oncall@example.com", approved.DecidedBy)
	require.NotNil(t, approved.DecidedAt)
	assert.Equal(t, clock.Now(), *approved.DecidedAt)

	other, err := m.Create(ctx, "inc-2", "i-0abc123", stopDecision())
	require.NoError(t, err)
	rejected, err := m.Reject(ctx, other.ID, "oncall@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalRejected, rejected.Status)
}

func TestApprovals_SecondDecisionNeverReauthorizes(t *testing.T) {
	m, _ := newTestApprovals(storage.NewMemStore())
	ctx := context.Background()

	tok, err := m.Create(ctx, "inc-1", "i-0abc123", stopDecision())
	require.NoError(t, err)

	_, err = m.Reject(ctx, tok.ID, "first")
	require.NoError(t, err)

	again, err := m.Approve(ctx, tok.ID, "second")
	assert.ErrorIs(t, err, ErrApprovalExpired)
	require.NotNil(t, again)
	assert.Equal(t, models.ApprovalRejected, again.Status)
}

func TestApprovals_LateDecisionExpires(t *testing.T) {
	m, clock := newTestApprovals(storage.NewMemStore())
	ctx := context.Background()

	tok, err := m.Create(ctx, "inc-1", "i-0abc123", stopDecision())
	require.NoError(t, err)

	// The operator clicks approve 1000 seconds later, past the 900s TTL.
	clock.Advance(1000 * time.Second)
	expired, err := m.Approve(ctx, tok.ID, "oncall@example.com")
	assert.ErrorIs(t, err, ErrApprovalExpired)
	require.NotNil(t, expired)
	assert.Equal(t, models.ApprovalExpired, expired.Status)

	got, err := m.Get(ctx, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalExpired, got.Status)
}

func TestApprovals_ConsumeIsSingleUse(t *testing.T) {
	m, _ := newTestApprovals(storage.NewMemStore())
	ctx := context.Background()

	tok, err := m.Create(ctx, "inc-1", "i-0abc123", stopDecision())
	require.NoError(t, err)
	_, err = m.Approve(ctx, tok.ID, "oncall")
	require.NoError(t, err)

	used, err := m.Consume(ctx, tok.ID)
	require.NoError(t, err)
	assert.True(t, used.Consumed())

	_, err = m.Consume(ctx, tok.ID)
	assert.ErrorIs(t, err, ErrNotApproved)
}

func TestApprovals_ConsumeRequiresApproval(t *testing.T) {
	m, clock := newTestApprovals(storage.NewMemStore())
	ctx := context.Background()

	pending, err := m.Create(ctx, "inc-1", "i-0abc123", stopDecision())
	require.NoError(t, err)
	_, err = m.Consume(ctx, pending.ID)
	assert.ErrorIs(t, err, ErrNotApproved)

	// Approved but left to rot past the TTL: still not executable.
	stale, err := m.Create(ctx, "inc-2", "i-0abc123", stopDecision())
	require.NoError(t, err)
	_, err = m.Approve(ctx, stale.ID, "oncall")
	require.NoError(t, err)
	clock.Advance(20 * time.Minute)
	_, err = m.Consume(ctx, stale.ID)
	assert.ErrorIs(t, err, ErrApprovalExpired)
}

func TestApprovals_TokensSurviveRestart(t *testing.T) {
	store := storage.NewMemStore()
	ctx := context.Background()

	m1, _ := newTestApprovals(store)
	tok, err := m1.Create(ctx, "inc-1", "i-0abc123", stopDecision())
	require.NoError(t, err)

	// A fresh manager over the same store sees the token.
	m2, _ := newTestApprovals(store)
	got, err := m2.Get(ctx, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, got.Status)

	approved, err := m2.Approve(ctx, tok.ID, "oncall")
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, approved.Status)
}

func TestApprovals_UnknownToken(t *testing.T) {
	m, _ := newTestApprovals(storage.NewMemStore())
	_, err := m.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrApprovalNotFound)
	_, err = m.Approve(context.Background(), "nope", "oncall")
	assert.ErrorIs(t, err, ErrApprovalNotFound)
}

func TestApprovals_ReturnsCopies(t *testing.T) {
	m, _ := newTestApprovals(storage.NewMemStore())
	ctx := context.Background()

	tok, err := m.Create(ctx, "inc-1", "i-0abc123", stopDecision())
	require.NoError(t, err)
	tok.Status = models.ApprovalApproved // caller-side mutation must not leak in

	got, err := m.Get(ctx, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, got.Status)
}
