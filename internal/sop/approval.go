package sop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsforge/sentinel-core/internal/config"
	"github.com/opsforge/sentinel-core/internal/metrics"
	"github.com/opsforge/sentinel-core/internal/models"
	"github.com/opsforge/sentinel-core/internal/storage"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

var (
	// ErrApprovalNotFound means the token id is unknown in memory and
	// in the object store.
	ErrApprovalNotFound = errors.New("approval token not found")

	// ErrApprovalExpired covers every decide attempt that cannot
	// succeed: the token timed out, or it was already decided. A
	// second click never re-authorizes.
	ErrApprovalExpired = errors.New("approval token expired or already decided")

	// ErrNotApproved means an execution asked to consume a token that
	// is not in the approved state, or was already used once.
	ErrNotApproved = errors.New("approval token not approved")
)

func approvalKey(id string) string { return "approvals/" + id + ".json" }

// ApprovalManager mints single-use approval tokens for executions that
// need a human verdict, applies decisions with compare-and-set
// semantics, and persists every transition under approvals/{id}.json.
type ApprovalManager struct {
	store  storage.ObjectStore
	ttl    time.Duration
	logger logger.Logger
	now    func() time.Time

	mu     sync.Mutex
	tokens map[string]*models.ApprovalToken
}

func NewApprovalManager(cfg config.SafetyConfig, store storage.ObjectStore, log logger.Logger) *ApprovalManager {
	return &ApprovalManager{
		store:  store,
		ttl:    cfg.ApprovalTTL(),
		logger: log,
		now:    time.Now,
		tokens: make(map[string]*models.ApprovalToken),
	}
}

// Create mints a pending token for the given incident and safety
// decision. The token must be durable before an operator is asked to
// decide on it, so a persistence failure fails the call.
func (m *ApprovalManager) Create(ctx context.Context, incidentID, resourceID string, decision models.SafetyDecision) (*models.ApprovalToken, error) {
	now := m.now()
	tok := &models.ApprovalToken{
		ID:            uuid.New().String(),
		IncidentID:    incidentID,
		SOPID:         decision.SOPID,
		ResourceID:    resourceID,
		RequestedMode: decision.Mode,
		Risk:          decision.Risk,
		Status:        models.ApprovalPending,
		Reason:        strings.Join(decision.Reasons, "; "),
		CreatedAt:     now,
		ExpiresAt:     now.Add(m.ttl),
	}

	if err := storage.PutJSON(ctx, m.store, approvalKey(tok.ID), tok); err != nil {
		return nil, fmt.Errorf("persist approval token: %w", err)
	}

	m.mu.Lock()
	m.tokens[tok.ID] = tok
	m.mu.Unlock()

	m.logger.Info("Approval token created",
		"token", tok.ID,
		"incident", incidentID,
		"sop", decision.SOPID,
		"risk", decision.Risk.String(),
		"expires_at", tok.ExpiresAt.UTC().Format(time.RFC3339))
	return copyToken(tok), nil
}

// Get returns the current state of a token without changing it.
func (m *ApprovalManager) Get(ctx context.Context, tokenID string) (*models.ApprovalToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, err := m.lookupLocked(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	return copyToken(tok), nil
}

// Approve transitions a pending token to approved.
func (m *ApprovalManager) Approve(ctx context.Context, tokenID, decidedBy string) (*models.ApprovalToken, error) {
	return m.decide(ctx, tokenID, models.ApprovalApproved, decidedBy)
}

// Reject transitions a pending token to rejected.
func (m *ApprovalManager) Reject(ctx context.Context, tokenID, decidedBy string) (*models.ApprovalToken, error) {
	return m.decide(ctx, tokenID, models.ApprovalRejected, decidedBy)
}

func (m *ApprovalManager) decide(ctx context.Context, tokenID string, verdict models.ApprovalStatus, decidedBy string) (*models.ApprovalToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, err := m.lookupLocked(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	if tok.Status == models.ApprovalPending && tok.ExpiredAt(now) {
		tok.Status = models.ApprovalExpired
		m.persistLocked(ctx, tok)
		metrics.ApprovalsTotal.WithLabelValues("expired").Inc()
		m.logger.Warn("Approval decided after expiry", "token", tokenID, "verdict", string(verdict))
		return copyToken(tok), ErrApprovalExpired
	}
	if tok.Status != models.ApprovalPending {
		return copyToken(tok), ErrApprovalExpired
	}

	tok.Status = verdict
	tok.DecidedAt = &now
	tok.DecidedBy = decidedBy
	m.persistLocked(ctx, tok)
	metrics.ApprovalsTotal.WithLabelValues(string(verdict)).Inc()

	m.logger.Info("Approval decided",
		"token", tokenID,
		"verdict", string(verdict),
		"decided_by", decidedBy,
		"incident", tok.IncidentID)
	return copyToken(tok), nil
}

// Consume marks an approved token as used. A token authorizes exactly
// one execution; a second consume fails, and an approved token that
// sat past its expiry is not executed either.
func (m *ApprovalManager) Consume(ctx context.Context, tokenID string) (*models.ApprovalToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, err := m.lookupLocked(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if tok.Status != models.ApprovalApproved {
		return nil, ErrNotApproved
	}
	if tok.Consumed() {
		return nil, ErrNotApproved
	}

	now := m.now()
	if tok.ExpiredAt(now) {
		return nil, ErrApprovalExpired
	}

	tok.ConsumedAt = &now
	m.persistLocked(ctx, tok)
	return copyToken(tok), nil
}

// lookupLocked checks the in-memory map first and falls back to the
// object store, so tokens survive a process restart.
func (m *ApprovalManager) lookupLocked(ctx context.Context, tokenID string) (*models.ApprovalToken, error) {
	if tok, ok := m.tokens[tokenID]; ok {
		return tok, nil
	}
	var tok models.ApprovalToken
	if err := storage.GetJSON(ctx, m.store, approvalKey(tokenID), &tok); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrApprovalNotFound
		}
		return nil, fmt.Errorf("load approval token: %w", err)
	}
	m.tokens[tok.ID] = &tok
	return &tok, nil
}

// persistLocked is best effort: the in-memory state already reflects
// the transition, and a restart at worst reverts the token to the last
// stored state for the operator to decide again.
func (m *ApprovalManager) persistLocked(ctx context.Context, tok *models.ApprovalToken) {
	if err := storage.PutJSON(ctx, m.store, approvalKey(tok.ID), tok); err != nil {
		m.logger.Error("Failed to persist approval token", "token", tok.ID, "error", err)
	}
}

func copyToken(tok *models.ApprovalToken) *models.ApprovalToken {
	c := *tok
	return &c
}
