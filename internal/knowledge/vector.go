package knowledge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/opsforge/sentinel-core/internal/metrics"
	"github.com/opsforge/sentinel-core/internal/models"
	"github.com/opsforge/sentinel-core/pkg/logger"
)

// ErrIndexUnavailable marks vector index failures. Readers degrade to
// keyword results; writers defer and flag the pattern for re-indexing.
var ErrIndexUnavailable = errors.New("vector index unavailable")

// Filter narrows index search by the metadata stored alongside vectors.
// Zero fields match everything.
type Filter struct {
	Category string
	Service  string
	Severity string
}

// IndexHit is one kNN result. The store joins it back to the
// authoritative pattern record by id.
type IndexHit struct {
	PatternID string
	Score     float64
}

// VectorIndex is the kNN projection of the pattern store.
type VectorIndex interface {
	EnsureReady(ctx context.Context) error
	Upsert(ctx context.Context, p *models.Pattern, vector []float32) error
	Delete(ctx context.Context, patternID string) error
	Search(ctx context.Context, vector []float32, f Filter, k int, minScore float64) ([]IndexHit, error)
}

// breakerIndex stops hammering a down index: after three consecutive
// failures calls fail fast with ErrIndexUnavailable until the cooldown
// elapses.
type breakerIndex struct {
	inner VectorIndex
	cb    *gobreaker.CircuitBreaker
}

// WithBreaker wraps a VectorIndex in a circuit breaker.
func WithBreaker(inner VectorIndex, log logger.Logger) VectorIndex {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "vector-index",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Vector index breaker state changed", "from", from.String(), "to", to.String())
			if to == gobreaker.StateClosed {
				metrics.VectorIndexState.Set(1)
			} else {
				metrics.VectorIndexState.Set(0)
			}
		},
	})
	metrics.VectorIndexState.Set(1)
	return &breakerIndex{inner: inner, cb: cb}
}

func (b *breakerIndex) EnsureReady(ctx context.Context) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.inner.EnsureReady(ctx)
	})
	return indexErr(err)
}

func (b *breakerIndex) Upsert(ctx context.Context, p *models.Pattern, vector []float32) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.inner.Upsert(ctx, p, vector)
	})
	return indexErr(err)
}

func (b *breakerIndex) Delete(ctx context.Context, patternID string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.inner.Delete(ctx, patternID)
	})
	return indexErr(err)
}

func (b *breakerIndex) Search(ctx context.Context, vector []float32, f Filter, k int, minScore float64) ([]IndexHit, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Search(ctx, vector, f, k, minScore)
	})
	if err != nil {
		return nil, indexErr(err)
	}
	hits, _ := v.([]IndexHit)
	return hits, nil
}

func indexErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrIndexUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
}
