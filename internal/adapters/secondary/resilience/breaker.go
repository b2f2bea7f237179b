// Package resilience protège les stores distants par un circuit breaker :
// quand Postgres ou Neo4j tombent, on répond vite ErrStoreUnavailable
// au lieu d'empiler des requêtes jusqu'au timeout.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/snowdamiz/vibeslop-sub003/internal/core/domain"
	"github.com/snowdamiz/vibeslop-sub003/internal/core/ports"
	"github.com/snowdamiz/vibeslop-sub003/internal/metrics"
)

type BreakerConfig struct {
	MaxRequests  uint32        // requêtes autorisées en half-open
	Interval     time.Duration // remise à zéro des compteurs en closed
	Timeout      time.Duration // durée en open avant half-open
	MinRequests  uint32
	FailureRatio float64
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:  3,
		Interval:     30 * time.Second,
		Timeout:      10 * time.Second,
		MinRequests:  10,
		FailureRatio: 0.5,
	}
}

func newBreaker(name string, cfg BreakerConfig) *gobreaker.CircuitBreaker[any] {
	metrics.BreakerState.WithLabelValues(name).Set(0)

	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state change", "store", name, "from", from.String(), "to", to.String())
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
		// Une annulation client ne dit rien de la santé du store
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

// execute passe l'appel dans le breaker et traduit un refus en ErrStoreUnavailable
func execute[T any](cb *gobreaker.CircuitBreaker[any], fn func() (T, error)) (T, error) {
	var zero T
	result, err := cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.BreakerRejections.WithLabelValues(cb.Name()).Inc()
			return zero, fmt.Errorf("%w: %s breaker %w", domain.ErrStoreUnavailable, cb.Name(), err)
		}
		return zero, err
	}
	typed, ok := result.(T)
	if !ok && result != nil {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

// --- ContentStore ---

type ContentStore struct {
	next ports.ContentStore
	cb   *gobreaker.CircuitBreaker[any]
}

func NewContentStore(next ports.ContentStore, cfg BreakerConfig) *ContentStore {
	return &ContentStore{next: next, cb: newBreaker("postgres", cfg)}
}

var _ ports.ContentStore = (*ContentStore)(nil)

func (s *ContentStore) FetchCandidates(ctx context.Context, contentType domain.ContentType, filter ports.CandidateFilter) ([]*domain.ContentItem, error) {
	return execute(s.cb, func() ([]*domain.ContentItem, error) {
		return s.next.FetchCandidates(ctx, contentType, filter)
	})
}

func (s *ContentStore) BatchEngagementCounts(ctx context.Context, contentType domain.ContentType, ids []string) (map[string]domain.EngagementCounts, error) {
	return execute(s.cb, func() (map[string]domain.EngagementCounts, error) {
		return s.next.BatchEngagementCounts(ctx, contentType, ids)
	})
}

func (s *ContentStore) BatchViewerState(ctx context.Context, viewerID string, contentType domain.ContentType, ids []string) (map[string]domain.EngagementState, error) {
	return execute(s.cb, func() (map[string]domain.EngagementState, error) {
		return s.next.BatchViewerState(ctx, viewerID, contentType, ids)
	})
}

func (s *ContentStore) ViewerPreferences(ctx context.Context, viewerID string) (domain.Preferences, error) {
	return execute(s.cb, func() (domain.Preferences, error) {
		return s.next.ViewerPreferences(ctx, viewerID)
	})
}

func (s *ContentStore) ActiveUsers(ctx context.Context, since time.Time, limit int) ([]domain.UserProfile, error) {
	return execute(s.cb, func() ([]domain.UserProfile, error) {
		return s.next.ActiveUsers(ctx, since, limit)
	})
}

// --- FollowGraph ---

type FollowGraph struct {
	next ports.FollowGraph
	cb   *gobreaker.CircuitBreaker[any]
}

func NewFollowGraph(next ports.FollowGraph, cfg BreakerConfig) *FollowGraph {
	return &FollowGraph{next: next, cb: newBreaker("neo4j", cfg)}
}

var _ ports.FollowGraph = (*FollowGraph)(nil)

func (g *FollowGraph) FollowSet(ctx context.Context, viewerID string) ([]string, error) {
	return execute(g.cb, func() ([]string, error) {
		return g.next.FollowSet(ctx, viewerID)
	})
}

func (g *FollowGraph) MutualFollowCounts(ctx context.Context, viewerID string, candidateIDs []string) (map[string]int, error) {
	return execute(g.cb, func() (map[string]int, error) {
		return g.next.MutualFollowCounts(ctx, viewerID, candidateIDs)
	})
}
