package quality

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/catalog-engine/internal/cache"
	"github.com/spherical-ai/catalog-engine/internal/domain"
	"github.com/spherical-ai/catalog-engine/internal/observability"
)

// ProductStore is the catalog access the quality service needs.
type ProductStore interface {
	Get(ctx context.Context, key string) (*domain.CanonicalProduct, error)
	ListByStatus(ctx context.Context, status domain.LifecycleStatus) ([]*domain.CanonicalProduct, error)
	ListAll(ctx context.Context) ([]*domain.CanonicalProduct, error)
	// TransitionStatus moves key from one status to another and reports
	// whether a row was changed. It must not change a row whose current
	// status differs from from.
	TransitionStatus(ctx context.Context, key string, from, to domain.LifecycleStatus) (bool, error)
}

// EventStore records lifecycle transitions.
type EventStore interface {
	Record(ctx context.Context, event *domain.LifecycleEvent) error
}

// SnapshotStore persists brand quality snapshots.
type SnapshotStore interface {
	ReplaceAll(ctx context.Context, snapshots []domain.BrandQualitySnapshot) error
}

// Service runs promotion, administrative overrides, and snapshot recomputation.
type Service struct {
	products  ProductStore
	events    EventStore
	snapshots SnapshotStore
	cache     cache.Client
	cacheTTL  time.Duration
	policy    Policy
	logger    *observability.Logger
}

// NewService creates a quality service. c may be nil.
func NewService(products ProductStore, events EventStore, snapshots SnapshotStore, c cache.Client, cacheTTL time.Duration, policy Policy, logger *observability.Logger) *Service {
	return &Service{
		products:  products,
		events:    events,
		snapshots: snapshots,
		cache:     c,
		cacheTTL:  cacheTTL,
		policy:    policy,
		logger:    logger.WithOperation("quality"),
	}
}

// Policy returns the active coverage policy.
func (s *Service) Policy() Policy {
	return s.policy
}

// PromotionResult summarizes one promotion pass.
type PromotionResult struct {
	Evaluated int      `json:"evaluated"`
	Promoted  int      `json:"promoted"`
	Failed    []string `json:"failed,omitempty"`
}

// Promote moves every PENDING product that passes the gate to ACTIVE.
// A failing product is logged and skipped.
func (s *Service) Promote(ctx context.Context) (*PromotionResult, error) {
	pending, err := s.products.ListByStatus(ctx, domain.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending products: %w", err)
	}

	result := &PromotionResult{Evaluated: len(pending)}
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !Promotable(p) {
			continue
		}
		changed, err := s.transition(ctx, p.ProductKey, domain.StatusPending, domain.StatusActive, ActorGate, "completeness gate passed")
		if err != nil {
			s.logger.Warn().Err(err).Product(p.ProductKey).Msg("Promotion failed")
			result.Failed = append(result.Failed, p.ProductKey)
			continue
		}
		if changed {
			result.Promoted++
		}
	}

	s.logger.Info().
		Int("evaluated", result.Evaluated).
		Int("promoted", result.Promoted).
		Int("failed", len(result.Failed)).
		Msg("Promotion pass complete")
	return result, nil
}

// Approve is the administrative override that activates a PENDING product
// regardless of the gate.
func (s *Service) Approve(ctx context.Context, key string, actor Actor, reason string) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: approve requires an administrator", ErrInvalidTransition)
	}
	return s.adminMove(ctx, key, domain.StatusActive, actor, reason)
}

// Reject moves a PENDING or ACTIVE product to the terminal REJECTED state.
func (s *Service) Reject(ctx context.Context, key string, actor Actor, reason string) error {
	return s.adminMove(ctx, key, domain.StatusRejected, actor, reason)
}

func (s *Service) adminMove(ctx context.Context, key string, to domain.LifecycleStatus, actor Actor, reason string) error {
	p, err := s.products.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get product %s: %w", key, err)
	}
	if err := ValidateTransition(p.LifecycleStatus, to, actor); err != nil {
		return err
	}
	changed, err := s.transition(ctx, key, p.LifecycleStatus, to, actor, reason)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, key)
	}
	s.logger.Info().Product(key).Str("to", string(to)).Str("actor", string(actor)).Msg("Lifecycle override applied")
	return nil
}

func (s *Service) transition(ctx context.Context, key string, from, to domain.LifecycleStatus, actor Actor, reason string) (bool, error) {
	if err := ValidateTransition(from, to, actor); err != nil {
		return false, err
	}
	changed, err := s.products.TransitionStatus(ctx, key, from, to)
	if err != nil || !changed {
		return changed, err
	}
	event := &domain.LifecycleEvent{
		ID:         uuid.NewString(),
		ProductKey: key,
		FromStatus: from,
		ToStatus:   to,
		Actor:      string(actor),
		Reason:     reason,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.events.Record(ctx, event); err != nil {
		// status change is already committed
		s.logger.Warn().Err(err).Product(key).Msg("Lifecycle event not recorded")
	}
	return true, nil
}

// RecomputeSnapshots rebuilds every brand snapshot from the catalog,
// replaces the stored set, and refreshes the cache.
func (s *Service) RecomputeSnapshots(ctx context.Context) ([]domain.BrandQualitySnapshot, error) {
	products, err := s.products.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	snapshots := ComputeSnapshots(products, s.policy, time.Now().UTC())
	if err := s.snapshots.ReplaceAll(ctx, snapshots); err != nil {
		return nil, fmt.Errorf("store snapshots: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.DeleteByPrefix(ctx, cache.BrandQualityPrefix()); err != nil {
			s.logger.Warn().Err(err).Msg("Snapshot cache invalidation failed")
		}
		byKey := make(map[string]domain.BrandQualitySnapshot, len(snapshots))
		for _, snap := range snapshots {
			byKey[cache.BrandQualityKey(snap.BrandSlug)] = snap
		}
		if err := cache.SetManyJSON(ctx, s.cache, byKey, s.cacheTTL); err != nil {
			s.logger.Warn().Err(err).Int("brands", len(byKey)).Msg("Snapshot cache write failed")
		}
	}

	eligible := 0
	for _, snap := range snapshots {
		if snap.ProductionEligible {
			eligible++
		}
	}
	s.logger.Info().Int("brands", len(snapshots)).Int("production_eligible", eligible).Msg("Brand quality snapshots recomputed")
	return snapshots, nil
}
