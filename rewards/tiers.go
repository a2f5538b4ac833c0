package rewards

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/warp/reward-engine/generic"
)

// =============================================================================
// TIER RESOLUTION
// =============================================================================

// ResolveTier returns the tier a customer qualifies for, or nil.
//
// A blank category never qualifies. Otherwise the active tiers of the
// quarter whose name matches the category (case and surrounding space
// ignored) are tried from the highest MinCartons down, and the first
// whose range contains cartons wins.
func (e *Engine) ResolveTier(ctx context.Context, cartons int64, quarter, year int, category string) (*generic.RewardTier, error) {
	if generic.NormalizeCategory(category) == "" {
		return nil, nil
	}
	tiers, err := e.tiers.ActiveTiers(ctx, quarter, year)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiers for Q%d/%d: %w", quarter, year, err)
	}
	return SelectTier(tiers, cartons, category), nil
}

// SelectTier is the pure part of ResolveTier.
func SelectTier(tiers []generic.RewardTier, cartons int64, category string) *generic.RewardTier {
	key := generic.NormalizeCategory(category)
	if key == "" {
		return nil
	}

	var candidates []generic.RewardTier
	for _, t := range tiers {
		if t.IsActive && t.NameKey() == key {
			candidates = append(candidates, t)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].MinCartons > candidates[j].MinCartons
	})

	for i := range candidates {
		if candidates[i].Matches(cartons) {
			match := candidates[i]
			return &match
		}
	}
	return nil
}

// =============================================================================
// TIER MANAGEMENT
// =============================================================================

// ValidateTier checks a tier definition in isolation.
func ValidateTier(t generic.RewardTier) error {
	switch {
	case strings.TrimSpace(t.Name) == "":
		return &generic.ValidationError{Field: "name", Message: "is required"}
	case t.Quarter < 1 || t.Quarter > 4:
		return &generic.ValidationError{Field: "quarter", Message: "must be between 1 and 4"}
	case t.Year <= 0:
		return &generic.ValidationError{Field: "year", Message: "must be positive"}
	case t.MinCartons < 0:
		return &generic.ValidationError{Field: "minCartons", Message: "must not be negative"}
	case t.MaxCartons != nil && *t.MaxCartons < t.MinCartons:
		return &generic.ValidationError{Field: "maxCartons", Message: "must be greater than or equal to minCartons"}
	case t.CashbackPerCarton.IsNegative():
		return &generic.ValidationError{Field: "cashbackPerCarton", Message: "must not be negative"}
	}
	return generic.ValidateMoney("cashbackPerCarton", t.CashbackPerCarton)
}

// overlaps reports whether the carton ranges of a and b intersect.
func overlaps(a, b generic.RewardTier) bool {
	aBelowB := a.MaxCartons != nil && *a.MaxCartons < b.MinCartons
	bBelowA := b.MaxCartons != nil && *b.MaxCartons < a.MinCartons
	return !aBelowB && !bBelowA
}

// checkOverlap rejects an active tier whose range intersects another active
// tier of the same category in the same quarter.
func (e *Engine) checkOverlap(ctx context.Context, t generic.RewardTier) error {
	if !t.IsActive {
		return nil
	}
	existing, err := e.store.ActiveTiers(ctx, t.Quarter, t.Year)
	if err != nil {
		return fmt.Errorf("failed to load tiers: %w", err)
	}
	for _, other := range existing {
		if other.ID == t.ID || other.NameKey() != t.NameKey() {
			continue
		}
		if overlaps(t, other) {
			return &generic.ValidationError{
				Field:   "minCartons",
				Message: fmt.Sprintf("range overlaps tier %s", other.ID),
			}
		}
	}
	return nil
}

// CreateTier validates and stores a new tier, assigning an ID if empty.
func (e *Engine) CreateTier(ctx context.Context, t generic.RewardTier) (*generic.RewardTier, error) {
	t.Name = strings.TrimSpace(t.Name)
	if err := ValidateTier(t); err != nil {
		return nil, err
	}
	if err := e.checkOverlap(ctx, t); err != nil {
		return nil, err
	}
	if t.ID == "" {
		t.ID = generic.TierID(e.newID())
	}
	if err := e.store.CreateTier(ctx, t); err != nil {
		return nil, err
	}
	e.invalidate(ctx, t.Quarter, t.Year)
	return e.store.GetTier(ctx, t.ID)
}

// UpdateTier replaces an existing tier definition.
func (e *Engine) UpdateTier(ctx context.Context, t generic.RewardTier) (*generic.RewardTier, error) {
	old, err := e.store.GetTier(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	t.Name = strings.TrimSpace(t.Name)
	if err := ValidateTier(t); err != nil {
		return nil, err
	}
	if err := e.checkOverlap(ctx, t); err != nil {
		return nil, err
	}
	if err := e.store.UpdateTier(ctx, t); err != nil {
		return nil, err
	}
	e.invalidate(ctx, old.Quarter, old.Year)
	if old.Quarter != t.Quarter || old.Year != t.Year {
		e.invalidate(ctx, t.Quarter, t.Year)
	}
	return e.store.GetTier(ctx, t.ID)
}

// DeleteTier removes a tier. It fails with ErrTierInUse while a processed
// reward references it; pending rewards simply lose the reference.
func (e *Engine) DeleteTier(ctx context.Context, id generic.TierID) error {
	t, err := e.store.GetTier(ctx, id)
	if err != nil {
		return err
	}
	if err := e.store.DeleteTier(ctx, id); err != nil {
		return err
	}
	e.invalidate(ctx, t.Quarter, t.Year)
	return nil
}

func (e *Engine) GetTier(ctx context.Context, id generic.TierID) (*generic.RewardTier, error) {
	return e.store.GetTier(ctx, id)
}

func (e *Engine) ListTiers(ctx context.Context, filter generic.TierFilter) ([]generic.RewardTier, error) {
	return e.store.ListTiers(ctx, filter)
}

// InvalidateTiers drops cached tiers of a quarter. It is a no-op when the
// tier source does not cache.
func (e *Engine) InvalidateTiers(ctx context.Context, quarter, year int) error {
	inv, ok := e.tiers.(TierInvalidator)
	if !ok {
		return nil
	}
	return inv.Invalidate(ctx, quarter, year)
}

// InvalidateAllTiers drops cached tiers of every quarter. Call it after the
// tier table changes outside the engine, such as a database reset.
func (e *Engine) InvalidateAllTiers(ctx context.Context) error {
	f, ok := e.tiers.(TierFlusher)
	if !ok {
		return nil
	}
	return f.InvalidateAll(ctx)
}

func (e *Engine) invalidate(ctx context.Context, quarter, year int) {
	if err := e.InvalidateTiers(ctx, quarter, year); err != nil {
		e.log.Warn("tier cache invalidation failed",
			zap.Int("quarter", quarter), zap.Int("year", year), zap.Error(err))
	}
}
