package forging

import (
	"fmt"
	"math"
	"sort"

	"tradinta-forging/internal/models"
)

// SortTiers returns a copy of tiers ordered ascending by BuyerCount.
func SortTiers(tiers []models.Tier) []models.Tier {
	sorted := make([]models.Tier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].BuyerCount < sorted[j].BuyerCount
	})
	return sorted
}

// ValidateTiers checks a seller's tier table and returns it sorted.
func ValidateTiers(tiers []models.Tier) ([]models.Tier, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("%w: at least one tier is required", ErrValidation)
	}

	sorted := SortTiers(tiers)
	for i, t := range sorted {
		if t.BuyerCount < 1 {
			return nil, fmt.Errorf("%w: tier buyer count must be at least 1", ErrValidation)
		}
		if math.IsNaN(t.DiscountPercentage) || t.DiscountPercentage <= 0 || t.DiscountPercentage > 100 {
			return nil, fmt.Errorf("%w: tier discount must be between 0 and 100, got %.2f", ErrValidation, t.DiscountPercentage)
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if prev.BuyerCount == t.BuyerCount {
			return nil, fmt.Errorf("%w: duplicate tier for %d buyers", ErrValidation, t.BuyerCount)
		}
		if t.DiscountPercentage < prev.DiscountPercentage {
			return nil, fmt.Errorf("%w: discount for %d buyers is lower than for %d buyers", ErrValidation, t.BuyerCount, prev.BuyerCount)
		}
	}
	return sorted, nil
}

// ResolveDiscount returns the discount of the greatest tier whose threshold
// is met by buyerCount, or 0 when none is.
func ResolveDiscount(tiers []models.Tier, buyerCount int) float64 {
	unlocked := 0.0
	for _, t := range SortTiers(tiers) {
		if t.BuyerCount > buyerCount {
			break
		}
		unlocked = t.DiscountPercentage
	}
	return unlocked
}

// NextTier returns the lowest tier not yet reached, or nil.
func NextTier(tiers []models.Tier, buyerCount int) *models.Tier {
	for _, t := range SortTiers(tiers) {
		if t.BuyerCount > buyerCount {
			next := t
			return &next
		}
	}
	return nil
}

// Progress is buyerCount as a percentage of the next tier's threshold,
// capped at 100. With no next tier it is 100.
func Progress(tiers []models.Tier, buyerCount int) float64 {
	next := NextTier(tiers, buyerCount)
	if next == nil {
		return 100
	}
	if buyerCount <= 0 {
		return 0
	}
	p := float64(buyerCount) / float64(next.BuyerCount) * 100
	return math.Min(p, 100)
}

func Snapshot(tiers []models.Tier, buyerCount int) models.TierSnapshot {
	snap := models.TierSnapshot{
		UnlockedDiscount: ResolveDiscount(tiers, buyerCount),
		NextTier:         NextTier(tiers, buyerCount),
		Progress:         Progress(tiers, buyerCount),
	}
	if snap.NextTier != nil {
		snap.BuyersToNextTier = snap.NextTier.BuyerCount - buyerCount
	}
	return snap
}
