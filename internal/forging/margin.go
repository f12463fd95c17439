package forging

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tradinta-forging/internal/models"
)

var hundred = decimal.NewFromInt(100)

// DiscountedPrice applies a percentage discount and rounds to cents.
func DiscountedPrice(price decimal.Decimal, discountPercentage float64) decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(discountPercentage).Div(hundred))
	return price.Mul(factor).Round(2)
}

// CalculateMargins reports per-tier price, profit and margin for a seller's
// declared unit cost. Margin is a percentage of the discounted price.
func CalculateMargins(unitCost, b2bPrice decimal.Decimal, tiers []models.Tier) (*models.MarginReport, error) {
	if unitCost.IsNegative() {
		return nil, fmt.Errorf("%w: unit cost cannot be negative", ErrValidation)
	}
	if !b2bPrice.IsPositive() {
		return nil, fmt.Errorf("%w: b2b price must be positive", ErrValidation)
	}
	sorted, err := ValidateTiers(tiers)
	if err != nil {
		return nil, err
	}

	report := &models.MarginReport{
		Tiers:    make([]models.TierMargin, 0, len(sorted)),
		CanApply: true,
	}
	for _, t := range sorted {
		discounted := DiscountedPrice(b2bPrice, t.DiscountPercentage)
		profit := discounted.Sub(unitCost)

		margin := decimal.Zero
		if discounted.IsPositive() {
			margin = profit.Div(discounted).Mul(hundred).Round(2)
		}
		if profit.IsNegative() {
			report.CanApply = false
		}

		report.Tiers = append(report.Tiers, models.TierMargin{
			Tier:            t,
			DiscountedPrice: discounted,
			Profit:          profit,
			Margin:          margin,
		})
	}
	return report, nil
}
