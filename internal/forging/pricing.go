package forging

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"tradinta-forging/internal/models"
)

// ApplyPrice re-checks margins for the new price and, if no tier would sell
// below cost, overwrites the product's B2B price and unit cost.
func (s *ForgingService) ApplyPrice(ctx context.Context, sellerID, productID string, req models.ApplyPriceRequest) (*models.MarginReport, error) {
	report, err := CalculateMargins(req.UnitCost, req.B2BPrice, req.Tiers)
	if err != nil {
		return nil, err
	}
	if !report.CanApply {
		return report, fmt.Errorf("%w: at least one tier would sell below unit cost", ErrValidation)
	}

	product, err := s.DB.GetProduct(ctx, productID)
	if err != nil {
		return nil, s.storeErr(err, "product "+productID)
	}
	if product.SellerID != sellerID {
		return nil, fmt.Errorf("%w: product %s belongs to another seller", ErrNotAuthorized, productID)
	}

	if err := s.DB.UpdateProductPrice(ctx, productID, req.B2BPrice, decimal.NewNullDecimal(req.UnitCost), s.now()); err != nil {
		return nil, s.storeErr(err, "update product price")
	}
	s.Log.Info("PRICING", fmt.Sprintf("Seller %s set %s price to %s", sellerID, productID, req.B2BPrice.StringFixed(2)))
	return report, nil
}
