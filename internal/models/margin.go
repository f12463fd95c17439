package models

import "github.com/shopspring/decimal"

type MarginRequest struct {
	UnitCost decimal.Decimal `json:"unitCost"`
	B2BPrice decimal.Decimal `json:"b2bPrice"`
	Tiers    []Tier          `json:"tiers"`
}

type TierMargin struct {
	Tier            Tier            `json:"tier"`
	DiscountedPrice decimal.Decimal `json:"discountedPrice"`
	Profit          decimal.Decimal `json:"profit"`
	Margin          decimal.Decimal `json:"margin"`
}

// MarginReport is the per-tier profitability check shown to sellers.
// CanApply is false when any tier sells below unit cost.
type MarginReport struct {
	Tiers    []TierMargin `json:"tiers"`
	CanApply bool         `json:"canApply"`
}

type ApplyPriceRequest struct {
	UnitCost decimal.Decimal `json:"unitCost"`
	B2BPrice decimal.Decimal `json:"b2bPrice"`
	Tiers    []Tier          `json:"tiers"`
}
