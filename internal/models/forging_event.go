package models

import (
	"time"

	"github.com/uptrace/bun"
)

type ForgingEventStatus string

const (
	ForgingStatusProposed ForgingEventStatus = "proposed"
	ForgingStatusActive   ForgingEventStatus = "active"
	ForgingStatusFinished ForgingEventStatus = "finished"
	ForgingStatusDeclined ForgingEventStatus = "declined"
)

// Tier unlocks DiscountPercentage once BuyerCount buyers have pledged.
type Tier struct {
	BuyerCount         int     `json:"buyerCount"`
	DiscountPercentage float64 `json:"discountPercentage"`
}

// ForgingEvent is a time-boxed group-buying campaign on a single product.
// Tiers are kept sorted ascending by BuyerCount.
type ForgingEvent struct {
	bun.BaseModel `bun:"table:forging_events,alias:fe"`

	ID                string             `bun:"id,pk" json:"id"`
	ProductID         string             `bun:"product_id,notnull" json:"productId"`
	ProductName       string             `bun:"product_name,notnull" json:"productName"`
	ProductImageURL   string             `bun:"product_image_url,nullzero" json:"productImageUrl,omitempty"`
	SellerID          string             `bun:"seller_id,notnull" json:"sellerId"`
	SellerName        string             `bun:"seller_name,nullzero" json:"sellerName,omitempty"`
	PartnerID         string             `bun:"partner_id,nullzero" json:"partnerId,omitempty"`
	PartnerName       string             `bun:"partner_name,nullzero" json:"partnerName,omitempty"`
	CommissionRate    float64            `bun:"commission_rate,notnull" json:"commissionRate"`
	Tiers             []Tier             `bun:"tiers,type:jsonb,notnull" json:"tiers"`
	CurrentBuyerCount int                `bun:"current_buyer_count,notnull" json:"currentBuyerCount"`
	Status            ForgingEventStatus `bun:"status,notnull" json:"status"`
	DurationHours     int                `bun:"duration_hours,notnull" json:"durationHours"`
	StartTime         *time.Time         `bun:"start_time" json:"startTime"`
	EndTime           time.Time          `bun:"end_time,notnull" json:"endTime"`
	FinalDiscountTier *float64           `bun:"final_discount_tier" json:"finalDiscountTier"`
	CreatedAt         time.Time          `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt         time.Time          `bun:"updated_at,notnull" json:"updatedAt"`
}

// HasPartner reports whether a growth partner was assigned at creation.
func (e *ForgingEvent) HasPartner() bool {
	return e.PartnerID != ""
}

// Expired reports whether the pledge window has closed at now.
func (e *ForgingEvent) Expired(now time.Time) bool {
	return !now.Before(e.EndTime)
}

// DueCursor marks the last event a resolver sweep has visited. The zero
// value starts from the oldest due event.
type DueCursor struct {
	EndTime time.Time
	ID      string
}

// ProposeEventRequest is the seller's input for a new forging event.
type ProposeEventRequest struct {
	ProductID      string  `json:"productId"`
	Tiers          []Tier  `json:"tiers"`
	DurationHours  int     `json:"durationHours"`
	PartnerID      string  `json:"partnerId,omitempty"`
	PartnerName    string  `json:"partnerName,omitempty"`
	CommissionRate float64 `json:"commissionRate"`
	SellerName     string  `json:"sellerName,omitempty"`
}

// TierSnapshot is the progress view rendered next to an event.
type TierSnapshot struct {
	UnlockedDiscount float64 `json:"unlockedDiscount"`
	NextTier         *Tier   `json:"nextTier,omitempty"`
	BuyersToNextTier int     `json:"buyersToNextTier"`
	Progress         float64 `json:"progress"`
}

type ForgingEventView struct {
	ForgingEvent
	Snapshot TierSnapshot `json:"snapshot"`
}

// EventFilter narrows event listings; empty fields are ignored.
type EventFilter struct {
	SellerID  string
	PartnerID string
	Status    ForgingEventStatus
	Limit     int
}
