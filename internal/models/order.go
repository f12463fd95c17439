package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

const OrderStatusPendingPayment = "Pending Payment"

// Order is created from a finished forging event and the buyer's pledge.
// Prices are a snapshot taken at checkout.
type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID                    string          `bun:"id,pk" json:"id"`
	BuyerID               string          `bun:"buyer_id,notnull" json:"buyerId"`
	SellerID              string          `bun:"seller_id,notnull" json:"sellerId"`
	ProductID             string          `bun:"product_id,notnull" json:"productId"`
	Quantity              int             `bun:"quantity,notnull" json:"quantity"`
	UnitPrice             decimal.Decimal `bun:"unit_price,type:decimal(12,2),notnull" json:"unitPrice"`
	DiscountPercentage    float64         `bun:"discount_percentage,notnull" json:"discountPercentage"`
	TotalAmount           decimal.Decimal `bun:"total_amount,type:decimal(12,2),notnull" json:"totalAmount"`
	Status                string          `bun:"status,notnull" json:"status"`
	RelatedForgingEventID string          `bun:"related_forging_event_id,notnull" json:"relatedForgingEventId"`
	CreatedAt             time.Time       `bun:"created_at,notnull" json:"createdAt"`
}

type CheckoutResponse struct {
	OrderID     string          `json:"orderId"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Created     bool            `json:"created"`
}
