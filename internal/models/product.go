package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Product is the slice of the catalog the forging flow reads and writes.
type Product struct {
	bun.BaseModel `bun:"table:products,alias:pr"`

	ID        string              `bun:"id,pk" json:"id"`
	SellerID  string              `bun:"seller_id,notnull" json:"sellerId"`
	Name      string              `bun:"name,notnull" json:"name"`
	ImageURL  string              `bun:"image_url,nullzero" json:"imageUrl,omitempty"`
	B2BPrice  decimal.Decimal     `bun:"b2b_price,type:decimal(12,2),notnull" json:"b2bPrice"`
	UnitCost  decimal.NullDecimal `bun:"unit_cost,type:decimal(12,2)" json:"unitCost"`
	Published bool                `bun:"published,notnull" json:"published"`
	UpdatedAt time.Time           `bun:"updated_at,notnull" json:"updatedAt"`
}
