package db

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"tradinta-forging/internal/models"
)

var tables = []interface{}{
	(*models.Product)(nil),
	(*models.ForgingEvent)(nil),
	(*models.Pledge)(nil),
	(*models.Order)(nil),
}

// CreateSchema builds the tables and indexes from the bun models. Postgres
// deployments use the SQL files under migrations/ instead.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	for _, m := range tables {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}

	indexes := []*bun.CreateIndexQuery{
		db.NewCreateIndex().Model((*models.Pledge)(nil)).
			Index("pledges_event_buyer_uidx").Unique().
			Column("forging_event_id", "buyer_id"),
		db.NewCreateIndex().Model((*models.Pledge)(nil)).
			Index("pledges_buyer_idx").
			Column("buyer_id"),
		db.NewCreateIndex().Model((*models.ForgingEvent)(nil)).
			Index("forging_events_status_end_idx").
			Column("status", "end_time"),
	}
	for _, idx := range indexes {
		if _, err := idx.IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// DropSchema removes all forging tables in reverse dependency order.
func DropSchema(ctx context.Context, db *bun.DB) error {
	for i := len(tables) - 1; i >= 0; i-- {
		if _, err := db.NewDropTable().Model(tables[i]).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("drop table for %T: %w", tables[i], err)
		}
	}
	return nil
}

// SeedProducts inserts a small published catalog for local runs.
func SeedProducts(ctx context.Context, db *bun.DB) error {
	now := time.Now().UTC()
	products := []models.Product{
		{ID: "prod-cement-50kg", SellerID: "seller-001", Name: "Portland Cement 50kg", B2BPrice: decimal.NewFromInt(850), UnitCost: decimal.NewNullDecimal(decimal.NewFromInt(640)), Published: true, UpdatedAt: now},
		{ID: "prod-steel-rebar", SellerID: "seller-001", Name: "Steel Rebar 12mm", B2BPrice: decimal.NewFromInt(1200), Published: true, UpdatedAt: now},
		{ID: "prod-solar-panel", SellerID: "seller-002", Name: "Solar Panel 300W", B2BPrice: decimal.NewFromInt(18500), Published: false, UpdatedAt: now},
	}
	_, err := db.NewInsert().Model(&products).On("CONFLICT (id) DO NOTHING").Exec(ctx)
	return err
}
