package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"tradinta-forging/internal/models"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
	// ErrConflict means a guarded update matched no row because the
	// document was no longer in the expected state.
	ErrConflict = errors.New("state conflict")
)

type DB struct {
	Bun *bun.DB
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// ---------------- PRODUCTS ----------------

func (d *DB) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	err := d.Bun.NewSelect().
		Model(&product).
		Where("pr.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &product, nil
}

func (d *DB) CreateProduct(ctx context.Context, product *models.Product) error {
	_, err := d.Bun.NewInsert().Model(product).Exec(ctx)
	return err
}

// UpdateProductPrice overwrites the base B2B price and declared unit cost.
func (d *DB) UpdateProductPrice(ctx context.Context, productID string, price decimal.Decimal, unitCost decimal.NullDecimal, at time.Time) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.Product)(nil)).
		Set("b2b_price = ?", price).
		Set("unit_cost = ?", unitCost).
		Set("updated_at = ?", at).
		Where("id = ?", productID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// ---------------- FORGING EVENTS ----------------

func (d *DB) CreateEvent(ctx context.Context, event *models.ForgingEvent) error {
	_, err := d.Bun.NewInsert().Model(event).Exec(ctx)
	return err
}

func (d *DB) GetEvent(ctx context.Context, id string) (*models.ForgingEvent, error) {
	var event models.ForgingEvent
	err := d.Bun.NewSelect().
		Model(&event).
		Where("fe.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &event, nil
}

// ListEvents returns events newest first.
func (d *DB) ListEvents(ctx context.Context, filter models.EventFilter) ([]models.ForgingEvent, error) {
	events := []models.ForgingEvent{}
	q := d.Bun.NewSelect().Model(&events).Order("fe.created_at DESC")
	if filter.SellerID != "" {
		q = q.Where("fe.seller_id = ?", filter.SellerID)
	}
	if filter.PartnerID != "" {
		q = q.Where("fe.partner_id = ?", filter.PartnerID)
	}
	if filter.Status != "" {
		q = q.Where("fe.status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return events, nil
}

// ListDueEvents returns active events whose window closed at or before now,
// ordered by (end_time, id) and starting after the cursor.
func (d *DB) ListDueEvents(ctx context.Context, now time.Time, after models.DueCursor, limit int) ([]models.ForgingEvent, error) {
	events := []models.ForgingEvent{}
	q := d.Bun.NewSelect().
		Model(&events).
		Where("fe.status = ?", models.ForgingStatusActive).
		Where("fe.end_time <= ?", now).
		Order("fe.end_time ASC", "fe.id ASC")
	if after.ID != "" {
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("fe.end_time > ?", after.EndTime).
				WhereOr("fe.end_time = ? AND fe.id > ?", after.EndTime, after.ID)
		})
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return events, nil
}

// TransitionStatus moves an event from one status to another only if it is
// still in from. It returns ErrConflict when another writer got there first.
func (d *DB) TransitionStatus(ctx context.Context, id string, from, to models.ForgingEventStatus, startTime *time.Time, at time.Time) error {
	q := d.Bun.NewUpdate().
		Model((*models.ForgingEvent)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Where("status = ?", from)
	if startTime != nil {
		q = q.Set("start_time = ?", *startTime)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}
	return expectOneOr(res, ErrConflict)
}

// FinishEvent recounts pledges, lets resolve pick the final discount for
// that count, and flips active to finished in one transaction. On Postgres
// the event row is locked first, so a pledge either commits before the
// recount or finds the event finished. The returned event reflects the
// committed row.
func (d *DB) FinishEvent(ctx context.Context, id string, at time.Time, resolve func(buyerCount int) float64) (*models.ForgingEvent, error) {
	var finished *models.ForgingEvent
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var event models.ForgingEvent
		q := tx.NewSelect().Model(&event).Where("fe.id = ?", id).Limit(1)
		if tx.Dialect().Name() == dialect.PG {
			q = q.For("UPDATE")
		}
		if err := q.Scan(ctx); err != nil {
			return notFound(err)
		}
		if event.Status != models.ForgingStatusActive {
			return ErrConflict
		}

		count, err := tx.NewSelect().
			Model((*models.Pledge)(nil)).
			Where("p.forging_event_id = ?", id).
			Count(ctx)
		if err != nil {
			return fmt.Errorf("count pledges: %w", err)
		}

		discount := resolve(count)
		res, err := tx.NewUpdate().
			Model((*models.ForgingEvent)(nil)).
			Set("status = ?", models.ForgingStatusFinished).
			Set("current_buyer_count = ?", count).
			Set("final_discount_tier = ?", discount).
			Set("updated_at = ?", at).
			Where("id = ?", id).
			Where("status = ?", models.ForgingStatusActive).
			Exec(ctx)
		if err != nil {
			return err
		}
		if err := expectOneOr(res, ErrConflict); err != nil {
			return err
		}

		event.Status = models.ForgingStatusFinished
		event.CurrentBuyerCount = count
		event.FinalDiscountTier = &discount
		event.UpdatedAt = at
		finished = &event
		return nil
	})
	if err != nil {
		return nil, err
	}
	return finished, nil
}

// ---------------- PLEDGES ----------------

// CreatePledge inserts the pledge and bumps the event's buyer count in one
// transaction. The increment only applies while the event is active and
// before its end time, so a late pledge returns ErrConflict and nothing is
// written.
func (d *DB) CreatePledge(ctx context.Context, pledge *models.Pledge) (int, error) {
	var count int
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*models.Pledge)(nil)).
			Where("p.forging_event_id = ?", pledge.ForgingEventID).
			Where("p.buyer_id = ?", pledge.BuyerID).
			Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicate
		}

		res, err := tx.NewUpdate().
			Model((*models.ForgingEvent)(nil)).
			Set("current_buyer_count = current_buyer_count + 1").
			Set("updated_at = ?", pledge.PledgedAt).
			Where("id = ?", pledge.ForgingEventID).
			Where("status = ?", models.ForgingStatusActive).
			Where("end_time > ?", pledge.PledgedAt).
			Exec(ctx)
		if err != nil {
			return err
		}
		if err := expectOneOr(res, ErrConflict); err != nil {
			return err
		}

		if _, err := tx.NewInsert().Model(pledge).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("insert pledge: %w", err)
		}

		return tx.NewSelect().
			Model((*models.ForgingEvent)(nil)).
			Column("current_buyer_count").
			Where("id = ?", pledge.ForgingEventID).
			Scan(ctx, &count)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (d *DB) GetPledge(ctx context.Context, eventID, buyerID string) (*models.Pledge, error) {
	var pledge models.Pledge
	err := d.Bun.NewSelect().
		Model(&pledge).
		Where("p.forging_event_id = ?", eventID).
		Where("p.buyer_id = ?", buyerID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &pledge, nil
}

func (d *DB) CountPledges(ctx context.Context, eventID string) (int, error) {
	return d.Bun.NewSelect().
		Model((*models.Pledge)(nil)).
		Where("p.forging_event_id = ?", eventID).
		Count(ctx)
}

// ListPledgesByBuyer returns the buyer's pledges, newest first, each with
// its event attached.
func (d *DB) ListPledgesByBuyer(ctx context.Context, buyerID string) ([]models.PledgeWithEvent, error) {
	var pledges []models.Pledge
	err := d.Bun.NewSelect().
		Model(&pledges).
		Where("p.buyer_id = ?", buyerID).
		Order("p.pledged_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	if len(pledges) == 0 {
		return []models.PledgeWithEvent{}, nil
	}

	eventIDs := make([]string, len(pledges))
	for i, p := range pledges {
		eventIDs[i] = p.ForgingEventID
	}

	var events []models.ForgingEvent
	err = d.Bun.NewSelect().
		Model(&events).
		Where("fe.id IN (?)", bun.In(eventIDs)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*models.ForgingEvent, len(events))
	for i := range events {
		byID[events[i].ID] = &events[i]
	}

	result := make([]models.PledgeWithEvent, len(pledges))
	for i, p := range pledges {
		result[i] = models.PledgeWithEvent{Pledge: p, Event: byID[p.ForgingEventID]}
	}
	return result, nil
}

// ---------------- ORDERS ----------------

// CreateOrderIfAbsent inserts the order unless one with the same id exists.
// It reports whether a new row was written.
func (d *DB) CreateOrderIfAbsent(ctx context.Context, order *models.Order) (bool, error) {
	res, err := d.Bun.NewInsert().
		Model(order).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (d *DB) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("o.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

// isUniqueViolation recognises a unique index failure from either driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func expectOne(res sql.Result) error {
	return expectOneOr(res, ErrNotFound)
}

func expectOneOr(res sql.Result, otherwise error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return otherwise
	}
	return nil
}
