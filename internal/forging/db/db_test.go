package db_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"tradinta-forging/internal/forging/db"
	"tradinta-forging/internal/models"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) (*db.DB, *bun.DB) {
	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	ctx := context.Background()
	require.NoError(t, db.DropSchema(ctx, bunDB))
	require.NoError(t, db.CreateSchema(ctx, bunDB))

	return &db.DB{Bun: bunDB}, bunDB
}

func newEvent(status models.ForgingEventStatus, endTime time.Time) *models.ForgingEvent {
	return &models.ForgingEvent{
		ID:            uuid.NewString(),
		ProductID:     "prod-1",
		ProductName:   "Cement",
		SellerID:      "seller-1",
		Tiers:         []models.Tier{{BuyerCount: 2, DiscountPercentage: 5}, {BuyerCount: 3, DiscountPercentage: 15}},
		Status:        status,
		DurationHours: 24,
		EndTime:       endTime,
		CreatedAt:     base,
		UpdatedAt:     base,
	}
}

func TestProductPriceUpdate(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()

	product := &models.Product{ID: "prod-1", SellerID: "seller-1", Name: "Cement", B2BPrice: decimal.NewFromInt(150), Published: true, UpdatedAt: base}
	require.NoError(t, store.CreateProduct(ctx, product))

	err := store.UpdateProductPrice(ctx, "prod-1", decimal.RequireFromString("162.50"), decimal.NewNullDecimal(decimal.NewFromInt(120)), base.Add(time.Hour))
	require.NoError(t, err)

	got, err := store.GetProduct(ctx, "prod-1")
	require.NoError(t, err)
	assert.True(t, got.B2BPrice.Equal(decimal.RequireFromString("162.5")), "got %s", got.B2BPrice)
	assert.True(t, got.UnitCost.Valid)
	assert.True(t, got.UnitCost.Decimal.Equal(decimal.NewFromInt(120)))

	err = store.UpdateProductPrice(ctx, "missing", decimal.NewFromInt(1), decimal.NullDecimal{}, base)
	assert.ErrorIs(t, err, db.ErrNotFound)

	_, err = store.GetProduct(ctx, "missing")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestCreateAndGetEvent(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()

	event := newEvent(models.ForgingStatusProposed, base.Add(24*time.Hour))
	event.PartnerID = "partner-1"
	require.NoError(t, store.CreateEvent(ctx, event))

	got, err := store.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ForgingStatusProposed, got.Status)
	assert.Equal(t, "partner-1", got.PartnerID)
	assert.Equal(t, event.Tiers, got.Tiers)
	assert.Nil(t, got.StartTime)
	assert.Nil(t, got.FinalDiscountTier)
	assert.True(t, event.EndTime.Equal(got.EndTime))

	_, err = store.GetEvent(ctx, "nope")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestTransitionStatus_CompareAndSwap(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()

	event := newEvent(models.ForgingStatusProposed, base.Add(24*time.Hour))
	require.NoError(t, store.CreateEvent(ctx, event))

	start := base.Add(time.Minute)
	err := store.TransitionStatus(ctx, event.ID, models.ForgingStatusProposed, models.ForgingStatusActive, &start, start)
	require.NoError(t, err)

	// The second responder loses.
	err = store.TransitionStatus(ctx, event.ID, models.ForgingStatusProposed, models.ForgingStatusDeclined, nil, start)
	assert.ErrorIs(t, err, db.ErrConflict)

	got, err := store.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ForgingStatusActive, got.Status)
	require.NotNil(t, got.StartTime)
	assert.True(t, start.Equal(*got.StartTime))
}

func TestCreatePledge_IncrementsAndRejectsDuplicates(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()

	event := newEvent(models.ForgingStatusActive, base.Add(24*time.Hour))
	require.NoError(t, store.CreateEvent(ctx, event))

	count, err := store.CreatePledge(ctx, &models.Pledge{ID: uuid.NewString(), ForgingEventID: event.ID, BuyerID: "buyer-1", PledgedAt: base})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = store.CreatePledge(ctx, &models.Pledge{ID: uuid.NewString(), ForgingEventID: event.ID, BuyerID: "buyer-1", PledgedAt: base})
	assert.ErrorIs(t, err, db.ErrDuplicate)

	count, err = store.CreatePledge(ctx, &models.Pledge{ID: uuid.NewString(), ForgingEventID: event.ID, BuyerID: "buyer-2", PledgedAt: base})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	n, err := store.CountPledges(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pledge, err := store.GetPledge(ctx, event.ID, "buyer-2")
	require.NoError(t, err)
	assert.Equal(t, "buyer-2", pledge.BuyerID)

	_, err = store.GetPledge(ctx, event.ID, "buyer-9")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestCreatePledge_RejectedWhenClosed(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()

	expired := newEvent(models.ForgingStatusActive, base)
	require.NoError(t, store.CreateEvent(ctx, expired))
	_, err := store.CreatePledge(ctx, &models.Pledge{ID: uuid.NewString(), ForgingEventID: expired.ID, BuyerID: "buyer-1", PledgedAt: base.Add(time.Second)})
	assert.ErrorIs(t, err, db.ErrConflict)

	proposed := newEvent(models.ForgingStatusProposed, base.Add(time.Hour))
	require.NoError(t, store.CreateEvent(ctx, proposed))
	_, err = store.CreatePledge(ctx, &models.Pledge{ID: uuid.NewString(), ForgingEventID: proposed.ID, BuyerID: "buyer-1", PledgedAt: base})
	assert.ErrorIs(t, err, db.ErrConflict)

	for _, id := range []string{expired.ID, proposed.ID} {
		n, err := store.CountPledges(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, n, "rejected pledge must not be written")

		got, err := store.GetEvent(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, got.CurrentBuyerCount)
	}
}

func TestCreatePledge_ConcurrentBuyersAreAllCounted(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()

	event := newEvent(models.ForgingStatusActive, base.Add(24*time.Hour))
	require.NoError(t, store.CreateEvent(ctx, event))

	const buyers = 20
	var wg sync.WaitGroup
	errs := make(chan error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := store.CreatePledge(ctx, &models.Pledge{ID: uuid.NewString(), ForgingEventID: event.ID, BuyerID: fmt.Sprintf("buyer-%d", n), PledgedAt: base})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := store.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, buyers, got.CurrentBuyerCount)
}

func TestFinishEvent_FreezesDiscountOnce(t *testing.T) {
	store, bunDB := setupTestDB(t)
	ctx := context.Background()

	event := newEvent(models.ForgingStatusActive, base.Add(time.Hour))
	require.NoError(t, store.CreateEvent(ctx, event))
	for _, buyer := range []string{"b1", "b2", "b3"} {
		_, err := store.CreatePledge(ctx, &models.Pledge{ID: uuid.NewString(), ForgingEventID: event.ID, BuyerID: buyer, PledgedAt: base})
		require.NoError(t, err)
	}

	// Drift the denormalized counter; finishing must trust the pledge rows.
	_, err := bunDB.NewUpdate().Model((*models.ForgingEvent)(nil)).
		Set("current_buyer_count = ?", 1).Where("id = ?", event.ID).Exec(ctx)
	require.NoError(t, err)

	var seen int
	finished, err := store.FinishEvent(ctx, event.ID, base.Add(2*time.Hour), func(n int) float64 {
		seen = n
		return 15
	})
	require.NoError(t, err)
	assert.Equal(t, 3, seen)
	assert.Equal(t, models.ForgingStatusFinished, finished.Status)
	require.NotNil(t, finished.FinalDiscountTier)
	assert.Equal(t, 15.0, *finished.FinalDiscountTier)

	_, err = store.FinishEvent(ctx, event.ID, base.Add(3*time.Hour), func(int) float64 { return 99 })
	assert.ErrorIs(t, err, db.ErrConflict)

	got, err := store.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentBuyerCount)
	require.NotNil(t, got.FinalDiscountTier)
	assert.Equal(t, 15.0, *got.FinalDiscountTier)
}

func TestListDueAndFilteredEvents(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()

	due := newEvent(models.ForgingStatusActive, base.Add(-time.Minute))
	running := newEvent(models.ForgingStatusActive, base.Add(time.Hour))
	proposed := newEvent(models.ForgingStatusProposed, base.Add(-time.Hour))
	proposed.SellerID = "seller-2"
	proposed.PartnerID = "partner-7"
	for _, e := range []*models.ForgingEvent{due, running, proposed} {
		require.NoError(t, store.CreateEvent(ctx, e))
	}

	events, err := store.ListDueEvents(ctx, base, models.DueCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, due.ID, events[0].ID)

	events, err = store.ListEvents(ctx, models.EventFilter{SellerID: "seller-1"})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = store.ListEvents(ctx, models.EventFilter{PartnerID: "partner-7"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, proposed.ID, events[0].ID)

	events, err = store.ListEvents(ctx, models.EventFilter{Status: models.ForgingStatusActive, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestListDueEvents_PagesByCursor(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()

	sameEnd := base.Add(-time.Hour)
	ids := []string{"evt-1", "evt-2", "evt-3"}
	for _, id := range ids {
		e := newEvent(models.ForgingStatusActive, sameEnd)
		e.ID = id
		require.NoError(t, store.CreateEvent(ctx, e))
	}
	older := newEvent(models.ForgingStatusActive, base.Add(-2*time.Hour))
	older.ID = "evt-9"
	require.NoError(t, store.CreateEvent(ctx, older))

	page, err := store.ListDueEvents(ctx, base, models.DueCursor{}, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "evt-9", page[0].ID, "oldest end time first")
	assert.Equal(t, "evt-1", page[1].ID, "ties broken by id")

	last := page[1]
	page, err = store.ListDueEvents(ctx, base, models.DueCursor{EndTime: last.EndTime, ID: last.ID}, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "evt-2", page[0].ID)
	assert.Equal(t, "evt-3", page[1].ID)

	last = page[1]
	page, err = store.ListDueEvents(ctx, base, models.DueCursor{EndTime: last.EndTime, ID: last.ID}, 2)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestListPledgesByBuyer(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()

	first := newEvent(models.ForgingStatusActive, base.Add(time.Hour))
	second := newEvent(models.ForgingStatusActive, base.Add(time.Hour))
	require.NoError(t, store.CreateEvent(ctx, first))
	require.NoError(t, store.CreateEvent(ctx, second))

	_, err := store.CreatePledge(ctx, &models.Pledge{ID: uuid.NewString(), ForgingEventID: first.ID, BuyerID: "buyer-1", PledgedAt: base})
	require.NoError(t, err)
	_, err = store.CreatePledge(ctx, &models.Pledge{ID: uuid.NewString(), ForgingEventID: second.ID, BuyerID: "buyer-1", PledgedAt: base.Add(time.Minute)})
	require.NoError(t, err)

	pledges, err := store.ListPledgesByBuyer(ctx, "buyer-1")
	require.NoError(t, err)
	require.Len(t, pledges, 2)
	assert.Equal(t, second.ID, pledges[0].ForgingEventID)
	require.NotNil(t, pledges[0].Event)
	assert.Equal(t, second.ID, pledges[0].Event.ID)

	pledges, err = store.ListPledgesByBuyer(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, pledges)
}

func TestCreateOrderIfAbsent_IsIdempotent(t *testing.T) {
	store, _ := setupTestDB(t)
	ctx := context.Background()

	order := &models.Order{
		ID:                    "order-fixed",
		BuyerID:               "buyer-1",
		SellerID:              "seller-1",
		ProductID:             "prod-1",
		Quantity:              1,
		UnitPrice:             decimal.NewFromInt(150),
		DiscountPercentage:    15,
		TotalAmount:           decimal.RequireFromString("127.50"),
		Status:                models.OrderStatusPendingPayment,
		RelatedForgingEventID: "evt-1",
		CreatedAt:             base,
	}
	created, err := store.CreateOrderIfAbsent(ctx, order)
	require.NoError(t, err)
	assert.True(t, created)

	dup := *order
	dup.TotalAmount = decimal.NewFromInt(1)
	created, err = store.CreateOrderIfAbsent(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := store.GetOrder(ctx, "order-fixed")
	require.NoError(t, err)
	assert.True(t, got.TotalAmount.Equal(decimal.RequireFromString("127.5")), "first write wins, got %s", got.TotalAmount)
	assert.Equal(t, models.OrderStatusPendingPayment, got.Status)
}
