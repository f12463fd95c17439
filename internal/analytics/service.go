package analytics

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"tradinta-forging/internal/models"
)

var (
	ErrNotFound  = errors.New("forging event not found")
	ErrForbidden = errors.New("analytics are only visible to the event's seller or partner")
)

// Service handles analytics operations
type Service struct {
	db *bun.DB
}

// NewService creates a new analytics service
func NewService(db *bun.DB) *Service {
	return &Service{db: db}
}

// SellerAnalytics aggregates every forging event a seller has run.
type SellerAnalytics struct {
	SellerID             string               `json:"sellerId"`
	EventsByStatus       map[string]int       `json:"eventsByStatus"`
	TotalPledges         int                  `json:"totalPledges"`
	AverageFinalDiscount float64              `json:"averageFinalDiscount"`
	OrdersCreated        int                  `json:"ordersCreated"`
	TotalRevenue         decimal.Decimal      `json:"totalRevenue"`
	TotalBeforeDiscount  decimal.Decimal      `json:"totalBeforeDiscount"`
	DailyPledges         []DailyPledgeMetrics `json:"dailyPledges"`
}

// EventAnalytics describes a single forging event's funnel.
type EventAnalytics struct {
	EventID             string               `json:"eventId"`
	Status              string               `json:"status"`
	TotalPledges        int                  `json:"totalPledges"`
	OrdersCreated       int                  `json:"ordersCreated"`
	ConversionRate      float64              `json:"conversionRate"`
	TotalRevenue        decimal.Decimal      `json:"totalRevenue"`
	TotalBeforeDiscount decimal.Decimal      `json:"totalBeforeDiscount"`
	DailyPledges        []DailyPledgeMetrics `json:"dailyPledges"`
	TierReach           []TierReachMetrics   `json:"tierReach"`
}

// DailyPledgeMetrics contains pledge counts for a single UTC day
type DailyPledgeMetrics struct {
	Date    string `json:"date"`
	Pledges int    `json:"pledges"`
}

// TierReachMetrics reports how close the event came to each tier.
type TierReachMetrics struct {
	BuyerCount         int     `json:"buyerCount"`
	DiscountPercentage float64 `json:"discountPercentage"`
	Reached            bool    `json:"reached"`
	BuyersShort        int     `json:"buyersShort"`
}

type orderTotals struct {
	Orders  int             `bun:"orders"`
	Revenue decimal.Decimal `bun:"revenue"`
	Gross   decimal.Decimal `bun:"gross"`
}

// GetSellerAnalytics returns totals across all of the seller's forging events
func (s *Service) GetSellerAnalytics(ctx context.Context, sellerID string) (*SellerAnalytics, error) {
	var byStatus []struct {
		Status string `bun:"status"`
		Count  int    `bun:"count"`
	}
	err := s.db.NewRaw(`
		SELECT status, COUNT(*) AS count
		FROM forging_events
		WHERE seller_id = ?
		GROUP BY status`, sellerID).Scan(ctx, &byStatus)
	if err != nil {
		return nil, err
	}

	// AVG is NULL when nothing has finished yet.
	var avgDiscount sql.NullFloat64
	err = s.db.NewRaw(`
		SELECT AVG(final_discount_tier)
		FROM forging_events
		WHERE seller_id = ? AND status = ?`, sellerID, models.ForgingStatusFinished).Scan(ctx, &avgDiscount)
	if err != nil {
		return nil, err
	}

	var pledges []pledgeRow
	err = s.db.NewRaw(`
		SELECT p.pledged_at
		FROM pledges p
		JOIN forging_events fe ON fe.id = p.forging_event_id
		WHERE fe.seller_id = ?`, sellerID).Scan(ctx, &pledges)
	if err != nil {
		return nil, err
	}

	var totals orderTotals
	err = s.db.NewRaw(`
		SELECT
			COUNT(*) AS orders,
			COALESCE(SUM(total_amount), 0) AS revenue,
			COALESCE(SUM(unit_price * quantity), 0) AS gross
		FROM orders
		WHERE seller_id = ?`, sellerID).Scan(ctx, &totals)
	if err != nil {
		return nil, err
	}

	result := &SellerAnalytics{
		SellerID:             sellerID,
		EventsByStatus:       make(map[string]int, len(byStatus)),
		TotalPledges:         len(pledges),
		AverageFinalDiscount: avgDiscount.Float64,
		OrdersCreated:        totals.Orders,
		TotalRevenue:         totals.Revenue,
		TotalBeforeDiscount:  totals.Gross,
		DailyPledges:         dailyPledges(pledges),
	}
	for _, row := range byStatus {
		result.EventsByStatus[row.Status] = row.Count
	}
	return result, nil
}

// GetEventAnalytics returns the pledge and order funnel of one event. Only
// the event's seller or partner may read it.
func (s *Service) GetEventAnalytics(ctx context.Context, callerID, eventID string) (*EventAnalytics, error) {
	var event models.ForgingEvent
	err := s.db.NewSelect().Model(&event).Where("fe.id = ?", eventID).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if callerID != event.SellerID && callerID != event.PartnerID {
		return nil, ErrForbidden
	}

	var pledges []pledgeRow
	err = s.db.NewRaw(`
		SELECT pledged_at
		FROM pledges
		WHERE forging_event_id = ?`, eventID).Scan(ctx, &pledges)
	if err != nil {
		return nil, err
	}

	var totals orderTotals
	err = s.db.NewRaw(`
		SELECT
			COUNT(*) AS orders,
			COALESCE(SUM(total_amount), 0) AS revenue,
			COALESCE(SUM(unit_price * quantity), 0) AS gross
		FROM orders
		WHERE related_forging_event_id = ?`, eventID).Scan(ctx, &totals)
	if err != nil {
		return nil, err
	}

	result := &EventAnalytics{
		EventID:             eventID,
		Status:              string(event.Status),
		TotalPledges:        len(pledges),
		OrdersCreated:       totals.Orders,
		TotalRevenue:        totals.Revenue,
		TotalBeforeDiscount: totals.Gross,
		DailyPledges:        dailyPledges(pledges),
		TierReach:           make([]TierReachMetrics, 0, len(event.Tiers)),
	}
	if len(pledges) > 0 {
		result.ConversionRate = float64(totals.Orders) / float64(len(pledges)) * 100
	}
	for _, tier := range event.Tiers {
		short := tier.BuyerCount - len(pledges)
		if short < 0 {
			short = 0
		}
		result.TierReach = append(result.TierReach, TierReachMetrics{
			BuyerCount:         tier.BuyerCount,
			DiscountPercentage: tier.DiscountPercentage,
			Reached:            short == 0,
			BuyersShort:        short,
		})
	}
	return result, nil
}

type pledgeRow struct {
	PledgedAt time.Time `bun:"pledged_at"`
}

// dailyPledges buckets pledge times by UTC day, oldest first. Bucketing
// happens here rather than in SQL so sqlite and postgres agree on dates.
func dailyPledges(rows []pledgeRow) []DailyPledgeMetrics {
	counts := make(map[string]int)
	for _, row := range rows {
		counts[row.PledgedAt.UTC().Format("2006-01-02")]++
	}
	days := make([]string, 0, len(counts))
	for day := range counts {
		days = append(days, day)
	}
	sort.Strings(days)

	metrics := make([]DailyPledgeMetrics, 0, len(days))
	for _, day := range days {
		metrics = append(metrics, DailyPledgeMetrics{Date: day, Pledges: counts[day]})
	}
	return metrics
}
