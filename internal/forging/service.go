package forging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradinta-forging/internal/forging/db"
	"tradinta-forging/internal/logger"
	"tradinta-forging/internal/models"
	"tradinta-forging/internal/utils"
)

type DBLayer interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	UpdateProductPrice(ctx context.Context, productID string, price decimal.Decimal, unitCost decimal.NullDecimal, at time.Time) error

	CreateEvent(ctx context.Context, event *models.ForgingEvent) error
	GetEvent(ctx context.Context, id string) (*models.ForgingEvent, error)
	ListEvents(ctx context.Context, filter models.EventFilter) ([]models.ForgingEvent, error)
	ListDueEvents(ctx context.Context, now time.Time, after models.DueCursor, limit int) ([]models.ForgingEvent, error)
	TransitionStatus(ctx context.Context, id string, from, to models.ForgingEventStatus, startTime *time.Time, at time.Time) error
	FinishEvent(ctx context.Context, id string, at time.Time, resolve func(buyerCount int) float64) (*models.ForgingEvent, error)

	CreatePledge(ctx context.Context, pledge *models.Pledge) (int, error)
	GetPledge(ctx context.Context, eventID, buyerID string) (*models.Pledge, error)
	ListPledgesByBuyer(ctx context.Context, buyerID string) ([]models.PledgeWithEvent, error)

	CreateOrderIfAbsent(ctx context.Context, order *models.Order) (bool, error)
	GetOrder(ctx context.Context, id string) (*models.Order, error)
}

type PledgeLock interface {
	LockPledge(ctx context.Context, eventID, buyerID, token string) (bool, error)
	UnlockPledge(ctx context.Context, eventID, buyerID, token string) error
}

type Notifier interface {
	Notify(ctx context.Context, n models.ForgingNotification) error
}

type ProgressEmitter interface {
	Emit(update models.ProgressUpdate)
}

type ForgingService struct {
	DB       DBLayer
	Lock     PledgeLock
	Notifier Notifier
	Progress ProgressEmitter
	Log      *logger.Logger
	Now      func() time.Time
}

func NewForgingService(store DBLayer, lock PledgeLock, notifier Notifier, progress ProgressEmitter, log *logger.Logger) *ForgingService {
	return &ForgingService{
		DB:       store,
		Lock:     lock,
		Notifier: notifier,
		Progress: progress,
		Log:      log,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *ForgingService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// ---------------- PROPOSAL WORKFLOW ----------------

// ProposeEvent creates a forging event for one of the seller's published
// products. Without a partner it goes live immediately; with one it waits
// for the partner's answer. The end time is fixed here either way.
func (s *ForgingService) ProposeEvent(ctx context.Context, sellerID string, req models.ProposeEventRequest) (*models.ForgingEvent, error) {
	tiers, err := ValidateTiers(req.Tiers)
	if err != nil {
		return nil, err
	}
	if req.DurationHours <= 0 {
		return nil, fmt.Errorf("%w: duration must be a positive number of hours", ErrValidation)
	}
	if req.CommissionRate < 0 || req.CommissionRate > 100 {
		return nil, fmt.Errorf("%w: commission rate must be between 0 and 100", ErrValidation)
	}
	if req.PartnerID != "" && req.PartnerID == sellerID {
		return nil, fmt.Errorf("%w: a seller cannot be their own growth partner", ErrValidation)
	}

	product, err := s.DB.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, s.storeErr(err, "product "+req.ProductID)
	}
	if product.SellerID != sellerID {
		return nil, fmt.Errorf("%w: product %s belongs to another seller", ErrNotAuthorized, product.ID)
	}
	if !product.Published {
		return nil, fmt.Errorf("%w: product %s is not published", ErrValidation, product.ID)
	}

	now := s.now()
	event := &models.ForgingEvent{
		ID:              utils.GenerateUUID(),
		ProductID:       product.ID,
		ProductName:     product.Name,
		ProductImageURL: product.ImageURL,
		SellerID:        sellerID,
		SellerName:      req.SellerName,
		PartnerID:       req.PartnerID,
		PartnerName:     req.PartnerName,
		CommissionRate:  req.CommissionRate,
		Tiers:           tiers,
		DurationHours:   req.DurationHours,
		EndTime:         now.Add(time.Duration(req.DurationHours) * time.Hour),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if event.HasPartner() {
		event.Status = models.ForgingStatusProposed
	} else {
		event.Status = models.ForgingStatusActive
		event.StartTime = &now
	}

	if err := s.DB.CreateEvent(ctx, event); err != nil {
		return nil, s.storeErr(err, "create forging event")
	}
	s.Log.LogForging("PROPOSED", event.ID, fmt.Sprintf("seller=%s product=%s status=%s tiers=%d", sellerID, product.ID, event.Status, len(tiers)))

	if event.HasPartner() {
		s.notify(ctx, event, models.NotificationProposed, event.PartnerID, sellerID)
	}
	return event, nil
}

// RespondToProposal records the named partner's answer. Only the first
// answer counts; a late or repeated answer gets ErrEventNotProposed.
func (s *ForgingService) RespondToProposal(ctx context.Context, partnerID, eventID string, accept bool) (*models.ForgingEvent, error) {
	event, err := s.DB.GetEvent(ctx, eventID)
	if err != nil {
		return nil, s.storeErr(err, "forging event "+eventID)
	}
	if !event.HasPartner() || event.PartnerID != partnerID {
		return nil, fmt.Errorf("%w: only the named partner can respond to this proposal", ErrNotAuthorized)
	}
	if event.Status != models.ForgingStatusProposed {
		return nil, fmt.Errorf("%w: status is %s", ErrEventNotProposed, event.Status)
	}

	now := s.now()
	if accept && event.Expired(now) {
		return nil, ErrEventExpired
	}

	to := models.ForgingStatusDeclined
	var start *time.Time
	if accept {
		to = models.ForgingStatusActive
		start = &now
	}

	if err := s.DB.TransitionStatus(ctx, eventID, models.ForgingStatusProposed, to, start, now); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return nil, fmt.Errorf("%w: proposal was already answered", ErrEventNotProposed)
		}
		return nil, s.storeErr(err, "respond to proposal")
	}
	event.Status = to
	event.StartTime = start
	event.UpdatedAt = now

	s.Log.LogForging("RESPONDED", eventID, fmt.Sprintf("partner=%s status=%s", partnerID, to))

	kind := models.NotificationDeclined
	if accept {
		kind = models.NotificationAccepted
		s.emit(event)
	}
	s.notify(ctx, event, kind, event.SellerID, partnerID)
	return event, nil
}

// ---------------- QUERIES ----------------

// GetEvent returns the event with its tier snapshot. An active event read
// after its end time is resolved first.
func (s *ForgingService) GetEvent(ctx context.Context, eventID string) (*models.ForgingEventView, error) {
	event, err := s.DB.GetEvent(ctx, eventID)
	if err != nil {
		return nil, s.storeErr(err, "forging event "+eventID)
	}
	if event.Status == models.ForgingStatusActive && event.Expired(s.now()) {
		if event, err = s.finish(ctx, event); err != nil {
			return nil, err
		}
	}
	view := NewView(*event)
	return &view, nil
}

func (s *ForgingService) ListEvents(ctx context.Context, filter models.EventFilter) ([]models.ForgingEventView, error) {
	events, err := s.DB.ListEvents(ctx, filter)
	if err != nil {
		return nil, s.storeErr(err, "list forging events")
	}
	views := make([]models.ForgingEventView, len(events))
	for i, e := range events {
		views[i] = NewView(e)
	}
	return views, nil
}

func (s *ForgingService) ListEventsBySeller(ctx context.Context, sellerID string) ([]models.ForgingEventView, error) {
	return s.ListEvents(ctx, models.EventFilter{SellerID: sellerID})
}

func (s *ForgingService) ListEventsForPartner(ctx context.Context, partnerID string) ([]models.ForgingEventView, error) {
	return s.ListEvents(ctx, models.EventFilter{PartnerID: partnerID})
}

func (s *ForgingService) ListActiveEvents(ctx context.Context) ([]models.ForgingEventView, error) {
	return s.ListEvents(ctx, models.EventFilter{Status: models.ForgingStatusActive})
}

func (s *ForgingService) ListPledgesByBuyer(ctx context.Context, buyerID string) ([]models.PledgeWithEvent, error) {
	pledges, err := s.DB.ListPledgesByBuyer(ctx, buyerID)
	if err != nil {
		return nil, s.storeErr(err, "list pledges")
	}
	return pledges, nil
}

// NewView attaches the current tier snapshot to an event. Finished events
// report their frozen discount.
func NewView(event models.ForgingEvent) models.ForgingEventView {
	snap := Snapshot(event.Tiers, event.CurrentBuyerCount)
	if event.FinalDiscountTier != nil {
		snap.UnlockedDiscount = *event.FinalDiscountTier
	}
	return models.ForgingEventView{ForgingEvent: event, Snapshot: snap}
}

// ---------------- HELPERS ----------------

// storeErr maps storage errors onto service errors.
func (s *ForgingService) storeErr(err error, what string) error {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	case errors.Is(err, db.ErrDuplicate):
		return fmt.Errorf("%w: %s", ErrValidation, what)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		s.Log.Error("DATABASE", fmt.Sprintf("%s: %v", what, err))
		return fmt.Errorf("%w: %s: %v", ErrExternalService, what, err)
	}
}

// notify publishes a notification. Failures are logged and never surface to
// the caller. The write is already committed, so a caller that goes away
// does not cancel the publish.
func (s *ForgingService) notify(ctx context.Context, event *models.ForgingEvent, kind models.NotificationType, recipient, actor string) {
	if s.Notifier == nil || recipient == "" {
		return
	}
	n := models.ForgingNotification{
		Type:              kind,
		ForgingEventID:    event.ID,
		RecipientID:       recipient,
		ActorID:           actor,
		ProductName:       event.ProductName,
		FinalDiscountTier: event.FinalDiscountTier,
		BuyerCount:        event.CurrentBuyerCount,
		OccurredAt:        s.now(),
	}
	if err := s.Notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		s.Log.Warn("NOTIFY", fmt.Sprintf("Failed to send %s for event %s to %s: %v", kind, event.ID, recipient, err))
	}
}

func (s *ForgingService) emit(event *models.ForgingEvent) {
	if s.Progress == nil {
		return
	}
	view := NewView(*event)
	s.Progress.Emit(models.ProgressUpdate{
		ForgingEventID:    event.ID,
		Status:            event.Status,
		CurrentBuyerCount: event.CurrentBuyerCount,
		Snapshot:          view.Snapshot,
		FinalDiscountTier: event.FinalDiscountTier,
		At:                s.now(),
	})
}
