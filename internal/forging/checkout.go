package forging

import (
	"context"
	"errors"
	"fmt"

	"tradinta-forging/internal/forging/db"
	"tradinta-forging/internal/models"
	"tradinta-forging/internal/utils"
)

// CompletePledgePurchase turns the buyer's pledge on a finished event into a
// pending-payment order at the frozen discount. The order id is derived from
// the buyer and event, so repeating the call returns the same order.
func (s *ForgingService) CompletePledgePurchase(ctx context.Context, buyerID, eventID string) (*models.CheckoutResponse, error) {
	view, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	event := view.ForgingEvent
	if event.Status != models.ForgingStatusFinished {
		return nil, fmt.Errorf("%w: status is %s", ErrEventNotFinished, event.Status)
	}

	if _, err := s.DB.GetPledge(ctx, eventID, buyerID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: no pledge from this buyer on event %s", ErrNotFound, eventID)
		}
		return nil, s.storeErr(err, "get pledge")
	}

	orderID := utils.OrderIDFor(buyerID, eventID)
	if existing, err := s.DB.GetOrder(ctx, orderID); err == nil {
		return &models.CheckoutResponse{OrderID: existing.ID, TotalAmount: existing.TotalAmount}, nil
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, s.storeErr(err, "get order")
	}

	// Price is read live at checkout, not snapshotted when the event ended.
	product, err := s.DB.GetProduct(ctx, event.ProductID)
	if err != nil {
		return nil, s.storeErr(err, "product "+event.ProductID)
	}

	discount := 0.0
	if event.FinalDiscountTier != nil {
		discount = *event.FinalDiscountTier
	}
	total := DiscountedPrice(product.B2BPrice, discount)

	order := &models.Order{
		ID:                    orderID,
		BuyerID:               buyerID,
		SellerID:              event.SellerID,
		ProductID:             event.ProductID,
		Quantity:              1,
		UnitPrice:             product.B2BPrice,
		DiscountPercentage:    discount,
		TotalAmount:           total,
		Status:                models.OrderStatusPendingPayment,
		RelatedForgingEventID: eventID,
		CreatedAt:             s.now(),
	}
	created, err := s.DB.CreateOrderIfAbsent(ctx, order)
	if err != nil {
		return nil, s.storeErr(err, "create order")
	}
	if !created {
		// A concurrent checkout wrote it first.
		existing, err := s.DB.GetOrder(ctx, orderID)
		if err != nil {
			return nil, s.storeErr(err, "get order")
		}
		return &models.CheckoutResponse{OrderID: existing.ID, TotalAmount: existing.TotalAmount}, nil
	}

	s.Log.LogForging("CHECKOUT", eventID, fmt.Sprintf("buyer=%s order=%s total=%s discount=%.2f%%", buyerID, orderID, total.StringFixed(2), discount))
	if s.Notifier != nil {
		n := models.ForgingNotification{
			Type:              models.NotificationOrderCreated,
			ForgingEventID:    eventID,
			RecipientID:       event.SellerID,
			ActorID:           buyerID,
			ProductName:       event.ProductName,
			FinalDiscountTier: event.FinalDiscountTier,
			OrderID:           orderID,
			OccurredAt:        s.now(),
		}
		if err := s.Notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
			s.Log.Warn("NOTIFY", fmt.Sprintf("Failed to send order_created for order %s: %v", orderID, err))
		}
	}

	return &models.CheckoutResponse{OrderID: orderID, TotalAmount: total, Created: true}, nil
}
