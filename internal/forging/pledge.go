package forging

import (
	"context"
	"errors"
	"fmt"

	"tradinta-forging/internal/forging/db"
	"tradinta-forging/internal/models"
	"tradinta-forging/internal/utils"
)

// Pledge records the buyer's commitment and bumps the event's buyer count.
// A rejected pledge leaves the event untouched.
func (s *ForgingService) Pledge(ctx context.Context, buyerID, eventID string) (*models.PledgeResult, error) {
	event, err := s.DB.GetEvent(ctx, eventID)
	if err != nil {
		return nil, s.storeErr(err, "forging event "+eventID)
	}

	now := s.now()
	if event.Status != models.ForgingStatusActive || event.Expired(now) {
		return nil, fmt.Errorf("%w: status is %s, window ends %s", ErrEventNotActive, event.Status, event.EndTime.Format("2006-01-02 15:04:05Z"))
	}
	if buyerID == event.SellerID || (event.HasPartner() && buyerID == event.PartnerID) {
		return nil, fmt.Errorf("%w: the seller and partner cannot pledge to their own event", ErrNotAuthorized)
	}

	if s.Lock != nil {
		token := utils.GenerateUUID()
		ok, err := s.Lock.LockPledge(ctx, eventID, buyerID, token)
		if err != nil {
			return nil, fmt.Errorf("%w: pledge lock: %v", ErrExternalService, err)
		}
		if !ok {
			return nil, ErrPledgeInProgress
		}
		defer func() {
			if err := s.Lock.UnlockPledge(context.WithoutCancel(ctx), eventID, buyerID, token); err != nil {
				s.Log.Warn("REDIS", fmt.Sprintf("Failed to release pledge lock %s/%s: %v", eventID, buyerID, err))
			}
		}()
	}

	pledge := models.Pledge{
		ID:             utils.GenerateUUID(),
		ForgingEventID: eventID,
		BuyerID:        buyerID,
		PledgedAt:      now,
	}
	count, err := s.DB.CreatePledge(ctx, &pledge)
	switch {
	case errors.Is(err, db.ErrDuplicate):
		return nil, ErrAlreadyPledged
	case errors.Is(err, db.ErrConflict):
		return nil, fmt.Errorf("%w: event closed before the pledge was recorded", ErrEventNotActive)
	case err != nil:
		return nil, s.storeErr(err, "create pledge")
	}

	event.CurrentBuyerCount = count
	event.UpdatedAt = now
	s.Log.LogForging("PLEDGED", eventID, fmt.Sprintf("buyer=%s count=%d", buyerID, count))
	s.emit(event)

	return &models.PledgeResult{
		Pledge:            pledge,
		CurrentBuyerCount: count,
		Snapshot:          Snapshot(event.Tiers, count),
	}, nil
}
