package forging

import (
	"context"
	"errors"
	"fmt"

	"tradinta-forging/internal/forging/db"
	"tradinta-forging/internal/models"
)

// ResolveEvent freezes the final discount of an active event whose window
// has closed. Calling it on any other event returns the event unchanged.
func (s *ForgingService) ResolveEvent(ctx context.Context, eventID string) (*models.ForgingEvent, error) {
	event, err := s.DB.GetEvent(ctx, eventID)
	if err != nil {
		return nil, s.storeErr(err, "forging event "+eventID)
	}
	if event.Status != models.ForgingStatusActive || !event.Expired(s.now()) {
		return event, nil
	}
	return s.finish(ctx, event)
}

// ResolveDue walks every active event past its end time in pages of
// batchSize and reports how many it finished. Events that fail are skipped
// for the rest of the sweep and retried by the next one.
func (s *ForgingService) ResolveDue(ctx context.Context, batchSize int) (int, error) {
	now := s.now()
	var cursor models.DueCursor
	resolved, failed := 0, 0

	for {
		due, err := s.DB.ListDueEvents(ctx, now, cursor, batchSize)
		if err != nil {
			return resolved, s.storeErr(err, "list due events")
		}
		for i := range due {
			if ctx.Err() != nil {
				return resolved, ctx.Err()
			}
			event, err := s.finish(ctx, &due[i])
			if err != nil {
				failed++
				s.Log.Error("RESOLVER", fmt.Sprintf("Failed to resolve event %s: %v", due[i].ID, err))
				continue
			}
			if event.Status == models.ForgingStatusFinished {
				resolved++
			}
		}
		if batchSize <= 0 || len(due) < batchSize {
			break
		}
		last := due[len(due)-1]
		cursor = models.DueCursor{EndTime: last.EndTime, ID: last.ID}
	}

	if failed > 0 {
		s.Log.Warn("RESOLVER", fmt.Sprintf("%d due events could not be resolved, retrying next sweep", failed))
	}
	return resolved, nil
}

// ForceEnd lets an admin close an active event before its end time. The
// discount is frozen from the pledges collected so far.
func (s *ForgingService) ForceEnd(ctx context.Context, adminID string, isAdmin bool, eventID string) (*models.ForgingEvent, error) {
	if !isAdmin {
		return nil, fmt.Errorf("%w: admin role required", ErrNotAuthorized)
	}
	event, err := s.DB.GetEvent(ctx, eventID)
	if err != nil {
		return nil, s.storeErr(err, "forging event "+eventID)
	}
	if event.Status != models.ForgingStatusActive {
		return nil, fmt.Errorf("%w: status is %s", ErrEventNotActive, event.Status)
	}
	s.Log.LogSecurity("FORCE_END", fmt.Sprintf("admin %s force-ending event %s", adminID, eventID))
	return s.finish(ctx, event)
}

// finish runs the active to finished transition. When another resolver won
// the race the committed row is returned instead.
func (s *ForgingService) finish(ctx context.Context, event *models.ForgingEvent) (*models.ForgingEvent, error) {
	tiers := event.Tiers
	finished, err := s.DB.FinishEvent(ctx, event.ID, s.now(), func(buyerCount int) float64 {
		return ResolveDiscount(tiers, buyerCount)
	})
	if errors.Is(err, db.ErrConflict) {
		current, err := s.DB.GetEvent(ctx, event.ID)
		if err != nil {
			return nil, s.storeErr(err, "forging event "+event.ID)
		}
		return current, nil
	}
	if err != nil {
		return nil, s.storeErr(err, "finish forging event")
	}

	s.Log.LogForging("FINISHED", finished.ID, fmt.Sprintf("buyers=%d final_discount=%.2f%%", finished.CurrentBuyerCount, *finished.FinalDiscountTier))
	s.emit(finished)
	s.notify(ctx, finished, models.NotificationEnded, finished.SellerID, "")
	if finished.HasPartner() {
		s.notify(ctx, finished, models.NotificationEnded, finished.PartnerID, "")
	}
	return finished, nil
}
