package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Pledge is a buyer's non-binding commitment to an active forging event.
type Pledge struct {
	bun.BaseModel `bun:"table:pledges,alias:p"`

	ID             string    `bun:"id,pk" json:"id"`
	ForgingEventID string    `bun:"forging_event_id,notnull" json:"forgingEventId"`
	BuyerID        string    `bun:"buyer_id,notnull" json:"buyerId"`
	PledgedAt      time.Time `bun:"pledged_at,notnull" json:"pledgedAt"`
}

// PledgeWithEvent is a row of the buyer's pledge list.
type PledgeWithEvent struct {
	Pledge
	Event *ForgingEvent `json:"event,omitempty"`
}

// PledgeResult is returned to the buyer after a successful pledge.
type PledgeResult struct {
	Pledge            Pledge       `json:"pledge"`
	CurrentBuyerCount int          `json:"currentBuyerCount"`
	Snapshot          TierSnapshot `json:"snapshot"`
}
