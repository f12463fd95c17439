package models

import "time"

type NotificationType string

const (
	NotificationProposed     NotificationType = "forging.proposed"
	NotificationAccepted     NotificationType = "forging.accepted"
	NotificationDeclined     NotificationType = "forging.declined"
	NotificationEnded        NotificationType = "forging.ended"
	NotificationOrderCreated NotificationType = "forging.order_created"
)

// ForgingNotification is the payload published for the notification
// collaborator. RecipientID is who should hear about it.
type ForgingNotification struct {
	Type              NotificationType `json:"type"`
	ForgingEventID    string           `json:"forgingEventId"`
	RecipientID       string           `json:"recipientId"`
	ActorID           string           `json:"actorId,omitempty"`
	ProductName       string           `json:"productName,omitempty"`
	FinalDiscountTier *float64         `json:"finalDiscountTier,omitempty"`
	BuyerCount        int              `json:"buyerCount,omitempty"`
	OrderID           string           `json:"orderId,omitempty"`
	OccurredAt        time.Time        `json:"occurredAt"`
}

// ProgressUpdate is pushed to SSE subscribers of a forging event.
type ProgressUpdate struct {
	ForgingEventID    string             `json:"forgingEventId"`
	Status            ForgingEventStatus `json:"status"`
	CurrentBuyerCount int                `json:"currentBuyerCount"`
	Snapshot          TierSnapshot       `json:"snapshot"`
	FinalDiscountTier *float64           `json:"finalDiscountTier,omitempty"`
	At                time.Time          `json:"at"`
}
