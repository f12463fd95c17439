package kafka

import (
	"context"
	"fmt"

	"tradinta-forging/internal/config"
	"tradinta-forging/internal/logger"
	"tradinta-forging/internal/models"
)

type Publisher interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

// Notifier routes forging notifications to their topic. Messages are keyed
// by event id so all notifications of one event stay ordered.
type Notifier struct {
	Publisher Publisher
	Topics    config.TopicConfig
}

func NewNotifier(publisher Publisher, topics config.TopicConfig) *Notifier {
	return &Notifier{Publisher: publisher, Topics: topics}
}

func (n *Notifier) TopicFor(kind models.NotificationType) (string, error) {
	switch kind {
	case models.NotificationProposed:
		return n.Topics.Proposed, nil
	case models.NotificationAccepted:
		return n.Topics.Accepted, nil
	case models.NotificationDeclined:
		return n.Topics.Declined, nil
	case models.NotificationEnded:
		return n.Topics.Ended, nil
	case models.NotificationOrderCreated:
		return n.Topics.OrderCreated, nil
	}
	return "", fmt.Errorf("no topic for notification type %q", kind)
}

func (n *Notifier) Notify(ctx context.Context, note models.ForgingNotification) error {
	topic, err := n.TopicFor(note.Type)
	if err != nil {
		return err
	}
	return n.Publisher.Publish(ctx, topic, note.ForgingEventID, note)
}

// LogNotifier stands in when Kafka is disabled and only writes the
// notification to the log.
type LogNotifier struct {
	Log *logger.Logger
}

func (n LogNotifier) Notify(_ context.Context, note models.ForgingNotification) error {
	n.Log.Info("NOTIFY", fmt.Sprintf("%s event=%s recipient=%s", note.Type, note.ForgingEventID, note.RecipientID))
	return nil
}
