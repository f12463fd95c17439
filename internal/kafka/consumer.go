package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"tradinta-forging/internal/logger"
	"tradinta-forging/internal/models"
)

type Consumer struct {
	reader *kafka.Reader
	log    *logger.Logger
}

// NewConsumer creates a consumer group reader over all the given topics
func NewConsumer(brokers []string, topics []string, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupTopics: topics,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
	})
	return &Consumer{reader: reader, log: log}
}

// Start reads notifications until ctx is cancelled. Messages that fail to
// decode are logged and skipped; handler errors leave the offset uncommitted
// so the message is redelivered after a restart.
func (c *Consumer) Start(ctx context.Context, handler func(context.Context, models.ForgingNotification) error) error {
	c.log.Info("KAFKA", "🔄 Kafka consumer started...")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			c.log.Error("KAFKA", fmt.Sprintf("❌ Error reading message: %v", err))
			continue
		}

		var note models.ForgingNotification
		if err := json.Unmarshal(msg.Value, &note); err != nil {
			c.log.Warn("KAFKA", fmt.Sprintf("⚠️ Failed to unmarshal message on %s: %v", msg.Topic, err))
			c.commit(ctx, msg)
			continue
		}

		c.log.LogKafka("RECEIVED", msg.Topic, fmt.Sprintf("📩 %s event=%s", note.Type, note.ForgingEventID))
		if err := handler(ctx, note); err != nil {
			c.log.Error("KAFKA", fmt.Sprintf("Handler failed for %s on %s: %v", note.Type, msg.Topic, err))
			continue
		}
		c.commit(ctx, msg)
	}
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.log.Error("KAFKA", fmt.Sprintf("Failed to commit offset %d on %s: %v", msg.Offset, msg.Topic, err))
	}
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
