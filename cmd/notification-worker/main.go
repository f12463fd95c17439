package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"tradinta-forging/internal/config"
	"tradinta-forging/internal/kafka"
	"tradinta-forging/internal/logger"
	"tradinta-forging/internal/models"
)

// The worker drains forging notifications and logs each delivery. A mail or
// push gateway would replace the handler below.
func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println(".env file not found, using environment variables")
	}
	cfg := config.Load()

	log := logger.NewLogger("forging-notification-worker", cfg.Log.Dir)
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topics.All(), log); err != nil {
		log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
	}

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.All(), cfg.Kafka.GroupID, log)
	defer consumer.Close()

	log.Info("APP", fmt.Sprintf("Consuming forging notifications as group %s", cfg.Kafka.GroupID))
	err := consumer.Start(ctx, func(ctx context.Context, n models.ForgingNotification) error {
		log.Info("NOTIFY", fmt.Sprintf("%s -> %s (event %s, product %q, buyers %d)",
			n.Type, n.RecipientID, n.ForgingEventID, n.ProductName, n.BuyerCount))
		return nil
	})
	if err != nil && ctx.Err() == nil {
		log.Error("KAFKA", fmt.Sprintf("Consumer stopped: %v", err))
	}
	log.Info("APP", "✅ Notification worker shutdown complete")
}
