package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/example/ec-storefront/internal/config"
	"github.com/example/ec-storefront/internal/email"
	"github.com/example/ec-storefront/internal/infrastructure/kafka"
	"github.com/example/ec-storefront/internal/infrastructure/rabbitmq"
	"github.com/example/ec-storefront/internal/logging"
	"github.com/example/ec-storefront/internal/notification"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel, "notifier")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting email notification service",
		zap.String("queue", cfg.QueueDriver),
		zap.String("smtp", cfg.SMTPHost+":"+cfg.SMTPPort),
		zap.String("from", cfg.SMTPFrom))

	emailSvc := email.NewService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom)
	handler := notification.NewHandler(emailSvc, logger)

	if err := consume(ctx, cfg, handler, logger); err != nil && ctx.Err() == nil {
		logger.Fatal("Consumer stopped", zap.Error(err))
	}
	logger.Info("Shutting down...")
}

func consume(ctx context.Context, cfg *config.Config, handler *notification.Handler, logger *zap.Logger) error {
	switch cfg.QueueDriver {
	case config.QueueKafka:
		consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, logger)
		defer consumer.Close()
		logger.Info("Listening to Kafka",
			zap.String("topic", cfg.KafkaTopic),
			zap.String("group", cfg.KafkaGroupID))
		return consumer.Consume(ctx, handler.HandleMessage)

	case config.QueueRabbitMQ:
		conn, err := rabbitmq.Dial(cfg.RabbitMQURL)
		if err != nil {
			return err
		}
		defer conn.Close()
		consumer, err := rabbitmq.NewConsumer(conn, cfg.RabbitMQQueue, "email-notifier", logger)
		if err != nil {
			return err
		}
		defer consumer.Close()
		logger.Info("Listening to RabbitMQ", zap.String("queue", cfg.RabbitMQQueue))
		return consumer.Consume(ctx, handler.HandleMessage)

	default:
		return fmt.Errorf("notifier needs QUEUE_DRIVER kafka or rabbitmq, got %q", cfg.QueueDriver)
	}
}
