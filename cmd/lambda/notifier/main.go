package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/example/ec-storefront/internal/config"
	"github.com/example/ec-storefront/internal/email"
	"github.com/example/ec-storefront/internal/infrastructure/kinesis"
	"github.com/example/ec-storefront/internal/logging"
	"github.com/example/ec-storefront/internal/notification"
	"go.uber.org/zap"
)

var (
	notificationHandler *notification.Handler
	logger              *zap.Logger
)

func init() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err = logging.New(cfg.AppEnv, cfg.LogLevel, "lambda-notifier")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	emailSvc := email.NewService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom)
	notificationHandler = notification.NewHandler(emailSvc, logger)

	logger.Info("Initialized", zap.String("smtp", cfg.SMTPHost+":"+cfg.SMTPPort))
}

func handler(ctx context.Context, kinesisEvent events.KinesisEvent) (events.KinesisEventResponse, error) {
	return kinesis.ProcessBatch(ctx, kinesisEvent, notificationHandler.HandleMessage, logger), nil
}

func main() {
	lambda.Start(handler)
}
