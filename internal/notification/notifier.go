package notification

import (
	"context"
	"time"

	"github.com/example/ec-storefront/internal/domain/order"
	"go.uber.org/zap"
)

const defaultPublishTimeout = 3 * time.Second

// Publisher is implemented by the Kafka producer and the RabbitMQ publisher.
type Publisher interface {
	Publish(ctx context.Context, key string, msg any) error
}

// Notifier enqueues order confirmations. A broken queue degrades to a
// logged error; checkout never fails because of it.
type Notifier struct {
	publisher Publisher
	logger    *zap.Logger
	timeout   time.Duration
}

func NewNotifier(publisher Publisher, logger *zap.Logger) *Notifier {
	return &Notifier{
		publisher: publisher,
		logger:    logger.Named("notifier"),
		timeout:   defaultPublishTimeout,
	}
}

func (n *Notifier) OrderPlaced(ctx context.Context, o *order.Order, email string) {
	if email == "" {
		n.logger.Warn("no email for order confirmation", zap.String("order_id", o.ID))
		return
	}

	// the request may be finishing; the enqueue gets its own deadline
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	if err := n.publisher.Publish(pubCtx, o.ID, NewOrderPlacedMessage(o, email)); err != nil {
		n.logger.Error("failed to enqueue order confirmation",
			zap.String("order_id", o.ID),
			zap.Error(err))
		return
	}
	n.logger.Debug("order confirmation enqueued", zap.String("order_id", o.ID))
}

// LogPublisher stands in for a queue when none is configured.
type LogPublisher struct {
	Logger *zap.Logger
}

func (p LogPublisher) Publish(_ context.Context, key string, msg any) error {
	p.Logger.Info("notification queue disabled, message not sent",
		zap.String("key", key),
		zap.Any("message", msg))
	return nil
}
