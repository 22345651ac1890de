// Package rabbitmq is the alternative order-notification transport. Messages
// go through the default exchange straight to one durable queue.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const publishTimeout = 3 * time.Second

type MessageHandler func(ctx context.Context, key, value []byte) error

func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

func declare(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare %s: %w", queue, err)
	}
	return nil
}

type Publisher struct {
	mu    sync.Mutex
	ch    *amqp.Channel
	queue string
}

func NewPublisher(conn *amqp.Connection, queue string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declare(ch, queue); err != nil {
		ch.Close()
		return nil, err
	}
	return &Publisher{ch: ch, queue: queue}, nil
}

// Publish sends msg as a persistent JSON message; key becomes the message id.
func (p *Publisher) Publish(ctx context.Context, key string, msg any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(
		pubCtx,
		"",      // default exchange
		p.queue, // queue name as routing key
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    key,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

type Consumer struct {
	ch     *amqp.Channel
	queue  string
	tag    string
	logger *zap.Logger
}

func NewConsumer(conn *amqp.Connection, queue, tag string, logger *zap.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declare(ch, queue); err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.Qos(10, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &Consumer{ch: ch, queue: queue, tag: tag, logger: logger.With(zap.String("queue", queue))}, nil
}

// Consume acks handled messages and drops (nacks without requeue) the ones
// the handler rejects. It returns when ctx is cancelled or the broker closes
// the delivery channel.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	msgs, err := c.ch.Consume(
		c.queue,
		c.tag,
		false, // autoAck
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", c.queue)
			}
			if err := handler(ctx, []byte(msg.MessageId), msg.Body); err != nil {
				c.logger.Error("error handling message",
					zap.String("message_id", msg.MessageId),
					zap.Error(err))
				_ = msg.Nack(false, false)
				continue
			}
			_ = msg.Ack(false)
		}
	}
}

func (c *Consumer) Close() error {
	return c.ch.Close()
}
