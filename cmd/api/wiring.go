package main

import (
	"context"
	"fmt"

	"github.com/example/ec-storefront/internal/config"
	"github.com/example/ec-storefront/internal/domain/cart"
	"github.com/example/ec-storefront/internal/domain/catalog"
	"github.com/example/ec-storefront/internal/domain/order"
	"github.com/example/ec-storefront/internal/infrastructure/cache"
	"github.com/example/ec-storefront/internal/infrastructure/kafka"
	"github.com/example/ec-storefront/internal/infrastructure/rabbitmq"
	"github.com/example/ec-storefront/internal/infrastructure/store/memstore"
	"github.com/example/ec-storefront/internal/infrastructure/store/mongostore"
	"github.com/example/ec-storefront/internal/infrastructure/store/pgstore"
	"github.com/example/ec-storefront/internal/notification"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// storage is everything the API needs from a backend.
type storage interface {
	catalog.Repository
	cart.Repository
	order.Repository
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage, func(), error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		db, err := pgstore.ConnectPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pgstore.Migrate(db, logger); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("Connected to PostgreSQL")
		return pgstore.New(db), func() { db.Close() }, nil

	case config.StoreMongo:
		db, err := mongostore.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() { _ = db.Client().Disconnect(context.Background()) }
		s := mongostore.New(db)
		if err := s.CreateIndexes(ctx); err != nil {
			closeFn()
			return nil, nil, err
		}
		logger.Info("Connected to MongoDB", zap.String("database", cfg.MongoDatabase))
		return s, closeFn, nil

	default:
		logger.Warn("Using in-memory store; data is lost on restart")
		return memstore.New(), func() {}, nil
	}
}

// openCache returns the invalidator handed to the domain and the loop that
// must run for it to make progress.
func openCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (order.CacheInvalidator, func(context.Context) error, func(), error) {
	if cfg.RedisAddr == "" {
		return cache.Nop{}, func(context.Context) error { return nil }, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr))

	async := cache.NewAsyncInvalidator(cache.NewRedisInvalidator(client), logger)
	return async, async.Run, func() { client.Close() }, nil
}

func openPublisher(cfg *config.Config, logger *zap.Logger) (notification.Publisher, func(), error) {
	switch cfg.QueueDriver {
	case config.QueueKafka:
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		logger.Info("Publishing notifications to Kafka",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic))
		return producer, func() { producer.Close() }, nil

	case config.QueueRabbitMQ:
		conn, err := rabbitmq.Dial(cfg.RabbitMQURL)
		if err != nil {
			return nil, nil, err
		}
		publisher, err := rabbitmq.NewPublisher(conn, cfg.RabbitMQQueue)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		logger.Info("Publishing notifications to RabbitMQ", zap.String("queue", cfg.RabbitMQQueue))
		return publisher, func() {
			publisher.Close()
			conn.Close()
		}, nil

	default:
		return notification.LogPublisher{Logger: logger.Named("notifications")}, func() {}, nil
	}
}
