package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/ec-storefront/internal/api"
	"github.com/example/ec-storefront/internal/auth"
	"github.com/example/ec-storefront/internal/command"
	"github.com/example/ec-storefront/internal/config"
	"github.com/example/ec-storefront/internal/domain/cart"
	"github.com/example/ec-storefront/internal/domain/catalog"
	"github.com/example/ec-storefront/internal/domain/order"
	"github.com/example/ec-storefront/internal/logging"
	"github.com/example/ec-storefront/internal/notification"
	"github.com/example/ec-storefront/internal/query"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const accessTokenExpiry = 15 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel, "api")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("API stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting storefront API",
		zap.String("env", cfg.AppEnv),
		zap.String("store", cfg.StoreDriver),
		zap.String("queue", cfg.QueueDriver),
		zap.Bool("redis", cfg.RedisAddr != ""))

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	invalidator, runInvalidator, closeCache, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	publisher, closePublisher, err := openPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	// Initialize domain services
	resolver := catalog.NewResolver(store, logger)
	carts := cart.NewStore(store, resolver, logger)
	notifier := notification.NewNotifier(publisher, logger)
	factory := order.NewFactory(carts, store, invalidator, notifier, logger)
	machine := order.NewStateMachine(store, invalidator, logger)

	jwtService := auth.NewJWTService(cfg.JWTSecret, accessTokenExpiry)
	handlers := api.NewHandlers(
		command.NewHandler(carts, factory, machine, store),
		query.NewHandler(carts, store),
		logger,
		cfg.IsDevelopment(),
	)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(handlers, jwtService, logger, cfg.RequestTimeout),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server started", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return runInvalidator(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
