package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-service/config"
	"storefront-service/internal/api"
	"storefront-service/internal/auth"
	"storefront-service/internal/broker"
	"storefront-service/internal/cart"
	"storefront-service/internal/gateway"
	"storefront-service/internal/redisclient"
	"storefront-service/internal/service"
	"storefront-service/internal/store"
	"storefront-service/internal/util"
	"storefront-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.ServiceName); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("Service stopped with error", zap.Error(err))
	}
	logger.Info("Server exited")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting storefront service",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port))

	tp, err := util.InitTracer(cfg.Observ.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		return errors.Wrap(err, "init tracer")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer db.Close()
	if cfg.Database.Migrate {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return errors.Wrap(err, "connect to redis")
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	eventProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer eventProducer.Close()
	webhookProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicWebhook)
	defer webhookProducer.Close()

	apiKeys, err := auth.ParseKeys(cfg.Auth.APIKeys)
	if err != nil {
		return errors.Wrap(err, "parse api keys")
	}
	if len(apiKeys) == 0 {
		logger.Warn("No API keys configured, admin routes will reject every request")
	}

	eventPublisher := broker.NewEventPublisher(eventProducer)
	inventoryClient := service.NewInventoryClient(db)
	orderService := service.NewOrderService(db, db, inventoryClient, eventPublisher)
	paymentService := service.NewPaymentService(
		db,
		gateway.NewClient(cfg.Payment.KeyID, cfg.Payment.KeySecret),
		redisClient,
		eventPublisher,
		cfg.Payment.KeySecret,
	)
	cartService := service.NewCartService(
		cart.NewStore(redisclient.NewCartStorage(redisClient, cfg.Business.CartTTL)),
		orderService,
	)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Deps{
		Orders:        orderService,
		Payments:      paymentService,
		Carts:         cartService,
		Catalog:       service.NewCatalogService(db),
		Webhooks:      broker.NewWebhookPublisher(webhookProducer),
		Authenticator: auth.NewAPIKeyAuthenticator(apiKeys),
		WebhookSecret: cfg.Payment.WebhookSecret,
		Checks: map[string]api.ReadinessCheck{
			"postgres": db.Ping,
			"redis":    redisClient.Ping,
		},
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	paymentWorker := worker.NewPaymentWorker(
		broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicWebhook, cfg.Kafka.WebhookConsumerGroup),
		paymentService,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		return paymentWorker.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", zap.Error(err))
		}
		return paymentWorker.Stop()
	})

	return g.Wait()
}
