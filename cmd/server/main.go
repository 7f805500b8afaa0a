package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"fulfillment-service/config"
	"fulfillment-service/internal/api"
	"fulfillment-service/internal/auth"
	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/carrier"
	"fulfillment-service/internal/gateway"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/redisclient"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"
	"fulfillment-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting fulfillment service", zap.String("env", cfg.Server.Env))

	if cfg.Auth.JWTSecret == "" {
		logger.Fatal("JWT_SECRET is required")
	}
	if cfg.Gateway.WebhookSecret == "" {
		logger.Warn("GATEWAY_WEBHOOK_SECRET is empty, every gateway webhook will be rejected")
	}

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicEvents))

	eventPublisher := broker.NewEventPublisher(producer)

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:   cfg.Gateway.BaseURL,
		KeyID:     cfg.Gateway.KeyID,
		KeySecret: cfg.Gateway.KeySecret,
	})
	carrierClient := carrier.NewClient(carrier.Config{
		BaseURL:  cfg.Carrier.BaseURL,
		Email:    cfg.Carrier.Email,
		Password: cfg.Carrier.Password,
		TokenTTL: cfg.Carrier.TokenTTL,
	}, carrier.NewTokenCache())

	ledger := service.NewStockLedger(db, eventPublisher, cfg.Business.LowStockThreshold)
	shipping := service.NewShippingReconciler(db, carrierClient, redisClient, ledger, eventPublisher, service.ShippingConfig{
		PickupPostcode:  cfg.Carrier.PickupPostcode,
		PickupLocation:  cfg.Carrier.PickupLocation,
		TrackingURLBase: cfg.Carrier.TrackingURLBase,
		WebhookToken:    cfg.Carrier.WebhookToken,
		Location:        cfg.Carrier.Location,
	})
	payments := service.NewPaymentReconciler(db, gatewayClient, eventPublisher,
		cfg.Gateway.WebhookSecret, cfg.Gateway.KeySecret)
	checkout := service.NewCheckoutOrchestrator(db, ledger, gatewayClient, shipping, eventPublisher,
		redisClient, redisClient, service.CheckoutConfig{
			Currency: cfg.Business.Currency,
			Pricing: service.PricingRules{
				FreeShippingThreshold:  cfg.Business.FreeShippingThreshold,
				MetroShippingCharge:    cfg.Business.MetroShippingCharge,
				StandardShippingCharge: cfg.Business.StandardShippingCharge,
				MetroPostcodePrefixes:  cfg.Business.MetroPostcodePrefixes,
				TaxRatePercent:         cfg.Business.TaxRatePercent,
			},
		})
	orders := service.NewOrderService(db, ledger, shipping, eventPublisher)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	var workers sync.WaitGroup

	outbox := worker.NewOutboxWorker(db, worker.OutboxConfig{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		Lease:        cfg.Outbox.Lease,
	})
	outbox.Register(models.TaskCreateShipment, shipping)
	outbox.Register(models.TaskCancelShipment, shipping)
	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := outbox.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Outbox worker error", zap.Error(err))
		}
	}()

	notificationConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup)
	notificationWorker := worker.NewNotificationWorker(notificationConsumer, worker.NewLogNotifier())
	workers.Add(1)
	go func() {
		defer workers.Done()
		if err := notificationWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Notification worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Services{
		Checkout: checkout,
		Payments: payments,
		Shipping: shipping,
		Orders:   orders,
		Ledger:   ledger,
	}, auth.NewVerifier(cfg.Auth.JWTSecret), map[string]api.Pinger{
		"database": db,
		"redis":    redisClient,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	workers.Wait()
	if err := notificationWorker.Stop(); err != nil {
		logger.Error("Error closing notification consumer", zap.Error(err))
	}

	logger.Info("Server exited")
}
