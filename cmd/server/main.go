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

	"payment-bridge/config"
	"payment-bridge/internal/alert"
	"payment-bridge/internal/api"
	"payment-bridge/internal/broker"
	"payment-bridge/internal/fulfillment"
	"payment-bridge/internal/gateway"
	"payment-bridge/internal/redisclient"
	"payment-bridge/internal/service"
	"payment-bridge/internal/store"
	"payment-bridge/internal/util"
	"payment-bridge/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting payment bridge")

	tp, err := util.InitTracer("payment-bridge", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	var publisher *broker.EventPublisher
	var streamWorker *worker.StreamWorker
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	if len(cfg.Kafka.Brokers) > 0 {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicWebhooks)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
		log.Println("Kafka producer initialized")

		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicWebhooks, cfg.Kafka.ConsumerGroup)
		streamWorker = worker.NewStreamWorker(consumer)
		go func() {
			if err := streamWorker.Start(workerCtx); err != nil {
				log.Printf("Stream worker error: %v", err)
			}
		}()
	} else {
		log.Println("No Kafka brokers configured, lifecycle stream disabled")
	}

	gatewayService := gateway.NewService(cfg.Gateway)
	fulfillmentClient := fulfillment.NewClient(cfg.Fulfillment, redisClient)
	notifier := alert.NewNotifier(cfg.Alert.SlackWebhookURL)

	coordinator := service.NewIdempotencyCoordinator(db)
	settlement := service.NewSettlementService(coordinator, fulfillmentClient, notifier, publisher)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(settlement, gatewayService, db)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	if streamWorker != nil {
		streamWorker.Stop()
	}

	log.Println("Server exited")
}
