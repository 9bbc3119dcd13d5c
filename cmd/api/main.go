package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/hubx/pagamentos/internal/config"
	"github.com/hubx/pagamentos/internal/database"
	"github.com/hubx/pagamentos/internal/handlers"
	"github.com/hubx/pagamentos/internal/metrics"
	"github.com/hubx/pagamentos/internal/payment"
	"github.com/hubx/pagamentos/internal/provider/mercadopago"
	"github.com/hubx/pagamentos/internal/provider/paypal"
	"github.com/hubx/pagamentos/internal/queue"
	"github.com/hubx/pagamentos/internal/server"
	"github.com/hubx/pagamentos/internal/storage"
	"github.com/hubx/pagamentos/internal/worker"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Payment service starting...")

	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg.LogSafeConfig()

	ctx := context.Background()

	// Initialize database
	db, err := database.Connect(ctx, cfg.DatabaseURL, cfg.DBMinConns, cfg.DBMaxConns)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize queue
	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to initialize queue: %v", err)
	}
	defer q.Close()

	store := storage.NewPostgres(db.Pool, cfg.RowLocksEnabled)
	notifier := worker.NewEnqueuer(q.Client)
	sink := metrics.NewCounters()

	// Initialize gateway providers
	mpProvider := mercadopago.New(mercadopago.Config{
		AccessToken: cfg.MercadoPagoAccessToken,
		PublicKey:   cfg.MercadoPagoPublicKey,
		BaseURL:     cfg.MercadoPagoAPIURL,
	})
	ppProvider := paypal.New(paypal.Config{
		ClientID:     cfg.PayPalClientID,
		ClientSecret: cfg.PayPalClientSecret,
		BaseURL:      cfg.PayPalAPIURL,
		Currency:     cfg.PayPalCurrency,
	})

	// One orchestrator per gateway, sharing storage and notification plumbing
	paymentCfg := payment.Config{MinAmount: cfg.MinAmount}
	services := map[string]*payment.Service{
		handlers.GatewayMercadoPago: payment.NewService(store, mpProvider, notifier, sink, paymentCfg),
		handlers.GatewayPayPal:      payment.NewService(store, ppProvider, notifier, sink, paymentCfg),
	}

	// Initialize HTTP handlers
	httpHandlers := handlers.NewHandler(store, services, db, cfg.WebhookSecret)

	// Initialize worker processor
	processor := worker.NewProcessor(store, worker.ProcessorConfig{
		NotificationURL: cfg.NotificationURL,
		Secret:          cfg.InternalSecret,
	})

	// Register worker handlers
	q.Mux.HandleFunc(worker.TypeApprovalNotification, processor.ProcessApprovalNotification)

	// Start Asynq worker in background
	redisOpt, serverConfig, err := queue.ServerConfig(cfg.RedisURL, cfg.WorkerConcurrency)
	if err != nil {
		log.Fatalf("Failed to create worker config: %v", err)
	}

	asynqServer := asynq.NewServer(redisOpt, serverConfig)

	go func() {
		log.Println("Starting Asynq worker...")
		if err := asynqServer.Run(q.Mux); err != nil {
			log.Fatalf("Asynq worker failed: %v", err)
		}
	}()

	// Initialize HTTP server
	httpServer := server.NewServer(cfg, httpHandlers)

	// Start HTTP server in background
	go func() {
		if err := httpServer.Start(); err != nil {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down gracefully...")

	// Shutdown Asynq worker
	asynqServer.Shutdown()

	// Give time for cleanup
	time.Sleep(2 * time.Second)

	log.Println("Shutdown complete")
}
