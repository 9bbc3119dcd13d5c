package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/hubx/pagamentos/internal/config"
	"github.com/hubx/pagamentos/internal/database"
	"github.com/hubx/pagamentos/internal/queue"
	"github.com/hubx/pagamentos/internal/storage"
	"github.com/hubx/pagamentos/internal/worker"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Payment notification worker starting...")

	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	// Initialize database
	db, err := database.Connect(ctx, cfg.DatabaseURL, cfg.DBMinConns, cfg.DBMaxConns)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	store := storage.NewPostgres(db.Pool, cfg.RowLocksEnabled)

	// Initialize worker processor
	processor := worker.NewProcessor(store, worker.ProcessorConfig{
		NotificationURL: cfg.NotificationURL,
		Secret:          cfg.InternalSecret,
	})

	// Register worker handlers
	mux := asynq.NewServeMux()
	mux.HandleFunc(worker.TypeApprovalNotification, processor.ProcessApprovalNotification)

	// Start Asynq worker
	redisOpt, serverConfig, err := queue.ServerConfig(cfg.RedisURL, cfg.WorkerConcurrency)
	if err != nil {
		log.Fatalf("Failed to create worker config: %v", err)
	}

	asynqServer := asynq.NewServer(redisOpt, serverConfig)

	// Handle shutdown signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down worker...")
		asynqServer.Shutdown()
	}()

	log.Println("Worker started, processing tasks...")
	if err := asynqServer.Run(mux); err != nil {
		log.Fatalf("Worker failed: %v", err)
	}

	log.Println("Worker shutdown complete")
}
