package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/eventstreamhq/engine/internal/config"
	"github.com/eventstreamhq/engine/internal/provider"
	"github.com/eventstreamhq/engine/internal/reconcile"
	"github.com/eventstreamhq/engine/internal/storage"
	"github.com/eventstreamhq/engine/internal/worker"
)

func main() {
	log.Println("Starting Event Stream Engine worker...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Fatalf("Failed to ping redis at %s: %v", cfg.Redis.Addr, err)
	}
	log.Println("Connected to redis")

	sender, err := buildSender(pingCtx, cfg.Provider)
	if err != nil {
		log.Fatalf("Failed to build provider: %v", err)
	}
	log.Printf("Provider: %s", cfg.Provider.Kind)

	store := storage.New(db)
	queue := worker.NewRedisJobQueue(redisClient, cfg.Worker.QueueKey)

	scheduler := worker.NewScheduler(store, queue, cfg.Scheduler.SweepInterval())
	orchestrator := worker.NewOrchestrator(store, sender, queue, redisClient, cfg.Worker.Concurrency)
	maintainer := worker.NewMaintainer(reconcile.New(store, sender), cfg.Scheduler.ReconcileInterval())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		sig := <-stop
		log.Printf("Received %v, shutting down", sig)
		cancel()
	}()

	go scheduler.Start(ctx)
	go maintainer.Start(ctx)

	// Blocks until the context is cancelled and in-flight jobs drain.
	orchestrator.Run(ctx)
	log.Println("Worker stopped")
}

func buildSender(ctx context.Context, cfg config.ProviderConfig) (provider.Sender, error) {
	switch cfg.Kind {
	case "twilio":
		return provider.NewTwilioSender(cfg.AccountSID, cfg.AuthToken, cfg.FromNumber,
			cfg.BaseURL, cfg.StatusCallback, cfg.Timeout()), nil
	case "sns":
		return provider.NewSNSSender(ctx, cfg.AWSRegion)
	default:
		return &provider.LogSender{}, nil
	}
}
