package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/eventstreamhq/engine/internal/api"
	"github.com/eventstreamhq/engine/internal/config"
	"github.com/eventstreamhq/engine/internal/reconcile"
	"github.com/eventstreamhq/engine/internal/storage"
	"github.com/eventstreamhq/engine/internal/webhook"
	"github.com/eventstreamhq/engine/internal/worker"
)

func main() {
	log.Println("Starting Event Stream Engine server...")

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
		// The server degrades without Redis (no trigger queue), but
		// webhooks and reporting still work.
		log.Printf("WARNING: redis unreachable at %s: %v", cfg.Redis.Addr, err)
	}

	store := storage.New(db)
	queue := worker.NewRedisJobQueue(redisClient, cfg.Worker.QueueKey)

	// The server-side reconciler applies receipts synchronously after
	// each status webhook; the stale-message repair runs in the worker.
	ingestor := webhook.NewIngestor(store, reconcile.New(store, nil))
	handlers := api.NewHandlers(store, queue, redisClient)
	srv := api.NewServer(api.NewRouter(handlers, ingestor))

	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(addr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		log.Fatalf("Server error: %v", err)
	case sig := <-stop:
		log.Printf("Received %v, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
