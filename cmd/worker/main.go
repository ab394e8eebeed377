package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"mealgate/internal/audit"
	"mealgate/internal/config"
	"mealgate/internal/queue"
	"mealgate/internal/store"
)

// Worker drains decision events from the queue and persists them to the
// Postgres audit log. Persisting is decoupled from the terminal so a slow or
// down database never delays an approval.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "mealgate:decisions")
	}

	repo := audit.NewRepository(db.Client)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for decisions...")
	for msg := range messages {
		if msg.Type != audit.MessageType {
			continue
		}

		d, err := audit.DecodeEvent(msg.Body)
		if err != nil {
			log.Printf("bad decision payload: %v", err)
			continue
		}

		if err := repo.InsertDecision(ctx, audit.FromEvent(d)); err != nil {
			log.Printf("insert decision %s failed: %v", d.ID, err)
			continue
		}
		log.Printf("decision %s (%s %s) recorded", d.ID, d.Type, d.UID)
	}

	log.Println("worker stopped")
}
