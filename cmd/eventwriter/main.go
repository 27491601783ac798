package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nycvalue/enrichment-server/internal/database"
	"github.com/nycvalue/enrichment-server/internal/queue"
	"github.com/nycvalue/enrichment-server/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting Score Event Writer...")

	// Connect to database
	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	fmt.Println("Connected to database")

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicScores, cfg.Kafka.GroupID)
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writer := queue.NewBatchWriter(consumer, db, 100, 5*time.Second)
	writer.Start(ctx)
	defer writer.Stop()

	fmt.Printf("\n✓ Consuming %s (group %s)\n", cfg.Kafka.TopicScores, cfg.Kafka.GroupID)
	fmt.Println("✓ Press Ctrl+C to stop")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	cancel()
}
