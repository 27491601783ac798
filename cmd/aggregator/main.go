package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nycvalue/enrichment-server/internal/aggregation"
	"github.com/nycvalue/enrichment-server/internal/database"
	"github.com/nycvalue/enrichment-server/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting Aggregation Service...")

	// Connect to database
	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	fmt.Println("Connected to database")

	agg := aggregation.NewDailyAggregator(db)

	// Catch up on yesterday immediately, then run once a day.
	if err := agg.AggregatePreviousDay(); err != nil {
		log.Printf("Daily aggregation failed: %v", err)
	}

	timeOfDay := os.Getenv("AGGREGATION_DAILY_TIME")
	if timeOfDay == "" {
		timeOfDay = "00:05"
	}

	stopCh := make(chan struct{})
	go runDailySchedule(agg, timeOfDay, stopCh)

	fmt.Println("\n✓ Aggregation Service is running")
	fmt.Println("✓ Press Ctrl+C to stop")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	close(stopCh)
}

func runDailySchedule(agg *aggregation.DailyAggregator, timeOfDay string, stopCh <-chan struct{}) {
	for {
		nextRun, err := agg.CalculateNextRunTime(timeOfDay)
		if err != nil {
			log.Fatalf("Failed to calculate daily run time: %v", err)
		}
		fmt.Printf("Next daily aggregation scheduled for: %s\n", nextRun.Format("2006-01-02 15:04:05"))

		timer := time.NewTimer(time.Until(nextRun))
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
			fmt.Println("\n--- Running Daily Aggregation ---")
			if err := agg.AggregatePreviousDay(); err != nil {
				log.Printf("Daily aggregation failed: %v", err)
			}
			fmt.Println("--- Daily Aggregation Complete ---")
		}
	}
}
