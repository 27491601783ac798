package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/nycvalue/enrichment-server/internal/database"
	"github.com/nycvalue/enrichment-server/internal/enrichment"
	"github.com/nycvalue/enrichment-server/internal/geocode"
	"github.com/nycvalue/enrichment-server/internal/market"
	"github.com/nycvalue/enrichment-server/internal/opendata"
	"github.com/nycvalue/enrichment-server/internal/queue"
	"github.com/nycvalue/enrichment-server/internal/scoring"
	"github.com/nycvalue/enrichment-server/internal/server"
	"github.com/nycvalue/enrichment-server/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	fmt.Println("Starting Enrichment Server...")

	// Connect to database
	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	fmt.Println("Connected to database")

	// Run migrations
	if err := db.RunMigrations("migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Redis-backed response cache for Open Data queries. The server works
	// without it, just slower.
	var cache *opendata.ResponseCache
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Printf("Redis unavailable, running without response cache: %v", err)
	} else {
		cache = opendata.NewResponseCache(redisClient)
		fmt.Println("Connected to Redis")
	}

	// Kafka producer for score events; optional like the cache.
	var producer enrichment.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Brokers[0] != "" {
		p := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicScores)
		defer p.Close()
		producer = p
		fmt.Printf("Kafka producer initialized (topic=%s)\n", cfg.Kafka.TopicScores)
	}

	client := opendata.NewSocrataClient(
		cfg.OpenData.BaseURL,
		cfg.OpenData.AppToken,
		cfg.OpenData.FetchTimeout,
		cache,
		cfg.OpenData.CacheTTL,
	)

	subway := scoring.NewSubwayService(db, client)
	orchestrator := enrichment.NewOrchestrator(
		subway,
		scoring.NewWalkabilityService(client, subway),
		scoring.NewNoiseService(client),
		scoring.NewParkingService(client),
		scoring.NewSchoolService(client, db),
		db,
		producer,
	)
	analyzer := market.NewService(db, client, producer)
	geocoder := geocode.NewClient()

	router := server.NewRouter(orchestrator, analyzer, geocoder, cfg.HTTP.AllowedOrigins)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: router,
	}

	go func() {
		fmt.Printf("\n✓ Enrichment Server listening on port %d\n", cfg.HTTP.Port)
		fmt.Println("✓ Press Ctrl+C to stop")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
