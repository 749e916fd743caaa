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

	"github.com/savegress/vitalsense/internal/alerts"
	"github.com/savegress/vitalsense/internal/api"
	"github.com/savegress/vitalsense/internal/cache"
	"github.com/savegress/vitalsense/internal/config"
	"github.com/savegress/vitalsense/internal/devices"
	"github.com/savegress/vitalsense/internal/monitor"
	"github.com/savegress/vitalsense/internal/realtime"
	"github.com/savegress/vitalsense/internal/storage"
)

func main() {
	// Load configuration
	var cfg *config.Config
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	} else {
		cfg = config.LoadFromEnv()
	}

	log.Printf("Starting VitalSense - Patient Vital-Sign Monitoring Platform")
	log.Printf("Environment: %s", cfg.Server.Environment)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Select storage backend
	var (
		readingStore   storage.ReadingStore
		alertStore     storage.AlertStore
		thresholdStore storage.ThresholdStore
	)

	switch cfg.Storage.Type {
	case "postgres":
		db, err := storage.NewDB(ctx, cfg.Database.URL,
			int32(cfg.Database.MaxConns), int32(cfg.Database.MinConns))
		if err != nil {
			log.Fatalf("Failed to connect to postgres: %v", err)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}

		readingStore = storage.NewPostgresReadings(db)
		alertStore = storage.NewPostgresAlerts(db)
		thresholdStore = storage.NewPostgresThresholds(db)
		log.Println("Postgres storage initialized")

	case "memory", "":
		readingStore = storage.NewMemoryReadings()
		alertStore = storage.NewMemoryAlerts()
		thresholdStore = storage.NewMemoryThresholds()
		log.Println("In-memory storage initialized")

	default:
		log.Fatalf("Unknown storage type: %s", cfg.Storage.Type)
	}

	// WebSocket hub
	hub := realtime.NewHub()
	go hub.Run()

	// Optional Redis: latest-value cache plus cross-instance broadcasting
	broadcaster := realtime.Broadcaster(hub)
	var latestCache *cache.Cache

	if cfg.Redis.URL != "" {
		client, err := cache.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer client.Close()

		latestCache = cache.New(client, cfg.Redis.KeyPrefix)
		broadcaster = realtime.Multi{hub, realtime.NewRedisBroadcaster(client, cfg.Redis.KeyPrefix)}
		log.Println("Redis cache and broadcaster initialized")
	} else {
		latestCache = cache.New(nil, "")
	}

	// Alert manager and notifiers
	manager := alerts.NewManager(alertStore, broadcaster, cfg.Alerts.SuppressionWindow)
	if cfg.Alerts.Channels.Slack.WebhookURL != "" {
		manager.AddNotifier(alerts.NewSlackNotifier(cfg.Alerts.Channels.Slack))
		log.Println("Slack notifier configured")
	}
	if cfg.Alerts.Channels.Webhook.URL != "" {
		manager.AddNotifier(alerts.NewWebhookNotifier(cfg.Alerts.Channels.Webhook))
		log.Println("Webhook notifier configured")
	}
	if cfg.Server.Environment == "development" {
		manager.AddNotifier(alerts.NewConsoleNotifier())
	}

	// Device registry
	registry := devices.NewRegistry(&cfg.Devices)
	if err := registry.Start(ctx); err != nil {
		log.Fatalf("Failed to start device registry: %v", err)
	}
	log.Println("Device registry started")

	// Ingestion engine
	engine := monitor.NewEngine(cfg, readingStore, thresholdStore, alertStore,
		manager, registry, broadcaster, latestCache)
	registry.SetStatusChangeCallback(engine.DeviceOffline)

	// Create API server
	server := api.NewServer(cfg, engine, manager, readingStore, alertStore,
		registry, hub, latestCache)

	// Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Handler(),
	}

	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	registry.Stop()
	manager.Close()
	hub.Stop()

	log.Println("VitalSense stopped")
}
