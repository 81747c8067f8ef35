package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/skydz/dropwatch/internal/api"
	"github.com/skydz/dropwatch/internal/config"
	"github.com/skydz/dropwatch/internal/flightdata"
	"github.com/skydz/dropwatch/internal/geo"
	"github.com/skydz/dropwatch/internal/monitor"
	"github.com/skydz/dropwatch/internal/notifier"
	"github.com/skydz/dropwatch/internal/storage/sqlite"
	"github.com/skydz/dropwatch/internal/websocket"
	"github.com/skydz/dropwatch/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting DropWatch server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	// Ensure the database directory exists
	if dbDir := filepath.Dir(cfg.Storage.SQLitePath); dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			log.Error("Failed to create database directory", logger.Error(err), logger.String("path", dbDir))
			os.Exit(1)
		}
	}

	// Create SQLite session store
	sessionStore, err := sqlite.NewSessionStore(cfg.Storage.SQLitePath, log)
	if err != nil {
		log.Error("Failed to create SQLite session store", logger.Error(err))
		os.Exit(1)
	}
	defer sessionStore.Close()
	log.Info("Using SQLite storage", logger.String("path", cfg.Storage.SQLitePath))

	// Create flight data client
	flightClient := flightdata.NewClient(
		cfg.FlightData.SourceURL,
		cfg.FlightData.APIHost,
		cfg.FlightData.APIKey,
		time.Duration(cfg.FlightData.RequestTimeoutSecs)*time.Second,
		log,
	)

	// Build the drop zone registry and alias table from config
	zones := make([]geo.Zone, 0, len(cfg.Zones))
	for _, z := range cfg.Zones {
		zones = append(zones, geo.Zone{
			ID:               z.ID,
			Name:             z.Name,
			Lat:              z.Lat,
			Lon:              z.Lon,
			RadiusNM:         z.RadiusNM,
			FieldElevationFt: z.FieldElevationFt,
		})
	}
	names := make(map[string]string, len(cfg.Aircraft))
	for _, a := range cfg.Aircraft {
		names[a.Hex] = a.Name
	}

	// Create Slack notifier
	slackNotifier := notifier.NewSlackNotifier(
		cfg.Slack.WebhookURL,
		time.Duration(cfg.Slack.RequestTimeoutSecs)*time.Second,
		names,
		zones,
		log,
	)

	// Create WebSocket server
	wsServer := websocket.NewServer(log)
	go wsServer.Run()

	// Create monitor service
	monitorService := monitor.NewService(
		flightClient,
		sessionStore,
		slackNotifier,
		wsServer,
		zones,
		monitor.Config{
			PollInterval: time.Duration(cfg.Monitor.PollIntervalSecs) * time.Second,
			Thresholds: monitor.Thresholds{
				GroundThresholdFt: cfg.Monitor.GroundThresholdFt,
				SpeedThresholdKts: cfg.Monitor.SpeedThresholdKts,
				FreshnessWindow:   time.Duration(cfg.Monitor.FreshnessWindowSecs) * time.Second,
			},
			DebounceObservations: cfg.Monitor.DebounceObservations,
			FailureThreshold:     cfg.Monitor.FailureThreshold,
			BackoffInitial:       time.Duration(cfg.Monitor.BackoffInitialSecs) * time.Second,
			BackoffMax:           time.Duration(cfg.Monitor.BackoffMaxSecs) * time.Second,
		},
		log,
	)

	// Start monitor service (resumes any live sessions from storage)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := monitorService.Start(ctx); err != nil {
		log.Error("Failed to start monitor service", logger.Error(err))
		os.Exit(1)
	}

	// Create API router
	handler := api.NewHandler(monitorService, cfg, slackNotifier, log)
	router := api.NewRouter(handler, wsServer, log)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", logger.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", logger.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	// Stop the poll loops first so no writes race the shutdown
	log.Info("Stopping monitor service...")
	monitorService.Stop()
	log.Info("Monitor service stopped.")

	// Cancel the main context
	cancel()

	// Shutdown the HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	}

	log.Info("Server fully stopped")
}
