// Package main is the entry point for the booking calendar sync server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/booking-calendar-sync/backend/internal/api"
	"github.com/booking-calendar-sync/backend/internal/audit"
	"github.com/booking-calendar-sync/backend/internal/availability"
	"github.com/booking-calendar-sync/backend/internal/caldav"
	"github.com/booking-calendar-sync/backend/internal/calendar"
	"github.com/booking-calendar-sync/backend/internal/config"
	"github.com/booking-calendar-sync/backend/internal/logging"
	"github.com/booking-calendar-sync/backend/internal/retry"
	"github.com/booking-calendar-sync/backend/internal/storage"
	"github.com/booking-calendar-sync/backend/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
// Defaults to "dev" when not provided.
var version = "dev"

func main() {
	configPath := flag.String("config", "", "Path to the YAML config file (default: <data>/config.yaml)")
	dataDir := flag.String("data", "", "Data directory for the SQLite database")
	addr := flag.String("addr", "", "HTTP server address")
	healthCheck := flag.Bool("health-check", false, "Run health check and exit")
	flag.Parse()

	// Health check mode for Docker HEALTHCHECK
	if *healthCheck {
		target := *addr
		if target == "" {
			target = config.DefaultConfig().Listen
		}
		if err := runHealthCheck(target); err != nil {
			fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if envVer := os.Getenv("VERSION"); envVer != "" {
		version = envVer
	}

	if err := run(*configPath, *dataDir, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "booking-sync: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, dataDir, addr string) error {
	if configPath == "" {
		dir := dataDir
		if dir == "" {
			dir = config.DefaultConfig().DataDir
		}
		configPath = filepath.Join(dir, "config.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if addr != "" {
		cfg.Listen = addr
	}

	logger := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	logger.Info("starting booking calendar sync", "version", version, "config", configPath)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.NewDB(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := storage.RunMigrations(ctx, db, logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	bookings := storage.NewBookingRepository(db)
	staff := storage.NewStaffRepository(db)
	meta := storage.NewMetaRepository(db)
	auditLog := storage.NewAuditRepository(db)

	hub := websocket.NewHub(logger)
	go hub.Run(ctx)

	sink := audit.NewSink(auditLog, hub, logger)

	cache, err := availability.NewCache(cfg.Availability.CacheSize, loc)
	if err != nil {
		return err
	}
	availabilityService := availability.NewService(cache, bookings, logger)

	client := caldav.NewClient(caldav.ClientConfig{
		Timeout:   cfg.CalDAVTimeout(),
		RateLimit: cfg.CalDAV.RateLimit,
		RateBurst: cfg.CalDAV.RateBurst,
		UserAgent: "booking-sync/" + version,
	})

	reconciler := calendar.NewReconciler(calendar.ReconcilerConfig{
		Store:       bookings,
		Credentials: staff,
		Transport:   client,
		Parser:      calendar.NewParser(loc, logger),
		Audit:       sink,
		Cache:       availabilityService.Cache(),
		Logger:      logger,
		UIDPrefix:   cfg.UIDPrefix,
		Workers:     cfg.Reconcile.Workers,
	})
	reconcileScheduler := calendar.NewScheduler(reconciler, hub, calendar.SchedulerConfig{
		Schedule:    cfg.Reconcile.Schedule,
		DaysBack:    cfg.Reconcile.DaysBack,
		DaysForward: cfg.Reconcile.DaysForward,
	}, logger)

	engine := retry.NewEngine(retry.EngineConfig{
		Bookings:    bookings,
		State:       meta,
		Services:    staff,
		Credentials: staff,
		Transport:   client,
		Builder:     caldav.NewGenerator(""),
		Audit:       sink,
		Logger:      logger,
		UIDPrefix:   cfg.UIDPrefix,
		MaxAttempts: cfg.Retry.MaxAttempts,
	})
	retryScheduler := retry.NewScheduler(engine, hub, cfg.Retry.Schedule, logger)

	if err := reconcileScheduler.Start(); err != nil {
		return err
	}
	defer reconcileScheduler.Stop()
	if err := retryScheduler.Start(); err != nil {
		return err
	}
	defer retryScheduler.Stop()

	router := api.NewRouter(api.Services{
		DB:                db,
		Hub:               hub,
		Bookings:          bookings,
		Audit:             sink,
		Availability:      availabilityService,
		Reconcile:         reconcileScheduler,
		Retry:             retryScheduler,
		NextRun:           reconcileScheduler,
		Location:          loc,
		AdminUsername:     cfg.Admin.Username,
		AdminPasswordHash: cfg.Admin.PasswordHash,
		Logger:            logger,
	})
	if cfg.Admin.Username == "" {
		logger.Warn("admin credentials not configured, API is unauthenticated")
	}

	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // manual reconcile passes run inline
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(addr string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://localhost" + addr + api.HealthPath)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
