package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ids-dashboard/backend/analytics"
	"ids-dashboard/backend/gateway"
	"ids-dashboard/backend/handlers"
	"ids-dashboard/backend/models"
	"ids-dashboard/backend/services"
	"ids-dashboard/backend/system"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func main() {
	configPath := flag.String("config", os.Getenv("DASHBOARD_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := system.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// 0. Initialize Logger
	if err := system.InitLogger(cfg.Log.Dir, cfg.Log.Level); err != nil {
		log.Printf("Warning: Could not initialize file logger: %v", err)
	}
	defer system.Close()

	system.Info("IDS dashboard starting (backend %s)...", cfg.Backend.BaseURL)

	// 1. Setup Database
	db, err := gorm.Open(sqlite.Open(cfg.Storage.SQLitePath), &gorm.Config{})
	if err != nil {
		system.Error("Failed to connect to database: %v", err)
		log.Fatal("Failed to connect to database:", err)
	}
	system.Info("Database connected: %s", cfg.Storage.SQLitePath)

	// WAL keeps geo cache writes from locking out operator logins.
	if err := db.Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
		system.Warn("Failed to enable WAL mode: %v", err)
	} else {
		system.Info("SQLite WAL mode enabled")
	}

	if err := db.AutoMigrate(&models.Operator{}, &models.GeoCacheEntry{}); err != nil {
		system.Error("Database migration failed: %v", err)
		log.Fatalf("CRITICAL: Database migration failed. Application cannot start: %v", err)
	}
	system.Info("Database migration completed successfully")

	// 2. Setup Services
	client, err := gateway.New(cfg.Backend.BaseURL,
		gateway.WithAdminToken(cfg.Backend.AdminToken),
		gateway.WithTimeout(cfg.Backend.Timeout.D()))
	if err != nil {
		log.Fatalf("Invalid backend URL: %v", err)
	}
	if cfg.Backend.AdminToken == "" {
		system.Warn("No admin token configured; admin calls will be rejected by the backend")
	}

	webhookService := services.NewWebhookService(cfg.Notify.WebhookURL)
	if webhookService.IsEnabled() {
		system.Info("Discord webhook configured")
	}

	notifiers := services.MultiNotifier{services.LogNotifier{}}
	if webhookService.IsEnabled() {
		notifiers = append(notifiers, webhookService)
	}
	var closers []func() error
	if cfg.Notify.NATSURL != "" {
		nn, err := services.NewNATSNotifier(cfg.Notify.NATSURL, cfg.Notify.NATSSubject)
		if err != nil {
			system.Warn("NATS notifications disabled: %v", err)
		} else {
			notifiers = append(notifiers, nn)
			closers = append(closers, nn.Close)
		}
	}
	if len(cfg.Notify.KafkaBrokers) > 0 {
		kn := services.NewKafkaNotifier(cfg.Notify.KafkaBrokers, cfg.Notify.KafkaTopic)
		notifiers = append(notifiers, kn)
		closers = append(closers, kn.Close)
		system.Info("Kafka notifications enabled (topic %s)", cfg.Notify.KafkaTopic)
	}

	iv := cfg.Poll.Intervals
	lim := cfg.Poll.Limits
	coord := services.NewCoordinator(client, services.CoordinatorOptions{
		Intervals: services.Intervals{
			Alerts:       iv.Alerts.D(),
			ActiveBlocks: iv.ActiveBlocks.D(),
			BlockHistory: iv.BlockHistory.D(),
			Config:       iv.Config.D(),
			Whitelist:    iv.Whitelist.D(),
			Status:       iv.Status.D(),
		},
		Limits: services.Limits{
			Alerts:       lim.Alerts,
			ActiveBlocks: lim.ActiveBlocks,
			BlockHistory: lim.BlockHistory,
			Whitelist:    lim.Whitelist,
		},
		Notifier: notifiers,
	})

	locator, geoRollup := setupGeo(cfg, db, coord)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord.Start(ctx)
	if geoRollup != nil {
		geoRollup.Start(ctx)
	}

	watcher := services.NewStatusWatcher(coord, webhookService, iv.Status.D(), cfg.Notify.AlertCooldown.D())
	watcher.Start(ctx)

	if cfg.Notify.DailyReport {
		services.NewDailyReporter(coord, webhookService).Start(ctx)
	}

	// 3. Setup Handlers
	secret := cfg.Server.JWTSecret
	if secret == "" {
		secret = uuid.NewString()
		system.Warn("No JWT secret configured; sessions will not survive a restart")
	}
	h := handlers.NewHandler(db, coord, geoRollup, locator, webhookService, secret)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
		Output:     os.Stdout,
	}))
	app.Use(cors.New())

	h.Register(app)
	handlers.ServeFrontend(app, cfg.Server.FrontendDir)

	handlers.AddEvent("success", "IDS dashboard started")

	go func() {
		time.Sleep(2 * time.Second)
		if webhookService.IsEnabled() {
			msg := fmt.Sprintf("IDS dashboard is now running on **%s** (%s)\nBackend: `%s`",
				cfg.Server.Listen, time.Now().Format("2006-01-02 15:04:05"), cfg.Backend.BaseURL)
			if err := webhookService.SendSystemAlert(ctx, "🚀 Dashboard Started", msg, services.ColorGreen); err != nil {
				system.Warn("Failed to send startup alert: %v", err)
			}
		}
	}()

	// Graceful Shutdown Handling
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sig
		system.Info("Gracefully shutting down...")

		watcher.Stop()
		if geoRollup != nil {
			geoRollup.Stop()
		}
		coord.Stop()

		if webhookService.IsEnabled() {
			_ = webhookService.SendSystemAlert(context.Background(), "🛑 Dashboard Stopping", "IDS dashboard is shutting down...", services.ColorOrange)
		}
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				system.Warn("Failed to close notifier: %v", err)
			}
		}
		cancel()

		_ = app.ShutdownWithTimeout(5 * time.Second)
	}()

	system.Info("Server starting on %s", cfg.Server.Listen)
	if err := app.Listen(cfg.Server.Listen); err != nil {
		log.Fatal(err)
	}
}

// setupGeo builds the cached locator and the background country rollup.
// Both are nil when geolocation is disabled.
func setupGeo(cfg *system.Config, db *gorm.DB, coord *services.Coordinator) (*services.CachedLocator, *services.GeoRollupService) {
	var inner analytics.Locator
	switch cfg.Geo.Provider {
	case "maxmind":
		mm, err := services.NewMaxMindLocator(cfg.Geo.MaxMindDB)
		if err != nil {
			system.Error("Failed to open GeoIP database, country rollup disabled: %v", err)
			return nil, nil
		}
		inner = mm
		system.Info("GeoIP database loaded: %s", cfg.Geo.MaxMindDB)
	case "http":
		inner = services.NewHTTPLocator(cfg.Geo.HTTPEndpoint)
		system.Info("Using HTTP geolocation at %s", cfg.Geo.HTTPEndpoint)
	default:
		system.Info("Geolocation disabled")
		return nil, nil
	}

	locator := services.NewCachedLocator(db, inner, cfg.Geo.Provider, cfg.Geo.CacheTTL.D())
	if n, err := locator.Purge(context.Background()); err != nil {
		system.Warn("Failed to purge expired geo cache entries: %v", err)
	} else if n > 0 {
		system.Info("Purged %d expired geo cache entries", n)
	}

	if cfg.Geo.RateLimit > 0 {
		locator.WithThrottle(services.NewTokenBucket(cfg.Geo.RateLimit, 1))
	} else if cfg.Geo.Provider == "http" {
		locator.WithThrottle(services.NewFixedDelay(cfg.Geo.RequestDelay.D()))
	}

	rollup := services.NewGeoRollupService(coord, locator, nil, cfg.Geo.TopN, cfg.Geo.RollupInterval.D(), nil)
	return locator, rollup
}
