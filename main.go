package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"progression-system/config"
	"progression-system/handlers"
	"progression-system/middleware"
	"progression-system/services"
	"progression-system/store"
	"progression-system/utils"
	"progression-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

const streamPath = "/user/progress/stream"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg)
	if err != nil {
		log.Fatal("failed to open store: ", err)
	}

	engCfg := services.DefaultEngineConfig()
	engCfg.Curve = services.Curve{BaseXP: cfg.LevelBaseXP, Growth: cfg.LevelGrowth}
	engCfg.Rewards = services.XPRewards{
		VideoComplete: cfg.XPVideoComplete,
		StreakDay:     cfg.XPStreak,
		PerBadge:      cfg.XPPerBadge,
	}
	engCfg.CompletionThreshold = cfg.CompletionThreshold
	engine, err := services.NewEngine(st, engCfg)
	if err != nil {
		log.Fatal("invalid leveling configuration: ", err)
	}

	// Snapshot export only runs with R2 credentials
	var exporter *services.SnapshotExporter
	if cfg.R2.Enabled() {
		uploader, err := utils.NewR2Uploader(ctx, cfg.R2)
		if err != nil {
			log.Fatal("failed to initialize R2 client: ", err)
		}
		exporter = services.NewSnapshotExporter(st, uploader)
	} else {
		log.Println("⚠️  R2 credentials not set, progress snapshot export disabled")
	}

	scheduler, err := services.NewScheduler(engine.Badges, exporter, services.SchedulerConfig{
		BadgeRepairInterval: cfg.BadgeRepairInterval,
		SnapshotHour:        cfg.SnapshotHour,
		Location:            cfg.StreakLocation,
	})
	if err != nil {
		log.Fatal("failed to create scheduler: ", err)
	}
	scheduler.Start()

	if cfg.SyncServiceURL != "" {
		syncWorker := workers.NewAccountSyncWorker(engine.Progression, cfg.SyncServiceURL, "/api/v1/public/profiles", cfg.ServiceToken)
		syncWorker.Start(ctx)
	} else {
		log.Println("⚠️  SYNC_SERVICE_URL not set, account sync worker disabled")
	}

	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, Cache-Control, X-Device-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// 🔐 Only Gateway requests allowed, except the SSE stream when it
	// authenticates its own query token
	var streamAuth fiber.Handler
	if cfg.AuthServiceURL != "" {
		streamAuth = middleware.SSEAuthMiddleware(services.NewAuthServiceClient(cfg.AuthServiceURL, cfg.ServiceToken))
		app.Use(middleware.GatewayAuthMiddleware(cfg.ServiceToken, streamPath))
	} else {
		app.Use(middleware.GatewayAuthMiddleware(cfg.ServiceToken))
	}

	handlers.SetupProgressionRoutes(app, handlers.NewProgressionHandler(engine, cfg.StreakLocation), streamAuth)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s (store=%s)", cfg.Port, cfg.StoreDriver)
	log.Printf("✅ CORS configured for origins: %s", strings.Join(cfg.AllowedOrigins, ","))

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := scheduler.Shutdown(); err != nil {
		log.Printf("Scheduler shutdown error: %v", err)
	}
	if err := app.Shutdown(); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	opts := store.Options{MaxRetries: cfg.TxMaxRetries, BaseLevelXP: cfg.LevelBaseXP}

	if cfg.StoreDriver == config.DriverMemory {
		log.Println("⚠️  STORE_DRIVER=memory, progress is not persisted")
		return store.NewMemoryStore(opts), nil
	}

	db, err := store.OpenPostgres(cfg.DatabaseURL, cfg.LogSQL)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(db); err != nil {
		return nil, err
	}
	return store.NewGormStore(db, opts), nil
}
