package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"

	"github.com/netvault/backend/internal/config"
	"github.com/netvault/backend/internal/database"
	"github.com/netvault/backend/internal/handlers"
	"github.com/netvault/backend/internal/middleware"
	"github.com/netvault/backend/internal/models"
	"github.com/netvault/backend/internal/progress"
	"github.com/netvault/backend/internal/services"
)

func main() {
	log.Println("Starting NetVault backend...")

	cfg := config.Load()

	if err := database.Connect(cfg); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := models.AutoMigrate(database.DB); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Seed the retention settings row so the scheduler and API always have
	// a policy to work with
	if _, err := models.GetRetentionSettings(database.DB); err != nil {
		log.Fatalf("Failed to initialize retention settings: %v", err)
	}

	tracker := progress.NewTracker(database.Redis)

	runner := services.NewBackupRunner(database.DB, tracker, cfg.MaxConcurrency)
	runner.SetNotifier(services.NewNotificationManager(database.DB))
	runner.SetMirror(services.NewOffsiteMirror(database.DB))

	backupScheduler := services.NewBackupSchedulerService(database.DB, runner)
	backupScheduler.Start()
	defer backupScheduler.Stop()

	retentionScheduler := services.NewRetentionSchedulerService(database.DB)
	retentionScheduler.Start()
	defer retentionScheduler.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "NetVault API",
		DisableStartupMessage: true,
		BodyLimit:             10 * 1024 * 1024,
	})

	app.Use(middleware.Recovery())
	app.Use(middleware.RequestID())
	app.Use(middleware.Logger())
	app.Use(middleware.CORS())
	app.Use(compress.New())

	setupRoutes(app, runner, tracker)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		log.Printf("NetVault API listening on %s", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	if err := app.Shutdown(); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Shutdown complete")
}

func setupRoutes(app *fiber.App, runner *services.BackupRunner, tracker *progress.Tracker) {
	deviceHandler := handlers.NewDeviceHandler(database.DB, runner)
	jobHandler := handlers.NewJobHandler(database.DB, runner, tracker)
	snapshotHandler := handlers.NewSnapshotHandler(database.DB)
	retentionHandler := handlers.NewRetentionHandler(database.DB)
	systemHandler := handlers.NewSystemHandler(database.DB)

	api := app.Group("/api/v1")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"success": true, "status": "ok"})
	})

	// Devices (inventory is read-only; backup actions are ours)
	devices := api.Group("/devices")
	devices.Get("/", deviceHandler.List)
	devices.Get("/:id", deviceHandler.Get)
	devices.Post("/:id/test", deviceHandler.TestConnection)
	devices.Post("/:id/backup", deviceHandler.Backup)

	// Backup jobs and executions
	jobs := api.Group("/jobs")
	jobs.Get("/", jobHandler.List)
	jobs.Get("/:id", jobHandler.Get)
	jobs.Post("/:id/run", jobHandler.Run)

	executions := api.Group("/executions")
	executions.Get("/", jobHandler.ListExecutions)
	executions.Get("/:id", jobHandler.GetExecution)
	executions.Get("/:id/progress", jobHandler.GetProgress)

	// Snapshots
	snapshots := api.Group("/snapshots")
	snapshots.Get("/", snapshotHandler.List)
	snapshots.Get("/:id", snapshotHandler.Get)
	snapshots.Get("/:id/content", snapshotHandler.GetContent)
	snapshots.Get("/:id/diff", snapshotHandler.Diff)
	snapshots.Get("/:id/diff/side-by-side", snapshotHandler.SideBySide)
	snapshots.Post("/:id/protect", snapshotHandler.Protect)
	snapshots.Post("/:id/unprotect", snapshotHandler.Unprotect)
	snapshots.Post("/:id/restore", snapshotHandler.Restore)

	// Offsite mirror
	api.Post("/mirror/test", systemHandler.TestMirror)

	// Retention
	retention := api.Group("/retention")
	retention.Get("/settings", retentionHandler.GetSettings)
	retention.Put("/settings", retentionHandler.UpdateSettings)
	retention.Get("/preview", retentionHandler.Preview)
	retention.Post("/run", retentionHandler.Run)
	retention.Get("/executions", retentionHandler.ListExecutions)
	retention.Get("/executions/:id", retentionHandler.GetExecution)
}
