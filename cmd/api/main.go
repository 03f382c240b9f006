package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/passbi/timetable_core/internal/api"
	"github.com/passbi/timetable_core/internal/bootstrap"
	"github.com/passbi/timetable_core/internal/config"
	"github.com/passbi/timetable_core/internal/middleware"
	"github.com/passbi/timetable_core/internal/storage"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local") // Overload forces override of existing values

	log.Println("Starting timetable API server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	services, err := bootstrap.Open(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}
	defer services.Close()

	uploads := storage.New(cfg.Storage.Root)
	if err := uploads.Init(); err != nil {
		log.Fatalf("Failed to initialize upload storage: %v", err)
	}
	log.Printf("✓ Upload storage ready at %s", uploads.Root())

	serverCfg := api.ServerConfig{
		BodyLimitMB:   cfg.Server.BodyLimitMB,
		AllowedOrigin: cfg.Server.AllowedOrigin,
	}

	// Redis-backed rate limiting only when a cache is configured
	var redisHealth api.HealthChecker
	if services.Redis != nil {
		redisHealth = services.Redis
		serverCfg.RateLimiter = middleware.RateLimitMiddleware(services.Redis.Redis(), middleware.RateLimits{
			PerSecond: cfg.RateLimit.PerSecond,
			PerDay:    cfg.RateLimit.PerDay,
		})
	}

	h := api.NewHandler(services.Store, services.Schedule, services.Importer, uploads, redisHealth)
	app := api.NewApp(h, serverCfg)

	addr := fmt.Sprintf(":%s", cfg.Server.Port)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down gracefully...")
		if err := app.Shutdown(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}()

	// Start server
	log.Printf("🚀 Server listening on http://localhost%s", addr)
	log.Printf("📍 Departures: http://localhost%s%s/departures?stopName=NAME&startingTime=HH:mm", addr, api.BasePath)
	log.Printf("❤️  Health check: http://localhost%s/health", addr)

	if err := app.Listen(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
