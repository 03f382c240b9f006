package api

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// BasePath prefixes every timetable endpoint
const BasePath = "/trams-operations"

// ServerConfig tunes the fiber app
type ServerConfig struct {
	BodyLimitMB   int
	AllowedOrigin string
	// RateLimiter runs in front of the timetable endpoints when set
	RateLimiter fiber.Handler
	// Quiet disables request logging
	Quiet bool
}

// NewApp builds the fiber app serving h
func NewApp(h *Handler, cfg ServerConfig) *fiber.App {
	bodyLimit := cfg.BodyLimitMB
	if bodyLimit <= 0 {
		bodyLimit = 50
	}
	origin := cfg.AllowedOrigin
	if origin == "" {
		origin = "*"
	}

	app := fiber.New(fiber.Config{
		AppName:      "Timetable API",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    bodyLimit * 1024 * 1024,
		ErrorHandler: ErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	if !cfg.Quiet {
		app.Use(logger.New(logger.Config{
			Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origin,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	// Routes
	app.Get("/health", h.Health)

	v := app.Group(BasePath)
	if cfg.RateLimiter != nil {
		v.Use(cfg.RateLimiter)
	}
	v.Get("/departures", h.Departures)
	v.Get("/arrivals", h.Arrivals)
	v.Get("/departuresByDate", h.DeparturesByDate)
	v.Get("/arrivalsByDate", h.ArrivalsByDate)
	v.Get("/routes", h.Routes)
	v.Get("/stops", h.Stops)
	v.Get("/imports", h.Imports)
	v.Post("/uploadDataFile", h.UploadDataFile)

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(404).JSON(fiber.Map{
			"error": "endpoint not found",
		})
	})

	return app
}

// ErrorHandler handles errors returned from handlers
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	log.Printf("Error: %v", err)

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
