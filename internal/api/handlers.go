package api

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/passbi/timetable_core/internal/importer"
	"github.com/passbi/timetable_core/internal/models"
	"github.com/passbi/timetable_core/internal/schedule"
	"github.com/passbi/timetable_core/internal/storage"
	"github.com/passbi/timetable_core/internal/store"
)

// HealthChecker is an optional dependency reported by /health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
	Stats() map[string]interface{}
}

// Handler serves the timetable endpoints
type Handler struct {
	store    store.Store
	schedule *schedule.Service
	importer *importer.Importer
	uploads  *storage.Storage
	redis    HealthChecker
}

// NewHandler creates a Handler. redis may be nil when no cache is configured.
func NewHandler(s store.Store, svc *schedule.Service, im *importer.Importer, uploads *storage.Storage, redis HealthChecker) *Handler {
	return &Handler{
		store:    s,
		schedule: svc,
		importer: im,
		uploads:  uploads,
		redis:    redis,
	}
}

// Departures handles GET /trams-operations/departures
func (h *Handler) Departures(c *fiber.Ctx) error {
	return h.upcoming(c, h.schedule.Departures)
}

// Arrivals handles GET /trams-operations/arrivals
func (h *Handler) Arrivals(c *fiber.Ctx) error {
	return h.upcoming(c, h.schedule.Arrivals)
}

// DeparturesByDate handles GET /trams-operations/departuresByDate
func (h *Handler) DeparturesByDate(c *fiber.Ctx) error {
	return h.byDate(c, h.schedule.DeparturesByDate)
}

// ArrivalsByDate handles GET /trams-operations/arrivalsByDate
func (h *Handler) ArrivalsByDate(c *fiber.Ctx) error {
	return h.byDate(c, h.schedule.ArrivalsByDate)
}

type upcomingFunc func(ctx context.Context, stopName string, ref *models.Clock) ([]models.StopTime, error)

type byDateFunc func(ctx context.Context, stopName string, date models.Date) ([]models.StopTime, error)

func (h *Handler) upcoming(c *fiber.Ctx, query upcomingFunc) error {
	stopName := c.Query("stopName")
	if stopName == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "missing required parameter: stopName",
		})
	}

	var ref *models.Clock
	if s := c.Query("startingTime"); s != "" {
		parsed, err := models.ParseClock(s)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{
				"error": fmt.Sprintf("invalid 'startingTime' (expected HH:mm): %v", err),
			})
		}
		ref = &parsed
	}

	stopTimes, err := query(c.UserContext(), stopName, ref)
	if err != nil {
		return err
	}
	return c.JSON(stopTimes)
}

func (h *Handler) byDate(c *fiber.Ctx, query byDateFunc) error {
	stopName := c.Query("stopName")
	dateStr := c.Query("date")
	if stopName == "" || dateStr == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "missing required parameters: stopName and date",
		})
	}

	date, err := models.ParseDate(dateStr)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": fmt.Sprintf("invalid 'date': %v", err),
		})
	}

	stopTimes, err := query(c.UserContext(), stopName, date)
	if err != nil {
		return err
	}
	return c.JSON(stopTimes)
}

// Routes handles GET /trams-operations/routes
func (h *Handler) Routes(c *fiber.Ctx) error {
	routes, err := h.store.Routes(c.UserContext())
	if err != nil {
		return err
	}
	if routes == nil {
		routes = []models.Route{}
	}
	return c.JSON(routes)
}

// Stops handles GET /trams-operations/stops
func (h *Handler) Stops(c *fiber.Ctx) error {
	stops, err := h.store.Stops(c.UserContext())
	if err != nil {
		return err
	}
	if stops == nil {
		stops = []models.Stop{}
	}
	return c.JSON(stops)
}

// Imports handles GET /trams-operations/imports
func (h *Handler) Imports(c *fiber.Ctx) error {
	logs, err := h.store.ImportLogs(c.UserContext())
	if err != nil {
		return err
	}
	if logs == nil {
		logs = []models.ImportLog{}
	}
	return c.JSON(logs)
}

// Health handles GET /health
func (h *Handler) Health(c *fiber.Ctx) error {
	ctx := c.UserContext()

	// Check store
	storeErr := h.store.Ping(ctx)
	storeStatus := "ok"
	if storeErr != nil {
		storeStatus = storeErr.Error()
	}

	// Check Redis
	var redisErr error
	redisStatus := "disabled"
	if h.redis != nil {
		redisStatus = "ok"
		if redisErr = h.redis.HealthCheck(ctx); redisErr != nil {
			redisStatus = redisErr.Error()
		}
	}

	// Overall status
	status := "healthy"
	httpStatus := 200
	if storeErr != nil || redisErr != nil {
		status = "unhealthy"
		httpStatus = 503
	}

	resp := fiber.Map{
		"status": status,
		"checks": fiber.Map{
			"store": storeStatus,
			"redis": redisStatus,
		},
	}
	if h.redis != nil {
		resp["redis_pool"] = h.redis.Stats()
	}

	return c.Status(httpStatus).JSON(resp)
}
