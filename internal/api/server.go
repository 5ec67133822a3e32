package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/passbi/busrace/internal/logger"
	"github.com/passbi/busrace/internal/metrics"
	"github.com/passbi/busrace/internal/middleware"
)

// AppOptions configures NewApp
type AppOptions struct {
	Logger  logger.Logger
	Metrics *metrics.Collector // nil disables /metrics
}

// NewApp builds the fiber application with middleware and routes
func NewApp(h *Handler, opts AppOptions) *fiber.App {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "busrace",
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          0, // streams stay open for as long as the client listens
		IdleTimeout:           120 * time.Second,
		ErrorHandler:          ErrorHandler(log),
		DisableStartupMessage: true,
	})

	var rec middleware.RequestRecorder
	if opts.Metrics != nil {
		rec = opts.Metrics
	}

	// Middleware
	app.Use(recover.New())
	app.Use(middleware.AnalyticsMiddleware(log, rec))
	app.Use(middleware.QuotaHeadersMiddleware(h.cache.Limiter()))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	// Routes
	app.Get("/health", h.Health)
	app.Get("/status", h.Status)
	app.Get("/buses", h.Buses)
	app.Get("/stream", h.Stream)
	app.Post("/jobs/fetch-buses", h.FetchJob)
	if opts.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(opts.Metrics.Handler()))
	}

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(404).JSON(fiber.Map{
			"error": "endpoint not found",
		})
	})

	return app
}
