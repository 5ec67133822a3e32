package api

import (
	"bufio"
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/passbi/busrace/internal/cache"
	"github.com/passbi/busrace/internal/config"
	"github.com/passbi/busrace/internal/jobs"
	"github.com/passbi/busrace/internal/logger"
	"github.com/passbi/busrace/internal/middleware"
	"github.com/passbi/busrace/internal/models"
	"github.com/passbi/busrace/internal/stream"
	"github.com/valyala/fasthttp"
)

// SourceDirect is the source reported by one-shot responses
const SourceDirect = "direct"

// msgMissingOperator is the body clients get when no operator is given
const msgMissingOperator = "Operator is required."

// Check probes one dependency for /health
type Check func(ctx context.Context) error

// Handler serves the HTTP surface on top of the shared cache
type Handler struct {
	cache      *cache.OperatorCache
	publisher  *stream.Publisher
	jobs       *jobs.Runner
	clientName func() (string, error)
	checks     map[string]Check
	baseCtx    context.Context
	heartbeat  time.Duration
	log        logger.Logger
	now        func() time.Time
}

// NewHandler wires the handlers. baseCtx bounds every stream: cancelling
// it closes all open subscriptions.
func NewHandler(baseCtx context.Context, c *cache.OperatorCache, p *stream.Publisher, r *jobs.Runner, clientName func() (string, error), log logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{
		cache:      c,
		publisher:  p,
		jobs:       r,
		clientName: clientName,
		checks:     make(map[string]Check),
		baseCtx:    baseCtx,
		heartbeat:  stream.DefaultHeartbeat,
		log:        log,
		now:        time.Now,
	}
}

// WithHeartbeat sets how often open streams are probed for a departed client
func (h *Handler) WithHeartbeat(d time.Duration) *Handler {
	if d > 0 {
		h.heartbeat = d
	}
	return h
}

// AddCheck registers a dependency probe reported by /health
func (h *Handler) AddCheck(name string, check Check) {
	h.checks[name] = check
}

// Buses handles GET /buses?operator=<code>
func (h *Handler) Buses(c *fiber.Ctx) error {
	operator := strings.TrimSpace(c.Query("operator"))
	if operator == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": msgMissingOperator,
		})
	}

	clientName, err := h.clientName()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	res, err := h.cache.Get(c.UserContext(), operator, clientName)
	if err != nil {
		return h.fetchError(c, operator, err)
	}

	c.Locals(middleware.LocalCacheSource, res.Source)

	return c.JSON(models.BusesResponse{
		Operator:       operator,
		AvailableBuses: res.Buses,
		UpdatedAt:      h.now(),
		Refreshing:     false,
		Source:         SourceDirect,
	})
}

// Stream handles GET /stream?operator=<code> as server-sent events. The
// subscription ends when a write fails (client gone) or on shutdown.
func (h *Handler) Stream(c *fiber.Ctx) error {
	operator := strings.TrimSpace(c.Query("operator"))
	if operator == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": msgMissingOperator,
		})
	}

	clientName, err := h.clientName()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	for k, v := range stream.Headers {
		c.Set(k, v)
	}

	ctx, cancel := context.WithCancel(h.baseCtx)
	log := h.log
	heartbeat := h.heartbeat

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		ew := stream.NewEventWriter(w)
		pinged := make(chan struct{})
		go func() {
			defer close(pinged)
			ew.KeepAlive(ctx, heartbeat, func() {
				log.Debug("Stream client gone", "operator", operator)
				cancel()
			})
		}()

		if err := h.publisher.Subscribe(ctx, operator, clientName, ew.Emit); err != nil {
			log.Debug("Stream closed", "operator", operator, "error", err)
		}

		// w belongs to fasthttp once this callback returns
		cancel()
		<-pinged
	}))

	return nil
}

// FetchJob handles POST /jobs/fetch-buses with body {"operator": "..."}
func (h *Handler) FetchJob(c *fiber.Ctx) error {
	var req jobs.FetchRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{
				"error": "invalid request body",
			})
		}
	}

	res, err := h.jobs.FetchBuses(c.UserContext(), req)
	switch {
	case errors.Is(err, jobs.ErrMissingOperator):
		return c.Status(400).JSON(fiber.Map{
			"error": msgMissingOperator,
		})
	case errors.Is(err, config.ErrMissingClientName):
		return c.Status(500).JSON(fiber.Map{
			"error": err.Error(),
		})
	case err != nil:
		return h.fetchError(c, req.Operator, err)
	}

	return c.JSON(res)
}

// Health handles GET /health
func (h *Handler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	checks := fiber.Map{}
	status := "healthy"
	httpStatus := 200

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = "unhealthy"
			httpStatus = 503
			continue
		}
		checks[name] = "ok"
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checks": checks,
	})
}

// Status handles GET /status: quota usage, cache entries and open streams
func (h *Handler) Status(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"rate_limit":    h.cache.Limiter().Status(),
		"operators":     h.cache.Status(),
		"subscriptions": h.publisher.Active(),
	})
}

// fetchError maps a cache failure to a response
func (h *Handler) fetchError(c *fiber.Ctx, operator string, err error) error {
	if errors.Is(err, cache.ErrRateLimited) {
		retry := h.cache.Limiter().RetryAfter()
		c.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
		return c.Status(503).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	h.log.Warn("Failed to get buses", "operator", operator, "error", err)
	return c.Status(500).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// ErrorHandler renders errors returned from handlers as JSON
func ErrorHandler(log logger.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError

		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		if code >= 500 {
			log.Error("Unhandled error", "path", c.Path(), "error", err)
		}

		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}
