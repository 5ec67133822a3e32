package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/passbi/busrace/internal/logger"
)

// LocalCacheSource is the fiber local a handler sets to report where its
// data came from
const LocalCacheSource = "cache_source"

// RequestLog holds information about an API request for logging
type RequestLog struct {
	Endpoint       string
	Route          string
	Method         string
	Operator       string
	ResponseTimeMs int
	ResponseStatus int
	CacheSource    string
	IPAddress      string
	UserAgent      string
	Timestamp      time.Time
}

// RequestRecorder receives per-request measurements, e.g. for metrics
type RequestRecorder interface {
	ObserveRequest(method, route string, status int, d time.Duration)
}

// AnalyticsMiddleware logs every request and reports it to rec when set.
// Streaming responses are logged when the handler returns, before the
// stream body is written.
func AnalyticsMiddleware(log logger.Logger, rec RequestRecorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		responseTime := time.Since(start)

		status := c.Response().StatusCode()
		if err != nil {
			if e, ok := err.(*fiber.Error); ok {
				status = e.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		cacheSource, _ := c.Locals(LocalCacheSource).(string)

		requestLog := &RequestLog{
			Endpoint:       c.Path(),
			Route:          c.Route().Path,
			Method:         c.Method(),
			Operator:       c.Query("operator"),
			ResponseTimeMs: int(responseTime.Milliseconds()),
			ResponseStatus: status,
			CacheSource:    cacheSource,
			IPAddress:      c.IP(),
			UserAgent:      c.Get("User-Agent"),
			Timestamp:      time.Now(),
		}

		logRequest(log, requestLog)
		if rec != nil {
			rec.ObserveRequest(requestLog.Method, requestLog.Route, status, responseTime)
		}

		c.Set("X-Response-Time", responseTime.String())
		if cacheSource != "" {
			c.Set("X-Cache", cacheSource)
		}

		return err
	}
}

func logRequest(log logger.Logger, r *RequestLog) {
	fields := []interface{}{
		"method", r.Method,
		"path", r.Endpoint,
		"status", r.ResponseStatus,
		"duration_ms", r.ResponseTimeMs,
		"ip", r.IPAddress,
	}
	if r.Operator != "" {
		fields = append(fields, "operator", r.Operator)
	}
	if r.CacheSource != "" {
		fields = append(fields, "cache", r.CacheSource)
	}

	switch {
	case r.ResponseStatus >= 500:
		log.Warn("Request failed", fields...)
	default:
		log.Debug("Request", fields...)
	}
}
