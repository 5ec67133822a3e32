package middleware

import (
	"bytes"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/passbi/busrace/internal/logger"
	"github.com/passbi/busrace/internal/ratelimit"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type observed struct {
	method, route string
	status        int
}

type fakeRecorder struct {
	mu   sync.Mutex
	seen []observed
}

func (r *fakeRecorder) ObserveRequest(method, route string, status int, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, observed{method, route, status})
}

func TestAnalyticsMiddleware(t *testing.T) {
	var buf bytes.Buffer
	rec := &fakeRecorder{}

	app := fiber.New()
	app.Use(AnalyticsMiddleware(logger.NewWithWriters(zerolog.DebugLevel, &buf), rec))
	app.Get("/buses", func(c *fiber.Ctx) error {
		c.Locals(LocalCacheSource, "hit")
		return c.JSON(fiber.Map{"ok": true})
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusServiceUnavailable, "down")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/buses?operator=AKT", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "hit", resp.Header.Get("X-Cache"))
	assert.NotEmpty(t, resp.Header.Get("X-Response-Time"))

	_, err = app.Test(httptest.NewRequest("GET", "/boom", nil))
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.seen, 2)
	assert.Equal(t, observed{"GET", "/buses", 200}, rec.seen[0])
	assert.Equal(t, observed{"GET", "/boom", 503}, rec.seen[1])

	out := buf.String()
	assert.Contains(t, out, `"operator":"AKT"`)
	assert.Contains(t, out, `"cache":"hit"`)
	assert.Contains(t, out, "Request failed")
}

func TestQuotaHeadersMiddleware(t *testing.T) {
	now := time.Unix(1700000000, 0)
	w := ratelimit.NewWindow(time.Minute, 4).WithClock(func() time.Time { return now })

	app := fiber.New()
	app.Use(QuotaHeadersMiddleware(w))
	app.Get("/buses", func(c *fiber.Ctx) error {
		w.Allow()
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/buses", nil))
	require.NoError(t, err)

	assert.Equal(t, "4", resp.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "3", resp.Header.Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", resp.Header.Get("X-RateLimit-Reset"))
}
