package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/passbi/busrace/internal/models"
)

// DefaultHeartbeat is how often an open stream is probed between events
const DefaultHeartbeat = 2 * time.Second

// Response headers for an event stream
var Headers = map[string]string{
	"Content-Type":      "text/event-stream",
	"Cache-Control":     "no-cache, no-transform",
	"Connection":        "keep-alive",
	"X-Accel-Buffering": "no",
}

var heartbeatFrame = []byte(": ping\n\n")

// WriteEvent frames v as one server-sent event and flushes it. An error
// means the connection is no longer writable.
func WriteEvent(w *bufio.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.WriteString("data: "); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := w.WriteString("\n\n"); err != nil {
		return err
	}
	return w.Flush()
}

// EventWriter serializes events and heartbeats onto one stream
type EventWriter struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func NewEventWriter(w *bufio.Writer) *EventWriter {
	return &EventWriter{w: w}
}

// Emit writes one event; it satisfies Emitter
func (e *EventWriter) Emit(ev models.UpdateEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return WriteEvent(e.w, ev)
}

// Ping writes an SSE comment, which clients ignore
func (e *EventWriter) Ping() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(heartbeatFrame); err != nil {
		return err
	}
	return e.w.Flush()
}

// KeepAlive pings every interval until ctx is done. The first failed ping
// calls gone and returns, so a departed client is noticed between events
// rather than at the next one.
func (e *EventWriter) KeepAlive(ctx context.Context, interval time.Duration, gone func()) {
	if interval <= 0 {
		interval = DefaultHeartbeat
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Ping(); err != nil {
				gone()
				return
			}
		}
	}
}
