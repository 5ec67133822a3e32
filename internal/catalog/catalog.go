package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/passbi/busrace/internal/logger"
	"github.com/passbi/busrace/internal/models"
)

// Source produces the full list of stops
type Source interface {
	LoadStops(ctx context.Context) ([]models.Stop, error)
}

// FileSource reads the catalog from a delimited text file
type FileSource struct {
	Path string
}

// LoadStops parses the file at Path
func (s FileSource) LoadStops(ctx context.Context) ([]models.Stop, error) {
	return ParseStopsFile(s.Path)
}

// Catalog memoizes the stop list for the lifetime of the process. A failed
// load is not memoized; the next call tries again. There is no invalidation.
type Catalog struct {
	source Source
	log    logger.Logger

	mu     sync.Mutex
	loaded bool
	stops  []models.Stop
	byID   map[string]models.Stop
}

// New creates a catalog backed by source
func New(source Source, log logger.Logger) *Catalog {
	if log == nil {
		log = logger.Nop()
	}
	return &Catalog{source: source, log: log}
}

// Stops returns the memoized stop list, loading it on first use. The
// returned slice is shared and must not be modified.
func (c *Catalog) Stops(ctx context.Context) ([]models.Stop, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded {
		return c.stops, nil
	}

	start := time.Now()
	stops, err := c.source.LoadStops(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]models.Stop, len(stops))
	for _, s := range stops {
		if _, exists := byID[s.ID]; !exists {
			byID[s.ID] = s
		}
	}

	c.stops = stops
	c.byID = byID
	c.loaded = true
	c.log.Info("Stop catalog loaded", "stops", len(stops), "duration", time.Since(start).String())

	return c.stops, nil
}

// Lookup finds a stop by id. It returns false until the catalog is loaded.
func (c *Catalog) Lookup(id string) (models.Stop, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.byID[id]
	return s, ok
}

// Loaded reports whether a load has succeeded
func (c *Catalog) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// Len returns the number of loaded stops
func (c *Catalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stops)
}
