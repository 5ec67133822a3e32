package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/passbi/busrace/internal/logger"
	"github.com/passbi/busrace/internal/models"
	"github.com/passbi/busrace/internal/proximity"
	"github.com/passbi/busrace/internal/ratelimit"
)

// ErrRateLimited is returned when the shared upstream quota is exhausted
// and there is no data to fall back to
var ErrRateLimited = errors.New("upstream rate limit reached, try again shortly")

// Where a result came from
const (
	SourceFresh     = "fresh"
	SourceHit       = "hit"
	SourceCoalesced = "coalesced"
	SourceStale     = "stale"
	SourceMirror    = "mirror"
)

// Fetcher retrieves normalized vehicles for an operator
type Fetcher interface {
	FetchBuses(ctx context.Context, operator, clientName string) ([]models.Vehicle, error)
}

// StopProvider supplies the stop catalog
type StopProvider interface {
	Stops(ctx context.Context) ([]models.Stop, error)
}

// SnapshotStore mirrors the latest snapshot outside the process
type SnapshotStore interface {
	Save(ctx context.Context, snap models.Snapshot) error
	Load(ctx context.Context, operator string) (*models.Snapshot, error)
}

// Observer receives cache and upstream outcomes, e.g. for metrics
type Observer interface {
	CacheResult(source string)
	UpstreamRequest(success bool, d time.Duration)
}

// Result is the outcome of a Get call
type Result struct {
	Buses     []models.EnrichedVehicle
	FetchedAt time.Time
	Source    string
}

// OperatorStatus describes one cache entry
type OperatorStatus struct {
	Operator   string    `json:"operator"`
	Buses      int       `json:"buses"`
	FetchedAt  time.Time `json:"fetched_at"`
	Fresh      bool      `json:"fresh"`
	Refreshing bool      `json:"refreshing"`
}

// Options tune an OperatorCache
type Options struct {
	RefreshInterval time.Duration
	FetchTimeout    time.Duration
	Matcher         proximity.Matcher
	Store           SnapshotStore
	Observer        Observer
	Logger          logger.Logger
}

type entry struct {
	buses     []models.EnrichedVehicle
	fetchedAt time.Time
}

// call is a refresh in progress; done is closed once the fields are set
type call struct {
	done      chan struct{}
	buses     []models.EnrichedVehicle
	fetchedAt time.Time
	err       error
}

// OperatorCache holds the latest enriched result per operator. Concurrent
// callers for the same operator share one refresh, fresh entries are served
// without a network call, and every refresh must pass the shared limiter.
type OperatorCache struct {
	fetcher  Fetcher
	stops    StopProvider
	limiter  *ratelimit.Window
	matcher  proximity.Matcher
	ttl      time.Duration
	timeout  time.Duration
	store    SnapshotStore
	observer Observer
	log      logger.Logger
	now      func() time.Time

	mu        sync.Mutex
	entries   map[string]*entry
	inflight  map[string]*call
	listeners []func(models.Snapshot)
}

// NewOperatorCache wires the cache to its collaborators
func NewOperatorCache(fetcher Fetcher, stops StopProvider, limiter *ratelimit.Window, opts Options) *OperatorCache {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 15 * time.Second
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.Matcher.RadiusMeters <= 0 {
		opts.Matcher = proximity.NewMatcher(proximity.DefaultRadiusMeters)
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &OperatorCache{
		fetcher:  fetcher,
		stops:    stops,
		limiter:  limiter,
		matcher:  opts.Matcher,
		ttl:      opts.RefreshInterval,
		timeout:  opts.FetchTimeout,
		store:    opts.Store,
		observer: opts.Observer,
		log:      opts.Logger,
		now:      time.Now,
		entries:  make(map[string]*entry),
		inflight: make(map[string]*call),
	}
}

// WithClock replaces the time source; for tests
func (c *OperatorCache) WithClock(now func() time.Time) *OperatorCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// OnRefresh registers fn to be called after every successful refresh
func (c *OperatorCache) OnRefresh(fn func(models.Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// GetAvailableBuses returns the enriched buses for operator
func (c *OperatorCache) GetAvailableBuses(ctx context.Context, operator, clientName string) ([]models.EnrichedVehicle, error) {
	res, err := c.Get(ctx, operator, clientName)
	if err != nil {
		return nil, err
	}
	return res.Buses, nil
}

// Get applies, in order: join an in-flight refresh; serve a fresh entry;
// check the shared limiter (serving stale data when rejected); start a
// refresh. Leaving early through ctx does not cancel a started refresh.
func (c *OperatorCache) Get(ctx context.Context, operator, clientName string) (Result, error) {
	c.mu.Lock()

	if cl, ok := c.inflight[operator]; ok {
		c.mu.Unlock()
		c.observe(SourceCoalesced)
		return c.wait(ctx, cl, SourceCoalesced)
	}

	e := c.entries[operator]
	if e != nil && c.now().Sub(e.fetchedAt) < c.ttl {
		c.mu.Unlock()
		c.observe(SourceHit)
		return Result{Buses: cloneBuses(e.buses), FetchedAt: e.fetchedAt, Source: SourceHit}, nil
	}

	if !c.limiter.Allow() {
		c.mu.Unlock()
		if e != nil {
			c.observe(SourceStale)
			c.log.Debug("Rate limited, serving stale data", "operator", operator, "age", c.now().Sub(e.fetchedAt).String())
			return Result{Buses: cloneBuses(e.buses), FetchedAt: e.fetchedAt, Source: SourceStale}, nil
		}
		if snap := c.loadMirror(ctx, operator); snap != nil {
			c.observe(SourceMirror)
			return Result{Buses: snap.AvailableBuses, FetchedAt: snap.FetchedAt, Source: SourceMirror}, nil
		}
		c.observe("rate_limited")
		return Result{}, ErrRateLimited
	}

	cl := &call{done: make(chan struct{})}
	c.inflight[operator] = cl
	c.mu.Unlock()

	c.observe(SourceFresh)
	go c.refresh(operator, clientName, cl)

	return c.wait(ctx, cl, SourceFresh)
}

// Status lists every known operator, sorted by code
func (c *OperatorCache) Status() []OperatorStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	seen := make(map[string]bool)
	out := []OperatorStatus{}
	for op, e := range c.entries {
		_, refreshing := c.inflight[op]
		out = append(out, OperatorStatus{
			Operator:   op,
			Buses:      len(e.buses),
			FetchedAt:  e.fetchedAt,
			Fresh:      now.Sub(e.fetchedAt) < c.ttl,
			Refreshing: refreshing,
		})
		seen[op] = true
	}
	for op := range c.inflight {
		if !seen[op] {
			out = append(out, OperatorStatus{Operator: op, Refreshing: true})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operator < out[j].Operator })
	return out
}

// Limiter exposes the shared rate limit window
func (c *OperatorCache) Limiter() *ratelimit.Window {
	return c.limiter
}

func (c *OperatorCache) wait(ctx context.Context, cl *call, source string) (Result, error) {
	select {
	case <-cl.done:
		if cl.err != nil {
			return Result{}, cl.err
		}
		return Result{Buses: cloneBuses(cl.buses), FetchedAt: cl.fetchedAt, Source: source}, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// refresh runs detached from any caller's context so that a departing
// subscriber cannot abort a fetch other callers are waiting on
func (c *OperatorCache) refresh(operator, clientName string, cl *call) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	start := time.Now()
	buses, err := c.load(ctx, operator, clientName)
	if c.observer != nil {
		c.observer.UpstreamRequest(err == nil, time.Since(start))
	}

	c.mu.Lock()
	fetchedAt := c.now()
	if err == nil {
		c.entries[operator] = &entry{buses: buses, fetchedAt: fetchedAt}
	}
	delete(c.inflight, operator)
	listeners := append([]func(models.Snapshot){}, c.listeners...)
	cl.buses, cl.fetchedAt, cl.err = buses, fetchedAt, err
	c.mu.Unlock()
	close(cl.done)

	if err != nil {
		c.log.Warn("Refresh failed", "operator", operator, "error", err)
		return
	}

	c.log.Debug("Refreshed operator", "operator", operator, "buses", len(buses), "duration", time.Since(start).String())

	snap := models.Snapshot{Operator: operator, AvailableBuses: buses, FetchedAt: fetchedAt}
	c.saveMirror(snap)
	for _, fn := range listeners {
		fn(snap)
	}
}

// load is the fetch + enrichment pipeline
func (c *OperatorCache) load(ctx context.Context, operator, clientName string) (buses []models.EnrichedVehicle, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh panicked: %v", r)
		}
	}()

	vehicles, err := c.fetcher.FetchBuses(ctx, operator, clientName)
	if err != nil {
		return nil, err
	}

	stops, err := c.stops.Stops(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load stop catalog: %w", err)
	}

	return c.matcher.EnrichAll(vehicles, stops), nil
}

func (c *OperatorCache) loadMirror(ctx context.Context, operator string) *models.Snapshot {
	if c.store == nil {
		return nil
	}
	snap, err := c.store.Load(ctx, operator)
	if err != nil {
		c.log.Warn("Failed to read snapshot mirror", "operator", operator, "error", err)
		return nil
	}
	return snap
}

func (c *OperatorCache) saveMirror(snap models.Snapshot) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.store.Save(ctx, snap); err != nil {
		c.log.Warn("Failed to mirror snapshot", "operator", snap.Operator, "error", err)
	}
}

func (c *OperatorCache) observe(source string) {
	if c.observer != nil {
		c.observer.CacheResult(source)
	}
}

// cloneBuses copies the slices a caller could mutate
func cloneBuses(in []models.EnrichedVehicle) []models.EnrichedVehicle {
	out := make([]models.EnrichedVehicle, len(in))
	for i, b := range in {
		out[i] = b
		out[i].NearbyStops = append([]models.NearbyStop(nil), b.NearbyStops...)
		if out[i].NearbyStops == nil {
			out[i].NearbyStops = []models.NearbyStop{}
		}
	}
	return out
}
