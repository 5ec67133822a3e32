package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/passbi/busrace/internal/api"
	"github.com/passbi/busrace/internal/cache"
	"github.com/passbi/busrace/internal/catalog"
	"github.com/passbi/busrace/internal/config"
	"github.com/passbi/busrace/internal/db"
	"github.com/passbi/busrace/internal/events"
	"github.com/passbi/busrace/internal/feed"
	"github.com/passbi/busrace/internal/jobs"
	"github.com/passbi/busrace/internal/logger"
	"github.com/passbi/busrace/internal/metrics"
	"github.com/passbi/busrace/internal/proximity"
	"github.com/passbi/busrace/internal/ratelimit"
	"github.com/passbi/busrace/internal/stream"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Config{}).Fatal("Failed to load configuration", "error", err)
	}

	log := logger.New(logger.Config{Level: cfg.Logging.Level, FilePath: cfg.Logging.FilePath})
	log.Info("Starting busrace API server...")

	if _, err := cfg.ClientName(); err != nil {
		log.Warn("Upstream client name missing, every request will fail until it is set", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stop catalog
	var source catalog.Source
	var pool *pgxpool.Pool
	switch cfg.Stops.Source {
	case "postgres":
		pool, err = db.NewPool(ctx, db.LoadConfigFromEnv())
		if err != nil {
			log.Fatal("Failed to connect to database", "error", err)
		}
		defer pool.Close()
		source = catalog.PostgresSource{DB: pool}
		log.Info("✓ Database connection established")
	default:
		source = catalog.FileSource{Path: cfg.Stops.File}
	}
	stops := catalog.New(source, log)

	// Metrics
	var collector *metrics.Collector
	var observer cache.Observer
	var streamObserver stream.Observer
	var natsMetrics events.PublisherMetrics
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Cache.RefreshInterval, cfg.Stream.Interval)
		observer, streamObserver, natsMetrics = collector, collector, collector
	}

	limiter := ratelimit.NewWindow(cfg.Cache.RateLimitWindow, cfg.Cache.RateLimitMax)
	if collector != nil {
		collector.RegisterQuota(func() int { return limiter.Status().Remaining })
	}

	// Snapshot mirror
	var store cache.SnapshotStore
	var redisStore *cache.RedisStore
	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(ctx, cache.LoadRedisConfigFromEnv())
		if err != nil {
			log.Fatal("Failed to connect to Redis", "error", err)
		}
		redisStore = cache.NewRedisStore(client, cfg.Cache.SnapshotTTL)
		defer redisStore.Close()
		store = redisStore
		log.Info("✓ Redis connection established")
	}

	fetcher := feed.NewClient(cfg.Upstream.Endpoint, cfg.Upstream.MaxSize, cfg.Upstream.Timeout, log)
	operators := cache.NewOperatorCache(fetcher, stops, limiter, cache.Options{
		RefreshInterval: cfg.Cache.RefreshInterval,
		FetchTimeout:    cfg.Upstream.Timeout + 5*time.Second,
		Matcher:         proximity.NewMatcher(cfg.Cache.NearbyRadiusM),
		Store:           store,
		Observer:        observer,
		Logger:          log,
	})

	publisher := stream.NewPublisher(operators, cfg.Stream.Interval, streamObserver, log)
	runner := jobs.NewRunner(operators, cfg.ClientName, log)

	// Event bridge
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = events.Connect(ctx, cfg.NATS.URL, 30*time.Second, natsMetrics, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", "error", err)
		}
		defer nc.Close()

		bridge := events.NewBridge(nc, cfg.NATS.SubjectPrefix, runner, natsMetrics, log)
		operators.OnRefresh(bridge.PublishSnapshot)
		sub, err := bridge.ServeJobs()
		if err != nil {
			log.Fatal("Failed to subscribe job responder", "error", err)
		}
		defer sub.Unsubscribe()
		log.Info("✓ NATS connection established", "jobs", bridge.JobsSubject())
	}

	handler := api.NewHandler(ctx, operators, publisher, runner, cfg.ClientName, log).WithHeartbeat(cfg.Stream.Heartbeat)
	handler.AddCheck("catalog", func(ctx context.Context) error {
		_, err := stops.Stops(ctx)
		return err
	})
	if pool != nil {
		handler.AddCheck("database", func(ctx context.Context) error { return db.HealthCheck(ctx, pool) })
	}
	if redisStore != nil {
		handler.AddCheck("redis", redisStore.HealthCheck)
	}
	if nc != nil {
		handler.AddCheck("nats", func(ctx context.Context) error {
			if !nc.IsConnected() {
				return errors.New("NATS not connected")
			}
			return nil
		})
	}

	app := api.NewApp(handler, api.AppOptions{Logger: log, Metrics: collector})
	addr := fmt.Sprintf(":%s", cfg.Server.Port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server listening", "addr", addr)
		log.Info("Buses: http://localhost" + addr + "/buses?operator=AKT")
		log.Info("Stream: http://localhost" + addr + "/stream?operator=AKT")
		return app.Listen(addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down gracefully...")
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	if err := g.Wait(); err != nil {
		log.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("Server stopped")
}
