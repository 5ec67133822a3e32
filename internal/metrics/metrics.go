package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	CacheResults    *prometheus.CounterVec // source label: fresh|hit|coalesced|stale|mirror|rate_limited
	UpstreamCalls   *prometheus.CounterVec // outcome label: success|failure
	RefreshDuration prometheus.Histogram

	StreamEvents        *prometheus.CounterVec // kind label: update|error
	ActiveSubscriptions prometheus.Gauge

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	HTTPRequests *prometheus.CounterVec // method, route, status
	HTTPDuration *prometheus.HistogramVec

	RefreshInterval prometheus.Gauge // seconds
	StreamInterval  prometheus.Gauge // seconds
}

func NewCollector(refreshInterval, streamInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		CacheResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "busrace_cache_results_total",
			Help: "Operator cache lookups by where the result came from.",
		}, []string{"source"}),
		UpstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "busrace_upstream_requests_total",
			Help: "Upstream refreshes by outcome.",
		}, []string{"outcome"}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "busrace_refresh_duration_seconds",
			Help:    "Duration of fetch and enrichment for one operator.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		StreamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "busrace_stream_events_total",
			Help: "Events written to stream subscribers.",
		}, []string{"kind"}),
		ActiveSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busrace_stream_subscriptions",
			Help: "Number of open stream subscriptions.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busrace_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busrace_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busrace_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "busrace_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "busrace_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "busrace_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		RefreshInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busrace_refresh_interval_seconds",
			Help: "Operator cache freshness window in seconds.",
		}),
		StreamInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busrace_stream_interval_seconds",
			Help: "Stream publish interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.CacheResults, c.UpstreamCalls, c.RefreshDuration,
		c.StreamEvents, c.ActiveSubscriptions,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.HTTPRequests, c.HTTPDuration,
		c.RefreshInterval, c.StreamInterval,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c.RefreshInterval.Set(refreshInterval.Seconds())
	c.StreamInterval.Set(streamInterval.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Registry exposes the underlying registry, mostly for tests
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// RegisterQuota exports the remaining upstream quota as a gauge read on scrape
func (c *Collector) RegisterQuota(remaining func() int) {
	c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "busrace_upstream_quota_remaining",
		Help: "Upstream calls still admitted in the current window.",
	}, func() float64 { return float64(remaining()) }))
}

// CacheResult counts one cache lookup
func (c *Collector) CacheResult(source string) {
	c.CacheResults.WithLabelValues(source).Inc()
}

// UpstreamRequest counts one refresh and records its duration
func (c *Collector) UpstreamRequest(success bool, d time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.UpstreamCalls.WithLabelValues(outcome).Inc()
	c.RefreshDuration.Observe(d.Seconds())
}

func (c *Collector) StreamEvent(isError bool) {
	kind := "update"
	if isError {
		kind = "error"
	}
	c.StreamEvents.WithLabelValues(kind).Inc()
}

func (c *Collector) SubscriptionOpened() { c.ActiveSubscriptions.Inc() }
func (c *Collector) SubscriptionClosed() { c.ActiveSubscriptions.Dec() }

func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }

func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
		return
	}
	c.NATSConnected.Set(0)
}

// ObserveRequest records one HTTP request
func (c *Collector) ObserveRequest(method, route string, status int, d time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
