// Package metrics provides prometheus instrumentation and start/end timing
// hooks around fetch, cache, and scheduler operations. Aggregation and
// alerting live outside this process; the collector only exposes counters.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config represents metrics configuration.
type Config struct {
	Enabled   bool
	Port      int
	Path      string
	Namespace string
}

// Collector owns the prometheus registry and the metric families. A nil
// *Collector is valid and records nothing, so instrumentation points never
// need to branch.
type Collector struct {
	config   Config
	registry *prometheus.Registry

	operationDuration *prometheus.HistogramVec
	operationErrors   *prometheus.CounterVec
	cacheEvents       *prometheus.CounterVec
	poolConnections   *prometheus.GaugeVec
	tasksCompleted    *prometheus.CounterVec

	server *http.Server
}

// NewCollector creates a collector and registers the metric families.
func NewCollector(config Config) (*Collector, error) {
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if config.Namespace == "" {
		config.Namespace = "pkgfast"
	}

	registry := prometheus.NewRegistry()

	c := &Collector{
		config:   config,
		registry: registry,
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of fetch, cache, and scheduler operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		operationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "operation_errors_total",
			Help:      "Failed operations by type.",
		}, []string{"operation"}),
		cacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "cache_events_total",
			Help:      "Cache hits, misses, and promotions by tier.",
		}, []string{"tier", "event"}),
		poolConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "pool_connections",
			Help:      "Live pooled connections by host.",
		}, []string{"host"}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "scheduler_tasks_total",
			Help:      "Scheduler task settlements by outcome.",
		}, []string{"outcome"}),
	}

	collectors := []prometheus.Collector{
		c.operationDuration,
		c.operationErrors,
		c.cacheEvents,
		c.poolConnections,
		c.tasksCompleted,
	}
	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	return c, nil
}

// Timer is one in-progress timed operation.
type Timer struct {
	collector *Collector
	operation string
	start     time.Time
}

// Start begins timing an operation. Safe on a nil collector.
func (c *Collector) Start(operation string) *Timer {
	if c == nil {
		return nil
	}
	return &Timer{collector: c, operation: operation, start: time.Now()}
}

// End records the operation duration and, when err is non-nil, an error.
// Safe on a nil timer.
func (t *Timer) End(err error) {
	if t == nil {
		return
	}
	t.collector.operationDuration.WithLabelValues(t.operation).Observe(time.Since(t.start).Seconds())
	if err != nil {
		t.collector.operationErrors.WithLabelValues(t.operation).Inc()
	}
}

// RecordCacheEvent counts a hit, miss, or promotion for a cache tier.
func (c *Collector) RecordCacheEvent(tier, event string) {
	if c == nil {
		return
	}
	c.cacheEvents.WithLabelValues(tier, event).Inc()
}

// SetPoolConnections publishes the live connection count for a host.
func (c *Collector) SetPoolConnections(host string, n int) {
	if c == nil {
		return
	}
	c.poolConnections.WithLabelValues(host).Set(float64(n))
}

// RecordTask counts a scheduler task settlement.
func (c *Collector) RecordTask(outcome string) {
	if c == nil {
		return
	}
	c.tasksCompleted.WithLabelValues(outcome).Inc()
}

// Registry exposes the underlying registry for tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// StartServer serves the metrics endpoint when enabled.
func (c *Collector) StartServer() error {
	if c == nil || !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		_ = c.server.ListenAndServe()
	}()

	return nil
}

// StopServer shuts the metrics endpoint down.
func (c *Collector) StopServer(ctx context.Context) error {
	if c == nil || c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}
