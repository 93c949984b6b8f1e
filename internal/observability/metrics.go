package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors for the delivery pipeline. All record
// methods tolerate a nil receiver so instrumentation stays optional.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	deliveriesScheduledTotal *prometheus.CounterVec
	enqueueFailuresTotal     *prometheus.CounterVec
	deliveriesTotal          *prometheus.CounterVec
	deliveryFailuresTotal    *prometheus.CounterVec
	deliveryDuration         *prometheus.HistogramVec
	bypassDeliveredTotal     prometheus.Counter
	batchesSkippedTotal      *prometheus.CounterVec
	ticksSkippedTotal        prometheus.Counter
	cleanupDeletedTotal      prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "outbox_relay",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "outbox_relay",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		deliveriesScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "outbox_relay",
				Name:      "deliveries_scheduled_total",
				Help:      "Total number of delivery obligations newly enqueued into the outbox.",
			},
			[]string{"adapter"},
		),
		enqueueFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "outbox_relay",
				Name:      "enqueue_failures_total",
				Help:      "Total number of outbox enqueue attempts that failed on store errors.",
			},
			[]string{"adapter"},
		),
		deliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "outbox_relay",
				Name:      "deliveries_total",
				Help:      "Total number of successful deliveries per adapter.",
			},
			[]string{"adapter"},
		),
		deliveryFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "outbox_relay",
				Name:      "delivery_failures_total",
				Help:      "Total number of failed delivery attempts per adapter and reason.",
			},
			[]string{"adapter", "reason"},
		),
		deliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "outbox_relay",
				Name:      "delivery_duration_seconds",
				Help:      "Adapter deliver call duration in seconds per adapter.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"adapter"},
		),
		bypassDeliveredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "outbox_relay",
				Name:      "bypass_delivered_total",
				Help:      "Total number of notifications delivered through the immediate realtime path.",
			},
		),
		batchesSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "outbox_relay",
				Name:      "batches_skipped_total",
				Help:      "Total number of batches skipped because the adapter was not ready.",
			},
			[]string{"adapter"},
		),
		ticksSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "outbox_relay",
				Name:      "worker_ticks_skipped_total",
				Help:      "Total number of worker ticks skipped because the previous pass was still in flight.",
			},
		),
		cleanupDeletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "outbox_relay",
				Name:      "cleanup_deleted_total",
				Help:      "Total number of delivered outbox entries purged by the retention janitor.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.deliveriesScheduledTotal,
		m.enqueueFailuresTotal,
		m.deliveriesTotal,
		m.deliveryFailuresTotal,
		m.deliveryDuration,
		m.bypassDeliveredTotal,
		m.batchesSkippedTotal,
		m.ticksSkippedTotal,
		m.cleanupDeletedTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncScheduled(adapterName string) {
	if m == nil {
		return
	}
	m.deliveriesScheduledTotal.WithLabelValues(normalizeAdapter(adapterName)).Inc()
}

func (m *Metrics) IncEnqueueFailed(adapterName string) {
	if m == nil {
		return
	}
	m.enqueueFailuresTotal.WithLabelValues(normalizeAdapter(adapterName)).Inc()
}

func (m *Metrics) IncDelivered(adapterName string) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(normalizeAdapter(adapterName)).Inc()
}

func (m *Metrics) IncFailed(adapterName string, reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.deliveryFailuresTotal.WithLabelValues(normalizeAdapter(adapterName), reasonLabel).Inc()
}

func (m *Metrics) ObserveDeliveryDuration(adapterName string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.deliveryDuration.WithLabelValues(normalizeAdapter(adapterName)).Observe(seconds)
}

func (m *Metrics) IncBypassDelivered() {
	if m == nil {
		return
	}
	m.bypassDeliveredTotal.Inc()
}

func (m *Metrics) IncBatchSkipped(adapterName string) {
	if m == nil {
		return
	}
	m.batchesSkippedTotal.WithLabelValues(normalizeAdapter(adapterName)).Inc()
}

func (m *Metrics) IncTickSkipped() {
	if m == nil {
		return
	}
	m.ticksSkippedTotal.Inc()
}

func (m *Metrics) AddCleanupDeleted(deleted int64) {
	if m == nil || deleted < 0 {
		return
	}
	m.cleanupDeletedTotal.Add(float64(deleted))
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeAdapter(adapterName string) string {
	normalized := strings.ToLower(strings.TrimSpace(adapterName))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
