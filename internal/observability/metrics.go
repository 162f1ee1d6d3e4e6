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
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Metrics stores Prometheus collectors used by API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	messagesSentTotal     *prometheus.CounterVec
	messagesFailedTotal   *prometheus.CounterVec
	messageSendDuration   prometheus.Histogram
	jobsCompletedTotal    prometheus.Counter
	receiptsTotal         *prometheus.CounterVec
	retriesRecoveredTotal prometheus.Counter
	dispatchInflight      prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bulk_messaging",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "bulk_messaging",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		messagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bulk_messaging",
				Name:      "messages_sent_total",
				Help:      "Total number of messages accepted by the channel, by send path.",
			},
			[]string{"path"},
		),
		messagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bulk_messaging",
				Name:      "messages_failed_total",
				Help:      "Total number of message sends that ended in failed state, by error kind.",
			},
			[]string{"kind"},
		),
		messageSendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "bulk_messaging",
				Name:      "message_send_duration_seconds",
				Help:      "Channel send duration in seconds, including in-pass retries.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		jobsCompletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "bulk_messaging",
				Name:      "jobs_completed_total",
				Help:      "Total number of bulk jobs run to completion.",
			},
		),
		receiptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bulk_messaging",
				Name:      "receipts_total",
				Help:      "Total number of delivery receipts processed, by outcome.",
			},
			[]string{"outcome"},
		),
		retriesRecoveredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "bulk_messaging",
				Name:      "retries_recovered_total",
				Help:      "Total number of failed messages recovered by the retry scanner.",
			},
		),
		dispatchInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "bulk_messaging",
				Name:      "dispatch_inflight",
				Help:      "Current number of in-flight dispatch job runs.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.messagesSentTotal,
		m.messagesFailedTotal,
		m.messageSendDuration,
		m.jobsCompletedTotal,
		m.receiptsTotal,
		m.retriesRecoveredTotal,
		m.dispatchInflight,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// FiberHandler exposes the registry as a fiber route for the /metrics scrape
// endpoint.
func (m *Metrics) FiberHandler() fiber.Handler {
	scrape := fasthttpadaptor.NewFastHTTPHandler(m.Handler())
	return func(c *fiber.Ctx) error {
		scrape(c.Context())
		return nil
	}
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

// IncMessageSent records one accepted send. Path is "dispatch" for the worker
// and "retry" for the scanner.
func (m *Metrics) IncMessageSent(path string) {
	if m == nil {
		return
	}
	m.messagesSentTotal.WithLabelValues(normalizeLabel(path)).Inc()
}

func (m *Metrics) IncMessageFailed(kind string) {
	if m == nil {
		return
	}
	m.messagesFailedTotal.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *Metrics) ObserveMessageSendDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.messageSendDuration.Observe(seconds)
}

func (m *Metrics) IncJobCompleted() {
	if m == nil {
		return
	}
	m.jobsCompletedTotal.Inc()
}

// IncReceipt records one processed delivery receipt. Outcome is one of
// "applied", "ignored" (regression guard), or "dropped" (unresolved id).
func (m *Metrics) IncReceipt(outcome string) {
	if m == nil {
		return
	}
	m.receiptsTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncRetryRecovered() {
	if m == nil {
		return
	}
	m.retriesRecoveredTotal.Inc()
}

func (m *Metrics) IncDispatchInFlight() {
	if m == nil {
		return
	}
	m.dispatchInflight.Inc()
}

func (m *Metrics) DecDispatchInFlight() {
	if m == nil {
		return
	}
	m.dispatchInflight.Dec()
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

func normalizeLabel(v string) string {
	normalized := strings.ToLower(strings.TrimSpace(v))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
