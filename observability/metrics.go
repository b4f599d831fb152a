package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "atomicqueue"

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	queueMetricsOnce sync.Once
	queueRegistry    *QueueMetrics
)

// ModuleMetrics returns the lazily-initialised registry recording HTTP
// activity per module and method.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "module",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" or
// "replayed_nonce" so dashboards and alerts remain consistent.
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// QueueMetrics tracks request submissions and batch settlement.
type QueueMetrics struct {
	updates *prometheus.CounterVec
	solves  *prometheus.CounterVec
	fills   prometheus.Counter
	skips   *prometheus.CounterVec
	volume  *prometheus.CounterVec
	latency prometheus.Histogram
	paused  prometheus.Gauge
}

// Queue returns the singleton queue metrics registry.
func Queue() *QueueMetrics {
	queueMetricsOnce.Do(func() {
		queueRegistry = &QueueMetrics{
			updates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "request_updates_total",
				Help:      "Request submissions segmented by outcome.",
			}, []string{"outcome"}),
			solves: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "solves_total",
				Help:      "Solve calls segmented by outcome.",
			}, []string{"outcome"}),
			fills: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "filled_requests_total",
				Help:      "Requests settled by successful solves.",
			}),
			skips: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "skipped_requests_total",
				Help:      "Requests left out of successful solves, by reason.",
			}, []string{"reason"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "settled_volume_total",
				Help:      "Settled amounts in atomic units by asset and side.",
			}, []string{"asset", "side"}),
			latency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "solve_duration_seconds",
				Help:      "Latency distribution for solve calls.",
				Buckets:   prometheus.DefBuckets,
			}),
			paused: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "queue",
				Name:      "paused",
				Help:      "Indicates whether the queue is paused (1) or active (0).",
			}),
		}
		prometheus.MustRegister(
			queueRegistry.updates,
			queueRegistry.solves,
			queueRegistry.fills,
			queueRegistry.skips,
			queueRegistry.volume,
			queueRegistry.latency,
			queueRegistry.paused,
		)
	})
	return queueRegistry
}

// RecordUpdate counts a request submission.
func (m *QueueMetrics) RecordUpdate(err error) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(outcome(err)).Inc()
}

// RecordSolve counts a solve call. On success filled and skip reasons feed
// the per-request counters and totals feed the volume counters.
func (m *QueueMetrics) RecordSolve(d time.Duration, err error, filled int, skipReasons []string, offerAsset, wantAsset string, totalOffer, totalWant *big.Int) {
	if m == nil {
		return
	}
	m.solves.WithLabelValues(outcome(err)).Inc()
	m.latency.Observe(d.Seconds())
	if err != nil {
		return
	}
	m.fills.Add(float64(filled))
	for _, reason := range skipReasons {
		m.skips.WithLabelValues(reason).Inc()
	}
	m.volume.WithLabelValues(labelAsset(offerAsset), "offer").Add(bigToFloat(totalOffer))
	m.volume.WithLabelValues(labelAsset(wantAsset), "want").Add(bigToFloat(totalWant))
}

// SetPaused records the pause switch.
func (m *QueueMetrics) SetPaused(paused bool) {
	if m == nil {
		return
	}
	if paused {
		m.paused.Set(1)
		return
	}
	m.paused.Set(0)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
