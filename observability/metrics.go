package observability

import (
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics records protocol operation activity: counts by outcome,
// latency, and the current collateral-ratio gauge.
type EngineMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	ratio      prometheus.Gauge
	level      *prometheus.GaugeVec
}

// GatewayMetrics records HTTP surface activity.
type GatewayMetrics struct {
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	throttled prometheus.Counter
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics

	gatewayMetricsOnce sync.Once
	gatewayRegistry    *GatewayMetrics
)

// Engine returns the lazily-initialised engine metrics registry.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fxchain",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Total protocol operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "fxchain",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for protocol operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			ratio: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "fxchain",
				Subsystem: "engine",
				Name:      "collateral_ratio_e9",
				Help:      "Current collateral ratio, E9 fixed point.",
			}),
			level: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "fxchain",
				Subsystem: "engine",
				Name:      "level_active",
				Help:      "Set to 1 on the active collateral-ratio tier.",
			}, []string{"level"}),
		}
		prometheus.MustRegister(
			engineRegistry.operations,
			engineRegistry.latency,
			engineRegistry.ratio,
			engineRegistry.level,
		)
	})
	return engineRegistry
}

// Observe records one protocol operation.
func (m *EngineMetrics) Observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// SetCollateral publishes the current ratio and tier. A nil ratio means the
// stable supply is zero and the gauge is left untouched.
func (m *EngineMetrics) SetCollateral(ratio *big.Int, level string) {
	if m == nil {
		return
	}
	if ratio != nil {
		value, _ := new(big.Float).SetInt(ratio).Float64()
		m.ratio.Set(value)
	}
	for _, tier := range []string{"normal", "stability", "user-rebalance", "protocol-rebalance"} {
		active := 0.0
		if tier == level {
			active = 1.0
		}
		m.level.WithLabelValues(tier).Set(active)
	}
}

// Gateway returns the lazily-initialised gateway metrics registry.
func Gateway() *GatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &GatewayMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "fxchain",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total gateway requests segmented by route, method and status.",
			}, []string{"route", "method", "status"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "fxchain",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttled: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "fxchain",
				Subsystem: "gateway",
				Name:      "throttled_total",
				Help:      "Requests rejected by the rate limiter.",
			}),
		}
		prometheus.MustRegister(
			gatewayRegistry.requests,
			gatewayRegistry.duration,
			gatewayRegistry.throttled,
		)
	})
	return gatewayRegistry
}

// ObserveRequest records one HTTP request.
func (m *GatewayMetrics) ObserveRequest(route, method, status string, start time.Time) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, status).Inc()
	m.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
}

// ObserveThrottle records a rate-limited rejection.
func (m *GatewayMetrics) ObserveThrottle() {
	if m == nil {
		return
	}
	m.throttled.Inc()
}
