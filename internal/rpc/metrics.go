package rpc

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "walletbridge"

// Metrics holds the Prometheus collectors of the server.
type Metrics struct {
	registry *prometheus.Registry

	RequestCount   *prometheus.CounterVec
	RequestLatency *prometheus.HistogramVec
	ErrorCount     *prometheus.CounterVec

	BridgeCalls    *prometheus.CounterVec
	BridgeLatency  *prometheus.HistogramVec
	BridgeErrors   *prometheus.CounterVec
	BridgeSessions prometheus.Gauge

	WSClients prometheus.GaugeFunc
}

// NewMetrics creates the collectors on their own registry. wsClients reports
// the connected host UI clients.
func NewMetrics(wsClients func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rpc_requests_total",
				Help:      "Number of JSON-RPC requests received",
			},
			[]string{"method"},
		),
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "rpc_request_duration_seconds",
				Help:      "Latency of JSON-RPC requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ErrorCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rpc_errors_total",
				Help:      "Number of JSON-RPC errors",
			},
			[]string{"method"},
		),
		BridgeCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "bridge_calls_total",
				Help:      "Number of plugin bridge calls",
			},
			[]string{"func"},
		),
		// Spend and wallet calls wait on the user, hence the long tail
		BridgeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "bridge_call_duration_seconds",
				Help:      "Latency of plugin bridge calls",
				Buckets:   []float64{.005, .025, .1, .5, 1, 5, 15, 60, 300},
			},
			[]string{"func"},
		),
		BridgeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "bridge_errors_total",
				Help:      "Number of plugin bridge calls answered with an error",
			},
			[]string{"func"},
		),
		BridgeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "bridge_sessions",
				Help:      "Open plugin bridge sessions",
			},
		),
	}

	if wsClients == nil {
		wsClients = func() int { return 0 }
	}
	m.WSClients = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "ws_clients",
			Help:      "Connected host UI WebSocket clients",
		},
		func() float64 { return float64(wsClients()) },
	)

	m.registry.MustRegister(
		m.RequestCount, m.RequestLatency, m.ErrorCount,
		m.BridgeCalls, m.BridgeLatency, m.BridgeErrors, m.BridgeSessions,
		m.WSClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeRequest(method string, start time.Time, failed bool) {
	m.RequestCount.WithLabelValues(method).Inc()
	m.RequestLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if failed {
		m.ErrorCount.WithLabelValues(method).Inc()
	}
}

func (m *Metrics) observeBridge(fn string, start time.Time, failed bool) {
	m.BridgeCalls.WithLabelValues(fn).Inc()
	m.BridgeLatency.WithLabelValues(fn).Observe(time.Since(start).Seconds())
	if failed {
		m.BridgeErrors.WithLabelValues(fn).Inc()
	}
}
