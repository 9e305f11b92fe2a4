package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments cmd/cortex exposes on its
// /metrics endpoint, registered against reg (use prometheus.NewRegistry()
// in tests to avoid colliding with the global default registerer).
type Metrics struct {
	BusPending     prometheus.Gauge
	BusProcessing  prometheus.Gauge
	RouterInFlight *prometheus.GaugeVec
	RouterLatency  *prometheus.HistogramVec
}

// NewMetrics registers and returns the gauge/histogram set named in
// SPEC_FULL.md §2.1: cortex_bus_pending, cortex_bus_processing,
// router_jobs_in_flight, router_job_latency_seconds.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BusPending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cortex_bus_pending",
			Help: "Number of envelopes currently pending on the Bus.",
		}),
		BusProcessing: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cortex_bus_processing",
			Help: "Number of envelopes currently being processed by the Loop.",
		}),
		RouterInFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "router_jobs_in_flight",
			Help: "Number of Router jobs currently in execution, by tier.",
		}, []string{"tier"}),
		RouterLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "router_job_latency_seconds",
			Help:    "Time from dispatch to delivery for a Router job, by tier.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"tier", "status"}),
	}
}

// Handler returns the HTTP handler that serves reg's metrics in the
// Prometheus exposition format, for mounting at /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
