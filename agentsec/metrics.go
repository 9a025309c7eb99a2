package agentsec

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics are registered lazily and only once, so importing this
// package never forces a Prometheus registry dependency on a caller
// that never calls Protect.
var (
	metricsOnce sync.Once

	patchedLibraries  *prometheus.GaugeVec
	inspections       *prometheus.CounterVec
	inspectionLatency *prometheus.HistogramVec
)

func ensureMetrics(registerer prometheus.Registerer) {
	metricsOnce.Do(func() {
		patchedLibraries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "agentsec",
			Name:      "patched_libraries",
			Help:      "1 if the named provider library is currently patched.",
		}, []string{"provider"})

		inspections = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentsec",
			Name:      "inspections_total",
			Help:      "Count of inspection calls by surface and resulting action.",
		}, []string{"surface", "action"})

		inspectionLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentsec",
			Name:      "inspection_latency_seconds",
			Help:      "Latency of API-mode inspection calls, retries included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"surface"})

		if registerer != nil {
			registerer.MustRegister(patchedLibraries, inspections, inspectionLatency)
		}
	})
}

func recordPatched(provider string) {
	if patchedLibraries != nil {
		patchedLibraries.WithLabelValues(provider).Set(1)
	}
}

// RecordInspection counts one completed inspection call. surface is
// "llm" or "mcp". A no-op until Protect has registered the metrics.
func RecordInspection(surface string, action Action) {
	if inspections != nil {
		inspections.WithLabelValues(surface, string(action)).Inc()
	}
}

// ObserveInspectionLatency records the wall-clock duration of one
// inspection call, retries included. A no-op until Protect has
// registered the metrics.
func ObserveInspectionLatency(surface string, seconds float64) {
	if inspectionLatency != nil {
		inspectionLatency.WithLabelValues(surface).Observe(seconds)
	}
}
