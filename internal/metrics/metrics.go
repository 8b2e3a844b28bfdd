// Package metrics exposes the hub's Prometheus collectors. Collectors are
// registered on the default registry at init and served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wakehub_runs_total",
		Help: "Completed wake-and-play runs by outcome branch",
	}, []string{"branch"})

	phaseSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wakehub_phase_seconds",
		Help:    "Duration of individual wake-and-play phases",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 45},
	}, []string{"phase"})

	breakerOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wakehub_breaker_open",
		Help: "Whether the per-device circuit breaker is open (1) or closed (0)",
	}, []string{"device"})

	discoveredDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wakehub_discovered_devices",
		Help: "Devices seen in the most recent discovery sweep",
	})
)

// RecordRun counts a finished run under its outcome branch.
func RecordRun(branch string) {
	runsTotal.WithLabelValues(branch).Inc()
}

// ObservePhase records how long a single phase took.
func ObservePhase(phase string, seconds float64) {
	phaseSeconds.WithLabelValues(phase).Observe(seconds)
}

// SetBreakerOpen records the breaker state for a device.
func SetBreakerOpen(device string, open bool) {
	value := 0.0
	if open {
		value = 1.0
	}
	breakerOpen.WithLabelValues(device).Set(value)
}

// SetDiscoveredDevices records the size of the last discovery sweep.
func SetDiscoveredDevices(count int) {
	discoveredDevices.Set(float64(count))
}
