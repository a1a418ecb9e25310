package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	offerLatency       *prometheus.HistogramVec
	offersIssued       *prometheus.CounterVec
	offersResolved     *prometheus.CounterVec
	outcomesTotal      *prometheus.CounterVec
	activeDispatches   prometheus.Gauge
	deliveryFailures   prometheus.Counter
	registryViolations prometheus.Counter
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.HistogramVec, *prometheus.CounterVec, *prometheus.CounterVec, *prometheus.CounterVec, prometheus.Gauge, prometheus.Counter, prometheus.Counter) {
	lat := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_offer_latency_seconds",
			Help:    "Time between offer issue and its terminal status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)
	issued := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_offers_issued_total",
			Help: "Number of offers pushed to technicians",
		},
		[]string{"urgency"},
	)
	resolved := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_offers_resolved_total",
			Help: "Number of offers reaching a terminal status",
		},
		[]string{"status"},
	)
	outcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_outcomes_total",
			Help: "Number of terminal dispatch outcomes",
		},
		[]string{"reason"},
	)
	active := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_active_jobs",
			Help: "Number of job requests currently being dispatched",
		},
	)
	delivery := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_delivery_failures_total",
			Help: "Number of offer sends that failed because the technician had no live connection",
		},
	)
	violations := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_registry_violations_total",
			Help: "Number of presence registry invariant violations",
		},
	)
	return lat, issued, resolved, outcomes, active, delivery, violations
}

func init() {
	offerLatency, offersIssued, offersResolved, outcomesTotal, activeDispatches, deliveryFailures, registryViolations = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(offerLatency, offersIssued, offersResolved, outcomesTotal, activeDispatches, deliveryFailures, registryViolations)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	offerLatency, offersIssued, offersResolved, outcomesTotal, activeDispatches, deliveryFailures, registryViolations = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
