package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/fieldops/dispatchd/core/metrics"
	"github.com/fieldops/dispatchd/core/model"
)

// PromSink records dispatch events in Prometheus metrics.
type PromSink struct {
	offers   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
}

// NewPromSink registers dispatch metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (coremetrics.OutcomeSink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(cfg coremetrics.Config, reg prometheus.Registerer) (coremetrics.OutcomeSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	offers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_offer_events_total",
		Help: "Total number of resolved offer events",
	}, []string{"technician_id", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_offer_response_seconds",
		Help:    "Time between offer issue and technician decision",
		Buckets: prometheus.DefBuckets,
	}, []string{"technician_id", "status"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_outcome_events_total",
		Help: "Total number of terminal dispatch outcomes",
	}, []string{"reason", "won"})
	for _, c := range []prometheus.Collector{offers, latency, outcomes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return &PromSink{offers: offers, latency: latency, outcomes: outcomes}, nil
}

// RecordOffer increments the per-technician offer counters.
func (s *PromSink) RecordOffer(rec coremetrics.OfferRecord) error {
	status := rec.Status.String()
	s.offers.WithLabelValues(rec.TechnicianID, status).Inc()
	s.latency.WithLabelValues(rec.TechnicianID, status).Observe(rec.Latency.Seconds())
	return nil
}

// RecordOutcome increments the terminal outcome counter.
func (s *PromSink) RecordOutcome(out model.DispatchOutcome) error {
	s.outcomes.WithLabelValues(out.Reason.String(), strconv.FormatBool(out.HasWinner())).Inc()
	return nil
}
