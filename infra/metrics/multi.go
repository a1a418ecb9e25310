package metrics

import (
	coremetrics "github.com/fieldops/dispatchd/core/metrics"
	"github.com/fieldops/dispatchd/core/model"
)

// MultiSink fans records out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.OutcomeSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.OutcomeSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordOffer forwards the record to all sinks, returning the first error encountered.
func (m *MultiSink) RecordOffer(rec coremetrics.OfferRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordOffer(rec); err != nil {
			return err
		}
	}
	return nil
}

// RecordOutcome forwards the outcome to all sinks, returning the first error encountered.
func (m *MultiSink) RecordOutcome(out model.DispatchOutcome) error {
	for _, s := range m.Sinks {
		if err := s.RecordOutcome(out); err != nil {
			return err
		}
	}
	return nil
}
