package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	coremetrics "github.com/fieldops/dispatchd/core/metrics"
	"github.com/fieldops/dispatchd/core/model"
)

func offerRecord(tech string, status model.OfferStatus) coremetrics.OfferRecord {
	return coremetrics.OfferRecord{
		JobRequestID:   "job-1",
		TechnicianID:   tech,
		CandidateIndex: 0,
		Status:         status,
		IssuedAt:       time.Now(),
		Latency:        1500 * time.Millisecond,
	}
}

func TestPromSinkRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}

	if err := sink.RecordOffer(offerRecord("tech-1", model.OfferRejected)); err != nil {
		t.Fatalf("record offer: %v", err)
	}
	if err := sink.RecordOffer(offerRecord("tech-1", model.OfferRejected)); err != nil {
		t.Fatalf("record offer: %v", err)
	}
	if err := sink.RecordOffer(offerRecord("tech-2", model.OfferAccepted)); err != nil {
		t.Fatalf("record offer: %v", err)
	}

	ps := sink.(*PromSink)
	if got := testutil.ToFloat64(ps.offers.WithLabelValues("tech-1", "rejected")); got != 2 {
		t.Errorf("rejected offers for tech-1: got %v want 2", got)
	}
	if got := testutil.ToFloat64(ps.offers.WithLabelValues("tech-2", "accepted")); got != 1 {
		t.Errorf("accepted offers for tech-2: got %v want 1", got)
	}

	out := model.DispatchOutcome{
		JobRequestID:        "job-1",
		WinnerID:            "tech-2",
		CandidatesAttempted: 2,
		Reason:              model.OutcomeAccepted,
		CompletedAt:         time.Now(),
	}
	if err := sink.RecordOutcome(out); err != nil {
		t.Fatalf("record outcome: %v", err)
	}
	if got := testutil.ToFloat64(ps.outcomes.WithLabelValues("accepted", "true")); got != 1 {
		t.Errorf("outcomes: got %v want 1", got)
	}
}

func TestPromSinkDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

type countingSink struct {
	offers   int
	outcomes int
	err      error
}

func (s *countingSink) RecordOffer(coremetrics.OfferRecord) error {
	s.offers++
	return s.err
}

func (s *countingSink) RecordOutcome(model.DispatchOutcome) error {
	s.outcomes++
	return s.err
}

func TestMultiSinkFansOut(t *testing.T) {
	a := &countingSink{}
	b := &countingSink{}
	m := NewMultiSink(a, b)

	if err := m.RecordOffer(offerRecord("tech-1", model.OfferExpired)); err != nil {
		t.Fatalf("record offer: %v", err)
	}
	if err := m.RecordOutcome(model.DispatchOutcome{Reason: model.OutcomeExhausted}); err != nil {
		t.Fatalf("record outcome: %v", err)
	}
	if a.offers != 1 || b.offers != 1 || a.outcomes != 1 || b.outcomes != 1 {
		t.Fatalf("fan-out incomplete: %+v %+v", a, b)
	}
}

func TestMultiSinkStopsOnError(t *testing.T) {
	boom := errors.New("sink down")
	a := &countingSink{err: boom}
	b := &countingSink{}
	m := NewMultiSink(a, b)

	if err := m.RecordOffer(offerRecord("tech-1", model.OfferExpired)); !errors.Is(err, boom) {
		t.Fatalf("expected propagated error, got %v", err)
	}
	if b.offers != 0 {
		t.Fatalf("later sinks must not run after an error")
	}
}

func TestInfluxFallbackToNop(t *testing.T) {
	// nothing listens on this port, the health check must fail fast
	sink := NewInfluxSinkWithFallback(coremetrics.Config{
		InfluxURL:    "http://127.0.0.1:1",
		InfluxToken:  "t",
		InfluxOrg:    "o",
		InfluxBucket: "b",
	})
	if _, ok := sink.(coremetrics.NopSink); !ok {
		t.Fatalf("expected NopSink fallback, got %T", sink)
	}
	if err := sink.RecordOffer(offerRecord("tech-1", model.OfferAccepted)); err != nil {
		t.Fatalf("nop sink must accept records: %v", err)
	}
}
