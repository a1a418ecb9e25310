package logging

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fieldops/dispatchd/core/model"
)

func sampleRecord(jobID, techID string, ts time.Time) Record {
	return Record{
		Timestamp: ts,
		Job: model.JobRequest{
			ID:          jobID,
			CustomerID:  "cust-1",
			Category:    "Hardware",
			ServiceType: model.ServiceRemote,
			Urgency:     model.UrgencyNormal,
			CreatedAt:   ts,
		},
		Candidates: []string{techID},
		Offers: []model.Offer{{
			ID:           "offer-" + jobID,
			JobRequestID: jobID,
			TechnicianID: techID,
			IssuedAt:     ts,
			Deadline:     ts.Add(time.Minute),
			Status:       model.OfferAccepted,
		}},
		Outcome: model.DispatchOutcome{
			JobRequestID:        jobID,
			WinnerID:            techID,
			CandidatesAttempted: 1,
			Reason:              model.OutcomeAccepted,
			CompletedAt:         ts,
		},
	}
}

func runStoreSuite(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	recs := []Record{
		sampleRecord("job-1", "tech-a", base),
		sampleRecord("job-2", "tech-b", base.Add(time.Hour)),
		sampleRecord("job-3", "tech-a", base.Add(2*time.Hour)),
	}
	for _, r := range recs {
		if err := store.Append(ctx, r); err != nil {
			t.Fatalf("append %s: %v", r.Job.ID, err)
		}
	}

	all, err := store.Query(ctx, Query{})
	if err != nil {
		t.Fatalf("query all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records got %d", len(all))
	}

	byJob, err := store.Query(ctx, Query{JobRequestID: "job-2"})
	if err != nil {
		t.Fatalf("query by job: %v", err)
	}
	if len(byJob) != 1 || byJob[0].Job.ID != "job-2" {
		t.Fatalf("unexpected job filter result %v", byJob)
	}

	byTech, err := store.Query(ctx, Query{TechnicianID: "tech-a"})
	if err != nil {
		t.Fatalf("query by technician: %v", err)
	}
	if len(byTech) != 2 {
		t.Fatalf("expected 2 records for tech-a got %d", len(byTech))
	}

	windowed, err := store.Query(ctx, Query{
		Start: base.Add(30 * time.Minute),
		End:   base.Add(90 * time.Minute),
	})
	if err != nil {
		t.Fatalf("query window: %v", err)
	}
	if len(windowed) != 1 || windowed[0].Job.ID != "job-2" {
		t.Fatalf("unexpected window result %v", windowed)
	}

	if windowed[0].Outcome.WinnerID != "tech-b" || len(windowed[0].Offers) != 1 {
		t.Fatalf("record did not round-trip: %+v", windowed[0])
	}
}

func TestJSONLStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.log")
	store, err := NewJSONLStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = store.Close() }()
	runStoreSuite(t, store)
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer func() { _ = store.Close() }()
	runStoreSuite(t, store)
}

func TestQueryMatches(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := sampleRecord("job-1", "tech-a", base)

	checks := []struct {
		name string
		q    Query
		want bool
	}{
		{"empty query", Query{}, true},
		{"matching job", Query{JobRequestID: "job-1"}, true},
		{"other job", Query{JobRequestID: "job-2"}, false},
		{"matching technician", Query{TechnicianID: "tech-a"}, true},
		{"other technician", Query{TechnicianID: "tech-b"}, false},
		{"before window", Query{Start: base.Add(time.Minute)}, false},
		{"after window", Query{End: base.Add(-time.Minute)}, false},
		{"inside window", Query{Start: base.Add(-time.Minute), End: base.Add(time.Minute)}, true},
	}
	for _, c := range checks {
		if got := c.q.matches(rec); got != c.want {
			t.Errorf("%s: got %v want %v", c.name, got, c.want)
		}
	}
}
