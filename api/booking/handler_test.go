package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fieldops/dispatchd/core/dispatch"
	"github.com/fieldops/dispatchd/core/dispatch/logging"
	"github.com/fieldops/dispatchd/core/model"
	"github.com/fieldops/dispatchd/core/presence"
	"github.com/fieldops/dispatchd/infra/logger"
)

type fakeService struct {
	submitted []model.JobRequest
	submitErr error
	cancelErr error
	outcomes  map[string]model.DispatchOutcome
	inFlight  map[string]bool
}

func (f *fakeService) Submit(job model.JobRequest) (*dispatch.Handle, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, job)
	done := make(chan model.DispatchOutcome, 1)
	return &dispatch.Handle{JobRequestID: job.ID, Done: done}, nil
}

func (f *fakeService) Cancel(jobRequestID string) error { return f.cancelErr }

func (f *fakeService) Outcome(jobRequestID string) (model.DispatchOutcome, bool) {
	out, ok := f.outcomes[jobRequestID]
	return out, ok
}

func (f *fakeService) InFlight(jobRequestID string) bool { return f.inFlight[jobRequestID] }

type memStore struct {
	records []logging.Record
}

func (m *memStore) Append(ctx context.Context, rec logging.Record) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *memStore) Query(ctx context.Context, q logging.Query) ([]logging.Record, error) {
	var res []logging.Record
	for _, r := range m.records {
		if q.JobRequestID == "" || r.Job.ID == q.JobRequestID {
			res = append(res, r)
		}
	}
	return res, nil
}

func (m *memStore) Close() error { return nil }

func newTestHandler(svc *fakeService, store logging.Store, token string) *Handler {
	registry := presence.NewRegistry(logger.NopLogger{})
	return NewHandler(svc, registry, store, token, logger.NopLogger{})
}

func TestSubmitJob(t *testing.T) {
	svc := &fakeService{}
	h := newTestHandler(svc, nil, "")

	body := `{"customer_id":"cust-1","category":"Hardware","service_type":"remote","urgency":"high"}`
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "dispatching" || resp["job_request_id"] == "" {
		t.Fatalf("unexpected response %v", resp)
	}
	if len(svc.submitted) != 1 {
		t.Fatalf("expected one submission")
	}
	job := svc.submitted[0]
	if job.ID == "" || job.CreatedAt.IsZero() {
		t.Fatalf("handler must fill id and created_at: %+v", job)
	}
	if job.Urgency != model.UrgencyHigh || job.ServiceType != model.ServiceRemote {
		t.Fatalf("enums not decoded: %+v", job)
	}
}

func TestSubmitJobErrors(t *testing.T) {
	checks := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"malformed body", "{not json", nil, http.StatusBadRequest},
		{"duplicate", `{"customer_id":"c","category":"x"}`, dispatch.ErrJobExists, http.StatusConflict},
		{"closed", `{"customer_id":"c","category":"x"}`, dispatch.ErrDispatcherClosed, http.StatusServiceUnavailable},
	}
	for _, c := range checks {
		h := newTestHandler(&fakeService{submitErr: c.err}, nil, "")
		req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewReader([]byte(c.body)))
		rr := httptest.NewRecorder()
		h.Router().ServeHTTP(rr, req)
		if rr.Code != c.want {
			t.Errorf("%s: expected %d got %d", c.name, c.want, rr.Code)
		}
	}
}

func TestJobOutcome(t *testing.T) {
	svc := &fakeService{
		outcomes: map[string]model.DispatchOutcome{
			"job-done": {
				JobRequestID:        "job-done",
				WinnerID:            "tech-1",
				CandidatesAttempted: 2,
				Reason:              model.OutcomeAccepted,
				CompletedAt:         time.Now(),
			},
		},
		inFlight: map[string]bool{"job-running": true},
	}
	h := newTestHandler(svc, nil, "")
	router := h.Router()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/jobs/job-done/outcome", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	var out model.DispatchOutcome
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.WinnerID != "tech-1" || out.Reason != model.OutcomeAccepted {
		t.Fatalf("unexpected outcome %+v", out)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/jobs/job-running/outcome", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("in-flight job should answer 202, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/jobs/job-unknown/outcome", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown job should answer 404, got %d", rr.Code)
	}
}

func TestCancelJob(t *testing.T) {
	h := newTestHandler(&fakeService{}, nil, "")
	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/jobs/job-1", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rr.Code)
	}

	h = newTestHandler(&fakeService{cancelErr: dispatch.ErrUnknownJob}, nil, "")
	rr = httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/jobs/job-1", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestListTechnicians(t *testing.T) {
	h := newTestHandler(&fakeService{}, nil, "")
	if err := h.registry.UpsertProfile(model.TechnicianProfile{ID: "tech-1", Rating: 4, Available: true}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	h.registry.Register("tech-1", nopHandle{})

	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/technicians", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	var got []model.TechnicianProfile
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != "tech-1" {
		t.Fatalf("unexpected snapshot %v", got)
	}
}

type nopHandle struct{}

func (nopHandle) Send([]byte) error { return nil }

func TestQueryLogsAuth(t *testing.T) {
	store := &memStore{records: []logging.Record{{
		Timestamp: time.Now(),
		Job:       model.JobRequest{ID: "job-1", CustomerID: "c", Category: "x"},
	}}}
	h := newTestHandler(&fakeService{}, store, "secret")
	router := h.Router()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/dispatch/logs", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/dispatch/logs?job_request_id=job-1", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var recs []logging.Record
	if err := json.Unmarshal(rr.Body.Bytes(), &recs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs) != 1 || recs[0].Job.ID != "job-1" {
		t.Fatalf("unexpected records %v", recs)
	}
}

func TestQueryLogsWithoutStore(t *testing.T) {
	h := newTestHandler(&fakeService{}, nil, "")
	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/dispatch/logs", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}
