// Package booking exposes the HTTP surface consumed by the booking flow and
// admin dashboards: job submission, outcome lookup and dispatch log queries.
package booking

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/fieldops/dispatchd/core/dispatch"
	"github.com/fieldops/dispatchd/core/dispatch/logging"
	"github.com/fieldops/dispatchd/core/logger"
	"github.com/fieldops/dispatchd/core/model"
	"github.com/fieldops/dispatchd/core/presence"
)

// DispatchService is the slice of the dispatcher the API needs.
type DispatchService interface {
	Submit(job model.JobRequest) (*dispatch.Handle, error)
	Cancel(jobRequestID string) error
	Outcome(jobRequestID string) (model.DispatchOutcome, bool)
	InFlight(jobRequestID string) bool
}

// Handler serves the booking-facing HTTP API.
type Handler struct {
	svc      DispatchService
	registry *presence.Registry
	store    logging.Store
	token    string
	log      logger.Logger
}

// NewHandler creates a Handler. store may be nil when no audit log is
// configured; token guards the log endpoint when non-empty.
func NewHandler(svc DispatchService, registry *presence.Registry, store logging.Store, token string, log logger.Logger) *Handler {
	return &Handler{svc: svc, registry: registry, store: store, token: token, log: log}
}

// Router returns the configured mux router.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/jobs", h.submitJob).Methods(http.MethodPost)
	r.HandleFunc("/api/jobs/{id}/outcome", h.jobOutcome).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{id}", h.cancelJob).Methods(http.MethodDelete)
	r.HandleFunc("/api/technicians", h.listTechnicians).Methods(http.MethodGet)
	r.HandleFunc("/api/dispatch/logs", h.queryLogs).Methods(http.MethodGet)
	return r
}

func (h *Handler) submitJob(w http.ResponseWriter, r *http.Request) {
	var job model.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		http.Error(w, "invalid job request body", http.StatusBadRequest)
		return
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	handle, err := h.svc.Submit(job)
	switch {
	case errors.Is(err, dispatch.ErrJobExists):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, dispatch.ErrDispatcherClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_request_id": handle.JobRequestID,
		"status":         "dispatching",
	})
}

func (h *Handler) jobOutcome(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if out, ok := h.svc.Outcome(id); ok {
		writeJSON(w, http.StatusOK, out)
		return
	}
	if h.svc.InFlight(id) {
		writeJSON(w, http.StatusAccepted, map[string]string{
			"job_request_id": id,
			"status":         "dispatching",
		})
		return
	}
	http.Error(w, "unknown job request", http.StatusNotFound)
}

func (h *Handler) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.svc.Cancel(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listTechnicians(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Snapshot())
}

// queryLogs serves the dispatch audit log. Requests must include an
// Authorization header with "Bearer <token>" when a token is configured.
func (h *Handler) queryLogs(w http.ResponseWriter, r *http.Request) {
	if h.token != "" {
		if r.Header.Get("Authorization") != "Bearer "+h.token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	if h.store == nil {
		http.Error(w, "dispatch log not configured", http.StatusNotFound)
		return
	}
	q := logging.Query{}
	if s := r.URL.Query().Get("start"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			q.Start = t
		}
	}
	if s := r.URL.Query().Get("end"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			q.End = t
		}
	}
	q.JobRequestID = r.URL.Query().Get("job_request_id")
	q.TechnicianID = r.URL.Query().Get("technician_id")
	records, err := h.store.Query(r.Context(), q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
