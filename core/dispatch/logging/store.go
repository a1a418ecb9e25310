// Package logging persists terminal dispatch records for auditing. The log is
// append-only and written after the fact; it is not a recovery journal and a
// process restart loses in-flight offers.
package logging

import (
	"context"
	"time"

	"github.com/fieldops/dispatchd/core/model"
)

// Record captures one completed dispatch: the job, the candidate order fixed
// at dispatch start, every offer issued and the terminal outcome.
type Record struct {
	Timestamp  time.Time             `json:"timestamp"`
	Job        model.JobRequest      `json:"job"`
	Candidates []string              `json:"candidates"`
	Offers     []model.Offer         `json:"offers"`
	Outcome    model.DispatchOutcome `json:"outcome"`
}

// Query defines filters for retrieving records.
type Query struct {
	Start        time.Time
	End          time.Time
	JobRequestID string
	TechnicianID string
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// matches reports whether the record passes the query filters.
func (q Query) matches(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.JobRequestID != "" && r.Job.ID != q.JobRequestID {
		return false
	}
	if q.TechnicianID != "" {
		matched := false
		for _, o := range r.Offers {
			if o.TechnicianID == q.TechnicianID {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
