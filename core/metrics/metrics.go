package metrics

import (
	"time"

	"github.com/fieldops/dispatchd/core/model"
)

// OfferRecord represents a single resolved offer to be recorded.
type OfferRecord struct {
	JobRequestID   string
	TechnicianID   string
	CandidateIndex int
	Status         model.OfferStatus
	IssuedAt       time.Time
	Latency        time.Duration
}

// OutcomeSink records dispatch activity for observability purposes.
type OutcomeSink interface {
	RecordOffer(rec OfferRecord) error
	RecordOutcome(out model.DispatchOutcome) error
}
