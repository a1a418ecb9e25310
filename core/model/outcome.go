package model

import (
	"fmt"
	"time"
)

// OutcomeReason explains how a dispatch terminated.
type OutcomeReason int

const (
	OutcomeAccepted OutcomeReason = iota
	OutcomeExhausted
	OutcomeNoCandidates
	OutcomeCancelled
)

// String returns a human-readable representation of the outcome reason.
func (r OutcomeReason) String() string {
	switch r {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeNoCandidates:
		return "no_candidates"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ParseOutcomeReason converts the wire representation into an OutcomeReason.
func ParseOutcomeReason(s string) (OutcomeReason, error) {
	switch s {
	case "accepted":
		return OutcomeAccepted, nil
	case "exhausted":
		return OutcomeExhausted, nil
	case "no_candidates":
		return OutcomeNoCandidates, nil
	case "cancelled":
		return OutcomeCancelled, nil
	default:
		return 0, fmt.Errorf("unknown outcome reason %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r OutcomeReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *OutcomeReason) UnmarshalText(b []byte) error {
	v, err := ParseOutcomeReason(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// DispatchOutcome is the terminal record of a dispatch attempt. It is created
// exactly once per job request and immutable thereafter; downstream booking
// confirmation consumes it.
type DispatchOutcome struct {
	JobRequestID        string        `json:"job_request_id"`
	WinnerID            string        `json:"winner_id,omitempty"`
	CandidatesAttempted int           `json:"candidates_attempted"`
	Reason              OutcomeReason `json:"reason"`
	CompletedAt         time.Time     `json:"completed_at"`
}

// HasWinner reports whether a technician accepted the job.
func (o DispatchOutcome) HasWinner() bool { return o.WinnerID != "" }
