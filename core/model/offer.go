package model

import (
	"fmt"
	"time"
)

// OfferStatus tracks the lifecycle of a single offer.
type OfferStatus int

const (
	OfferPending OfferStatus = iota
	OfferAccepted
	OfferRejected
	OfferExpired
	OfferSuperseded
)

// String returns a human-readable representation of the offer status.
func (s OfferStatus) String() string {
	switch s {
	case OfferPending:
		return "pending"
	case OfferAccepted:
		return "accepted"
	case OfferRejected:
		return "rejected"
	case OfferExpired:
		return "expired"
	case OfferSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// ParseOfferStatus converts the wire representation into an OfferStatus.
func ParseOfferStatus(s string) (OfferStatus, error) {
	switch s {
	case "pending":
		return OfferPending, nil
	case "accepted":
		return OfferAccepted, nil
	case "rejected":
		return OfferRejected, nil
	case "expired":
		return OfferExpired, nil
	case "superseded":
		return OfferSuperseded, nil
	default:
		return 0, fmt.Errorf("unknown offer status %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s OfferStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *OfferStatus) UnmarshalText(b []byte) error {
	v, err := ParseOfferStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Offer is a time-boxed proposal of a job to one specific technician. At most
// one offer per job may be pending at any instant.
type Offer struct {
	ID             string      `json:"id"`
	JobRequestID   string      `json:"job_request_id"`
	TechnicianID   string      `json:"technician_id"`
	CandidateIndex int         `json:"candidate_index"`
	IssuedAt       time.Time   `json:"issued_at"`
	Deadline       time.Time   `json:"deadline"`
	Status         OfferStatus `json:"status"`
}

// Terminal reports whether the offer reached a final status.
func (o Offer) Terminal() bool {
	return o.Status != OfferPending
}
