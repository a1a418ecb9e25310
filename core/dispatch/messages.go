package dispatch

import "github.com/fieldops/dispatchd/core/model"

// Message types exchanged with the technician client over the live channel.
const (
	MsgTypeOffer         = "job_offer"
	MsgTypeOfferClosed   = "job_offer_closed"
	MsgTypeOfferResponse = "offer_response"
)

// CloseReason explains why an offer was closed for reasons other than the
// technician's own response.
type CloseReason string

const (
	CloseWonByOther CloseReason = "won_by_other"
	CloseExpired    CloseReason = "expired"
	CloseCancelled  CloseReason = "cancelled"
)

// OfferMessage is pushed to a technician when an offer is issued.
type OfferMessage struct {
	Type             string `json:"type"`
	JobRequestID     string `json:"job_request_id"`
	Category         string `json:"category"`
	ServiceType      string `json:"service_type"`
	Urgency          string `json:"urgency"`
	CustomerLocation string `json:"customer_location"`
	DeadlineEpochMs  int64  `json:"deadline_epoch_ms"`
}

func newOfferMessage(job model.JobRequest, offer model.Offer) OfferMessage {
	return OfferMessage{
		Type:             MsgTypeOffer,
		JobRequestID:     job.ID,
		Category:         job.Category,
		ServiceType:      job.ServiceType.String(),
		Urgency:          job.Urgency.String(),
		CustomerLocation: job.Location.Address,
		DeadlineEpochMs:  offer.Deadline.UnixMilli(),
	}
}

// OfferClosedMessage tells a technician their pending offer is gone.
type OfferClosedMessage struct {
	Type         string      `json:"type"`
	JobRequestID string      `json:"job_request_id"`
	Reason       CloseReason `json:"reason"`
}

// Response is a technician's decision on an offer, routed in from the
// transport layer. Malformed or late responses are discarded without state
// change.
type Response struct {
	JobRequestID string
	TechnicianID string
	Accept       bool
}
