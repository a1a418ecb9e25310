package events

import (
	"time"

	"github.com/fieldops/dispatchd/core/model"
)

// OfferIssued is published when an offer is pushed to a technician.
type OfferIssued struct {
	Offer model.Offer
}

// OfferResolved is published when a pending offer reaches a terminal status.
type OfferResolved struct {
	Offer   model.Offer
	Latency time.Duration
}
