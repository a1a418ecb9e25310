package dispatch

import (
	"fmt"

	"github.com/fieldops/dispatchd/core/rank"
)

// Config defines dispatch-related settings.
type Config struct {
	// OfferTimeoutSeconds is the response window for a single offer.
	OfferTimeoutSeconds int `json:"offer_timeout_seconds"`
	// MaxCandidates caps how many ranked technicians a single job may try.
	// Zero means no cap.
	MaxCandidates int `json:"max_candidates"`
	// Weights tunes the candidate ranking.
	Weights rank.Weights `json:"weights"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.OfferTimeoutSeconds == 0 {
		c.OfferTimeoutSeconds = 60
	}
	if c.Weights == (rank.Weights{}) {
		c.Weights = rank.DefaultWeights()
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.OfferTimeoutSeconds < 0 {
		return fmt.Errorf("offer_timeout_seconds must not be negative")
	}
	if c.MaxCandidates < 0 {
		return fmt.Errorf("max_candidates must not be negative")
	}
	return nil
}
