package model

import "fmt"

// TechnicianProfile describes a service provider as seen by dispatch. The
// technician-facing app owns these fields and pushes updates through the
// presence registry; the dispatch core never mutates a profile.
type TechnicianProfile struct {
	ID           string        `json:"id"`
	Location     Coord         `json:"location"`
	Skills       []string      `json:"skills"`
	ServiceTypes []ServiceType `json:"service_types"`
	HourlyRate   float64       `json:"hourly_rate"`
	Rating       float64       `json:"rating"` // rolling average, 0..5
	Available    bool          `json:"available"`
}

// Validate checks that the profile is sound.
func (t TechnicianProfile) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("technician id is required")
	}
	if t.Rating < 0 || t.Rating > 5 {
		return fmt.Errorf("rating must be within [0,5]")
	}
	return nil
}

// HasSkill reports whether the technician lists the given category.
func (t TechnicianProfile) HasSkill(category string) bool {
	for _, s := range t.Skills {
		if s == category {
			return true
		}
	}
	return false
}

// Supports reports whether the technician can deliver the given service type.
func (t TechnicianProfile) Supports(st ServiceType) bool {
	for _, s := range t.ServiceTypes {
		if s == st {
			return true
		}
	}
	return false
}
