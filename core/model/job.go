package model

import (
	"fmt"
	"math"
	"time"
)

// ServiceType defines how a job is delivered to the customer.
type ServiceType int

const (
	ServiceRemote ServiceType = iota
	ServicePhone
	ServiceOnsite
)

// String returns a human-readable representation of the service type.
func (t ServiceType) String() string {
	switch t {
	case ServiceRemote:
		return "remote"
	case ServicePhone:
		return "phone"
	case ServiceOnsite:
		return "onsite"
	default:
		return "unknown"
	}
}

// ParseServiceType converts the wire representation into a ServiceType.
func ParseServiceType(s string) (ServiceType, error) {
	switch s {
	case "remote":
		return ServiceRemote, nil
	case "phone":
		return ServicePhone, nil
	case "onsite":
		return ServiceOnsite, nil
	default:
		return 0, fmt.Errorf("unknown service type %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler so JSON payloads carry the
// string form.
func (t ServiceType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ServiceType) UnmarshalText(b []byte) error {
	v, err := ParseServiceType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Urgency expresses how quickly the customer needs a technician.
type Urgency int

const (
	UrgencyLow Urgency = iota
	UrgencyNormal
	UrgencyHigh
	UrgencyCritical
)

// String returns a human-readable representation of the urgency level.
func (u Urgency) String() string {
	switch u {
	case UrgencyLow:
		return "low"
	case UrgencyNormal:
		return "normal"
	case UrgencyHigh:
		return "high"
	case UrgencyCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseUrgency converts the wire representation into an Urgency.
func ParseUrgency(s string) (Urgency, error) {
	switch s {
	case "low":
		return UrgencyLow, nil
	case "normal":
		return UrgencyNormal, nil
	case "high":
		return UrgencyHigh, nil
	case "critical":
		return UrgencyCritical, nil
	default:
		return 0, fmt.Errorf("unknown urgency %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (u Urgency) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *Urgency) UnmarshalText(b []byte) error {
	v, err := ParseUrgency(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// Coord is a WGS84 latitude/longitude pair.
type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance to the other coordinate using
// the haversine formula.
func (c Coord) DistanceKm(o Coord) float64 {
	lat1 := c.Lat * math.Pi / 180
	lat2 := o.Lat * math.Pi / 180
	dLat := (o.Lat - c.Lat) * math.Pi / 180
	dLon := (o.Lon - c.Lon) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

// Location couples a coordinate with the customer-facing address.
type Location struct {
	Coord   Coord  `json:"coord"`
	Address string `json:"address"`
}

// JobRequest is a customer's submitted need for technical support. It is
// created by the booking flow and immutable once submitted to dispatch.
type JobRequest struct {
	ID          string      `json:"id"`
	CustomerID  string      `json:"customer_id"`
	Category    string      `json:"category"`
	ServiceType ServiceType `json:"service_type"`
	Urgency     Urgency     `json:"urgency"`
	Location    Location    `json:"location"`
	Description string      `json:"description"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Validate checks that the request carries the fields dispatch depends on.
func (j JobRequest) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job request id is required")
	}
	if j.CustomerID == "" {
		return fmt.Errorf("customer id is required")
	}
	if j.Category == "" {
		return fmt.Errorf("category is required")
	}
	return nil
}
