package events

// PresenceChanged is published when a technician connects, disconnects or
// toggles availability.
type PresenceChanged struct {
	TechnicianID string
	Connected    bool
	Available    bool
}
