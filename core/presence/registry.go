// Package presence tracks which technicians hold a live connection, whether
// they are accepting work, and which of them currently holds a pending offer.
// The registry is the only state shared between concurrent job dispatch flows.
package presence

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fieldops/dispatchd/core/events"
	"github.com/fieldops/dispatchd/core/logger"
	"github.com/fieldops/dispatchd/core/model"
	"github.com/fieldops/dispatchd/internal/eventbus"
)

// ErrTechnicianBusy is returned by MarkBusy when another job already holds a
// pending offer for the technician.
var ErrTechnicianBusy = errors.New("technician already holds a pending offer")

// ChannelHandle delivers an encoded message to one technician connection. The
// transport layer implements it; Send must not block on a slow consumer.
type ChannelHandle interface {
	Send(payload []byte) error
}

// DisconnectHook is invoked after a technician's connection is unregistered.
// The dispatcher uses it to treat a disconnect like a rejection when the
// technician holds a pending offer.
type DisconnectHook func(technicianID string)

// Registry is a thread-safe map of technician connections, profiles and busy
// flags. Mutations arrive concurrently from connection lifecycle events and
// from multiple job flows; every access is bounded (acquire, mutate, release).
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]ChannelHandle
	profiles map[string]model.TechnicianProfile
	busy     map[string]string // technician id -> job request id holding the pending offer
	hook     DisconnectHook
	bus      eventbus.EventBus
	log      logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		conns:    make(map[string]ChannelHandle),
		profiles: make(map[string]model.TechnicianProfile),
		busy:     make(map[string]string),
		log:      log,
	}
}

// SetDisconnectHook installs the dispatcher's disconnect handler. It must be
// set during wiring, before connections are accepted.
func (r *Registry) SetDisconnectHook(h DisconnectHook) {
	r.mu.Lock()
	r.hook = h
	r.mu.Unlock()
}

// SetEventBus installs an optional bus for PresenceChanged events.
func (r *Registry) SetEventBus(bus eventbus.EventBus) {
	r.mu.Lock()
	r.bus = bus
	r.mu.Unlock()
}

func (r *Registry) publishPresence(technicianID string, connected, available bool) {
	r.mu.RLock()
	bus := r.bus
	r.mu.RUnlock()
	if bus == nil {
		return
	}
	bus.Publish(events.PresenceChanged{
		TechnicianID: technicianID,
		Connected:    connected,
		Available:    available,
	})
}

// Register records a live connection for the technician. A second connection
// for the same technician replaces the first.
func (r *Registry) Register(technicianID string, h ChannelHandle) {
	r.mu.Lock()
	r.conns[technicianID] = h
	available := r.profiles[technicianID].Available
	r.mu.Unlock()
	r.log.Debugf("technician %s connected", technicianID)
	r.publishPresence(technicianID, true, available)
}

// Unregister removes the technician's connection and fires the disconnect
// hook. The hook runs outside the registry lock so the dispatcher may call
// back into the registry.
func (r *Registry) Unregister(technicianID string) {
	r.mu.Lock()
	_, had := r.conns[technicianID]
	delete(r.conns, technicianID)
	hook := r.hook
	available := r.profiles[technicianID].Available
	r.mu.Unlock()
	if !had {
		return
	}
	r.log.Debugf("technician %s disconnected", technicianID)
	r.publishPresence(technicianID, false, available)
	if hook != nil {
		hook(technicianID)
	}
}

// Connected reports whether the technician has a live connection.
func (r *Registry) Connected(technicianID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[technicianID]
	return ok
}

// UpsertProfile stores the technician's profile as pushed by their app.
func (r *Registry) UpsertProfile(p model.TechnicianProfile) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}
	r.mu.Lock()
	r.profiles[p.ID] = p
	r.mu.Unlock()
	return nil
}

// SetAvailability toggles whether the technician accepts new offers. The
// change is visible to the next ranking call.
func (r *Registry) SetAvailability(technicianID string, available bool) {
	r.mu.Lock()
	p, ok := r.profiles[technicianID]
	if !ok {
		p = model.TechnicianProfile{ID: technicianID}
	}
	p.Available = available
	r.profiles[technicianID] = p
	_, connected := r.conns[technicianID]
	r.mu.Unlock()
	r.publishPresence(technicianID, connected, available)
}

// Profile returns the stored profile for the technician.
func (r *Registry) Profile(technicianID string) (model.TechnicianProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[technicianID]
	return p, ok
}

// Snapshot returns the profiles of all currently connected technicians,
// ordered by id. Only connected technicians can receive offers, so the
// snapshot is the ranking pool.
func (r *Registry) Snapshot() []model.TechnicianProfile {
	r.mu.RLock()
	pool := make([]model.TechnicianProfile, 0, len(r.conns))
	for id := range r.conns {
		if p, ok := r.profiles[id]; ok {
			pool = append(pool, p)
		}
	}
	r.mu.RUnlock()
	sort.Slice(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })
	return pool
}

// MarkBusy flags the technician as holding a pending offer for the given job.
// ErrTechnicianBusy is returned when another job already holds the flag. A
// second mark by the same job is an internal invariant violation and is also
// rejected.
func (r *Registry) MarkBusy(technicianID, jobRequestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if holder, ok := r.busy[technicianID]; ok {
		if holder == jobRequestID {
			return fmt.Errorf("technician %s already marked busy by job %s", technicianID, jobRequestID)
		}
		return fmt.Errorf("%w: held by job %s", ErrTechnicianBusy, holder)
	}
	r.busy[technicianID] = jobRequestID
	return nil
}

// MarkFree clears the technician's busy flag. Clearing a flag held by a
// different job is an internal invariant violation.
func (r *Registry) MarkFree(technicianID, jobRequestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	holder, ok := r.busy[technicianID]
	if !ok {
		return fmt.Errorf("technician %s is not marked busy", technicianID)
	}
	if holder != jobRequestID {
		return fmt.Errorf("technician %s is busy with job %s, not %s", technicianID, holder, jobRequestID)
	}
	delete(r.busy, technicianID)
	return nil
}

// IsBusy reports whether the technician holds a pending offer. The ranker
// uses it for load demotion.
func (r *Registry) IsBusy(technicianID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.busy[technicianID]
	return ok
}

// BusyJob returns the job currently holding the technician's pending offer.
func (r *Registry) BusyJob(technicianID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.busy[technicianID]
	return job, ok
}

// Send delivers the payload over the technician's live channel. It returns
// false when the technician has no connection or the write fails; the caller
// treats that like an immediate rejection.
func (r *Registry) Send(technicianID string, payload []byte) bool {
	r.mu.RLock()
	h, ok := r.conns[technicianID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if err := h.Send(payload); err != nil {
		r.log.Debugf("send to %s failed: %v", technicianID, err)
		return false
	}
	return true
}
