// Package dispatch implements the real-time job offer engine: ranked
// candidate selection, time-boxed offers pushed over live connections and
// automatic escalation to the next candidate on rejection, timeout or
// disconnect. Exactly one technician may win a job.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/dispatchd/core/dispatch/logging"
	"github.com/fieldops/dispatchd/core/events"
	"github.com/fieldops/dispatchd/core/logger"
	coremetrics "github.com/fieldops/dispatchd/core/metrics"
	"github.com/fieldops/dispatchd/core/model"
	"github.com/fieldops/dispatchd/core/presence"
	"github.com/fieldops/dispatchd/core/rank"
	"github.com/fieldops/dispatchd/internal/eventbus"
)

var (
	// ErrJobExists is returned when a job request id was already submitted.
	ErrJobExists = errors.New("job request already dispatched")
	// ErrDispatcherClosed is returned when submitting after Close.
	ErrDispatcherClosed = errors.New("dispatcher is closed")
	// ErrUnknownJob is returned when cancelling a job that is not in flight.
	ErrUnknownJob = errors.New("unknown job request")
)

// Handle tracks one submitted job request. Done receives the terminal
// outcome exactly once.
type Handle struct {
	JobRequestID string
	Done         <-chan model.DispatchOutcome
}

// OutcomeFunc is invoked once per job request with its terminal outcome. The
// booking flow uses it to persist the result and notify the customer.
type OutcomeFunc func(model.DispatchOutcome)

// flowEvent is a single input to a job flow: either a technician response or
// a disconnect of the currently offered technician.
type flowEvent struct {
	resp         *Response
	disconnected string
}

type jobFlow struct {
	job        model.JobRequest
	candidates []string
	inbox      chan flowEvent
	cancel     chan struct{}
	cancelOnce sync.Once
	done       chan model.DispatchOutcome
}

func (f *jobFlow) stop() {
	f.cancelOnce.Do(func() { close(f.cancel) })
}

// Dispatcher bridges job request arrival to offer state machine execution.
// Each in-flight job is owned by a single goroutine; all transitions for a
// job are serialized there. Jobs share no state except the presence registry.
type Dispatcher struct {
	registry     *presence.Registry
	weights      rank.Weights
	offerTimeout time.Duration
	maxCand      int
	log          logger.Logger
	sink         coremetrics.OutcomeSink
	bus          eventbus.EventBus
	store        logging.Store
	onOutcome    OutcomeFunc

	mu       sync.Mutex
	flows    map[string]*jobFlow
	outcomes map[string]model.DispatchOutcome
	closed   bool
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher bound to the given presence registry.
// sink, bus and store are optional. The registry's disconnect hook is taken
// over by the dispatcher.
func NewDispatcher(registry *presence.Registry, cfg Config, sink coremetrics.OutcomeSink, bus eventbus.EventBus, store logging.Store, log logger.Logger) (*Dispatcher, error) {
	if registry == nil || log == nil {
		return nil, fmt.Errorf("dispatch: nil parameter provided to NewDispatcher")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Dispatcher{
		registry:     registry,
		weights:      cfg.Weights,
		offerTimeout: time.Duration(cfg.OfferTimeoutSeconds) * time.Second,
		maxCand:      cfg.MaxCandidates,
		log:          log,
		sink:         sink,
		bus:          bus,
		store:        store,
		flows:        make(map[string]*jobFlow),
		outcomes:     make(map[string]model.DispatchOutcome),
	}
	registry.SetDisconnectHook(d.handleDisconnect)
	return d, nil
}

// SetOutcomeFunc installs the booking flow's terminal outcome callback.
func (d *Dispatcher) SetOutcomeFunc(f OutcomeFunc) {
	d.mu.Lock()
	d.onOutcome = f
	d.mu.Unlock()
}

// SetOfferTimeout overrides the configured response window. Intended for
// tests and operator tooling; takes effect for offers issued afterwards.
func (d *Dispatcher) SetOfferTimeout(t time.Duration) {
	d.mu.Lock()
	d.offerTimeout = t
	d.mu.Unlock()
}

// Submit starts dispatching the job request. The candidate list is fixed at
// this point and not recomputed mid-flight. When no technician passes
// filtering, the terminal outcome is recorded immediately and the returned
// handle is already done; that is a normal result, not an error.
func (d *Dispatcher) Submit(job model.JobRequest) (*Handle, error) {
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job request: %w", err)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	pool := d.registry.Snapshot()
	candidates := rank.Rank(job, pool, d.registry.IsBusy, d.weights)
	if d.maxCand > 0 && len(candidates) > d.maxCand {
		candidates = candidates[:d.maxCand]
	}

	f := &jobFlow{
		job:        job,
		candidates: candidates,
		inbox:      make(chan flowEvent, 16),
		cancel:     make(chan struct{}),
		done:       make(chan model.DispatchOutcome, 1),
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrDispatcherClosed
	}
	if _, ok := d.flows[job.ID]; ok {
		d.mu.Unlock()
		return nil, ErrJobExists
	}
	if _, ok := d.outcomes[job.ID]; ok {
		d.mu.Unlock()
		return nil, ErrJobExists
	}
	d.flows[job.ID] = f
	d.wg.Add(1)
	d.mu.Unlock()

	d.log.Infof("dispatching job %s: %d candidates", job.ID, len(candidates))
	go d.run(f)
	return &Handle{JobRequestID: job.ID, Done: f.done}, nil
}

// Cancel aborts an in-flight dispatch, e.g. when the customer withdraws the
// request. The currently offered technician, if any, receives a close
// message and is freed.
func (d *Dispatcher) Cancel(jobRequestID string) error {
	d.mu.Lock()
	f, ok := d.flows[jobRequestID]
	d.mu.Unlock()
	if !ok {
		return ErrUnknownJob
	}
	f.stop()
	return nil
}

// Outcome returns the terminal outcome for a job, if recorded yet.
func (d *Dispatcher) Outcome(jobRequestID string) (model.DispatchOutcome, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out, ok := d.outcomes[jobRequestID]
	return out, ok
}

// InFlight reports whether the job is currently being dispatched.
func (d *Dispatcher) InFlight(jobRequestID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.flows[jobRequestID]
	return ok
}

// HandleResponse routes a technician's offer response into the owning job
// flow. It runs on the transport goroutine and must not block: the flow's
// single-owner goroutine applies all business logic. Responses for unknown
// or already decided jobs are discarded; a late accept earns the technician
// a "won by other" close message.
func (d *Dispatcher) HandleResponse(resp Response) {
	d.mu.Lock()
	f, inflight := d.flows[resp.JobRequestID]
	_, decided := d.outcomes[resp.JobRequestID]
	d.mu.Unlock()

	if !inflight {
		if decided && resp.Accept {
			d.sendClosed(resp.TechnicianID, resp.JobRequestID, CloseWonByOther)
		}
		d.log.Debugf("stale response for job %s from %s discarded", resp.JobRequestID, resp.TechnicianID)
		return
	}
	select {
	case f.inbox <- flowEvent{resp: &resp}:
	default:
		d.log.Warnf("inbox full for job %s, dropping response from %s", resp.JobRequestID, resp.TechnicianID)
	}
}

// handleDisconnect is the presence registry's disconnect hook. If the
// technician holds a pending offer, the owning flow is notified and treats
// the disconnect like a rejection.
func (d *Dispatcher) handleDisconnect(technicianID string) {
	jobID, ok := d.registry.BusyJob(technicianID)
	if !ok {
		return
	}
	d.mu.Lock()
	f, inflight := d.flows[jobID]
	d.mu.Unlock()
	if !inflight {
		return
	}
	select {
	case f.inbox <- flowEvent{disconnected: technicianID}:
	default:
		d.log.Warnf("inbox full for job %s, dropping disconnect of %s", jobID, technicianID)
	}
}

// Close cancels all in-flight dispatches, waits for their terminal outcomes
// and releases held resources.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	flows := make([]*jobFlow, 0, len(d.flows))
	for _, f := range d.flows {
		flows = append(flows, f)
	}
	d.mu.Unlock()
	for _, f := range flows {
		f.stop()
	}
	d.wg.Wait()
	if d.bus != nil {
		d.bus.Close()
	}
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// run owns one job's offer state machine from first offer to terminal
// outcome. It is the only goroutine that applies transitions for the job, so
// a timer fire and a response can never both take effect.
func (d *Dispatcher) run(f *jobFlow) {
	defer d.wg.Done()
	activeDispatches.Inc()
	defer activeDispatches.Dec()

	m := newOfferMachine(f.job, f.candidates)
	d.mu.Lock()
	timeout := d.offerTimeout
	d.mu.Unlock()

	for {
		tech, ok := m.currentCandidate()
		if !ok {
			break
		}
		select {
		case <-f.cancel:
			m.cancel(time.Now())
			d.finish(f, m)
			return
		default:
		}

		if err := d.registry.MarkBusy(tech, f.job.ID); err != nil {
			if errors.Is(err, presence.ErrTechnicianBusy) {
				// lost the technician to a concurrent job; move on
				d.log.Debugf("job %s: technician %s busy, skipping: %v", f.job.ID, tech, err)
			} else {
				registryViolations.Inc()
				d.log.Errorf("job %s: registry inconsistency for %s: %v", f.job.ID, tech, err)
			}
			if !m.skip() {
				break
			}
			continue
		}

		offer, err := m.issue(uuid.NewString(), time.Now(), timeout)
		if err != nil {
			// cannot happen while the machine is driven sequentially
			registryViolations.Inc()
			d.log.Errorf("job %s: issue failed: %v", f.job.ID, err)
			d.markFree(tech, f.job.ID)
			if !m.skip() {
				break
			}
			continue
		}

		payload, merr := json.Marshal(newOfferMessage(f.job, offer))
		if merr != nil || !d.registry.Send(tech, payload) {
			// no live connection, identical to an immediate rejection
			deliveryFailures.Inc()
			d.log.Debugf("job %s: delivery to %s failed", f.job.ID, tech)
			d.resolveOffer(f, m, model.OfferRejected)
			if !m.advance() {
				break
			}
			continue
		}

		offersIssued.WithLabelValues(f.job.Urgency.String()).Inc()
		if d.bus != nil {
			d.bus.Publish(events.OfferIssued{Offer: offer})
		}
		d.log.Infof("job %s: offer %s to %s (candidate %d), deadline %s",
			f.job.ID, offer.ID, tech, offer.CandidateIndex, offer.Deadline.Format(time.RFC3339))

		timerC := m.armTimer(timeout)
		if d.awaitDecision(f, m, tech, timerC) {
			d.finish(f, m)
			return
		}
		if !m.advance() {
			break
		}
	}
	d.finish(f, m)
}

// awaitDecision blocks until the pending offer reaches a terminal status. It
// returns true when the whole dispatch is over (accepted or cancelled) and
// false when the flow should advance to the next candidate.
func (d *Dispatcher) awaitDecision(f *jobFlow, m *offerMachine, tech string, timerC <-chan time.Time) bool {
	for {
		select {
		case ev := <-f.inbox:
			switch {
			case ev.disconnected != "":
				if ev.disconnected != tech {
					d.log.Debugf("job %s: stale disconnect of %s ignored", f.job.ID, ev.disconnected)
					continue
				}
				d.log.Infof("job %s: %s disconnected while pending, advancing", f.job.ID, tech)
				d.resolveOffer(f, m, model.OfferRejected)
				return false
			case ev.resp != nil:
				resp := *ev.resp
				if resp.TechnicianID != tech {
					if resp.Accept {
						d.sendClosed(resp.TechnicianID, f.job.ID, CloseWonByOther)
					}
					d.log.Debugf("job %s: response from %s ignored, offer belongs to %s", f.job.ID, resp.TechnicianID, tech)
					continue
				}
				if resp.Accept {
					offer, lat := m.accept(time.Now())
					d.recordOffer(offer, lat)
					d.markFree(tech, f.job.ID)
					d.log.Infof("job %s: accepted by %s after %s", f.job.ID, tech, lat)
					return true
				}
				d.log.Infof("job %s: rejected by %s, advancing", f.job.ID, tech)
				d.resolveOffer(f, m, model.OfferRejected)
				return false
			}
		case <-timerC:
			d.log.Infof("job %s: offer to %s expired, advancing", f.job.ID, tech)
			d.resolveOffer(f, m, model.OfferExpired)
			d.sendClosed(tech, f.job.ID, CloseExpired)
			return false
		case <-f.cancel:
			m.cancel(time.Now())
			d.markFree(tech, f.job.ID)
			d.sendClosed(tech, f.job.ID, CloseCancelled)
			return true
		}
	}
}

// resolveOffer applies a non-accept terminal status to the pending offer and
// frees the technician.
func (d *Dispatcher) resolveOffer(f *jobFlow, m *offerMachine, status model.OfferStatus) {
	offer, lat := m.resolve(status, time.Now())
	d.recordOffer(offer, lat)
	d.markFree(offer.TechnicianID, f.job.ID)
}

func (d *Dispatcher) recordOffer(offer model.Offer, lat time.Duration) {
	status := offer.Status.String()
	offersResolved.WithLabelValues(status).Inc()
	offerLatency.WithLabelValues(status).Observe(lat.Seconds())
	if d.bus != nil {
		d.bus.Publish(events.OfferResolved{Offer: offer, Latency: lat})
	}
	if d.sink != nil {
		rec := coremetrics.OfferRecord{
			JobRequestID:   offer.JobRequestID,
			TechnicianID:   offer.TechnicianID,
			CandidateIndex: offer.CandidateIndex,
			Status:         offer.Status,
			IssuedAt:       offer.IssuedAt,
			Latency:        lat,
		}
		if err := d.sink.RecordOffer(rec); err != nil {
			d.log.Errorf("offer metrics error: %v", err)
		}
	}
}

// markFree releases the busy flag, logging loudly if the registry disagrees.
func (d *Dispatcher) markFree(tech, jobID string) {
	if err := d.registry.MarkFree(tech, jobID); err != nil {
		registryViolations.Inc()
		d.log.Errorf("job %s: registry inconsistency freeing %s: %v", jobID, tech, err)
	}
}

// finish records the terminal outcome exactly once and fans it out to the
// metrics sink, the event bus, the audit log and the booking callback.
func (d *Dispatcher) finish(f *jobFlow, m *offerMachine) {
	out := m.outcome(time.Now())

	d.mu.Lock()
	if _, dup := d.outcomes[f.job.ID]; dup {
		d.mu.Unlock()
		d.log.Errorf("job %s: duplicate terminal outcome suppressed", f.job.ID)
		return
	}
	d.outcomes[f.job.ID] = out
	delete(d.flows, f.job.ID)
	cb := d.onOutcome
	d.mu.Unlock()

	outcomesTotal.WithLabelValues(out.Reason.String()).Inc()
	if out.HasWinner() {
		d.log.Infof("job %s: winner %s after %d candidates", out.JobRequestID, out.WinnerID, out.CandidatesAttempted)
	} else {
		d.log.Infof("job %s: no winner (%s), %d candidates attempted", out.JobRequestID, out.Reason, out.CandidatesAttempted)
	}

	if d.sink != nil {
		if err := d.sink.RecordOutcome(out); err != nil {
			d.log.Errorf("outcome metrics error: %v", err)
		}
	}
	if d.bus != nil {
		d.bus.Publish(events.OutcomeRecorded{Outcome: out})
	}
	if d.store != nil {
		rec := logging.Record{
			Timestamp:  out.CompletedAt,
			Job:        f.job,
			Candidates: f.candidates,
			Offers:     m.history,
			Outcome:    out,
		}
		if err := d.store.Append(context.Background(), rec); err != nil {
			d.log.Errorf("dispatch log append error: %v", err)
		}
	}
	if cb != nil {
		cb(out)
	}
	f.done <- out
	close(f.done)
}

// sendClosed notifies a technician that an offer is gone for reasons other
// than their own response. Delivery is best effort.
func (d *Dispatcher) sendClosed(tech, jobID string, reason CloseReason) {
	payload, err := json.Marshal(OfferClosedMessage{
		Type:         MsgTypeOfferClosed,
		JobRequestID: jobID,
		Reason:       reason,
	})
	if err != nil {
		return
	}
	d.registry.Send(tech, payload)
}
