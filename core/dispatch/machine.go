package dispatch

import (
	"fmt"
	"time"

	"github.com/fieldops/dispatchd/core/model"
)

// machineState enumerates the offer state machine states.
type machineState int

const (
	stateCreated machineState = iota
	stateAwaiting
	stateAccepted
	stateExhausted
	stateCancelled
)

func (s machineState) String() string {
	switch s {
	case stateCreated:
		return "created"
	case stateAwaiting:
		return "awaiting_response"
	case stateAccepted:
		return "accepted"
	case stateExhausted:
		return "exhausted"
	case stateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// offerMachine holds the per-job dispatch state: the immutable candidate
// list fixed at dispatch start, the current candidate index, the pending
// offer and its deadline timer. It is owned exclusively by one job flow
// goroutine; none of its methods are safe for concurrent use.
type offerMachine struct {
	job        model.JobRequest
	candidates []string
	index      int
	state      machineState
	current    model.Offer
	pending    bool
	attempted  int
	history    []model.Offer

	timer  *time.Timer
	timerC <-chan time.Time
}

func newOfferMachine(job model.JobRequest, candidates []string) *offerMachine {
	return &offerMachine{job: job, candidates: candidates, state: stateCreated}
}

// currentCandidate returns the technician the machine points at, or false
// when the list is exhausted.
func (m *offerMachine) currentCandidate() (string, bool) {
	if m.index >= len(m.candidates) {
		return "", false
	}
	return m.candidates[m.index], true
}

// issue creates the pending offer for the current candidate. The candidate
// index carried by the offer is monotonically non-decreasing across the life
// of the machine.
func (m *offerMachine) issue(offerID string, now time.Time, window time.Duration) (model.Offer, error) {
	if m.pending {
		return model.Offer{}, fmt.Errorf("offer %s still pending for job %s", m.current.ID, m.job.ID)
	}
	if m.state != stateCreated && m.state != stateAwaiting {
		return model.Offer{}, fmt.Errorf("cannot issue offer in state %s", m.state)
	}
	tech, ok := m.currentCandidate()
	if !ok {
		return model.Offer{}, fmt.Errorf("candidate list exhausted for job %s", m.job.ID)
	}
	m.current = model.Offer{
		ID:             offerID,
		JobRequestID:   m.job.ID,
		TechnicianID:   tech,
		CandidateIndex: m.index,
		IssuedAt:       now,
		Deadline:       now.Add(window),
		Status:         model.OfferPending,
	}
	m.pending = true
	m.attempted++
	m.state = stateAwaiting
	return m.current, nil
}

// armTimer starts the deadline timer and returns its channel. The timer is a
// hard wall-clock deadline starting at send time.
func (m *offerMachine) armTimer(window time.Duration) <-chan time.Time {
	m.stopTimer()
	m.timer = time.NewTimer(window)
	m.timerC = m.timer.C
	return m.timerC
}

// stopTimer disposes the deadline timer so it can never fire against stale
// state. Safe to call when no timer is armed.
func (m *offerMachine) stopTimer() {
	if m.timer == nil {
		return
	}
	if !m.timer.Stop() {
		select {
		case <-m.timer.C:
		default:
		}
	}
	m.timer = nil
	m.timerC = nil
}

// resolve marks the pending offer with a terminal status and returns it along
// with the time it spent pending. The deadline timer is always disposed.
func (m *offerMachine) resolve(status model.OfferStatus, now time.Time) (model.Offer, time.Duration) {
	m.stopTimer()
	if !m.pending {
		return model.Offer{}, 0
	}
	m.current.Status = status
	m.pending = false
	m.history = append(m.history, m.current)
	return m.current, now.Sub(m.current.IssuedAt)
}

// advance moves to the next candidate. It returns false when the list is
// exhausted, which is a terminal state.
func (m *offerMachine) advance() bool {
	if m.pending {
		// never happens in normal flow; resolve first
		return false
	}
	m.index++
	if m.index >= len(m.candidates) {
		m.state = stateExhausted
		return false
	}
	m.state = stateCreated
	return true
}

// skip abandons the current candidate without issuing an offer. Used when the
// candidate cannot be offered to at all (busy flag held by another job).
func (m *offerMachine) skip() bool {
	if m.pending {
		return false
	}
	return m.advance()
}

// accept resolves the pending offer as accepted and terminates the machine.
func (m *offerMachine) accept(now time.Time) (model.Offer, time.Duration) {
	offer, lat := m.resolve(model.OfferAccepted, now)
	m.state = stateAccepted
	return offer, lat
}

// cancel terminates the machine from any state. A pending offer is resolved
// as superseded.
func (m *offerMachine) cancel(now time.Time) (model.Offer, bool) {
	var offer model.Offer
	had := m.pending
	if m.pending {
		offer, _ = m.resolve(model.OfferSuperseded, now)
	} else {
		m.stopTimer()
	}
	m.state = stateCancelled
	return offer, had
}

// terminal reports whether the machine reached a final state.
func (m *offerMachine) terminal() bool {
	return m.state == stateAccepted || m.state == stateExhausted || m.state == stateCancelled
}

// outcome builds the terminal dispatch record for the machine's final state.
func (m *offerMachine) outcome(now time.Time) model.DispatchOutcome {
	out := model.DispatchOutcome{
		JobRequestID:        m.job.ID,
		CandidatesAttempted: m.attempted,
		CompletedAt:         now,
	}
	switch m.state {
	case stateAccepted:
		out.WinnerID = m.current.TechnicianID
		out.Reason = model.OutcomeAccepted
	case stateCancelled:
		out.Reason = model.OutcomeCancelled
	default:
		if m.attempted == 0 {
			out.Reason = model.OutcomeNoCandidates
		} else {
			out.Reason = model.OutcomeExhausted
		}
	}
	return out
}
