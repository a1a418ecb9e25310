package mqtt

import (
	"fmt"
	"sync"

	"github.com/fieldops/dispatchd/core/model"
)

// MockPublisher records published outcomes for tests.
type MockPublisher struct {
	Outcomes []model.DispatchOutcome
	FailIDs  map[string]bool
	mu       sync.Mutex
}

// NewMockPublisher creates a new MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{FailIDs: make(map[string]bool)}
}

// PublishOutcome records the outcome or returns an error if configured to fail.
func (m *MockPublisher) PublishOutcome(out model.DispatchOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailIDs[out.JobRequestID] {
		return fmt.Errorf("publish failed")
	}
	m.Outcomes = append(m.Outcomes, out)
	return nil
}

// Published returns a copy of the recorded outcomes.
func (m *MockPublisher) Published() []model.DispatchOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]model.DispatchOutcome, len(m.Outcomes))
	copy(cp, m.Outcomes)
	return cp
}

// Close is a no-op.
func (m *MockPublisher) Close() {}
