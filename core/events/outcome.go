package events

import "github.com/fieldops/dispatchd/core/model"

// OutcomeRecorded is published exactly once per job request when its dispatch
// reaches a terminal state.
type OutcomeRecorded struct {
	Outcome model.DispatchOutcome
}
