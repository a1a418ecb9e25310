// Package events defines the event types published on the internal event bus
// during a dispatch. Subscribers range from metrics sinks to the booking
// notifier; none of them may block the dispatch flow.
package events
