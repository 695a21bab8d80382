// Package model defines shared types used across the sync engine and adapters.
package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrMalformedEvent is returned by [RemoteEvent.Validate] when a remote event
// is missing fields required for reconciliation. Malformed events are skipped
// individually; they never abort a sync pass.
var ErrMalformedEvent = errors.New("malformed remote event")

// Status is the binary event status used for reconciliation. Provider-native
// statuses are collapsed to one of these two values at the adapter boundary.
type Status string

const (
	// StatusConfirmed marks an event that should exist as a local booking.
	StatusConfirmed Status = "confirmed"
	// StatusCancelled marks an event whose local booking must be removed.
	StatusCancelled Status = "cancelled"
)

// NormalizeStatus collapses a provider-native status string to the binary
// reconciliation status. Anything that is not an explicit removal counts as
// confirmed.
func NormalizeStatus(raw string) Status {
	switch raw {
	case "cancelled", "canceled", "declined", "deleted", "removed":
		return StatusCancelled
	default:
		return StatusConfirmed
	}
}

// RemoteEvent is the normalised representation of a single calendar entry as
// reported by the remote provider. It is transient: only its effect on the
// booking store is persisted.
type RemoteEvent struct {
	// ExternalID is the provider-assigned identifier, stable across updates
	// to the same calendar entry. It is the correlation key to [Booking].
	ExternalID string

	// Status is the collapsed binary status.
	Status Status

	// Start and End are the event boundaries. For all-day events both carry
	// midnight UTC of the respective dates.
	Start time.Time
	End   time.Time

	// AllDay is true when the provider reported a date rather than a timestamp.
	AllDay bool

	// Title is the free-text label, used as the booking's display name when
	// no richer metadata exists.
	Title string
}

// Validate reports whether the event carries everything reconciliation needs.
// Cancelled events only need an ExternalID; confirmed events additionally
// need a coherent time range.
func (e *RemoteEvent) Validate() error {
	if e.ExternalID == "" {
		return fmt.Errorf("%w: missing external id", ErrMalformedEvent)
	}
	if e.Status == StatusCancelled {
		return nil
	}
	if e.Start.IsZero() || e.End.IsZero() {
		return fmt.Errorf("%w: event %q has no time range", ErrMalformedEvent, e.ExternalID)
	}
	if e.End.Before(e.Start) {
		return fmt.Errorf("%w: event %q ends before it starts", ErrMalformedEvent, e.ExternalID)
	}
	return nil
}
