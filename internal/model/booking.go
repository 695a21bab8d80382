package model

import (
	"time"

	"github.com/google/uuid"
)

// Booking is the durable local mirror of a remote calendar entry. At most one
// booking exists per (CalendarID, ExternalID) pair; the store enforces this
// with a unique index.
type Booking struct {
	// ID is the locally assigned identity.
	ID string

	// CalendarID is the remote calendar this booking mirrors.
	CalendarID string

	// BarberID is the owner of the calendar.
	BarberID string

	// ExternalID is the correlation key to [RemoteEvent.ExternalID].
	ExternalID string

	Start  time.Time
	End    time.Time
	AllDay bool
	Status Status
	Title  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewBooking builds a booking from a remote event with a fresh local ID.
func NewBooking(calendarID, barberID string, ev *RemoteEvent) *Booking {
	now := time.Now().UTC()
	return &Booking{
		ID:         uuid.NewString(),
		CalendarID: calendarID,
		BarberID:   barberID,
		ExternalID: ev.ExternalID,
		Start:      ev.Start,
		End:        ev.End,
		AllDay:     ev.AllDay,
		Status:     ev.Status,
		Title:      ev.Title,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Differs reports whether applying ev would change the booking. Identical
// events are no-ops so that redelivered notifications cause no state
// transition.
func (b *Booking) Differs(ev *RemoteEvent) bool {
	return !b.Start.Equal(ev.Start) ||
		!b.End.Equal(ev.End) ||
		b.AllDay != ev.AllDay ||
		b.Status != ev.Status ||
		b.Title != ev.Title
}

// ApplyEvent copies the event's mirrored fields onto the booking and bumps
// UpdatedAt.
func (b *Booking) ApplyEvent(ev *RemoteEvent) {
	b.Start = ev.Start
	b.End = ev.End
	b.AllDay = ev.AllDay
	b.Status = ev.Status
	b.Title = ev.Title
	b.UpdatedAt = time.Now().UTC()
}
