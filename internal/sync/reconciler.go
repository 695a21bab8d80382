package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chairtime/calsync/internal/model"
	"github.com/chairtime/calsync/internal/store"
)

// decision describes the single mutation the reconciler wants to perform for
// one remote event. It is computed once per event and then dispatched, so the
// mapping is testable independent of the storage adapter.
type decision int

const (
	decisionSkip   decision = iota // identical or malformed event, no mutation
	decisionCreate                 // unseen externalID with non-cancelled status
	decisionUpdate                 // existing booking whose mirrored fields changed
	decisionDelete                 // cancelled event, remove any matching booking
)

// Stats tracks the number of mutations performed in a sync pass.
type Stats struct {
	Created int
	Updated int
	Deleted int
	Skipped int
	Errors  int
}

// add accumulates page-level stats into pass-level stats.
func (s *Stats) add(o Stats) {
	s.Created += o.Created
	s.Updated += o.Updated
	s.Deleted += o.Deleted
	s.Skipped += o.Skipped
	s.Errors += o.Errors
}

// Reconciler applies pages of remote event deltas to the booking store. It is
// stateless between calls — all persistent state lives in the [BookingStore].
type Reconciler struct {
	bookings BookingStore
	log      *slog.Logger
}

// NewReconciler creates a Reconciler wired to the given booking store.
func NewReconciler(bookings BookingStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{bookings: bookings, log: logger}
}

// ApplyPage applies every event in one page to the booking store. Each event
// is processed independently and is idempotent: re-applying the same page
// produces the same final store state. Malformed events are skipped and
// logged; a storage failure aborts the rest of the page so the caller does
// not advance the cursor.
func (r *Reconciler) ApplyPage(ctx context.Context, calendarID, barberID string, events []model.RemoteEvent) (Stats, error) {
	var stats Stats

	for i := range events {
		ev := &events[i]

		if err := ev.Validate(); err != nil {
			// One bad event must not abort the whole pass.
			r.log.Warn("skipping malformed event",
				"calendar", calendarID,
				"external_id", ev.ExternalID,
				"error", err,
			)
			stats.Skipped++
			continue
		}

		existing, err := r.lookup(ctx, calendarID, ev)
		if err != nil {
			stats.Errors++
			return stats, err
		}

		act := decide(ev, existing)
		if err := r.apply(ctx, act, calendarID, barberID, ev, existing, &stats); err != nil {
			stats.Errors++
			return stats, err
		}
	}

	return stats, nil
}

// lookup fetches the existing booking for an event. Cancelled events skip
// the lookup — deletion does not need the current record.
func (r *Reconciler) lookup(ctx context.Context, calendarID string, ev *model.RemoteEvent) (*model.Booking, error) {
	if ev.Status == model.StatusCancelled {
		return nil, nil
	}
	b, err := r.bookings.FindByExternalID(ctx, calendarID, ev.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("looking up booking %s/%s: %w", calendarID, ev.ExternalID, err)
	}
	return b, nil
}

// decide maps one valid remote event plus the current local state to a
// mutation. Absence of a booking for a cancelled event is a valid terminal
// state, not an error.
func decide(ev *model.RemoteEvent, existing *model.Booking) decision {
	if ev.Status == model.StatusCancelled {
		return decisionDelete
	}
	if existing == nil {
		return decisionCreate
	}
	if existing.Differs(ev) {
		return decisionUpdate
	}
	return decisionSkip
}

// apply dispatches the decided mutation to the booking store.
func (r *Reconciler) apply(ctx context.Context, act decision, calendarID, barberID string, ev *model.RemoteEvent, existing *model.Booking, stats *Stats) error {
	switch act {
	case decisionSkip:
		stats.Skipped++
		return nil

	case decisionDelete:
		if err := r.bookings.DeleteByExternalID(ctx, calendarID, ev.ExternalID); err != nil {
			return fmt.Errorf("deleting booking for cancelled event %q: %w", ev.ExternalID, err)
		}
		r.log.Debug("booking deleted", "calendar", calendarID, "external_id", ev.ExternalID)
		stats.Deleted++
		return nil

	case decisionCreate:
		b := model.NewBooking(calendarID, barberID, ev)
		err := r.bookings.CreateBooking(ctx, b)
		if errors.Is(err, store.ErrDuplicateBooking) {
			// Benign race: a concurrent or retried pass already created the
			// booking. Fall back to an update against the existing record.
			return r.recoverDuplicate(ctx, calendarID, ev, stats)
		}
		if err != nil {
			return fmt.Errorf("creating booking for event %q: %w", ev.ExternalID, err)
		}
		r.log.Info("booking created",
			"calendar", calendarID,
			"external_id", ev.ExternalID,
			"start", ev.Start,
		)
		stats.Created++
		return nil

	case decisionUpdate:
		existing.ApplyEvent(ev)
		if err := r.bookings.UpdateBooking(ctx, existing); err != nil {
			return fmt.Errorf("updating booking for event %q: %w", ev.ExternalID, err)
		}
		r.log.Info("booking updated",
			"calendar", calendarID,
			"external_id", ev.ExternalID,
			"start", ev.Start,
		)
		stats.Updated++
		return nil
	}

	return nil
}

// recoverDuplicate resolves a create conflict by re-reading the winner and
// updating it in place if the event still differs.
func (r *Reconciler) recoverDuplicate(ctx context.Context, calendarID string, ev *model.RemoteEvent, stats *Stats) error {
	r.log.Debug("create conflict, falling back to update",
		"calendar", calendarID,
		"external_id", ev.ExternalID,
	)

	winner, err := r.bookings.FindByExternalID(ctx, calendarID, ev.ExternalID)
	if err != nil {
		return fmt.Errorf("re-reading booking after create conflict %q: %w", ev.ExternalID, err)
	}
	if winner == nil {
		// Deleted between the conflict and the re-read. The next pass (or a
		// later event in this page) converges; nothing to do here.
		stats.Skipped++
		return nil
	}
	if !winner.Differs(ev) {
		stats.Skipped++
		return nil
	}

	winner.ApplyEvent(ev)
	if err := r.bookings.UpdateBooking(ctx, winner); err != nil {
		return fmt.Errorf("updating booking after create conflict %q: %w", ev.ExternalID, err)
	}
	stats.Updated++
	return nil
}
