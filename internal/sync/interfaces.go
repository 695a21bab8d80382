// Package sync keeps the local booking store consistent with the remote
// calendars it mirrors. It consumes pages of remote event deltas, maps each
// event to a create/update/delete decision against the booking store, and
// advances the per-calendar sync cursor only after a pass fully applies.
//
// The package contains three main components:
//
//   - [Reconciler] applies one page of deltas to the booking store.
//   - [Trigger] runs a complete sync pass for one calendar: cursor load,
//     pagination, full-resync fallback, cursor commit. Concurrent passes for
//     the same calendar are coalesced.
//   - [Engine] runs the fallback ticker and accepts webhook kicks.
package sync

import (
	"context"

	"github.com/chairtime/calsync/internal/calendar"
	"github.com/chairtime/calsync/internal/model"
	"github.com/chairtime/calsync/internal/store"
)

// EventSource lists changed events from the remote calendar provider.
// Implemented by [calendar.Client].
type EventSource interface {
	// ListChanges returns one page of deltas. An empty syncToken requests a
	// full listing of current events; pageToken continues a listing in
	// progress. A rejected syncToken surfaces as
	// [calendar.ErrCursorInvalidated].
	ListChanges(ctx context.Context, calendarID, syncToken, pageToken string, pageSize int) (*calendar.Page, error)
}

// BookingStore provides access to the persisted booking records, keyed by
// (calendarID, externalID). Implemented by [store.Store].
type BookingStore interface {
	FindByExternalID(ctx context.Context, calendarID, externalID string) (*model.Booking, error)
	// CreateBooking returns [store.ErrDuplicateBooking] when the
	// (calendarID, externalID) pair already exists.
	CreateBooking(ctx context.Context, b *model.Booking) error
	UpdateBooking(ctx context.Context, b *model.Booking) error
	DeleteByExternalID(ctx context.Context, calendarID, externalID string) error
	ExternalIDs(ctx context.Context, calendarID string) ([]string, error)
}

// CursorStore persists the per-calendar resumption token.
// Implemented by [store.Store].
type CursorStore interface {
	// LoadCursor returns (nil, nil) when the calendar has never synced.
	LoadCursor(ctx context.Context, calendarID string) (*store.Cursor, error)
	SaveCursor(ctx context.Context, calendarID, token string) error
}
