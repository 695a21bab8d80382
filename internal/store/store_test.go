package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/chairtime/calsync/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-calsync.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleBooking() *model.Booking {
	start := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	return model.NewBooking("cal-1", "barber-1", &model.RemoteEvent{
		ExternalID: "E1",
		Status:     model.StatusConfirmed,
		Start:      start,
		End:        start.Add(30 * time.Minute),
		Title:      "Fade",
	})
}

func TestOpen_CreatesSchema(t *testing.T) {
	s := openTestStore(t)
	// ExternalIDs queries bookings — if the schema is wrong this fails.
	ids, err := s.ExternalIDs(context.Background(), "cal-1")
	if err != nil {
		t.Fatalf("ExternalIDs after open: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected empty store after open, got %d ids", len(ids))
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calsync.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("s1.Close: %v", err)
	}

	// Re-opening the same file must not fail or wipe data.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	if err := s2.Close(); err != nil {
		t.Fatalf("s2.Close: %v", err)
	}
}

func TestCreateAndFindBooking(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	b := sampleBooking()

	if err := s.CreateBooking(ctx, b); err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}

	got, err := s.FindByExternalID(ctx, "cal-1", "E1")
	if err != nil {
		t.Fatalf("FindByExternalID: %v", err)
	}
	if got == nil {
		t.Fatal("FindByExternalID returned nil for stored booking")
	}
	if got.ID != b.ID || got.Title != "Fade" || got.Status != model.StatusConfirmed {
		t.Errorf("round-trip mismatch: got %+v", got)
	}
	if !got.Start.Equal(b.Start) || !got.End.Equal(b.End) {
		t.Errorf("time round-trip mismatch: got %v–%v, want %v–%v", got.Start, got.End, b.Start, b.End)
	}
}

func TestFindByExternalID_NotFound(t *testing.T) {
	s := openTestStore(t)
	got, err := s.FindByExternalID(context.Background(), "cal-1", "nope")
	if err != nil {
		t.Fatalf("FindByExternalID: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing booking, got %+v", got)
	}
}

func TestCreateBooking_DuplicateExternalID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateBooking(ctx, sampleBooking()); err != nil {
		t.Fatalf("first CreateBooking: %v", err)
	}

	dup := sampleBooking() // fresh local ID, same (calendar, external) pair
	err := s.CreateBooking(ctx, dup)
	if !errors.Is(err, ErrDuplicateBooking) {
		t.Errorf("second CreateBooking = %v, want ErrDuplicateBooking", err)
	}
}

func TestCreateBooking_SameExternalIDDifferentCalendar(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateBooking(ctx, sampleBooking()); err != nil {
		t.Fatalf("CreateBooking cal-1: %v", err)
	}

	other := sampleBooking()
	other.CalendarID = "cal-2"
	if err := s.CreateBooking(ctx, other); err != nil {
		t.Errorf("same external id on another calendar should be allowed: %v", err)
	}
}

func TestUpdateBooking(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	b := sampleBooking()

	if err := s.CreateBooking(ctx, b); err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}

	b.ApplyEvent(&model.RemoteEvent{
		ExternalID: "E1",
		Status:     model.StatusConfirmed,
		Start:      b.Start.Add(time.Hour),
		End:        b.End.Add(time.Hour),
		Title:      "Fade + beard trim",
	})
	if err := s.UpdateBooking(ctx, b); err != nil {
		t.Fatalf("UpdateBooking: %v", err)
	}

	got, err := s.FindByExternalID(ctx, "cal-1", "E1")
	if err != nil {
		t.Fatalf("FindByExternalID: %v", err)
	}
	if got.Title != "Fade + beard trim" || !got.Start.Equal(b.Start) {
		t.Errorf("update not persisted: got %+v", got)
	}
}

func TestDeleteByExternalID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateBooking(ctx, sampleBooking()); err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	if err := s.DeleteByExternalID(ctx, "cal-1", "E1"); err != nil {
		t.Fatalf("DeleteByExternalID: %v", err)
	}

	got, err := s.FindByExternalID(ctx, "cal-1", "E1")
	if err != nil {
		t.Fatalf("FindByExternalID: %v", err)
	}
	if got != nil {
		t.Error("booking should be gone after delete")
	}

	// Deleting again is not an error.
	if err := s.DeleteByExternalID(ctx, "cal-1", "E1"); err != nil {
		t.Errorf("redundant delete: %v", err)
	}
}

func TestExternalIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b1 := sampleBooking()
	b2 := sampleBooking()
	b2.ExternalID = "E2"
	b3 := sampleBooking()
	b3.CalendarID = "cal-2"

	for _, b := range []*model.Booking{b1, b2, b3} {
		if err := s.CreateBooking(ctx, b); err != nil {
			t.Fatalf("CreateBooking %s: %v", b.ExternalID, err)
		}
	}

	ids, err := s.ExternalIDs(ctx, "cal-1")
	if err != nil {
		t.Fatalf("ExternalIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("ExternalIDs(cal-1) = %v, want 2 ids", ids)
	}
}

func TestListByCalendar(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	b1 := sampleBooking()
	b2 := sampleBooking()
	b2.ExternalID = "E2"
	b2.Start = b1.Start.Add(-time.Hour)
	b2.End = b1.End.Add(-time.Hour)
	b3 := sampleBooking()
	b3.CalendarID = "cal-2"

	for _, b := range []*model.Booking{b1, b2, b3} {
		if err := s.CreateBooking(ctx, b); err != nil {
			t.Fatalf("CreateBooking %s: %v", b.ExternalID, err)
		}
	}

	got, err := s.ListByCalendar(ctx, "cal-1")
	if err != nil {
		t.Fatalf("ListByCalendar: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListByCalendar(cal-1) returned %d bookings, want 2", len(got))
	}
	// Ordered by start time.
	if got[0].ExternalID != "E2" || got[1].ExternalID != "E1" {
		t.Errorf("order = %s, %s, want E2, E1", got[0].ExternalID, got[1].ExternalID)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Absent cursor → (nil, nil).
	c, err := s.LoadCursor(ctx, "cal-1")
	if err != nil {
		t.Fatalf("LoadCursor: %v", err)
	}
	if c != nil {
		t.Fatalf("expected nil cursor for fresh calendar, got %+v", c)
	}

	if err := s.SaveCursor(ctx, "cal-1", "T1"); err != nil {
		t.Fatalf("SaveCursor: %v", err)
	}

	c, err = s.LoadCursor(ctx, "cal-1")
	if err != nil {
		t.Fatalf("LoadCursor after save: %v", err)
	}
	if c == nil || c.Token != "T1" {
		t.Fatalf("LoadCursor = %+v, want token T1", c)
	}
	if c.LastSyncedAt.IsZero() {
		t.Error("SaveCursor should record last_synced_at")
	}

	// Overwrite is last-writer-wins.
	if err := s.SaveCursor(ctx, "cal-1", "T2"); err != nil {
		t.Fatalf("SaveCursor T2: %v", err)
	}
	c, err = s.LoadCursor(ctx, "cal-1")
	if err != nil {
		t.Fatalf("LoadCursor after overwrite: %v", err)
	}
	if c.Token != "T2" {
		t.Errorf("cursor token = %q, want T2", c.Token)
	}
}

func TestCursors_IndependentPerCalendar(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveCursor(ctx, "cal-1", "A"); err != nil {
		t.Fatalf("SaveCursor cal-1: %v", err)
	}
	if err := s.SaveCursor(ctx, "cal-2", "B"); err != nil {
		t.Fatalf("SaveCursor cal-2: %v", err)
	}

	c1, _ := s.LoadCursor(ctx, "cal-1")
	c2, _ := s.LoadCursor(ctx, "cal-2")
	if c1 == nil || c2 == nil || c1.Token != "A" || c2.Token != "B" {
		t.Errorf("cursors leaked across calendars: %+v %+v", c1, c2)
	}
}
