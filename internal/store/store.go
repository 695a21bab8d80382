// Package store manages the SQLite database holding mirrored bookings and
// per-calendar sync cursors.
//
// Only this package may open or query the database. All other packages
// receive a [*Store] and call its methods.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/chairtime/calsync/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS bookings (
    id          TEXT PRIMARY KEY,
    calendar_id TEXT    NOT NULL,
    barber_id   TEXT    NOT NULL,
    external_id TEXT    NOT NULL,
    start_at    TEXT    NOT NULL,
    end_at      TEXT    NOT NULL,
    all_day     INTEGER NOT NULL DEFAULT 0,
    status      TEXT    NOT NULL,
    title       TEXT    NOT NULL DEFAULT '',
    created_at  TEXT    NOT NULL,
    updated_at  TEXT    NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_external ON bookings (calendar_id, external_id);
CREATE INDEX        IF NOT EXISTS idx_bookings_calendar ON bookings (calendar_id);

CREATE TABLE IF NOT EXISTS sync_cursors (
    calendar_id    TEXT PRIMARY KEY,
    token          TEXT NOT NULL,
    last_synced_at TEXT NOT NULL
);
`

// ErrDuplicateBooking is returned by [Store.CreateBooking] when a booking
// with the same (calendar_id, external_id) pair already exists. The unique
// index is the last line of defense against double-processing under
// at-least-once webhook delivery.
var ErrDuplicateBooking = errors.New("booking already exists for external id")

// Cursor is the persisted resumption state for one monitored calendar.
type Cursor struct {
	CalendarID   string
	Token        string
	LastSyncedAt time.Time
}

// Store is the SQLite-backed repository for bookings and sync cursors.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the database:
// ~/.local/share/calsync/calsync.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "calsync", "calsync.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema, and
// configures WAL mode for better concurrent read performance.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the schema DDL idempotently (CREATE IF NOT EXISTS).
func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// --- cursors -----------------------------------------------------------------

// LoadCursor returns the cursor for the given calendar, or (nil, nil) if the
// calendar has never completed a sync pass.
func (s *Store) LoadCursor(ctx context.Context, calendarID string) (*Cursor, error) {
	const q = `SELECT calendar_id, token, last_synced_at FROM sync_cursors WHERE calendar_id = ?`
	var c Cursor
	var syncedAt string
	err := s.db.QueryRowContext(ctx, q, calendarID).Scan(&c.CalendarID, &c.Token, &syncedAt)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("loading cursor for %q: %w", calendarID, err)
	}
	c.LastSyncedAt, _ = parseTime(syncedAt)
	return &c, nil
}

// SaveCursor upserts the cursor for the given calendar, last-writer-wins.
// Callers invoke this only after every event the token covers has been
// applied to the booking store.
func (s *Store) SaveCursor(ctx context.Context, calendarID, token string) error {
	const q = `
		INSERT INTO sync_cursors (calendar_id, token, last_synced_at)
		VALUES (?, ?, ?)
		ON CONFLICT(calendar_id) DO UPDATE SET
		    token          = excluded.token,
		    last_synced_at = excluded.last_synced_at`
	if _, err := s.db.ExecContext(ctx, q, calendarID, token, formatTime(time.Now().UTC())); err != nil {
		return fmt.Errorf("saving cursor for %q: %w", calendarID, err)
	}
	return nil
}

// --- bookings ----------------------------------------------------------------

const bookingColumns = `id, calendar_id, barber_id, external_id, start_at, end_at,
       all_day, status, title, created_at, updated_at`

// FindByExternalID returns the booking mirroring the given remote event,
// or (nil, nil) if none exists.
func (s *Store) FindByExternalID(ctx context.Context, calendarID, externalID string) (*model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE calendar_id = ? AND external_id = ?`
	row := s.db.QueryRowContext(ctx, q, calendarID, externalID)
	return scanBooking(row)
}

// ListByCalendar returns all bookings mirrored from the given calendar.
func (s *Store) ListByCalendar(ctx context.Context, calendarID string) ([]*model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE calendar_id = ? ORDER BY start_at`
	rows, err := s.db.QueryContext(ctx, q, calendarID)
	if err != nil {
		return nil, fmt.Errorf("querying bookings for %q: %w", calendarID, err)
	}
	defer func() { _ = rows.Close() }()

	var bookings []*model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// ExternalIDs returns the external ids of all bookings for the calendar.
// Used by full-resync orphan cleanup.
func (s *Store) ExternalIDs(ctx context.Context, calendarID string) ([]string, error) {
	const q = `SELECT external_id FROM bookings WHERE calendar_id = ?`
	rows, err := s.db.QueryContext(ctx, q, calendarID)
	if err != nil {
		return nil, fmt.Errorf("querying external ids for %q: %w", calendarID, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning external id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateBooking inserts a new booking. Returns [ErrDuplicateBooking] if a
// booking with the same (calendar_id, external_id) already exists.
func (s *Store) CreateBooking(ctx context.Context, b *model.Booking) error {
	const q = `
		INSERT INTO bookings
		    (id, calendar_id, barber_id, external_id, start_at, end_at,
		     all_day, status, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		b.ID, b.CalendarID, b.BarberID, b.ExternalID,
		formatTime(b.Start), formatTime(b.End),
		boolToInt(b.AllDay), string(b.Status), b.Title,
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateBooking, b.CalendarID, b.ExternalID)
		}
		return fmt.Errorf("creating booking %s/%s: %w", b.CalendarID, b.ExternalID, err)
	}
	return nil
}

// UpdateBooking overwrites the mirrored fields of an existing booking by id.
func (s *Store) UpdateBooking(ctx context.Context, b *model.Booking) error {
	const q = `
		UPDATE bookings SET
		    start_at = ?, end_at = ?, all_day = ?, status = ?, title = ?, updated_at = ?
		WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q,
		formatTime(b.Start), formatTime(b.End), boolToInt(b.AllDay),
		string(b.Status), b.Title, formatTime(b.UpdatedAt), b.ID,
	); err != nil {
		return fmt.Errorf("updating booking %s: %w", b.ID, err)
	}
	return nil
}

// DeleteByExternalID removes the booking mirroring the given remote event.
// Deleting an absent booking is not an error — already-deleted and
// never-created are both valid terminal states.
func (s *Store) DeleteByExternalID(ctx context.Context, calendarID, externalID string) error {
	const q = `DELETE FROM bookings WHERE calendar_id = ? AND external_id = ?`
	if _, err := s.db.ExecContext(ctx, q, calendarID, externalID); err != nil {
		return fmt.Errorf("deleting booking %s/%s: %w", calendarID, externalID, err)
	}
	return nil
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so scanBooking can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func scanBooking(sc scanner) (*model.Booking, error) {
	var b model.Booking
	var start, end, createdAt, updatedAt, status string
	var allDay int

	err := sc.Scan(
		&b.ID,
		&b.CalendarID,
		&b.BarberID,
		&b.ExternalID,
		&start,
		&end,
		&allDay,
		&status,
		&b.Title,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning booking row: %w", err)
	}

	b.Start, _ = parseTime(start)
	b.End, _ = parseTime(end)
	b.CreatedAt, _ = parseTime(createdAt)
	b.UpdatedAt, _ = parseTime(updatedAt)
	b.AllDay = allDay != 0
	b.Status = model.Status(status)

	return &b, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
