package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/chairtime/calsync/internal/calendar"
	"github.com/chairtime/calsync/internal/model"
)

// commitAttempts bounds retries of the final cursor write. Applying is
// already idempotent, so only the commit itself is re-done.
const commitAttempts = 3

// TriggerConfig holds the options for [NewTrigger]. Uses a struct because
// the trigger wires together most of the system.
type TriggerConfig struct {
	Source           EventSource
	Bookings         BookingStore
	Cursors          CursorStore
	Calendars        map[string]string // calendarID → barberID
	PageSize         int
	PassTimeout      time.Duration
	FailureThreshold int // consecutive failures before operator escalation
	Logger           *slog.Logger
}

// Trigger runs complete sync passes: cursor load, paged fetch, per-page
// apply, full-resync fallback, and cursor commit. Passes for the same
// calendar are mutually exclusive; a concurrent trigger joins the in-flight
// pass instead of racing it. Different calendars sync independently.
type Trigger struct {
	source     EventSource
	bookings   BookingStore
	cursors    CursorStore
	reconciler *Reconciler
	calendars  map[string]string
	pageSize   int
	timeout    time.Duration
	threshold  int
	log        *slog.Logger

	group singleflight.Group

	mu       gosync.Mutex
	failures map[string]int // calendarID → consecutive failed passes
}

// NewTrigger creates a Trigger from cfg.
func NewTrigger(cfg TriggerConfig) *Trigger {
	return &Trigger{
		source:     cfg.Source,
		bookings:   cfg.Bookings,
		cursors:    cfg.Cursors,
		reconciler: NewReconciler(cfg.Bookings, cfg.Logger),
		calendars:  cfg.Calendars,
		pageSize:   cfg.PageSize,
		timeout:    cfg.PassTimeout,
		threshold:  cfg.FailureThreshold,
		log:        cfg.Logger,
		failures:   make(map[string]int),
	}
}

// CalendarIDs returns the ids of all monitored calendars.
func (t *Trigger) CalendarIDs() []string {
	ids := make([]string, 0, len(t.calendars))
	for id := range t.calendars {
		ids = append(ids, id)
	}
	return ids
}

// Knows reports whether calendarID is monitored.
func (t *Trigger) Knows(calendarID string) bool {
	_, ok := t.calendars[calendarID]
	return ok
}

// Sync runs one sync pass for the calendar. Duplicate webhook deliveries and
// timer overlaps coalesce: a call for a calendar already syncing shares the
// in-flight pass's result, and the fallback ticker picks up anything that
// pass started too early to see.
func (t *Trigger) Sync(ctx context.Context, calendarID string) (Stats, error) {
	v, err, shared := t.group.Do(calendarID, func() (any, error) {
		return t.runPass(ctx, calendarID)
	})
	if shared {
		t.log.Debug("concurrent trigger coalesced", "calendar", calendarID)
	}
	stats, _ := v.(Stats)
	return stats, err
}

// runPass executes one bounded sync pass for the calendar. Any failure
// before the final commit leaves the persisted cursor untouched, so the next
// trigger re-fetches and re-applies the same pages.
func (t *Trigger) runPass(ctx context.Context, calendarID string) (Stats, error) {
	barberID, ok := t.calendars[calendarID]
	if !ok {
		return Stats{}, fmt.Errorf("unknown calendar %q", calendarID)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cur, err := t.cursors.LoadCursor(ctx, calendarID)
	if err != nil {
		return t.fail(calendarID, Stats{}, fmt.Errorf("loading cursor: %w", err))
	}
	token := ""
	if cur != nil {
		token = cur.Token
	}

	stats, nextToken, err := t.runListing(ctx, calendarID, barberID, token)
	if errors.Is(err, calendar.ErrCursorInvalidated) && token != "" {
		t.log.Warn("sync token invalidated, performing full resync", "calendar", calendarID)
		stats, nextToken, err = t.runListing(ctx, calendarID, barberID, "")
	}
	if err != nil {
		return t.fail(calendarID, stats, err)
	}

	// Commit. The cursor advances only now that every page has applied.
	if nextToken != "" {
		err := calendar.Retry(ctx, commitAttempts, func() error {
			return t.cursors.SaveCursor(ctx, calendarID, nextToken)
		})
		if err != nil {
			return t.fail(calendarID, stats, fmt.Errorf("committing cursor: %w", err))
		}
	}

	t.clearFailures(calendarID)
	t.log.Info("sync pass complete",
		"calendar", calendarID,
		"created", stats.Created,
		"updated", stats.Updated,
		"deleted", stats.Deleted,
		"skipped", stats.Skipped,
	)
	return stats, nil
}

// runListing drives the pagination loop for one listing. An empty token
// requests a full snapshot; in that mode, locally stored bookings whose
// external id never appears in the snapshot are orphans and are removed.
func (t *Trigger) runListing(ctx context.Context, calendarID, barberID, token string) (Stats, string, error) {
	var stats Stats

	fullResync := token == ""
	var seen map[string]bool
	if fullResync {
		seen = make(map[string]bool)
	}

	pageToken := ""
	nextSync := ""
	for {
		page, err := t.source.ListChanges(ctx, calendarID, token, pageToken, t.pageSize)
		if err != nil {
			return stats, "", fmt.Errorf("fetching changes: %w", err)
		}

		pageStats, err := t.reconciler.ApplyPage(ctx, calendarID, barberID, page.Events)
		stats.add(pageStats)
		if err != nil {
			return stats, "", fmt.Errorf("applying page: %w", err)
		}

		if fullResync {
			for i := range page.Events {
				ev := &page.Events[i]
				// Every listed non-cancelled id is current, including ones
				// the reconciler skipped as malformed; those must not be
				// mistaken for orphans.
				if ev.ExternalID != "" && ev.Status != model.StatusCancelled {
					seen[ev.ExternalID] = true
				}
			}
		}

		if page.NextSyncToken != "" {
			nextSync = page.NextSyncToken
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	if fullResync {
		deleted, err := t.cleanupOrphans(ctx, calendarID, seen)
		stats.Deleted += deleted
		if err != nil {
			return stats, "", err
		}
	}

	return stats, nextSync, nil
}

// cleanupOrphans deletes bookings absent from a full snapshot. A snapshot
// lists only still-current events, so anything it omits no longer exists
// remotely.
func (t *Trigger) cleanupOrphans(ctx context.Context, calendarID string, seen map[string]bool) (int, error) {
	ids, err := t.bookings.ExternalIDs(ctx, calendarID)
	if err != nil {
		return 0, fmt.Errorf("listing bookings for orphan cleanup: %w", err)
	}

	deleted := 0
	for _, id := range ids {
		if seen[id] {
			continue
		}
		if err := t.bookings.DeleteByExternalID(ctx, calendarID, id); err != nil {
			return deleted, fmt.Errorf("deleting orphaned booking %q: %w", id, err)
		}
		t.log.Info("orphaned booking removed", "calendar", calendarID, "external_id", id)
		deleted++
	}
	return deleted, nil
}

// fail records a failed pass and escalates once the calendar keeps failing
// across consecutive attempts. Transient failures below the threshold are
// only logged; the next webhook or timer trigger retries from the previous,
// still-valid cursor.
func (t *Trigger) fail(calendarID string, stats Stats, err error) (Stats, error) {
	t.mu.Lock()
	t.failures[calendarID]++
	n := t.failures[calendarID]
	t.mu.Unlock()

	if t.threshold > 0 && n >= t.threshold {
		t.log.Error("sync pass keeps failing, operator attention needed",
			"calendar", calendarID,
			"consecutive_failures", n,
			"error", err,
		)
	} else {
		t.log.Warn("sync pass failed, will retry on next trigger",
			"calendar", calendarID,
			"consecutive_failures", n,
			"error", err,
		)
	}
	return stats, err
}

func (t *Trigger) clearFailures(calendarID string) {
	t.mu.Lock()
	delete(t.failures, calendarID)
	t.mu.Unlock()
}
