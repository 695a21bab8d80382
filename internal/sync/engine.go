package sync

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	otelScope     = "calsync/sync"
	spanPass      = "sync.pass"
	metricCreated = "calsync.sync.bookings.created"
	metricUpdated = "calsync.sync.bookings.updated"
	metricDeleted = "calsync.sync.bookings.deleted"
	metricSkipped = "calsync.sync.events.skipped"
	metricErrors  = "calsync.sync.errors"

	// kickBuffer bounds queued webhook kicks. Overflow is dropped; the
	// fallback ticker covers anything a dropped kick would have synced.
	kickBuffer = 64
)

// Engine orchestrates the sync lifecycle: a fallback ticker covering every
// monitored calendar plus webhook-driven kicks for instant updates. Create
// one with [NewEngine] and start it with [Engine.Run].
type Engine struct {
	trigger      *Trigger
	pollInterval time.Duration
	kicks        chan string
	log          *slog.Logger

	// OTel instruments, always non-nil (no-op when telemetry is disabled).
	tracer     trace.Tracer
	cntCreated metric.Int64Counter
	cntUpdated metric.Int64Counter
	cntDeleted metric.Int64Counter
	cntSkipped metric.Int64Counter
	cntErrors  metric.Int64Counter
}

// NewEngine creates an Engine driving the given trigger.
func NewEngine(trigger *Trigger, pollInterval time.Duration, logger *slog.Logger) *Engine {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		trigger:      trigger,
		pollInterval: pollInterval,
		kicks:        make(chan string, kickBuffer),
		log:          logger,

		tracer:     tracer,
		cntCreated: mustCounter(metricCreated, "Number of bookings created during sync"),
		cntUpdated: mustCounter(metricUpdated, "Number of bookings updated during sync"),
		cntDeleted: mustCounter(metricDeleted, "Number of bookings deleted during sync"),
		cntSkipped: mustCounter(metricSkipped, "Number of remote events skipped during sync"),
		cntErrors:  mustCounter(metricErrors, "Number of errors encountered during sync"),
	}
}

// Kick requests an asynchronous sync pass for the calendar, typically from a
// webhook notification. Returns false if the calendar is unknown. Kicks that
// arrive faster than they can be queued are dropped; the fallback ticker
// covers them.
func (e *Engine) Kick(calendarID string) bool {
	if !e.trigger.Knows(calendarID) {
		return false
	}
	select {
	case e.kicks <- calendarID:
	default:
		e.log.Debug("kick queue full, dropping", "calendar", calendarID)
	}
	return true
}

// syncCalendar runs one pass for one calendar, recording a trace span and
// metrics.
func (e *Engine) syncCalendar(ctx context.Context, calendarID string) (Stats, error) {
	ctx, span := e.tracer.Start(ctx, spanPass,
		trace.WithAttributes(attribute.String("sync.calendar_id", calendarID)))
	defer span.End()

	stats, err := e.trigger.Sync(ctx, calendarID)

	if stats.Created > 0 {
		e.cntCreated.Add(ctx, int64(stats.Created))
	}
	if stats.Updated > 0 {
		e.cntUpdated.Add(ctx, int64(stats.Updated))
	}
	if stats.Deleted > 0 {
		e.cntDeleted.Add(ctx, int64(stats.Deleted))
	}
	if stats.Skipped > 0 {
		e.cntSkipped.Add(ctx, int64(stats.Skipped))
	}
	if stats.Errors > 0 {
		e.cntErrors.Add(ctx, int64(stats.Errors))
	}

	span.SetAttributes(
		attribute.Int("sync.created", stats.Created),
		attribute.Int("sync.updated", stats.Updated),
		attribute.Int("sync.deleted", stats.Deleted),
		attribute.Int("sync.skipped", stats.Skipped),
		attribute.Int("sync.errors", stats.Errors),
	)
	if err != nil {
		span.RecordError(err)
	}
	return stats, err
}

// RunOnce performs a single sync pass over every monitored calendar and
// returns aggregate statistics with the first error encountered.
func (e *Engine) RunOnce(ctx context.Context) (Stats, error) {
	var total Stats
	var firstErr error
	for _, id := range e.trigger.CalendarIDs() {
		stats, err := e.syncCalendar(ctx, id)
		total.add(stats)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return total, firstErr
}

// Run starts the fallback ticker and the kick consumer. It blocks until ctx
// is cancelled. Each pass runs in its own goroutine so one slow calendar
// does not delay the others; the trigger's per-calendar coalescing prevents
// overlapping passes for the same calendar.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	syncAll := func() {
		for _, id := range e.trigger.CalendarIDs() {
			go func(calendarID string) {
				if _, err := e.syncCalendar(ctx, calendarID); err != nil && ctx.Err() == nil {
					e.log.Error("scheduled sync failed", "calendar", calendarID, "error", err)
				}
			}(id)
		}
	}

	// Run an immediate first pass.
	syncAll()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("sync engine shutting down")
			return ctx.Err()
		case <-ticker.C:
			syncAll()
		case calendarID := <-e.kicks:
			go func() {
				if _, err := e.syncCalendar(ctx, calendarID); err != nil && ctx.Err() == nil {
					e.log.Error("webhook-triggered sync failed", "calendar", calendarID, "error", err)
				}
			}()
		}
	}
}
