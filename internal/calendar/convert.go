package calendar

import (
	"fmt"
	"time"

	"github.com/chairtime/calsync/internal/model"
)

const dateLayout = "2006-01-02"

// rawEvent is the JSON structure for a single event in the provider's list
// response.
type rawEvent struct {
	ID      string       `json:"id"`
	Status  string       `json:"status"`
	Summary string       `json:"summary,omitempty"`
	Start   rawEventTime `json:"start,omitempty"`
	End     rawEventTime `json:"end,omitempty"`
}

// rawEventTime carries either a timestamp or a full-day date, never both.
type rawEventTime struct {
	DateTime string `json:"dateTime,omitempty"` // RFC 3339
	Date     string `json:"date,omitempty"`     // "YYYY-MM-DD"
}

// eventListResponse is the provider's paged listing envelope.
type eventListResponse struct {
	Events        []rawEvent `json:"events"`
	NextPageToken string     `json:"nextPageToken,omitempty"`
	NextSyncToken string     `json:"nextSyncToken,omitempty"`
}

// rawEventToModel converts a provider event to a [model.RemoteEvent]. Time
// parse failures leave the corresponding field zero and are reported back so
// the caller can log them; validation happens in the reconciler.
func rawEventToModel(raw rawEvent) (model.RemoteEvent, error) {
	ev := model.RemoteEvent{
		ExternalID: raw.ID,
		Status:     model.NormalizeStatus(raw.Status),
		Title:      raw.Summary,
	}

	var firstErr error
	start, allDay, err := parseEventTime(raw.Start)
	if err != nil {
		firstErr = err
	} else {
		ev.Start = start
		ev.AllDay = allDay
	}

	end, _, err := parseEventTime(raw.End)
	if err != nil && firstErr == nil {
		firstErr = err
	} else if err == nil {
		ev.End = end
	}

	return ev, firstErr
}

// parseEventTime resolves a start/end field to a concrete time. Full-day
// dates become midnight UTC and flag the event as all-day.
func parseEventTime(rt rawEventTime) (t time.Time, allDay bool, err error) {
	switch {
	case rt.DateTime != "":
		t, err = time.Parse(time.RFC3339, rt.DateTime)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parsing event timestamp %q: %w", rt.DateTime, err)
		}
		return t, false, nil
	case rt.Date != "":
		t, err = time.Parse(dateLayout, rt.Date)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parsing event date %q: %w", rt.Date, err)
		}
		return t.UTC(), true, nil
	default:
		return time.Time{}, false, nil
	}
}
