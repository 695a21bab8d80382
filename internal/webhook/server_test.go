package webhook

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type mockNotifier struct {
	known map[string]bool
	kicks []string
}

func (m *mockNotifier) Kick(calendarID string) bool {
	m.kicks = append(m.kicks, calendarID)
	return m.known[calendarID]
}

func newTestServer(secret string) (*mockNotifier, http.Handler) {
	n := &mockNotifier{known: map[string]bool{"cal-1": true}}
	s := NewServer(n, secret, slog.Default())
	return n, s.Routes()
}

func post(t *testing.T, h http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/hooks/calendar", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNotification_KnownCalendar_Accepted(t *testing.T) {
	n, h := newTestServer("")
	rec := post(t, h, `{"calendar_id": "cal-1"}`, nil)

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
	if len(n.kicks) != 1 || n.kicks[0] != "cal-1" {
		t.Errorf("kicks = %v, want [cal-1]", n.kicks)
	}
}

func TestNotification_UnknownCalendar_Dropped(t *testing.T) {
	_, h := newTestServer("")
	rec := post(t, h, `{"calendar_id": "cal-other"}`, nil)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}

func TestNotification_MissingCalendarID(t *testing.T) {
	n, h := newTestServer("")
	rec := post(t, h, `{}`, nil)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if len(n.kicks) != 0 {
		t.Errorf("kicks = %v, want none", n.kicks)
	}
}

func TestNotification_BadSecret(t *testing.T) {
	n, h := newTestServer("hush")
	rec := post(t, h, `{"calendar_id": "cal-1"}`, map[string]string{"X-Webhook-Token": "wrong"})

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if len(n.kicks) != 0 {
		t.Errorf("kicks = %v, want none (rejected before kick)", n.kicks)
	}
}

func TestNotification_GoodSecret(t *testing.T) {
	_, h := newTestServer("hush")
	rec := post(t, h, `{"calendar_id": "cal-1"}`, map[string]string{"X-Webhook-Token": "hush"})

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	_, h := newTestServer("")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
