// Package webhook exposes the HTTP endpoint the remote calendar provider
// notifies when a monitored calendar changes. The payload does not enumerate
// the changes — it is only a signal to trigger a sync pass for the referenced
// calendar.
package webhook

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const tokenHeader = "X-Webhook-Token"

// Notifier accepts change signals for monitored calendars.
// Implemented by [sync.Engine].
type Notifier interface {
	// Kick requests an asynchronous sync pass. Returns false when the
	// calendar is not monitored.
	Kick(calendarID string) bool
}

// Server handles inbound change notifications.
type Server struct {
	notifier Notifier
	secret   string
	log      *slog.Logger
}

// NewServer creates a Server forwarding signals to the notifier. When secret
// is non-empty, requests must carry it in the X-Webhook-Token header.
func NewServer(notifier Notifier, secret string, logger *slog.Logger) *Server {
	return &Server{notifier: notifier, secret: secret, log: logger}
}

// notification is the minimal payload the provider sends.
type notification struct {
	CalendarID string `json:"calendar_id"`
}

// Routes returns the HTTP handler for the webhook listener.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Post("/hooks/calendar", s.handleNotification)

	return r
}

// handleNotification validates the signal and kicks the sync engine. It
// responds before the sync pass runs; delivery is at-least-once, so a lost
// response only means a redundant, idempotent re-kick.
func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	if s.secret != "" && r.Header.Get(tokenHeader) != s.secret {
		s.log.Warn("webhook rejected: bad token", "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var n notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil || n.CalendarID == "" {
		http.Error(w, "missing calendar_id", http.StatusBadRequest)
		return
	}

	if !s.notifier.Kick(n.CalendarID) {
		// Unknown calendars are dropped silently: providers may keep
		// notifying for channels we no longer monitor.
		s.log.Debug("webhook for unmonitored calendar", "calendar", n.CalendarID)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.log.Debug("webhook accepted", "calendar", n.CalendarID)
	w.WriteHeader(http.StatusAccepted)
}
