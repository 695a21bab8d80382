// Package calendar talks to the remote calendar provider's REST API. It
// provides a [Client] with a paged "list changes since cursor" call aligned
// to the sync engine's needs, a bounded-attempt [Retry] helper, and
// conversion between the provider's JSON representation and
// [model.RemoteEvent].
package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chairtime/calsync/internal/model"
)

// ErrCursorInvalidated is returned by [Client.ListChanges] when the provider
// rejects the sync token as expired. The caller must restart the pass without
// a token, which yields a full snapshot of current calendar state.
var ErrCursorInvalidated = errors.New("sync token invalidated by provider")

// Page is one page of remote event deltas.
type Page struct {
	// Events holds the deltas in this page. Order within a page carries no
	// meaning and must not be relied upon.
	Events []model.RemoteEvent

	// NextPageToken continues the current listing when non-empty.
	NextPageToken string

	// NextSyncToken is the resumption cursor for the next sync pass. The
	// provider sends it only on the final page of a listing.
	NextSyncToken string
}

// Client fetches event changes from the remote calendar provider.
type Client struct {
	baseURL string
	token   string
	hc      *http.Client
	log     *slog.Logger
}

// NewClient creates a Client for the provider API at baseURL, authenticating
// with the given bearer token.
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		hc:      &http.Client{Timeout: timeout},
		log:     logger,
	}
}

// ListChanges fetches one page of event changes for the calendar. An empty
// syncToken requests a full listing of current events; pageToken continues a
// listing already in progress. Transient failures are retried with backoff;
// a rejected sync token surfaces as [ErrCursorInvalidated] without retry.
func (c *Client) ListChanges(ctx context.Context, calendarID, syncToken, pageToken string, pageSize int) (*Page, error) {
	endpoint := fmt.Sprintf("%s/v1/calendars/%s/events", c.baseURL, url.PathEscape(calendarID))

	q := url.Values{}
	q.Set("maxResults", strconv.Itoa(pageSize))
	if syncToken != "" {
		q.Set("syncToken", syncToken)
	}
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	var page *Page
	err := Retry(ctx, defaultMaxAttempts, func() error {
		var callErr error
		page, callErr = c.fetchPage(ctx, endpoint+"?"+q.Encode())
		if errors.Is(callErr, ErrCursorInvalidated) {
			// Not transient: retrying with the same token cannot succeed.
			return Abort(callErr)
		}
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("listing changes for %s: %w", calendarID, err)
	}
	return page, nil
}

// fetchPage performs one HTTP round trip and decodes the response.
func (c *Client) fetchPage(ctx context.Context, fullURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create list request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute list request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusGone:
		// The provider signals an expired sync token with 410 Gone.
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, ErrCursorInvalidated
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("provider returned 401 Unauthorized, check api_token")
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("provider returned unexpected status %d", resp.StatusCode)
	}

	var body eventListResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}

	page := &Page{
		NextPageToken: body.NextPageToken,
		NextSyncToken: body.NextSyncToken,
		Events:        make([]model.RemoteEvent, 0, len(body.Events)),
	}
	for _, raw := range body.Events {
		ev, err := rawEventToModel(raw)
		if err != nil {
			// Undecodable time fields make the event malformed, not the page.
			// It still reaches the reconciler, which skips and logs it.
			c.log.Debug("unparseable event times", "external_id", raw.ID, "error", err)
		}
		page.Events = append(page.Events, ev)
	}
	return page, nil
}
