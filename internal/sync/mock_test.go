package sync

import (
	"context"
	"fmt"
	gosync "sync"

	"github.com/chairtime/calsync/internal/calendar"
	"github.com/chairtime/calsync/internal/model"
	"github.com/chairtime/calsync/internal/store"
)

// --- Mock Event Source -------------------------------------------------------

type listCall struct {
	syncToken string
	pageToken string
}

type mockSource struct {
	mu    gosync.Mutex
	pages map[listCall]*calendar.Page
	errs  map[listCall]error
	calls []listCall

	// blockOn, when non-nil, is received from before answering — used to
	// hold a pass in flight for coalescing tests.
	blockOn chan struct{}
}

func newMockSource() *mockSource {
	return &mockSource{
		pages: make(map[listCall]*calendar.Page),
		errs:  make(map[listCall]error),
	}
}

// respond scripts the page returned for a (syncToken, pageToken) request.
func (m *mockSource) respond(syncToken, pageToken string, page *calendar.Page) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[listCall{syncToken, pageToken}] = page
	delete(m.errs, listCall{syncToken, pageToken})
}

// failWith scripts an error for a (syncToken, pageToken) request.
func (m *mockSource) failWith(syncToken, pageToken string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[listCall{syncToken, pageToken}] = err
}

func (m *mockSource) ListChanges(_ context.Context, _, syncToken, pageToken string, _ int) (*calendar.Page, error) {
	if m.blockOn != nil {
		<-m.blockOn
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	call := listCall{syncToken, pageToken}
	m.calls = append(m.calls, call)

	if err, ok := m.errs[call]; ok {
		return nil, err
	}
	if page, ok := m.pages[call]; ok {
		return page, nil
	}
	return nil, fmt.Errorf("unscripted ListChanges(syncToken=%q, pageToken=%q)", syncToken, pageToken)
}

func (m *mockSource) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// --- Mock Booking Store ------------------------------------------------------

type mockBookings struct {
	mu       gosync.Mutex
	bookings map[string]*model.Booking // calendarID+"/"+externalID → booking

	creates int
	updates int

	// missOnce makes FindByExternalID return nil once for the given key
	// while the record exists, simulating the check-then-act race that
	// produces a duplicate-create conflict.
	missOnce map[string]bool

	// failAll makes every mutation fail, simulating fatal storage failure.
	failAll error
}

func newMockBookings() *mockBookings {
	return &mockBookings{
		bookings: make(map[string]*model.Booking),
		missOnce: make(map[string]bool),
	}
}

func bkey(calendarID, externalID string) string {
	return calendarID + "/" + externalID
}

func (m *mockBookings) seed(bookings ...*model.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range bookings {
		m.bookings[bkey(b.CalendarID, b.ExternalID)] = b
	}
}

func (m *mockBookings) FindByExternalID(_ context.Context, calendarID, externalID string) (*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := bkey(calendarID, externalID)
	if m.missOnce[key] {
		delete(m.missOnce, key)
		return nil, nil
	}
	b, ok := m.bookings[key]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (m *mockBookings) CreateBooking(_ context.Context, b *model.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failAll != nil {
		return m.failAll
	}
	key := bkey(b.CalendarID, b.ExternalID)
	if _, exists := m.bookings[key]; exists {
		return store.ErrDuplicateBooking
	}
	cp := *b
	m.bookings[key] = &cp
	m.creates++
	return nil
}

func (m *mockBookings) UpdateBooking(_ context.Context, b *model.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failAll != nil {
		return m.failAll
	}
	for key, existing := range m.bookings {
		if existing.ID == b.ID {
			cp := *b
			m.bookings[key] = &cp
			m.updates++
			return nil
		}
	}
	return fmt.Errorf("booking %q not found", b.ID)
}

func (m *mockBookings) DeleteByExternalID(_ context.Context, calendarID, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failAll != nil {
		return m.failAll
	}
	delete(m.bookings, bkey(calendarID, externalID))
	return nil
}

func (m *mockBookings) ExternalIDs(_ context.Context, calendarID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for _, b := range m.bookings {
		if b.CalendarID == calendarID {
			ids = append(ids, b.ExternalID)
		}
	}
	return ids, nil
}

func (m *mockBookings) get(calendarID, externalID string) *model.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bkey(calendarID, externalID)]
	if !ok {
		return nil
	}
	cp := *b
	return &cp
}

func (m *mockBookings) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bookings)
}

func (m *mockBookings) createCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates
}

// --- Mock Cursor Store -------------------------------------------------------

type mockCursors struct {
	mu      gosync.Mutex
	tokens  map[string]string
	saveErr error
	saves   int
}

func newMockCursors() *mockCursors {
	return &mockCursors{tokens: make(map[string]string)}
}

func (m *mockCursors) seed(calendarID, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[calendarID] = token
}

func (m *mockCursors) LoadCursor(_ context.Context, calendarID string) (*store.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[calendarID]
	if !ok {
		return nil, nil
	}
	return &store.Cursor{CalendarID: calendarID, Token: token}, nil
}

func (m *mockCursors) SaveCursor(_ context.Context, calendarID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.tokens[calendarID] = token
	return nil
}

func (m *mockCursors) token(calendarID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[calendarID]
}
