package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"event-ticket/internal/codec"
	"event-ticket/internal/identity"
	"event-ticket/internal/realtime"
	"event-ticket/internal/services"
	"event-ticket/internal/status"
	"event-ticket/internal/store"
	"event-ticket/models"

	"github.com/go-redis/redismock/v9"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	store   *store.MemoryStore
	events  *EventHandler
	tickets *TicketHandler
	scans   *ScanHandler
	system  *SystemHandler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	c, err := codec.New(nil)
	require.NoError(t, err)

	st := store.NewMemoryStore()
	syncer := services.NewSync(st, nil)
	stats := services.NewStatsService(st, realtime.NewMemoryBroker(), nil)
	eventService := services.NewEventService(st, syncer)

	require.NoError(t, st.PutEvent(context.Background(), &models.Event{
		ID:          "e1",
		Title:       "Rooftop Session",
		Location:    "Pier 7",
		Date:        time.Date(2026, 6, 12, 21, 30, 0, 0, time.UTC),
		OrganizerID: "org-1",
		IsPublic:    true,
		TicketTypes: []models.TicketType{
			{ID: "ga", Name: "General", Price: decimal.NewFromInt(15), Quantity: 2, AvailableQuantity: 2, EventID: "e1"},
		},
	}))
	require.NoError(t, st.PutEvent(context.Background(), &models.Event{
		ID:          "e2",
		Title:       "Matinee",
		OrganizerID: "org-1",
		TicketTypes: []models.TicketType{
			{ID: "ga", Name: "General", Quantity: 5, AvailableQuantity: 5, EventID: "e2"},
		},
	}))

	return &testServer{
		store:   st,
		events:  NewEventHandler(eventService),
		tickets: NewTicketHandler(services.NewIssuanceService(st, c, identity.ContextProvider{}, syncer, nil, nil), services.NewTicketService(st, syncer)),
		scans:   NewScanHandler(eventService, services.NewRedemptionService(st, c, syncer, stats, nil, nil), stats),
		system:  NewSystemHandler(nil, "memory"),
	}
}

func authRecord(id string, organizer bool) *core.Record {
	users := core.NewAuthCollection("users")
	users.Fields.Add(&core.BoolField{Name: "is_organizer"})
	record := core.NewRecord(users)
	record.Id = id
	record.SetEmail(id + "@example.com")
	record.Set("is_organizer", organizer)
	return record
}

// newEvent builds a request event the way the router hands it to a handler
// behind RequireUser.
func newEvent(ctx context.Context, method, target, body string, auth *core.Record, pathValues map[string]string) (*core.RequestEvent, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range pathValues {
		req.SetPathValue(k, v)
	}
	if auth != nil {
		ctx = identity.WithUserID(ctx, auth.Id)
	}
	rec := httptest.NewRecorder()

	e := &core.RequestEvent{}
	e.Request = req.WithContext(ctx)
	e.Response = rec
	e.Auth = auth
	return e, rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func (s *testServer) issue(t *testing.T, userID, eventID string) *models.Ticket {
	t.Helper()
	e, rec := newEvent(context.Background(), http.MethodPost, "/api/events/"+eventID+"/tickets",
		`{"ticket_type_id":"ga"}`, authRecord(userID, false), map[string]string{"eventId": eventID})
	require.NoError(t, s.tickets.Issue(e))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var ticket models.Ticket
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ticket))
	return &ticket
}

func (s *testServer) scan(t *testing.T, organizerID, eventID, code string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(ScanRequest{Code: code})
	require.NoError(t, err)
	e, rec := newEvent(context.Background(), http.MethodPost, "/api/events/"+eventID+"/scan",
		string(body), authRecord(organizerID, true), map[string]string{"eventId": eventID})
	require.NoError(t, s.scans.Scan(e))
	return rec
}

func TestRespondErrorMapping(t *testing.T) {
	scannedAt := time.Date(2026, 6, 12, 21, 45, 0, 0, time.UTC)
	tests := []struct {
		name     string
		err      error
		status   int
		code     status.Code
		expected bool
	}{
		{"not authenticated", status.ErrNotAuthenticated, http.StatusUnauthorized, status.CodeNotAuthenticated, false},
		{"exhausted", fmt.Errorf("issue: %w", status.ErrExhausted), http.StatusConflict, status.CodeExhausted, true},
		{"invalid code", status.ErrInvalidCode, http.StatusBadRequest, status.CodeInvalidCode, false},
		{"unknown ticket", status.ErrUnknownTicket, http.StatusNotFound, status.CodeUnknownTicket, false},
		{"already scanned", &status.AlreadyScannedError{TicketID: "t1", ScannedAt: scannedAt}, http.StatusConflict, status.CodeAlreadyScanned, true},
		{"forbidden", status.ErrForbidden, http.StatusForbidden, status.CodeForbidden, false},
		{"store fault", errors.New("redis: connection pool timeout"), http.StatusServiceUnavailable, status.CodeStoreUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, rec := newEvent(context.Background(), http.MethodGet, "/api/x", "", nil, nil)
			require.NoError(t, respondError(e, tt.err))

			assert.Equal(t, tt.status, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, string(tt.code), body["code"])
			assert.Equal(t, tt.expected, body["expected"])
			assert.Equal(t, status.Message(tt.err), body["message"])
			assert.NotContains(t, rec.Body.String(), "redis")

			if tt.code == status.CodeAlreadyScanned {
				assert.Equal(t, scannedAt.Format(time.RFC3339), body["scanned_at"])
			} else {
				assert.NotContains(t, body, "scanned_at")
			}
		})
	}
}

func TestRequireUser(t *testing.T) {
	t.Run("rejects anonymous requests", func(t *testing.T) {
		e, rec := newEvent(context.Background(), http.MethodGet, "/api/me", "", nil, nil)
		require.NoError(t, RequireUser()(e))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "NOT_AUTHENTICATED", decodeBody(t, rec)["code"])
	})

	t.Run("stores the user id in the context", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		e := &core.RequestEvent{}
		e.Request = req
		e.Response = httptest.NewRecorder()
		e.Auth = authRecord("u1", false)

		require.NoError(t, RequireUser()(e))
		id, ok := identity.FromContext(e.Request.Context())
		assert.True(t, ok)
		assert.Equal(t, "u1", id)
	})
}

func TestRequireOrganizer(t *testing.T) {
	e, rec := newEvent(context.Background(), http.MethodPost, "/api/events", "{}", authRecord("u1", false), nil)
	require.NoError(t, RequireOrganizer()(e))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	e, rec = newEvent(context.Background(), http.MethodPost, "/api/events", "{}", authRecord("org-1", true), nil)
	require.NoError(t, RequireOrganizer()(e))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestMe(t *testing.T) {
	s := newTestServer(t)
	e, rec := newEvent(context.Background(), http.MethodGet, "/api/me", "", authRecord("org-1", true), nil)
	require.NoError(t, s.system.Me(e))

	body := decodeBody(t, rec)
	assert.Equal(t, "org-1", body["id"])
	assert.Equal(t, "org-1@example.com", body["email"])
	assert.Equal(t, true, body["is_organizer"])
	assert.NotContains(t, body, "photo_url")
}

func TestHealth(t *testing.T) {
	t.Run("memory backend", func(t *testing.T) {
		s := newTestServer(t)
		e, rec := newEvent(context.Background(), http.MethodGet, "/health", "", nil, nil)
		require.NoError(t, s.system.Health(e))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
	})

	t.Run("redis down", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		mock.ExpectPing().SetErr(errors.New("connection refused"))

		e, rec := newEvent(context.Background(), http.MethodGet, "/health", "", nil, nil)
		require.NoError(t, NewSystemHandler(client, "redis").Health(e))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "unhealthy", decodeBody(t, rec)["status"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreateAndUpdateEvent(t *testing.T) {
	s := newTestServer(t)
	draft := `{"title":"Night Market","location":"Dock 3","date":"2026-08-01T19:00:00Z","is_public":true,
		"ticket_types":[{"name":"Entry","price":"12.50","quantity":100}]}`

	e, rec := newEvent(context.Background(), http.MethodPost, "/api/events", draft, authRecord("org-2", true), nil)
	require.NoError(t, s.events.Create(e))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created models.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "org-2", created.OrganizerID)
	require.Len(t, created.TicketTypes, 1)
	assert.Equal(t, 100, created.TicketTypes[0].AvailableQuantity)

	e, rec = newEvent(context.Background(), http.MethodPatch, "/api/events/"+created.ID,
		`{"title":"Night Market II"}`, authRecord("org-1", true), map[string]string{"eventId": created.ID})
	require.NoError(t, s.events.Update(e))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	e, rec = newEvent(context.Background(), http.MethodPatch, "/api/events/"+created.ID,
		`{"title":"Night Market II"}`, authRecord("org-2", true), map[string]string{"eventId": created.ID})
	require.NoError(t, s.events.Update(e))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Night Market II", decodeBody(t, rec)["title"])
}

func TestCreateEventRejectsBadBody(t *testing.T) {
	s := newTestServer(t)
	e, rec := newEvent(context.Background(), http.MethodPost, "/api/events", `{"title":`, authRecord("org-1", true), nil)
	require.NoError(t, s.events.Create(e))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decodeBody(t, rec)["code"])
}

func TestListPublicEvents(t *testing.T) {
	s := newTestServer(t)
	e, rec := newEvent(context.Background(), http.MethodGet, "/api/events", "", nil, nil)
	require.NoError(t, s.events.ListPublic(e))

	require.Equal(t, http.StatusOK, rec.Code)
	events := decodeBody(t, rec)["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "e1", events[0].(map[string]any)["id"])
}

func TestListPublicEventsQueryParameters(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.store.PutEvent(context.Background(), &models.Event{
		ID:          "e3",
		Title:       "Morning Run",
		Category:    "Sport",
		Date:        time.Date(2026, 5, 2, 7, 0, 0, 0, time.UTC),
		OrganizerID: "org-2",
		IsPublic:    true,
	}))
	s.events.now = func() time.Time { return time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC) }

	list := func(target string) []string {
		t.Helper()
		e, rec := newEvent(context.Background(), http.MethodGet, target, "", nil, nil)
		require.NoError(t, s.events.ListPublic(e))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var ids []string
		for _, ev := range decodeBody(t, rec)["events"].([]any) {
			ids = append(ids, ev.(map[string]any)["id"].(string))
		}
		return ids
	}

	assert.Equal(t, []string{"e1", "e3"}, list("/api/events"))
	assert.Equal(t, []string{"e1"}, list("/api/events?q=pier"))
	assert.Equal(t, []string{"e3"}, list("/api/events?category=sport"))
	assert.Equal(t, []string{"e1"}, list("/api/events?upcoming=true"))
	assert.Equal(t, []string{"e3", "e1"}, list("/api/events?from=2026-05-01"))
	assert.Equal(t, []string{"e1"}, list("/api/events?from=2026-05-02T08:00:00Z"))
	assert.Empty(t, list("/api/events?q=matinee"))
}

func TestListPublicEventsRejectsBadParameters(t *testing.T) {
	s := newTestServer(t)

	for _, target := range []string{"/api/events?from=next-week", "/api/events?upcoming=soon"} {
		e, rec := newEvent(context.Background(), http.MethodGet, target, "", nil, nil)
		require.NoError(t, s.events.ListPublic(e))

		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Equal(t, "INVALID_INPUT", decodeBody(t, rec)["code"], target)
	}
}

func TestGetUnknownEvent(t *testing.T) {
	s := newTestServer(t)
	e, rec := newEvent(context.Background(), http.MethodGet, "/api/events/nope", "", nil, map[string]string{"eventId": "nope"})
	require.NoError(t, s.events.Get(e))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "EVENT_NOT_FOUND", decodeBody(t, rec)["code"])
}

func TestIssueTicket(t *testing.T) {
	s := newTestServer(t)

	ticket := s.issue(t, "alice", "e1")
	assert.Equal(t, "alice", ticket.UserID)
	assert.NotEmpty(t, ticket.QRCodeData)
	s.issue(t, "bob", "e1")

	e, rec := newEvent(context.Background(), http.MethodPost, "/api/events/e1/tickets",
		`{"ticket_type_id":"ga"}`, authRecord("carol", false), map[string]string{"eventId": "e1"})
	require.NoError(t, s.tickets.Issue(e))
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "EXHAUSTED", body["code"])
	assert.Equal(t, true, body["expected"])
}

func TestIssueTicketValidation(t *testing.T) {
	s := newTestServer(t)

	e, rec := newEvent(context.Background(), http.MethodPost, "/api/events/e1/tickets",
		`{}`, authRecord("alice", false), map[string]string{"eventId": "e1"})
	require.NoError(t, s.tickets.Issue(e))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	e, rec = newEvent(context.Background(), http.MethodPost, "/api/events/e1/tickets",
		`{"ticket_type_id":"balcony"}`, authRecord("alice", false), map[string]string{"eventId": "e1"})
	require.NoError(t, s.tickets.Issue(e))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "TICKET_TYPE_NOT_FOUND", decodeBody(t, rec)["code"])
}

func TestIssueTicketReplaysRequestID(t *testing.T) {
	s := newTestServer(t)
	body := `{"ticket_type_id":"ga","request_id":"req-1"}`

	var ids []string
	for range 2 {
		e, rec := newEvent(context.Background(), http.MethodPost, "/api/events/e1/tickets",
			body, authRecord("alice", false), map[string]string{"eventId": "e1"})
		require.NoError(t, s.tickets.Issue(e))
		require.Equal(t, http.StatusCreated, rec.Code)
		ids = append(ids, decodeBody(t, rec)["id"].(string))
	}
	assert.Equal(t, ids[0], ids[1])

	event, err := s.store.GetEvent(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, 1, event.TicketTypes[0].AvailableQuantity)
}

func TestTicketAccess(t *testing.T) {
	s := newTestServer(t)
	ticket := s.issue(t, "alice", "e1")
	path := map[string]string{"ticketId": ticket.ID}

	e, rec := newEvent(context.Background(), http.MethodGet, "/api/tickets/"+ticket.ID, "", authRecord("mallory", false), path)
	require.NoError(t, s.tickets.Get(e))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	e, rec = newEvent(context.Background(), http.MethodGet, "/api/tickets/"+ticket.ID, "", authRecord("org-1", true), path)
	require.NoError(t, s.tickets.Get(e))
	assert.Equal(t, http.StatusOK, rec.Code)

	e, rec = newEvent(context.Background(), http.MethodGet, "/api/tickets", "", authRecord("alice", false), nil)
	require.NoError(t, s.tickets.ListMine(e))
	tickets := decodeBody(t, rec)["tickets"].([]any)
	assert.Len(t, tickets, 1)
}

func TestShareTicket(t *testing.T) {
	s := newTestServer(t)
	ticket := s.issue(t, "alice", "e1")

	e, rec := newEvent(context.Background(), http.MethodGet, "/api/tickets/"+ticket.ID+"/share", "",
		authRecord("alice", false), map[string]string{"ticketId": ticket.ID})
	require.NoError(t, s.tickets.Share(e))

	require.Equal(t, http.StatusOK, rec.Code)
	text := decodeBody(t, rec)["text"].(string)
	assert.True(t, strings.HasPrefix(text, "My Ticket for Rooftop Session"))
	assert.Contains(t, text, "Location: Pier 7")
	assert.Contains(t, text, "Ticket ID: "+ticket.ID)
}

func TestScan(t *testing.T) {
	s := newTestServer(t)
	ticket := s.issue(t, "alice", "e1")

	rec := s.scan(t, "org-2", "e1", ticket.QRCodeData)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.scan(t, "org-1", "e1", ticket.QRCodeData)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "valid", body["result"])
	assert.Equal(t, true, body["ticket"].(map[string]any)["is_scanned"])

	rec = s.scan(t, "org-1", "e1", ticket.QRCodeData)
	assert.Equal(t, http.StatusConflict, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, "ALREADY_SCANNED", body["code"])
	assert.Equal(t, true, body["expected"])
	assert.NotEmpty(t, body["scanned_at"])

	rec = s.scan(t, "org-1", "e1", "garbage")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_CODE", decodeBody(t, rec)["code"])
}

func TestScanWrongEvent(t *testing.T) {
	s := newTestServer(t)
	ticket := s.issue(t, "alice", "e1")

	rec := s.scan(t, "org-1", "e2", ticket.QRCodeData)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "WRONG_EVENT", decodeBody(t, rec)["code"])

	stored, err := s.store.GetTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsScanned)
}

func TestStats(t *testing.T) {
	s := newTestServer(t)
	first := s.issue(t, "alice", "e1")
	s.issue(t, "bob", "e1")
	require.Equal(t, http.StatusOK, s.scan(t, "org-1", "e1", first.QRCodeData).Code)

	e, rec := newEvent(context.Background(), http.MethodGet, "/api/events/e1/stats", "",
		authRecord("org-1", true), map[string]string{"eventId": "e1"})
	require.NoError(t, s.scans.Stats(e))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["scanned_count"])
	assert.Equal(t, float64(2), body["total_count"])
}

// streamRecorder is a ResponseWriter that can be read while a handler is
// still writing to it.
type streamRecorder struct {
	mu     sync.Mutex
	header http.Header
	code   int
	body   strings.Builder
}

func newStreamRecorder() *streamRecorder {
	return &streamRecorder{header: make(http.Header)}
}

func (r *streamRecorder) Header() http.Header { return r.header }

func (r *streamRecorder) WriteHeader(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.code = code
}

func (r *streamRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body.Write(p)
}

func (r *streamRecorder) Flush() {}

func (r *streamRecorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body.String()
}

func TestStatsStream(t *testing.T) {
	s := newTestServer(t)
	ticket := s.issue(t, "alice", "e1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events/e1/stats/stream", nil)
	req.SetPathValue("eventId", "e1")
	out := newStreamRecorder()
	e := &core.RequestEvent{}
	e.Request = req.WithContext(identity.WithUserID(ctx, "org-1"))
	e.Response = out
	e.Auth = authRecord("org-1", true)

	done := make(chan error, 1)
	go func() { done <- s.scans.StatsStream(e) }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"state":"success"`)
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, strings.HasPrefix(out.String(), "event: stats\ndata: {\"state\":\"loading\"}\n\n"))
	assert.Equal(t, "text/event-stream", out.Header().Get("Content-Type"))

	require.Equal(t, http.StatusOK, s.scan(t, "org-1", "e1", ticket.QRCodeData).Code)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"scanned_count":1`)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after the client went away")
	}
}

func TestStatsStreamRequiresOwner(t *testing.T) {
	s := newTestServer(t)
	e, rec := newEvent(context.Background(), http.MethodGet, "/api/events/e1/stats/stream", "",
		authRecord("org-2", true), map[string]string{"eventId": "e1"})
	require.NoError(t, s.scans.StatsStream(e))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
