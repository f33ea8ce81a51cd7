package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"event-ticket/internal/codec"
	"event-ticket/internal/identity"
	"event-ticket/internal/notify"
	"event-ticket/internal/realtime"
	"event-ticket/internal/store"
	"event-ticket/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("dial tcp 10.0.0.1:6379: connect: connection refused")

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Notify(ctx context.Context, userID string, msg notify.Message) error {
	args := m.Called(ctx, userID, msg)
	return args.Error(0)
}

// failingStore answers every call with a backend error.
type failingStore struct {
	store.Store
}

func (failingStore) GetEvent(context.Context, string) (*models.Event, error) { return nil, errBackend }
func (failingStore) Issue(context.Context, string, string, store.IssueFunc) (*models.Ticket, bool, error) {
	return nil, false, errBackend
}
func (failingStore) Redeem(context.Context, string, store.RedeemFunc) (*models.Ticket, error) {
	return nil, errBackend
}
func (failingStore) ListTicketsForEvent(context.Context, string) ([]models.Ticket, error) {
	return nil, errBackend
}

type fixture struct {
	store      *store.MemoryStore
	codec      *codec.Codec
	broker     *realtime.MemoryBroker
	sync       *Sync
	stats      *StatsService
	issuance   *IssuanceService
	redemption *RedemptionService
	events     *EventService
	tickets    *TicketService
	clock      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	c, err := codec.New(nil)
	require.NoError(t, err)

	f := &fixture{
		store:  store.NewMemoryStore(),
		codec:  c,
		broker: realtime.NewMemoryBroker(),
		clock:  time.Date(2026, 4, 1, 18, 0, 0, 0, time.UTC),
	}
	f.sync = NewSync(f.store, nil)
	f.stats = NewStatsService(f.store, f.broker, nil)
	f.issuance = NewIssuanceService(f.store, c, identity.ContextProvider{}, f.sync, nil, nil)
	f.redemption = NewRedemptionService(f.store, c, f.sync, f.stats, nil, nil)
	f.events = NewEventService(f.store, f.sync)
	f.tickets = NewTicketService(f.store, f.sync)

	var seq atomic.Int64
	newID := func() string { return fmt.Sprintf("id-%d", seq.Add(1)) }
	now := func() time.Time { return f.clock }
	f.issuance.newID, f.issuance.now = newID, now
	f.redemption.now = now
	f.stats.now = now
	f.events.newID, f.events.now = newID, now
	return f
}

// seedEvent stores event "e1" by "org-1" with one ticket type "ga".
func (f *fixture) seedEvent(t *testing.T, id string, quantity int) *models.Event {
	t.Helper()
	event := &models.Event{
		ID:          id,
		Title:       "Rooftop Session",
		Location:    "Pier 7",
		Date:        time.Date(2026, 6, 12, 21, 30, 0, 0, time.UTC),
		OrganizerID: "org-1",
		IsPublic:    true,
		TicketTypes: []models.TicketType{
			{ID: "ga", Name: "General", Price: decimal.NewFromInt(15), Quantity: quantity, AvailableQuantity: quantity, EventID: id},
			{ID: "vip", Name: "VIP", Price: decimal.NewFromInt(60), Quantity: quantity, AvailableQuantity: quantity, EventID: id},
		},
	}
	require.NoError(t, f.store.PutEvent(context.Background(), event))
	return event
}

func asUser(userID string) context.Context {
	return identity.WithUserID(context.Background(), userID)
}

func (f *fixture) mustIssue(t *testing.T, userID, eventID string) *models.Ticket {
	t.Helper()
	ticket, err := f.issuance.Issue(asUser(userID), IssueRequest{EventID: eventID, TicketTypeID: "ga"})
	require.NoError(t, err)
	return ticket
}
