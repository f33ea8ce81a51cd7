// Package store is the authoritative source of events and tickets. Every
// read-modify-write the domain needs is expressed as a single conditional
// operation (Issue, Redeem, UpdateEvent) so that concurrent writers on the
// same event or ticket are serialized by the backend.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"event-ticket/models"
)

var (
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when an optimistic transaction kept losing to
	// concurrent writers.
	ErrConflict = errors.New("store: transaction conflict")
	// ErrDanglingIssue means an idempotency record names a ticket that is no
	// longer stored. It is a backend fault, not a miss.
	ErrDanglingIssue = errors.New("store: idempotency record without ticket")
)

// EventFilter narrows an event listing. Zero fields match everything.
type EventFilter struct {
	PublicOnly  bool
	OrganizerID string
	// Query matches case-insensitively anywhere in the title, description or
	// location.
	Query string
	// Category matches case-insensitively and exactly.
	Category string
	// From keeps events dated at or after it and orders the listing soonest
	// first.
	From time.Time
}

func (f EventFilter) Match(e models.Event) bool {
	if f.PublicOnly && !e.IsPublic {
		return false
	}
	if f.OrganizerID != "" && e.OrganizerID != f.OrganizerID {
		return false
	}
	if q := strings.TrimSpace(f.Query); q != "" && !strings.Contains(SearchText(e), strings.ToLower(q)) {
		return false
	}
	if c := strings.TrimSpace(f.Category); c != "" && !strings.EqualFold(e.Category, c) {
		return false
	}
	if !f.From.IsZero() && e.Date.Before(f.From) {
		return false
	}
	return true
}

// Sort orders a filtered listing: soonest first when From is set, newest
// first otherwise. Ties break on id.
func (f EventFilter) Sort(events []models.Event) {
	upcoming := !f.From.IsZero()
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Date.Equal(events[j].Date) {
			return events[i].ID < events[j].ID
		}
		if upcoming {
			return events[i].Date.Before(events[j].Date)
		}
		return events[i].Date.After(events[j].Date)
	})
}

// SearchText is the lower-cased text a Query is matched against.
func SearchText(e models.Event) string {
	return strings.ToLower(e.Title + "\n" + e.Description + "\n" + e.Location)
}

// IssueFunc receives the current event and returns the event to persist along
// with the new ticket. It may run more than once and must not have side
// effects.
type IssueFunc func(event models.Event) (models.Event, models.Ticket, error)

// RedeemFunc receives the current ticket and returns the ticket to persist.
// It may run more than once and must not have side effects.
type RedeemFunc func(ticket models.Ticket) (models.Ticket, error)

// UpdateFunc receives the current event and returns the event to persist.
type UpdateFunc func(event models.Event) (models.Event, error)

type Store interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	PutEvent(ctx context.Context, event *models.Event) error
	ListEvents(ctx context.Context, filter EventFilter) ([]models.Event, error)
	UpdateEvent(ctx context.Context, id string, fn UpdateFunc) (*models.Event, error)

	// Issue atomically persists the event and ticket produced by fn. When
	// idempotencyKey was already used, the ticket issued then is returned
	// with replayed set and fn is not called.
	Issue(ctx context.Context, eventID, idempotencyKey string, fn IssueFunc) (ticket *models.Ticket, replayed bool, err error)

	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	PutTicket(ctx context.Context, ticket *models.Ticket) error
	GetTicketByCode(ctx context.Context, code string) (*models.Ticket, error)
	// Redeem atomically replaces the ticket stored under code with the one
	// returned by fn.
	Redeem(ctx context.Context, code string, fn RedeemFunc) (*models.Ticket, error)
	ListTicketsForEvent(ctx context.Context, eventID string) ([]models.Ticket, error)
	ListTicketsForUser(ctx context.Context, userID string) ([]models.Ticket, error)
}

func sortTickets(tickets []models.Ticket) {
	sort.SliceStable(tickets, func(i, j int) bool {
		if tickets[i].PurchasedAt.Equal(tickets[j].PurchasedAt) {
			return tickets[i].ID < tickets[j].ID
		}
		return tickets[i].PurchasedAt.Before(tickets[j].PurchasedAt)
	})
}

func cloneTicket(t models.Ticket) models.Ticket {
	if t.ScannedAt != nil {
		at := *t.ScannedAt
		t.ScannedAt = &at
	}
	return t
}
