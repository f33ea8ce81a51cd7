package store

import (
	"context"
	"errors"

	"event-ticket/internal/status"
	"event-ticket/models"
	"event-ticket/utils"
)

// IsBackendFailure reports whether err says something about the health of the
// backend. Misses, lost races and business rejections from the conditional
// functions do not.
func IsBackendFailure(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConflict),
		errors.Is(err, context.Canceled),
		status.IsDomain(err):
		return false
	}
	return true
}

type breakerStore struct {
	next Store
	cb   *utils.CircuitBreaker
}

// WithBreaker guards every call to next with cb. While the breaker is open,
// calls fail fast with utils.ErrOpenState.
func WithBreaker(next Store, cb *utils.CircuitBreaker) Store {
	return &breakerStore{next: next, cb: cb}
}

// NewBreaker builds a breaker that only counts backend failures.
func NewBreaker(st utils.Settings) *utils.CircuitBreaker {
	st.IsSuccessful = func(err error) bool { return !IsBackendFailure(err) }
	return utils.NewCircuitBreakerWithSettings(st)
}

func (b *breakerStore) GetEvent(ctx context.Context, id string) (event *models.Event, err error) {
	err = b.cb.Execute(ctx, func() error {
		event, err = b.next.GetEvent(ctx, id)
		return err
	})
	return event, err
}

func (b *breakerStore) PutEvent(ctx context.Context, event *models.Event) error {
	return b.cb.Execute(ctx, func() error {
		return b.next.PutEvent(ctx, event)
	})
}

func (b *breakerStore) ListEvents(ctx context.Context, filter EventFilter) (events []models.Event, err error) {
	err = b.cb.Execute(ctx, func() error {
		events, err = b.next.ListEvents(ctx, filter)
		return err
	})
	return events, err
}

func (b *breakerStore) UpdateEvent(ctx context.Context, id string, fn UpdateFunc) (event *models.Event, err error) {
	err = b.cb.Execute(ctx, func() error {
		event, err = b.next.UpdateEvent(ctx, id, fn)
		return err
	})
	return event, err
}

func (b *breakerStore) Issue(ctx context.Context, eventID, idempotencyKey string, fn IssueFunc) (ticket *models.Ticket, replayed bool, err error) {
	err = b.cb.Execute(ctx, func() error {
		ticket, replayed, err = b.next.Issue(ctx, eventID, idempotencyKey, fn)
		return err
	})
	return ticket, replayed, err
}

func (b *breakerStore) GetTicket(ctx context.Context, id string) (ticket *models.Ticket, err error) {
	err = b.cb.Execute(ctx, func() error {
		ticket, err = b.next.GetTicket(ctx, id)
		return err
	})
	return ticket, err
}

func (b *breakerStore) PutTicket(ctx context.Context, ticket *models.Ticket) error {
	return b.cb.Execute(ctx, func() error {
		return b.next.PutTicket(ctx, ticket)
	})
}

func (b *breakerStore) GetTicketByCode(ctx context.Context, code string) (ticket *models.Ticket, err error) {
	err = b.cb.Execute(ctx, func() error {
		ticket, err = b.next.GetTicketByCode(ctx, code)
		return err
	})
	return ticket, err
}

func (b *breakerStore) Redeem(ctx context.Context, code string, fn RedeemFunc) (ticket *models.Ticket, err error) {
	err = b.cb.Execute(ctx, func() error {
		ticket, err = b.next.Redeem(ctx, code, fn)
		return err
	})
	return ticket, err
}

func (b *breakerStore) ListTicketsForEvent(ctx context.Context, eventID string) (tickets []models.Ticket, err error) {
	err = b.cb.Execute(ctx, func() error {
		tickets, err = b.next.ListTicketsForEvent(ctx, eventID)
		return err
	})
	return tickets, err
}

func (b *breakerStore) ListTicketsForUser(ctx context.Context, userID string) (tickets []models.Ticket, err error) {
	err = b.cb.Execute(ctx, func() error {
		tickets, err = b.next.ListTicketsForUser(ctx, userID)
		return err
	})
	return tickets, err
}
