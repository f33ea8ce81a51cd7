package services

import (
	"context"
	"errors"
	"log/slog"

	"event-ticket/internal/status"
	"event-ticket/internal/store"
	"event-ticket/models"
)

// LocalCache is the offline mirror. Any error, including a miss, makes the
// caller fall back to the store.
type LocalCache interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	PutEvent(ctx context.Context, event models.Event) error
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	PutTicket(ctx context.Context, ticket models.Ticket) error
}

// Sync reads through the local cache and mirrors confirmed writes into it.
// Issuance and redemption never read through it.
type Sync struct {
	store store.Store
	cache LocalCache
}

// NewSync returns a Sync over st. A nil cache reads straight from st.
func NewSync(st store.Store, cache LocalCache) *Sync {
	return &Sync{store: st, cache: cache}
}

func (s *Sync) Event(ctx context.Context, id string) (*models.Event, error) {
	if s.cache != nil {
		if event, err := s.cache.GetEvent(ctx, id); err == nil {
			return event, nil
		}
	}

	event, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return nil, classify(err, status.ErrEventNotFound)
	}
	s.MirrorEvent(ctx, *event)
	return event, nil
}

func (s *Sync) Ticket(ctx context.Context, id string) (*models.Ticket, error) {
	if s.cache != nil {
		if ticket, err := s.cache.GetTicket(ctx, id); err == nil {
			return ticket, nil
		}
	}

	ticket, err := s.store.GetTicket(ctx, id)
	if err != nil {
		return nil, classify(err, status.ErrTicketNotFound)
	}
	s.MirrorTicket(ctx, *ticket)
	return ticket, nil
}

// MirrorEvent copies an event that is already persisted in the store.
func (s *Sync) MirrorEvent(ctx context.Context, event models.Event) {
	if s.cache == nil {
		return
	}
	if err := s.cache.PutEvent(ctx, event); err != nil {
		slog.Warn("Failed to mirror event", "error", err, "event_id", event.ID)
	}
}

// MirrorTicket copies a ticket that is already persisted in the store.
func (s *Sync) MirrorTicket(ctx context.Context, ticket models.Ticket) {
	if s.cache == nil {
		return
	}
	if err := s.cache.PutTicket(ctx, ticket); err != nil {
		slog.Warn("Failed to mirror ticket", "error", err, "ticket_id", ticket.ID)
	}
}

// classify maps a store error into the taxonomy: a miss becomes notFound,
// taxonomy errors pass through and everything else is a store fault.
func classify(err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return notFound
	case status.IsDomain(err):
		return err
	default:
		return status.Unavailable(err)
	}
}

// logOutcome logs a failed operation at a level matching how surprising it
// is. Store faults keep their internal cause in the log only.
func logOutcome(msg string, err error, attrs ...any) {
	attrs = append(attrs, "code", string(status.CodeOf(err)))
	switch {
	case status.Expected(err):
		slog.Info(msg, attrs...)
	case status.IsDomain(err):
		slog.Warn(msg, append(attrs, "error", err)...)
	default:
		slog.Error(msg, append(attrs, "error", err)...)
	}
}
