package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"event-ticket/internal/codec"
	"event-ticket/internal/identity"
	"event-ticket/internal/inventory"
	"event-ticket/internal/notify"
	"event-ticket/internal/status"
	"event-ticket/internal/store"
	"event-ticket/models"
	"event-ticket/monitoring"
	"event-ticket/utils"
)

type IssueRequest struct {
	EventID      string `json:"event_id"`
	TicketTypeID string `json:"ticket_type_id"`
	// RequestID makes retries of the same registration return the ticket
	// issued the first time.
	RequestID string `json:"request_id"`
}

type IssuanceService struct {
	store    store.Store
	codec    *codec.Codec
	identity identity.Provider
	sync     *Sync
	notifier notify.Publisher
	monitor  *monitoring.Monitor

	now   func() time.Time
	newID func() string
}

func NewIssuanceService(st store.Store, c *codec.Codec, id identity.Provider, sync *Sync, notifier notify.Publisher, monitor *monitoring.Monitor) *IssuanceService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &IssuanceService{
		store:    st,
		codec:    c,
		identity: id,
		sync:     sync,
		notifier: notifier,
		monitor:  monitor,
		now:      time.Now,
		newID:    utils.NewID,
	}
}

// Issue reserves one unit of the requested ticket type and creates a ticket
// for the calling user in a single store transaction.
func (s *IssuanceService) Issue(ctx context.Context, req IssueRequest) (*models.Ticket, error) {
	ticket, replayed, err := s.issue(ctx, req)
	s.monitor.TrackIssuance(err)
	if err != nil {
		logOutcome("Ticket issuance failed", err, "event_id", req.EventID, "ticket_type_id", req.TicketTypeID)
		return nil, err
	}

	if replayed {
		slog.Info("Ticket issuance replayed", "ticket_id", ticket.ID, "request_id", req.RequestID)
		return ticket, nil
	}

	slog.Info("Ticket issued", "ticket_id", ticket.ID, "event_id", ticket.EventID, "user_id", ticket.UserID)
	s.sync.MirrorTicket(ctx, *ticket)

	msg := notify.Message{Type: notify.TypeTicketIssued, TicketID: ticket.ID, EventID: ticket.EventID}
	if err := s.notifier.Notify(ctx, ticket.UserID, msg); err != nil {
		slog.Warn("Failed to notify attendee", "error", err, "ticket_id", ticket.ID)
	}
	return ticket, nil
}

func (s *IssuanceService) issue(ctx context.Context, req IssueRequest) (*models.Ticket, bool, error) {
	userID, ok := s.identity.CurrentUserID(ctx)
	if !ok {
		return nil, false, status.ErrNotAuthenticated
	}
	if strings.TrimSpace(req.EventID) == "" || strings.TrimSpace(req.TicketTypeID) == "" {
		return nil, false, status.Invalid("event id and ticket type id are required")
	}

	var committed models.Event
	now := s.now()

	start := time.Now()
	ticket, replayed, err := s.store.Issue(ctx, req.EventID, idempotencyKey(userID, req), func(event models.Event) (models.Event, models.Ticket, error) {
		next, tt, err := inventory.Reserve(event, req.TicketTypeID)
		if err != nil {
			return models.Event{}, models.Ticket{}, err
		}

		ticketID := s.newID()
		code, err := s.codec.Encode(ticketID, event.ID, userID)
		if err != nil {
			return models.Event{}, models.Ticket{}, err
		}

		next.UpdatedAt = now
		committed = next
		return next, models.Ticket{
			ID:           ticketID,
			TicketTypeID: tt.ID,
			EventID:      event.ID,
			UserID:       userID,
			QRCodeData:   code,
			IsScanned:    false,
			ScannedAt:    nil,
			PurchasedAt:  now,
		}, nil
	})
	s.monitor.ObserveStore("issue", start)
	if err != nil {
		return nil, false, classify(err, status.ErrEventNotFound)
	}

	if !replayed {
		s.sync.MirrorEvent(ctx, committed)
	}
	return ticket, replayed, nil
}

func idempotencyKey(userID string, req IssueRequest) string {
	if req.RequestID == "" {
		return ""
	}
	return strings.Join([]string{userID, req.EventID, req.TicketTypeID, req.RequestID}, "|")
}
