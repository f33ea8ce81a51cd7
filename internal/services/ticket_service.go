package services

import (
	"context"
	"fmt"
	"strings"

	"event-ticket/internal/status"
	"event-ticket/internal/store"
	"event-ticket/models"
)

const (
	shareDateLayout = "Mon, Jan 02, 2006"
	shareTimeLayout = "03:04 PM"
)

type TicketService struct {
	store store.Store
	sync  *Sync
}

func NewTicketService(st store.Store, sync *Sync) *TicketService {
	return &TicketService{store: st, sync: sync}
}

// ListForUser returns the user's tickets, oldest purchase first.
func (s *TicketService) ListForUser(ctx context.Context, userID string) ([]models.Ticket, error) {
	if userID == "" {
		return nil, status.ErrNotAuthenticated
	}
	tickets, err := s.store.ListTicketsForUser(ctx, userID)
	if err != nil {
		return nil, status.Unavailable(err)
	}
	return tickets, nil
}

func (s *TicketService) Get(ctx context.Context, ticketID string) (*models.Ticket, error) {
	return s.sync.Ticket(ctx, ticketID)
}

// GetForUser returns the ticket when userID holds it or organizes its event.
func (s *TicketService) GetForUser(ctx context.Context, userID, ticketID string) (*models.Ticket, *models.Event, error) {
	if userID == "" {
		return nil, nil, status.ErrNotAuthenticated
	}
	ticket, err := s.sync.Ticket(ctx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	event, err := s.sync.Event(ctx, ticket.EventID)
	if err != nil {
		return nil, nil, err
	}
	if ticket.UserID != userID && !event.IsOwnedBy(userID) {
		return nil, nil, status.ErrForbidden
	}
	return ticket, event, nil
}

// ShareText renders the plain text message attendees send along with their
// ticket.
func (s *TicketService) ShareText(ticket models.Ticket, event models.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "My Ticket for %s\n\n", event.Title)
	fmt.Fprintf(&b, "Date: %s\n", event.Date.Format(shareDateLayout))
	fmt.Fprintf(&b, "Time: %s\n", event.Date.Format(shareTimeLayout))
	fmt.Fprintf(&b, "Location: %s\n\n", event.Location)
	fmt.Fprintf(&b, "Ticket ID: %s\n", ticket.ID)
	b.WriteString("Please bring this ticket or scan the QR code at the entrance.")
	return b.String()
}
