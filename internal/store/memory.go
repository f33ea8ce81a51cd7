package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"event-ticket/models"
)

// MemoryStore keeps everything in process. A single mutex serializes each
// conditional operation, which gives the same guarantees as the Redis
// transactions for a single node.
type MemoryStore struct {
	mu      sync.Mutex
	events  map[string]models.Event
	tickets map[string]models.Ticket
	byCode  map[string]string
	issued  map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:  make(map[string]models.Event),
		tickets: make(map[string]models.Ticket),
		byCode:  make(map[string]string),
		issued:  make(map[string]string),
	}
}

func (s *MemoryStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := event.Clone()
	return &out, nil
}

func (s *MemoryStore) PutEvent(ctx context.Context, event *models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.ID == "" {
		return errors.New("store: event without id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[event.ID] = event.Clone()
	return nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, filter EventFilter) ([]models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]models.Event, 0, len(s.events))
	for _, e := range s.events {
		if filter.Match(e) {
			events = append(events, e.Clone())
		}
	}
	filter.Sort(events)
	return events, nil
}

func (s *MemoryStore) UpdateEvent(ctx context.Context, id string, fn UpdateFunc) (*models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	next, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}
	if next.ID != id {
		return nil, fmt.Errorf("store: update changed event id %s to %s", id, next.ID)
	}
	s.events[id] = next.Clone()
	return &next, nil
}

func (s *MemoryStore) Issue(ctx context.Context, eventID, idempotencyKey string, fn IssueFunc) (*models.Ticket, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if idempotencyKey != "" {
		if ticketID, ok := s.issued[idempotencyKey]; ok {
			stored, ok := s.tickets[ticketID]
			if !ok {
				return nil, false, fmt.Errorf("%w: %s points at missing ticket %s", ErrDanglingIssue, idempotencyKey, ticketID)
			}
			ticket := cloneTicket(stored)
			return &ticket, true, nil
		}
	}

	current, ok := s.events[eventID]
	if !ok {
		return nil, false, ErrNotFound
	}
	nextEvent, ticket, err := fn(current.Clone())
	if err != nil {
		return nil, false, err
	}
	if nextEvent.ID != eventID || ticket.EventID != eventID {
		return nil, false, fmt.Errorf("store: issue for %s produced event %s ticket for %s", eventID, nextEvent.ID, ticket.EventID)
	}
	if _, taken := s.byCode[ticket.QRCodeData]; taken {
		return nil, false, fmt.Errorf("store: duplicate ticket code for %s", ticket.ID)
	}

	s.events[eventID] = nextEvent.Clone()
	s.tickets[ticket.ID] = cloneTicket(ticket)
	s.byCode[ticket.QRCodeData] = ticket.ID
	if idempotencyKey != "" {
		s.issued[idempotencyKey] = ticket.ID
	}
	return &ticket, false, nil
}

func (s *MemoryStore) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneTicket(ticket)
	return &out, nil
}

func (s *MemoryStore) PutTicket(ctx context.Context, ticket *models.Ticket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ticket.ID == "" || ticket.QRCodeData == "" {
		return errors.New("store: ticket without id or code")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, taken := s.byCode[ticket.QRCodeData]; taken && owner != ticket.ID {
		return fmt.Errorf("store: duplicate ticket code for %s", ticket.ID)
	}
	s.tickets[ticket.ID] = cloneTicket(*ticket)
	s.byCode[ticket.QRCodeData] = ticket.ID
	return nil
}

func (s *MemoryStore) GetTicketByCode(ctx context.Context, code string) (*models.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byCode[code]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneTicket(s.tickets[id])
	return &out, nil
}

func (s *MemoryStore) Redeem(ctx context.Context, code string, fn RedeemFunc) (*models.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byCode[code]
	if !ok {
		return nil, ErrNotFound
	}
	next, err := fn(cloneTicket(s.tickets[id]))
	if err != nil {
		return nil, err
	}
	if next.ID != id || next.QRCodeData != code {
		return nil, fmt.Errorf("store: redeem changed identity of ticket %s", id)
	}
	s.tickets[id] = cloneTicket(next)
	return &next, nil
}

func (s *MemoryStore) ListTicketsForEvent(ctx context.Context, eventID string) ([]models.Ticket, error) {
	return s.listTickets(ctx, func(t models.Ticket) bool { return t.EventID == eventID })
}

func (s *MemoryStore) ListTicketsForUser(ctx context.Context, userID string) ([]models.Ticket, error) {
	return s.listTickets(ctx, func(t models.Ticket) bool { return t.UserID == userID })
}

func (s *MemoryStore) listTickets(ctx context.Context, keep func(models.Ticket) bool) ([]models.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tickets := make([]models.Ticket, 0)
	for _, t := range s.tickets {
		if keep(t) {
			tickets = append(tickets, cloneTicket(t))
		}
	}
	sortTickets(tickets)
	return tickets, nil
}
