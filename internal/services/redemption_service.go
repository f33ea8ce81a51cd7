package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"event-ticket/internal/codec"
	"event-ticket/internal/notify"
	"event-ticket/internal/status"
	"event-ticket/internal/store"
	"event-ticket/models"
	"event-ticket/monitoring"
)

// RedemptionService validates scanned codes at the door. A ticket goes from
// valid to redeemed exactly once.
type RedemptionService struct {
	store    store.Store
	codec    *codec.Codec
	sync     *Sync
	stats    *StatsService
	notifier notify.Publisher
	monitor  *monitoring.Monitor
	now      func() time.Time
}

func NewRedemptionService(st store.Store, c *codec.Codec, sync *Sync, stats *StatsService, notifier notify.Publisher, monitor *monitoring.Monitor) *RedemptionService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &RedemptionService{
		store:    st,
		codec:    c,
		sync:     sync,
		stats:    stats,
		notifier: notifier,
		monitor:  monitor,
		now:      time.Now,
	}
}

// Redeem redeems the ticket behind raw, whatever event it belongs to.
func (s *RedemptionService) Redeem(ctx context.Context, raw string) (*models.Ticket, error) {
	return s.redeem(ctx, "", raw)
}

// RedeemAt redeems the ticket behind raw only if it was issued for eventID.
func (s *RedemptionService) RedeemAt(ctx context.Context, eventID, raw string) (*models.Ticket, error) {
	if eventID == "" {
		return nil, status.Invalid("event id is required")
	}
	return s.redeem(ctx, eventID, raw)
}

func (s *RedemptionService) redeem(ctx context.Context, eventID, raw string) (*models.Ticket, error) {
	ticket, err := s.apply(ctx, eventID, raw)
	s.monitor.TrackRedemption(err)
	if err != nil {
		attrs := []any{"event_id", eventID}
		if at, ok := status.ScannedAt(err); ok {
			attrs = append(attrs, "scanned_at", at)
		}
		logOutcome("Ticket redemption rejected", err, attrs...)
		return nil, err
	}

	slog.Info("Ticket redeemed", "ticket_id", ticket.ID, "event_id", ticket.EventID)
	s.sync.MirrorTicket(ctx, *ticket)

	if s.stats != nil {
		if _, err := s.stats.Refresh(ctx, ticket.EventID); err != nil {
			slog.Warn("Failed to refresh scan stats", "error", err, "event_id", ticket.EventID)
		}
	}

	msg := notify.Message{Type: notify.TypeTicketScanned, TicketID: ticket.ID, EventID: ticket.EventID, ScannedAt: ticket.ScannedAt}
	if err := s.notifier.Notify(ctx, ticket.UserID, msg); err != nil {
		slog.Warn("Failed to notify attendee", "error", err, "ticket_id", ticket.ID)
	}
	return ticket, nil
}

func (s *RedemptionService) apply(ctx context.Context, eventID, raw string) (*models.Ticket, error) {
	code := strings.TrimSpace(raw)
	payload, err := s.codec.Decode(code)
	if err != nil {
		return nil, err
	}
	if eventID != "" && payload.EventID != eventID {
		return nil, status.ErrWrongEvent
	}

	now := s.now()
	start := time.Now()
	ticket, err := s.store.Redeem(ctx, code, func(t models.Ticket) (models.Ticket, error) {
		if eventID != "" && t.EventID != eventID {
			return models.Ticket{}, status.ErrWrongEvent
		}
		if t.IsScanned {
			already := &status.AlreadyScannedError{TicketID: t.ID}
			if t.ScannedAt != nil {
				already.ScannedAt = *t.ScannedAt
			}
			return models.Ticket{}, already
		}
		t.MarkScanned(now)
		return t, nil
	})
	s.monitor.ObserveStore("redeem", start)
	if err != nil {
		return nil, classify(err, status.ErrUnknownTicket)
	}
	return ticket, nil
}
