// Package notify sends attendee facing notifications about their tickets.
package notify

import (
	"context"
	"fmt"
	"time"
)

const (
	TypeTicketIssued  = "ticket_issued"
	TypeTicketScanned = "ticket_scanned"
)

type Message struct {
	Type      string     `json:"type"`
	TicketID  string     `json:"ticket_id"`
	EventID   string     `json:"event_id"`
	ScannedAt *time.Time `json:"scanned_at,omitempty"`
}

type Publisher interface {
	Notify(ctx context.Context, userID string, msg Message) error
}

// UserChannel is the channel a user's devices listen on.
func UserChannel(userID string) string {
	return fmt.Sprintf("user-%s", userID)
}

// Nop drops every notification. It is used when no PubNub keys are
// configured.
type Nop struct{}

func (Nop) Notify(context.Context, string, Message) error { return nil }
