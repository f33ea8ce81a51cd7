package models

import (
	"time"
)

type Ticket struct {
	ID           string     `json:"id"`
	TicketTypeID string     `json:"ticket_type_id"`
	EventID      string     `json:"event_id"`
	UserID       string     `json:"user_id"`
	QRCodeData   string     `json:"qr_code_data"`
	IsScanned    bool       `json:"is_scanned"`
	ScannedAt    *time.Time `json:"scanned_at"`
	PurchasedAt  time.Time  `json:"purchased_at"`
}

// MarkScanned applies the single VALID -> REDEEMED transition. It reports
// false, leaving the ticket as is, when the ticket was already redeemed.
func (t *Ticket) MarkScanned(at time.Time) bool {
	if t.IsScanned {
		return false
	}
	t.IsScanned = true
	t.ScannedAt = &at
	return true
}

type ScanStats struct {
	EventID      string    `json:"event_id"`
	ScannedCount int       `json:"scanned_count"`
	TotalCount   int       `json:"total_count"`
	ComputedAt   time.Time `json:"computed_at"`
}

// Remaining is the number of issued tickets not yet scanned.
func (s ScanStats) Remaining() int {
	return s.TotalCount - s.ScannedCount
}
