package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Event struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Location    string       `json:"location"`
	Date        time.Time    `json:"date"`
	Category    string       `json:"category"`
	OrganizerID string       `json:"organizer_id"`
	IsPublic    bool         `json:"is_public"`
	ImageURL    *string      `json:"image_url,omitempty"`
	TicketTypes []TicketType `json:"ticket_types"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

type TicketType struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	Price             decimal.Decimal `json:"price"`
	Quantity          int             `json:"quantity"`
	AvailableQuantity int             `json:"available_quantity"`
	EventID           string          `json:"event_id"`
}

// FindTicketType returns the ticket type with the given id and its index in
// the event's list.
func (e *Event) FindTicketType(id string) (TicketType, int, bool) {
	for i, tt := range e.TicketTypes {
		if tt.ID == id {
			return tt, i, true
		}
	}
	return TicketType{}, -1, false
}

// WithTicketType returns a copy of the event whose ticket type list has the
// entry matching tt.ID replaced by tt. Ordering is preserved and the receiver
// is left untouched.
func (e Event) WithTicketType(tt TicketType) Event {
	types := make([]TicketType, len(e.TicketTypes))
	for i, existing := range e.TicketTypes {
		if existing.ID == tt.ID {
			types[i] = tt
			continue
		}
		types[i] = existing
	}
	e.TicketTypes = types
	return e
}

// Clone returns a deep copy, so callers can mutate the result without
// aliasing the ticket type slice or image url.
func (e Event) Clone() Event {
	if e.TicketTypes != nil {
		types := make([]TicketType, len(e.TicketTypes))
		copy(types, e.TicketTypes)
		e.TicketTypes = types
	}
	if e.ImageURL != nil {
		url := *e.ImageURL
		e.ImageURL = &url
	}
	return e
}

func (e *Event) IsOwnedBy(userID string) bool {
	return userID != "" && e.OrganizerID == userID
}
