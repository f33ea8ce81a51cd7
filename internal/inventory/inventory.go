// Package inventory holds the per ticket type availability rules. Every
// function is pure: callers evaluate them inside the store's conditional
// transaction so that the check and the write cannot be separated.
package inventory

import (
	"fmt"

	"event-ticket/internal/status"
	"event-ticket/models"
)

// TryReserve takes one unit of tt. It fails with ErrExhausted, returning tt
// unchanged, when nothing is available.
func TryReserve(tt models.TicketType) (models.TicketType, error) {
	if tt.AvailableQuantity <= 0 || tt.AvailableQuantity > tt.Quantity {
		return tt, fmt.Errorf("%w: %s", status.ErrExhausted, tt.ID)
	}
	tt.AvailableQuantity--
	return tt, nil
}

// Reserve takes one unit of the named ticket type and returns the event with
// that entry replaced. The input event is not modified.
func Reserve(event models.Event, ticketTypeID string) (models.Event, models.TicketType, error) {
	tt, _, ok := event.FindTicketType(ticketTypeID)
	if !ok {
		return event, models.TicketType{}, fmt.Errorf("%w: %s", status.ErrTicketTypeNotFound, ticketTypeID)
	}

	reserved, err := TryReserve(tt)
	if err != nil {
		return event, tt, err
	}
	return event.WithTicketType(reserved), reserved, nil
}

// Validate checks the 0 <= available <= quantity invariant on every type.
func Validate(event models.Event) error {
	for _, tt := range event.TicketTypes {
		if tt.Quantity < 0 || tt.AvailableQuantity < 0 || tt.AvailableQuantity > tt.Quantity {
			return status.Invalid("ticket type %s has available %d of %d", tt.ID, tt.AvailableQuantity, tt.Quantity)
		}
		if tt.Price.IsNegative() {
			return status.Invalid("ticket type %s has a negative price", tt.ID)
		}
	}
	return nil
}

// Sold is the number of units already handed out for tt.
func Sold(tt models.TicketType) int {
	return tt.Quantity - tt.AvailableQuantity
}
