package status

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotAuthenticated   = errors.New("auth: not authenticated")
	ErrForbidden          = errors.New("auth: forbidden")
	ErrInvalidInput       = errors.New("input: invalid")
	ErrEventNotFound      = errors.New("event: event not found")
	ErrTicketTypeNotFound = errors.New("inventory: ticket type not found")
	ErrExhausted          = errors.New("inventory: ticket type exhausted")
	ErrInvalidCode        = errors.New("code: malformed payload")
	ErrUnknownTicket      = errors.New("ticket: no ticket for code")
	ErrTicketNotFound     = errors.New("ticket: ticket not found")
	ErrAlreadyScanned     = errors.New("ticket: already scanned")
	ErrWrongEvent         = errors.New("ticket: issued for another event")
	ErrStoreUnavailable   = errors.New("store: unavailable")
)

type Code string

const (
	CodeOK                 Code = "OK"
	CodeNotAuthenticated   Code = "NOT_AUTHENTICATED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeEventNotFound      Code = "EVENT_NOT_FOUND"
	CodeTicketTypeNotFound Code = "TICKET_TYPE_NOT_FOUND"
	CodeExhausted          Code = "EXHAUSTED"
	CodeInvalidCode        Code = "INVALID_CODE"
	CodeUnknownTicket      Code = "UNKNOWN_TICKET"
	CodeTicketNotFound     Code = "TICKET_NOT_FOUND"
	CodeAlreadyScanned     Code = "ALREADY_SCANNED"
	CodeWrongEvent         Code = "WRONG_EVENT"
	CodeStoreUnavailable   Code = "STORE_UNAVAILABLE"
)

var codes = []struct {
	err     error
	code    Code
	message string
}{
	{ErrNotAuthenticated, CodeNotAuthenticated, "Please sign in to continue."},
	{ErrForbidden, CodeForbidden, "You are not allowed to manage this event."},
	{ErrInvalidInput, CodeInvalidInput, "Some of the submitted details are not valid."},
	{ErrEventNotFound, CodeEventNotFound, "This event could not be found."},
	{ErrTicketTypeNotFound, CodeTicketTypeNotFound, "This ticket type is not offered for the event."},
	{ErrExhausted, CodeExhausted, "No tickets of this type are left."},
	{ErrInvalidCode, CodeInvalidCode, "This code is not a ticket code."},
	{ErrUnknownTicket, CodeUnknownTicket, "Invalid ticket: no ticket matches this code."},
	{ErrTicketNotFound, CodeTicketNotFound, "This ticket could not be found."},
	{ErrAlreadyScanned, CodeAlreadyScanned, "Ticket already scanned."},
	{ErrWrongEvent, CodeWrongEvent, "This ticket is for a different event."},
	{ErrStoreUnavailable, CodeStoreUnavailable, "The service is temporarily unavailable. Please try again."},
}

// AlreadyScannedError reports a redemption attempt against a ticket that was
// redeemed before. It matches ErrAlreadyScanned with errors.Is.
type AlreadyScannedError struct {
	TicketID  string
	ScannedAt time.Time
}

func (e *AlreadyScannedError) Error() string {
	return fmt.Sprintf("%s: ticket %s at %s", ErrAlreadyScanned, e.TicketID, e.ScannedAt.Format(time.RFC3339))
}

func (e *AlreadyScannedError) Is(target error) bool {
	return target == ErrAlreadyScanned
}

// CodeOf classifies err into the error taxonomy. Errors outside the taxonomy
// are reported as store faults, since that is the only remaining source.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeStoreUnavailable
}

// Message returns the user facing text for err. Internal error text is never
// part of it.
func Message(err error) string {
	if err == nil {
		return "OK"
	}
	code := CodeOf(err)
	for _, c := range codes {
		if c.code == code {
			return c.message
		}
	}
	return "Something went wrong."
}

// Expected reports whether err is a normal business outcome rather than a
// fault.
func Expected(err error) bool {
	switch CodeOf(err) {
	case CodeAlreadyScanned, CodeExhausted, CodeWrongEvent:
		return true
	}
	return false
}

// IsDomain reports whether err belongs to the taxonomy other than
// STORE_UNAVAILABLE.
func IsDomain(err error) bool {
	if err == nil {
		return false
	}
	for _, c := range codes {
		if c.code != CodeStoreUnavailable && errors.Is(err, c.err) {
			return true
		}
	}
	return false
}

// Unavailable wraps a store fault so it classifies as STORE_UNAVAILABLE while
// keeping the cause for logs.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// ScannedAt extracts the prior scan time from an already scanned error.
func ScannedAt(err error) (time.Time, bool) {
	var already *AlreadyScannedError
	if errors.As(err, &already) {
		return already.ScannedAt, true
	}
	return time.Time{}, false
}
