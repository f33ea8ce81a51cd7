package handlers

import (
	"net/http"

	"event-ticket/internal/services"
	"event-ticket/internal/status"

	"github.com/pocketbase/pocketbase/core"
)

type TicketHandler struct {
	issuanceService *services.IssuanceService
	ticketService   *services.TicketService
}

func NewTicketHandler(issuanceService *services.IssuanceService, ticketService *services.TicketService) *TicketHandler {
	return &TicketHandler{
		issuanceService: issuanceService,
		ticketService:   ticketService,
	}
}

type IssueTicketRequest struct {
	TicketTypeID string `json:"ticket_type_id"`
	RequestID    string `json:"request_id"`
}

// Issue creates a ticket of the requested type for the caller. Repeating a
// request_id returns the ticket from the first call.
func (h *TicketHandler) Issue(e *core.RequestEvent) error {
	var req IssueTicketRequest
	if err := e.BindBody(&req); err != nil {
		return respondError(e, status.Invalid("issue body: %v", err))
	}
	if req.TicketTypeID == "" {
		return respondError(e, status.Invalid("ticket_type_id is required"))
	}

	ticket, err := h.issuanceService.Issue(e.Request.Context(), services.IssueRequest{
		EventID:      e.Request.PathValue("eventId"),
		TicketTypeID: req.TicketTypeID,
		RequestID:    req.RequestID,
	})
	if err != nil {
		return respondError(e, err)
	}
	return e.JSON(http.StatusCreated, ticket)
}

func (h *TicketHandler) ListMine(e *core.RequestEvent) error {
	tickets, err := h.ticketService.ListForUser(e.Request.Context(), userID(e))
	if err != nil {
		return respondError(e, err)
	}
	return e.JSON(http.StatusOK, map[string]any{"tickets": tickets})
}

func (h *TicketHandler) Get(e *core.RequestEvent) error {
	ticket, event, err := h.ticketService.GetForUser(e.Request.Context(), userID(e), e.Request.PathValue("ticketId"))
	if err != nil {
		return respondError(e, err)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"ticket": ticket,
		"event":  event,
	})
}

func (h *TicketHandler) Share(e *core.RequestEvent) error {
	ticket, event, err := h.ticketService.GetForUser(e.Request.Context(), userID(e), e.Request.PathValue("ticketId"))
	if err != nil {
		return respondError(e, err)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"text": h.ticketService.ShareText(*ticket, *event),
	})
}
