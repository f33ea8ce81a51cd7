package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"event-ticket/internal/services"
	"event-ticket/internal/status"
	"event-ticket/internal/store"

	"github.com/pocketbase/pocketbase/core"
)

type EventHandler struct {
	eventService *services.EventService
	now          func() time.Time
}

func NewEventHandler(eventService *services.EventService) *EventHandler {
	return &EventHandler{eventService: eventService, now: time.Now}
}

// ListPublic serves GET /api/events. Optional query parameters: q searches
// title, description and location; category matches exactly; from keeps
// events on or after a date; upcoming=true keeps events from now on.
func (h *EventHandler) ListPublic(e *core.RequestEvent) error {
	filter, err := h.listFilter(e)
	if err != nil {
		return respondError(e, err)
	}
	events, err := h.eventService.ListPublic(e.Request.Context(), filter)
	if err != nil {
		return respondError(e, err)
	}
	return e.JSON(http.StatusOK, map[string]any{"events": events})
}

func (h *EventHandler) ListMine(e *core.RequestEvent) error {
	events, err := h.eventService.ListByOrganizer(e.Request.Context(), userID(e))
	if err != nil {
		return respondError(e, err)
	}
	return e.JSON(http.StatusOK, map[string]any{"events": events})
}

func (h *EventHandler) Get(e *core.RequestEvent) error {
	event, err := h.eventService.Get(e.Request.Context(), e.Request.PathValue("eventId"))
	if err != nil {
		return respondError(e, err)
	}
	return e.JSON(http.StatusOK, event)
}

func (h *EventHandler) Create(e *core.RequestEvent) error {
	var draft services.EventDraft
	if err := e.BindBody(&draft); err != nil {
		return respondError(e, status.Invalid("event body: %v", err))
	}

	event, err := h.eventService.Create(e.Request.Context(), userID(e), draft)
	if err != nil {
		return respondError(e, err)
	}
	return e.JSON(http.StatusCreated, event)
}

func (h *EventHandler) Update(e *core.RequestEvent) error {
	var patch services.EventPatch
	if err := e.BindBody(&patch); err != nil {
		return respondError(e, status.Invalid("event patch: %v", err))
	}

	event, err := h.eventService.Update(e.Request.Context(), userID(e), e.Request.PathValue("eventId"), patch)
	if err != nil {
		return respondError(e, err)
	}
	return e.JSON(http.StatusOK, event)
}

func (h *EventHandler) listFilter(e *core.RequestEvent) (store.EventFilter, error) {
	query := e.Request.URL.Query()
	filter := store.EventFilter{
		Query:    strings.TrimSpace(query.Get("q")),
		Category: strings.TrimSpace(query.Get("category")),
	}

	if raw := strings.TrimSpace(query.Get("from")); raw != "" {
		from, err := parseDate(raw)
		if err != nil {
			return store.EventFilter{}, status.Invalid("from must be an RFC 3339 time or a YYYY-MM-DD date, got %q", raw)
		}
		filter.From = from
	}
	if raw := strings.TrimSpace(query.Get("upcoming")); raw != "" {
		upcoming, err := strconv.ParseBool(raw)
		if err != nil {
			return store.EventFilter{}, status.Invalid("upcoming must be true or false, got %q", raw)
		}
		if now := h.now(); upcoming && filter.From.Before(now) {
			filter.From = now
		}
	}
	return filter, nil
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, raw)
}
