package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"event-ticket/internal/services"
	"event-ticket/internal/status"
	"event-ticket/models"

	"github.com/pocketbase/pocketbase/core"
)

type ScanHandler struct {
	eventService      *services.EventService
	redemptionService *services.RedemptionService
	statsService      *services.StatsService
}

func NewScanHandler(eventService *services.EventService, redemptionService *services.RedemptionService, statsService *services.StatsService) *ScanHandler {
	return &ScanHandler{
		eventService:      eventService,
		redemptionService: redemptionService,
		statsService:      statsService,
	}
}

type ScanRequest struct {
	Code string `json:"code"`
}

// Scan redeems a decoded QR payload at the organizer's event.
func (h *ScanHandler) Scan(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")
	if _, err := h.eventService.GetForOrganizer(e.Request.Context(), userID(e), eventID); err != nil {
		return respondError(e, err)
	}

	var req ScanRequest
	if err := e.BindBody(&req); err != nil {
		return respondError(e, status.Invalid("scan body: %v", err))
	}

	ticket, err := h.redemptionService.RedeemAt(e.Request.Context(), eventID, req.Code)
	if err != nil {
		return respondError(e, err)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"result":  "valid",
		"message": "Valid ticket",
		"ticket":  ticket,
	})
}

func (h *ScanHandler) Stats(e *core.RequestEvent) error {
	eventID := e.Request.PathValue("eventId")
	if _, err := h.eventService.GetForOrganizer(e.Request.Context(), userID(e), eventID); err != nil {
		return respondError(e, err)
	}

	stats, err := h.statsService.Compute(e.Request.Context(), eventID)
	if err != nil {
		return respondError(e, err)
	}
	return e.JSON(http.StatusOK, stats)
}

type statsFrame struct {
	State string            `json:"state"`
	Stats *models.ScanStats `json:"stats,omitempty"`
	Error *errorResponse    `json:"error,omitempty"`
}

// StatsStream pushes the event's scan progress as server-sent events until
// the client disconnects.
func (h *ScanHandler) StatsStream(e *core.RequestEvent) error {
	ctx := e.Request.Context()
	eventID := e.Request.PathValue("eventId")
	if _, err := h.eventService.GetForOrganizer(ctx, userID(e), eventID); err != nil {
		return respondError(e, err)
	}

	sub, err := h.statsService.Watch(ctx, eventID)
	if err != nil {
		return respondError(e, err)
	}
	defer sub.Close()

	header := e.Response.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-store")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	e.Response.WriteHeader(http.StatusOK)

	for res := range sub.C() {
		if err := writeStatsFrame(e, res); err != nil {
			slog.Debug("Stats stream closed", "event_id", eventID, "error", err)
			return nil
		}
	}
	return nil
}

func writeStatsFrame(e *core.RequestEvent, res models.Resource[models.ScanStats]) error {
	frame := statsFrame{State: res.State.String()}
	switch {
	case res.IsSuccess():
		frame.Stats = &res.Data
	case res.IsError():
		resp := newErrorResponse(res.Err)
		frame.Error = &resp
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(e.Response, "event: stats\ndata: %s\n\n", data); err != nil {
		return err
	}
	return http.NewResponseController(e.Response).Flush()
}
