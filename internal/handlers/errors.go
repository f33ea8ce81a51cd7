package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"event-ticket/internal/status"

	"github.com/pocketbase/pocketbase/core"
)

var httpStatus = map[status.Code]int{
	status.CodeNotAuthenticated:   http.StatusUnauthorized,
	status.CodeForbidden:          http.StatusForbidden,
	status.CodeInvalidInput:       http.StatusBadRequest,
	status.CodeEventNotFound:      http.StatusNotFound,
	status.CodeTicketTypeNotFound: http.StatusNotFound,
	status.CodeExhausted:          http.StatusConflict,
	status.CodeInvalidCode:        http.StatusBadRequest,
	status.CodeUnknownTicket:      http.StatusNotFound,
	status.CodeTicketNotFound:     http.StatusNotFound,
	status.CodeAlreadyScanned:     http.StatusConflict,
	status.CodeWrongEvent:         http.StatusConflict,
	status.CodeStoreUnavailable:   http.StatusServiceUnavailable,
}

type errorResponse struct {
	Code      status.Code `json:"code"`
	Message   string      `json:"message"`
	Expected  bool        `json:"expected"`
	ScannedAt *time.Time  `json:"scanned_at,omitempty"`
}

// HTTPStatus maps an error code to the response status.
func HTTPStatus(code status.Code) int {
	if s, ok := httpStatus[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func newErrorResponse(err error) errorResponse {
	resp := errorResponse{
		Code:     status.CodeOf(err),
		Message:  status.Message(err),
		Expected: status.Expected(err),
	}
	if at, ok := status.ScannedAt(err); ok {
		resp.ScannedAt = &at
	}
	return resp
}

// respondError renders err in the taxonomy shape. Internal details only go to
// the log.
func respondError(e *core.RequestEvent, err error) error {
	resp := newErrorResponse(err)
	code := HTTPStatus(resp.Code)
	if code >= http.StatusInternalServerError {
		slog.Error("Request failed", "error", err, "method", e.Request.Method, "path", e.Request.URL.Path)
	} else if !resp.Expected {
		slog.Debug("Request rejected", "code", resp.Code, "error", err, "path", e.Request.URL.Path)
	}
	return e.JSON(code, resp)
}
