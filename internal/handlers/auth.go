package handlers

import (
	"event-ticket/internal/identity"
	"event-ticket/internal/status"
	"event-ticket/models"

	"github.com/pocketbase/pocketbase/core"
)

// RequireUser rejects requests without an auth record and stores the user id
// in the request context for the services.
func RequireUser() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if e.Auth == nil || e.Auth.Id == "" {
			return respondError(e, status.ErrNotAuthenticated)
		}
		e.Request = e.Request.WithContext(identity.WithUserID(e.Request.Context(), e.Auth.Id))
		return e.Next()
	}
}

// RequireOrganizer must run after RequireUser.
func RequireOrganizer() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if e.Auth == nil {
			return respondError(e, status.ErrNotAuthenticated)
		}
		if !e.Auth.GetBool("is_organizer") {
			return respondError(e, status.ErrForbidden)
		}
		return e.Next()
	}
}

func currentUser(e *core.RequestEvent) models.User {
	user := models.User{
		ID:          e.Auth.Id,
		Name:        e.Auth.GetString("name"),
		Email:       e.Auth.Email(),
		IsOrganizer: e.Auth.GetBool("is_organizer"),
	}
	if avatar := e.Auth.GetString("avatar"); avatar != "" {
		user.PhotoURL = &avatar
	}
	return user
}

func userID(e *core.RequestEvent) string {
	if e.Auth == nil {
		return ""
	}
	return e.Auth.Id
}
