package services

import (
	"context"
	"strings"
	"time"

	"event-ticket/internal/inventory"
	"event-ticket/internal/status"
	"event-ticket/internal/store"
	"event-ticket/models"
	"event-ticket/utils"

	"github.com/shopspring/decimal"
)

type TicketTypeDraft struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

type EventDraft struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Location    string            `json:"location"`
	Date        time.Time         `json:"date"`
	Category    string            `json:"category"`
	IsPublic    bool              `json:"is_public"`
	ImageURL    *string           `json:"image_url"`
	TicketTypes []TicketTypeDraft `json:"ticket_types"`
}

// EventPatch changes event metadata. Nil fields are left alone. Ticket types
// cannot be changed through it.
type EventPatch struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Location    *string    `json:"location"`
	Date        *time.Time `json:"date"`
	Category    *string    `json:"category"`
	IsPublic    *bool      `json:"is_public"`
	ImageURL    *string    `json:"image_url"`
}

type EventService struct {
	store store.Store
	sync  *Sync
	now   func() time.Time
	newID func() string
}

func NewEventService(st store.Store, sync *Sync) *EventService {
	return &EventService{
		store: st,
		sync:  sync,
		now:   time.Now,
		newID: utils.NewID,
	}
}

func (s *EventService) Create(ctx context.Context, organizerID string, draft EventDraft) (*models.Event, error) {
	if organizerID == "" {
		return nil, status.ErrNotAuthenticated
	}
	if err := validateDraft(draft); err != nil {
		return nil, err
	}

	now := s.now()
	event := models.Event{
		ID:          s.newID(),
		Title:       strings.TrimSpace(draft.Title),
		Description: draft.Description,
		Location:    draft.Location,
		Date:        draft.Date,
		Category:    draft.Category,
		OrganizerID: organizerID,
		IsPublic:    draft.IsPublic,
		ImageURL:    draft.ImageURL,
		TicketTypes: make([]models.TicketType, 0, len(draft.TicketTypes)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, tt := range draft.TicketTypes {
		event.TicketTypes = append(event.TicketTypes, models.TicketType{
			ID:                s.newID(),
			Name:              strings.TrimSpace(tt.Name),
			Description:       tt.Description,
			Price:             tt.Price,
			Quantity:          tt.Quantity,
			AvailableQuantity: tt.Quantity,
			EventID:           event.ID,
		})
	}
	if err := inventory.Validate(event); err != nil {
		return nil, err
	}

	if err := s.store.PutEvent(ctx, &event); err != nil {
		err = classify(err, status.ErrEventNotFound)
		logOutcome("Failed to create event", err, "organizer_id", organizerID)
		return nil, err
	}

	s.sync.MirrorEvent(ctx, event)
	return &event, nil
}

// Update applies patch for the event's organizer. It goes through the
// store's conditional update, so concurrent issuance is never overwritten.
func (s *EventService) Update(ctx context.Context, userID, eventID string, patch EventPatch) (*models.Event, error) {
	if userID == "" {
		return nil, status.ErrNotAuthenticated
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, status.Invalid("title must not be empty")
	}

	now := s.now()
	updated, err := s.store.UpdateEvent(ctx, eventID, func(event models.Event) (models.Event, error) {
		if !event.IsOwnedBy(userID) {
			return models.Event{}, status.ErrForbidden
		}
		patch.apply(&event)
		event.UpdatedAt = now
		return event, nil
	})
	if err != nil {
		err = classify(err, status.ErrEventNotFound)
		logOutcome("Failed to update event", err, "event_id", eventID, "user_id", userID)
		return nil, err
	}

	s.sync.MirrorEvent(ctx, *updated)
	return updated, nil
}

func (s *EventService) Get(ctx context.Context, eventID string) (*models.Event, error) {
	return s.sync.Event(ctx, eventID)
}

// GetForOrganizer reads the event from the store and checks ownership.
func (s *EventService) GetForOrganizer(ctx context.Context, userID, eventID string) (*models.Event, error) {
	if userID == "" {
		return nil, status.ErrNotAuthenticated
	}
	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, classify(err, status.ErrEventNotFound)
	}
	if !event.IsOwnedBy(userID) {
		return nil, status.ErrForbidden
	}
	return event, nil
}

// ListPublic lists public events narrowed by filter. Private events are
// never included whatever the filter says.
func (s *EventService) ListPublic(ctx context.Context, filter store.EventFilter) ([]models.Event, error) {
	filter.PublicOnly = true
	events, err := s.store.ListEvents(ctx, filter)
	if err != nil {
		return nil, status.Unavailable(err)
	}
	return events, nil
}

func (s *EventService) ListByOrganizer(ctx context.Context, organizerID string) ([]models.Event, error) {
	if organizerID == "" {
		return nil, status.ErrNotAuthenticated
	}
	events, err := s.store.ListEvents(ctx, store.EventFilter{OrganizerID: organizerID})
	if err != nil {
		return nil, status.Unavailable(err)
	}
	return events, nil
}

func (p EventPatch) apply(e *models.Event) {
	if p.Title != nil {
		e.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.Location != nil {
		e.Location = *p.Location
	}
	if p.Date != nil {
		e.Date = *p.Date
	}
	if p.Category != nil {
		e.Category = *p.Category
	}
	if p.IsPublic != nil {
		e.IsPublic = *p.IsPublic
	}
	if p.ImageURL != nil {
		url := *p.ImageURL
		e.ImageURL = &url
	}
}

func validateDraft(d EventDraft) error {
	if strings.TrimSpace(d.Title) == "" {
		return status.Invalid("title is required")
	}
	for i, tt := range d.TicketTypes {
		if strings.TrimSpace(tt.Name) == "" {
			return status.Invalid("ticket type %d: name is required", i)
		}
		if tt.Price.IsNegative() {
			return status.Invalid("ticket type %q: price must not be negative", tt.Name)
		}
		if tt.Quantity < 0 {
			return status.Invalid("ticket type %q: quantity must not be negative", tt.Name)
		}
	}
	return nil
}
