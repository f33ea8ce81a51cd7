package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent() Event {
	return Event{
		ID:          "event-123",
		Title:       "Test Concert",
		OrganizerID: "organizer-1",
		TicketTypes: []TicketType{
			{ID: "vip", Name: "VIP", Price: decimal.RequireFromString("100"), Quantity: 10, AvailableQuantity: 10, EventID: "event-123"},
			{ID: "regular", Name: "Regular", Price: decimal.RequireFromString("25.50"), Quantity: 100, AvailableQuantity: 80, EventID: "event-123"},
			{ID: "free", Name: "Free", Price: decimal.Zero, Quantity: 5, AvailableQuantity: 5, EventID: "event-123"},
		},
	}
}

func TestEvent_FindTicketType(t *testing.T) {
	event := testEvent()

	tt, idx, ok := event.FindTicketType("regular")
	require.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.Equal(t, "Regular", tt.Name)

	_, idx, ok = event.FindTicketType("missing")
	assert.False(t, ok)
	assert.Equal(t, -1, idx)
}

func TestEvent_WithTicketType_PreservesOrderAndOriginal(t *testing.T) {
	event := testEvent()

	updated := event.TicketTypes[1]
	updated.AvailableQuantity = 79

	next := event.WithTicketType(updated)

	require.Len(t, next.TicketTypes, 3)
	assert.Equal(t, []string{"vip", "regular", "free"}, []string{
		next.TicketTypes[0].ID, next.TicketTypes[1].ID, next.TicketTypes[2].ID,
	})
	assert.Equal(t, 79, next.TicketTypes[1].AvailableQuantity)
	assert.Equal(t, event.TicketTypes[0], next.TicketTypes[0])
	assert.Equal(t, event.TicketTypes[2], next.TicketTypes[2])

	// The receiver keeps its own slice.
	assert.Equal(t, 80, event.TicketTypes[1].AvailableQuantity)
}

func TestEvent_Clone_DoesNotAlias(t *testing.T) {
	url := "https://img.example/1.png"
	event := testEvent()
	event.ImageURL = &url

	clone := event.Clone()
	clone.TicketTypes[0].AvailableQuantity = 0
	*clone.ImageURL = "changed"

	assert.Equal(t, 10, event.TicketTypes[0].AvailableQuantity)
	assert.Equal(t, "https://img.example/1.png", *event.ImageURL)
}

func TestEvent_IsOwnedBy(t *testing.T) {
	event := testEvent()

	assert.True(t, event.IsOwnedBy("organizer-1"))
	assert.False(t, event.IsOwnedBy("someone-else"))
	assert.False(t, (&Event{}).IsOwnedBy(""))
}

func TestTicketType_PriceJSON(t *testing.T) {
	tt := TicketType{ID: "regular", Price: decimal.RequireFromString("25.50")}

	jsonData, err := json.Marshal(tt)
	require.NoError(t, err)
	assert.Contains(t, string(jsonData), `"price":"25.5"`)

	var unmarshaled TicketType
	require.NoError(t, json.Unmarshal(jsonData, &unmarshaled))
	assert.True(t, tt.Price.Equal(unmarshaled.Price))
}

func TestTicket_MarkScanned(t *testing.T) {
	ticket := Ticket{ID: "ticket-1"}
	first := time.Date(2026, 5, 1, 19, 0, 0, 0, time.UTC)

	require.True(t, ticket.MarkScanned(first))
	assert.True(t, ticket.IsScanned)
	require.NotNil(t, ticket.ScannedAt)
	assert.Equal(t, first, *ticket.ScannedAt)

	// Terminal: a second scan never moves scannedAt.
	assert.False(t, ticket.MarkScanned(first.Add(time.Hour)))
	assert.Equal(t, first, *ticket.ScannedAt)
}

func TestTicket_NilScannedAt(t *testing.T) {
	ticket := Ticket{ID: "ticket-123", PurchasedAt: time.Now()}

	jsonData, err := json.Marshal(ticket)
	require.NoError(t, err)

	var unmarshaled Ticket
	require.NoError(t, json.Unmarshal(jsonData, &unmarshaled))
	assert.Nil(t, unmarshaled.ScannedAt)
	assert.False(t, unmarshaled.IsScanned)
	assert.WithinDuration(t, ticket.PurchasedAt, unmarshaled.PurchasedAt, time.Second)
}

func TestScanStats_Remaining(t *testing.T) {
	stats := ScanStats{ScannedCount: 3, TotalCount: 10}
	assert.Equal(t, 7, stats.Remaining())
}

func TestResource_Variants(t *testing.T) {
	loading := Loading[ScanStats]()
	assert.True(t, loading.IsLoading())
	assert.Equal(t, "loading", loading.State.String())

	ok := Success(ScanStats{TotalCount: 2})
	assert.True(t, ok.IsSuccess())
	assert.Equal(t, 2, ok.Data.TotalCount)
	assert.NoError(t, ok.Err)

	failed := Failure[ScanStats](errors.New("boom"))
	assert.True(t, failed.IsError())
	assert.EqualError(t, failed.Err, "boom")
	assert.Equal(t, "error", failed.State.String())
}
