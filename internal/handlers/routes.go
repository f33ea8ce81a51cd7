package handlers

import (
	"event-ticket/security"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/router"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Routes struct {
	System  *SystemHandler
	Events  *EventHandler
	Tickets *TicketHandler
	Scans   *ScanHandler

	// Limiter throttles scans. Nil disables rate limiting.
	Limiter       *security.RateLimiter
	EnableMetrics bool
}

func (rt Routes) Register(r *router.Router[*core.RequestEvent]) {
	r.GET("/health", rt.System.Health)
	if rt.EnableMetrics {
		r.GET("/metrics", apis.WrapStdHandler(promhttp.Handler()))
	}

	api := r.Group("/api")
	if rt.Limiter != nil {
		api.BindFunc(rt.Limiter.AntiBotMiddleware())
	}

	api.GET("/events", rt.Events.ListPublic)
	api.GET("/events/{eventId}", rt.Events.Get)

	auth := api.Group("")
	auth.BindFunc(RequireUser())
	auth.GET("/me", rt.System.Me)
	auth.GET("/organizer/events", rt.Events.ListMine)
	auth.POST("/events", rt.Events.Create).BindFunc(RequireOrganizer())
	auth.PATCH("/events/{eventId}", rt.Events.Update)
	auth.POST("/events/{eventId}/tickets", rt.Tickets.Issue)
	auth.GET("/tickets", rt.Tickets.ListMine)
	auth.GET("/tickets/{ticketId}", rt.Tickets.Get)
	auth.GET("/tickets/{ticketId}/share", rt.Tickets.Share)

	scan := auth.POST("/events/{eventId}/scan", rt.Scans.Scan)
	if rt.Limiter != nil {
		scan.BindFunc(rt.Limiter.ScanRateLimit())
	}
	auth.GET("/events/{eventId}/stats", rt.Scans.Stats)
	auth.GET("/events/{eventId}/stats/stream", rt.Scans.StatsStream)
}
