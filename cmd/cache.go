package cmd

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"event-ticket/internal/store"

	"github.com/spf13/cobra"
)

var errCacheDisabled = errors.New("local cache is disabled, set CACHE_PATH")

func newCacheCommand(c *components) *cobra.Command {
	root := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or reset the local offline cache",
	}

	var eventID string
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print cached scan progress for an event",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, args []string) error {
			if c.cache == nil {
				return errCacheDisabled
			}
			ctx := command.Context()

			scanned, err := c.cache.CountScanned(ctx, eventID)
			if err != nil {
				return fmt.Errorf("count scanned: %w", err)
			}
			total, err := c.cache.CountTotal(ctx, eventID)
			if err != nil {
				return fmt.Errorf("count tickets: %w", err)
			}
			byType, err := c.cache.CountByType(ctx, eventID)
			if err != nil {
				return fmt.Errorf("count by type: %w", err)
			}

			out := command.OutOrStdout()
			fmt.Fprintf(out, "event %s: %d of %d scanned\n", eventID, scanned, total)
			types := make([]string, 0, len(byType))
			for id := range byType {
				types = append(types, id)
			}
			sort.Strings(types)
			for _, id := range types {
				fmt.Fprintf(out, "  %s: %d\n", id, byType[id])
			}
			return nil
		},
	}
	stats.Flags().StringVar(&eventID, "event", "", "event id")
	_ = stats.MarkFlagRequired("event")

	var userID, ticketsEventID string
	tickets := &cobra.Command{
		Use:   "tickets",
		Short: "List cached tickets of a user or an event",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, args []string) error {
			if c.cache == nil {
				return errCacheDisabled
			}
			if (userID == "") == (ticketsEventID == "") {
				return errors.New("exactly one of --user or --event is required")
			}

			list := c.cache.ListTicketsByUser
			key := userID
			if ticketsEventID != "" {
				list, key = c.cache.ListTicketsByEvent, ticketsEventID
			}
			found, err := list(command.Context(), key)
			if err != nil {
				return fmt.Errorf("list tickets: %w", err)
			}

			out := command.OutOrStdout()
			for _, t := range found {
				state := "valid"
				if t.IsScanned {
					state = "scanned"
				}
				fmt.Fprintf(out, "%s %s %s %s\n", t.ID, t.EventID, t.TicketTypeID, state)
			}
			return nil
		},
	}
	tickets.Flags().StringVar(&userID, "user", "", "ticket holder id")
	tickets.Flags().StringVar(&ticketsEventID, "event", "", "event id")

	var (
		filter store.EventFilter
		from   string
	)
	events := &cobra.Command{
		Use:   "events",
		Short: "List cached events, optionally filtered",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, args []string) error {
			if c.cache == nil {
				return errCacheDisabled
			}
			if from != "" {
				at, err := time.Parse(time.DateOnly, from)
				if err != nil {
					return fmt.Errorf("--from must be YYYY-MM-DD: %w", err)
				}
				filter.From = at
			}
			found, err := c.cache.ListEvents(command.Context(), filter)
			if err != nil {
				return fmt.Errorf("list events: %w", err)
			}
			for _, e := range found {
				fmt.Fprintf(command.OutOrStdout(), "%s %s %s\n", e.ID, e.Date.Format(time.DateOnly), e.Title)
			}
			return nil
		},
	}
	events.Flags().StringVar(&filter.OrganizerID, "organizer", "", "organizer user id")
	events.Flags().BoolVar(&filter.PublicOnly, "public", false, "only public events")
	events.Flags().StringVar(&filter.Query, "q", "", "search title, description and location")
	events.Flags().StringVar(&filter.Category, "category", "", "category")
	events.Flags().StringVar(&from, "from", "", "only events on or after this date, soonest first")

	reset := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached event and ticket",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, args []string) error {
			if c.cache == nil {
				return errCacheDisabled
			}
			if err := c.cache.Clear(command.Context()); err != nil {
				return fmt.Errorf("clear cache: %w", err)
			}
			fmt.Fprintln(command.OutOrStdout(), "cache cleared")
			return nil
		},
	}

	root.AddCommand(stats, tickets, events, reset)
	return root
}
