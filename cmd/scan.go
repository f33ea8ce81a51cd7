package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"event-ticket/internal/status"
	"event-ticket/models"

	"github.com/spf13/cobra"
)

type redeemer interface {
	Redeem(ctx context.Context, raw string) (*models.Ticket, error)
	RedeemAt(ctx context.Context, eventID, raw string) (*models.Ticket, error)
}

func newScanCommand(c *components) *cobra.Command {
	var eventID string

	command := &cobra.Command{
		Use:   "scan",
		Short: "Redeem decoded ticket codes read from stdin, one per line",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, args []string) error {
			return runScan(command.Context(), c.redemption, eventID, command.InOrStdin(), command.OutOrStdout())
		},
	}
	command.Flags().StringVar(&eventID, "event", "", "only accept tickets issued for this event id")

	return command
}

// runScan treats every non-empty line as an independent redemption attempt.
// Rejections are reported and scanning goes on.
func runScan(ctx context.Context, r redeemer, eventID string, in io.Reader, out io.Writer) error {
	var valid, rejected int

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var (
			ticket *models.Ticket
			err    error
		)
		if eventID != "" {
			ticket, err = r.RedeemAt(ctx, eventID, raw)
		} else {
			ticket, err = r.Redeem(ctx, raw)
		}
		if err != nil {
			rejected++
		} else {
			valid++
		}
		fmt.Fprintln(out, describeScan(ticket, err))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read codes: %w", err)
	}

	fmt.Fprintf(out, "%d valid, %d rejected\n", valid, rejected)
	return nil
}

func describeScan(ticket *models.Ticket, err error) string {
	if err == nil {
		return fmt.Sprintf("VALID ticket=%s event=%s", ticket.ID, ticket.EventID)
	}
	line := fmt.Sprintf("%s %s", status.CodeOf(err), status.Message(err))
	if at, ok := status.ScannedAt(err); ok {
		line += " (scanned at " + at.Format(time.RFC3339) + ")"
	}
	return line
}
