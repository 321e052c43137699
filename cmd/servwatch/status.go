package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/servwatch/internal/event"
	"github.com/hazz-dev/servwatch/internal/storage"
)

type statusStore interface {
	RecentEvents(ctx context.Context, kind event.Kind, limit int) ([]storage.Event, error)
	LatestEvent(ctx context.Context, kind event.Kind) (*storage.Event, error)
}

// actionKinds are summarised below the event table, since old actions
// scroll out of a short listing quickly.
var actionKinds = []event.Kind{event.KindRestart, event.KindUpdate, event.KindScheduledRestart}

func executeStatus(cmd *cobra.Command, db statusStore, limit int) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()
	events, err := db.RecentEvents(ctx, "", limit)
	if err != nil {
		return fmt.Errorf("querying events: %w", err)
	}

	if len(events) == 0 {
		fmt.Fprintln(out, "No events recorded. Run 'servwatch serve' with STATE_DB set first.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tSTATUS\tDETAIL\tERROR")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.OccurredAt.Local().Format("2006-01-02 15:04:05"),
			e.Kind,
			e.Status,
			e.Detail,
			e.Error,
		)
	}
	w.Flush()

	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "LAST ACTION\tSTATUS\tTIME")
	for _, kind := range actionKinds {
		e, err := db.LatestEvent(ctx, kind)
		if err != nil {
			return fmt.Errorf("querying latest %s: %w", kind, err)
		}
		if e == nil {
			fmt.Fprintf(w, "%s\t-\tnever\n", kind)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", kind, e.Status, e.OccurredAt.Local().Format("2006-01-02 15:04:05"))
	}
	w.Flush()
	return nil
}
