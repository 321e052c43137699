package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/servwatch/internal/compose"
	"github.com/hazz-dev/servwatch/internal/config"
	"github.com/hazz-dev/servwatch/internal/monitor"
	"github.com/hazz-dev/servwatch/internal/probe"
)

func executeCheck(cmd *cobra.Command, cfg *config.Config) error {
	ctrl := compose.New(cfg.Compose, nil)
	return runChecks(cmd.Context(), cmd.OutOrStdout(), probe.NewHealthProbe(cfg.Server), probe.NewVersionProbe(cfg.Server, ctrl))
}

func runChecks(ctx context.Context, out io.Writer, health monitor.HealthChecker, versions monitor.VersionChecker) error {
	if ctx == nil {
		ctx = context.Background()
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHECK\tRESULT\tDETAIL")

	h := health.Check(ctx)
	detail := h.ResponseTime.Round(time.Millisecond).String()
	if h.Err != nil {
		detail = h.Err.Error()
	} else if h.Status == probe.StatusUnhealthy {
		detail = fmt.Sprintf("server reported %q", h.Reported)
	}
	fmt.Fprintf(w, "health\t%s\t%s\n", h.Status, detail)

	cmp, err := versions.Compare(ctx)
	switch {
	case err != nil:
		fmt.Fprintf(w, "version\terror\t%v\n", err)
	case cmp.UpdateAvailable():
		fmt.Fprintf(w, "version\tupdate available\tlatest=%s current=%s\n", cmp.Latest, cmp.Current)
	default:
		fmt.Fprintf(w, "version\tup to date\tlatest=%s current=%s\n", cmp.Latest, cmp.Current)
	}
	return w.Flush()
}
