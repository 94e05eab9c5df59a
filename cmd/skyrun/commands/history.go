package commands

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/skyrun/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect past runs",
		Long: `Inspect the run history kept in the sqlite store (store.path in the
configuration). The default in-memory store forgets everything on exit.`,
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryAuditCommand())

	return cmd
}

func newHistoryListCommand() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			runs, err := a.store.ListRuns(ctx, limit, offset)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, runs)
			}
			tw := newTable(out, "ID", "SEQUENCE", "STATUS", "STARTED", "DURATION")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.Sequence, r.Status, r.StartedAt.Local().Format(time.DateTime), runDuration(r))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of runs to skip")

	return cmd
}

// runDetails is what history show prints.
type runDetails struct {
	Run     *stores.Run           `json:"run"`
	Summary *stores.RunSummary    `json:"summary"`
	Events  []*stores.StatusEvent `json:"events,omitempty"`
}

func newHistoryShowCommand() *cobra.Command {
	var events bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			details := runDetails{}
			if details.Run, err = a.store.GetRun(ctx, args[0]); err != nil {
				return fmt.Errorf("run %s: %w", args[0], err)
			}
			if details.Summary, err = a.store.Summarize(ctx, args[0]); err != nil {
				return err
			}
			if events {
				// sqlite treats a negative limit as no limit.
				if details.Events, err = a.store.ListStatusEvents(ctx, args[0], -1, 0); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, details)
			}

			r := details.Run
			fmt.Fprintf(out, "Run:      %s\n", r.ID)
			fmt.Fprintf(out, "Sequence: %s\n", r.Sequence)
			fmt.Fprintf(out, "Plan:     %s\n", orDash(r.PlanPath))
			fmt.Fprintf(out, "Status:   %s\n", r.Status)
			fmt.Fprintf(out, "Started:  %s\n", r.StartedAt.Local().Format(time.DateTime))
			fmt.Fprintf(out, "Duration: %s\n", runDuration(r))
			if r.Error != nil {
				fmt.Fprintf(out, "Error:    %s\n", *r.Error)
			}
			if r.FailureMessage != nil {
				fmt.Fprintf(out, "Failure:  %s\n", *r.FailureMessage)
			}

			statuses := make([]string, 0, len(details.Summary.Statuses))
			for s := range details.Summary.Statuses {
				statuses = append(statuses, s)
			}
			sort.Strings(statuses)
			fmt.Fprintf(out, "\nEntities (%d transitions):\n", details.Summary.Events)
			for _, s := range statuses {
				fmt.Fprintf(out, "  %-9s %d\n", s, details.Summary.Statuses[s])
			}

			if events {
				fmt.Fprintln(out)
				tw := newTable(out, "TIME", "ENTITY", "TYPE", "FROM", "TO")
				for _, e := range details.Events {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						e.Timestamp.Local().Format(time.TimeOnly), e.EntityPath, e.EntityType, e.OldStatus, e.NewStatus)
				}
				return tw.Flush()
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&events, "events", false, "list every status transition")

	return cmd
}

func newHistoryAuditCommand() *cobra.Command {
	var (
		action string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List operator actions",
		Example: `  # Every interrupt
  skyrun history audit --action run.interrupt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			var filter *string
			if action != "" {
				filter = &action
			}
			entries, err := a.store.ListAuditEntries(ctx, filter, limit, 0)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, entries)
			}
			tw := newTable(out, "TIME", "ACTION", "ACTOR", "RUN")
			for _, e := range entries {
				target := ""
				if e.TargetID != nil {
					target = *e.TargetID
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					e.Timestamp.Local().Format(time.DateTime), e.Action, e.Actor, orDash(target))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&action, "action", "", "only entries with this action")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries")

	return cmd
}

func runDuration(r *stores.Run) string {
	if r.CompletedAt == nil {
		return "-"
	}
	return r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
}
