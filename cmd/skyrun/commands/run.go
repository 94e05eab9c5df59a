package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/skyrun/pkg/engine"
	"github.com/openfroyo/skyrun/pkg/sequencer"
)

func newRunCommand() *cobra.Command {
	var (
		noPolicy bool
		quiet    bool
	)

	cmd := &cobra.Command{
		Use:   "run <plan>",
		Short: "Run a sequence plan",
		Long: `Load a plan, check it against the policies and execute it.

Progress is printed as instructions change status. Ctrl-C cancels the run: the
running instructions are stopped, everything still pending is skipped and the
end area does not run. A second Ctrl-C exits immediately.`,
		Example: `  # Run a plan
  skyrun run night.yaml

  # Run with a layered configuration and JSON progress lines
  skyrun run -c skyrun.yaml -c site.cue --json night.yaml

  # Run a plan the policies reject
  skyrun run --no-policy test.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			doc, root, err := a.loadPlan(args[0])
			if err != nil {
				return err
			}
			for _, issue := range sequencer.ValidateTree(root) {
				a.logger.Warn().
					Str("path", issue.Path).
					Str("issue", issue.Message).
					Msg("Instruction will be skipped")
			}

			out := cmd.OutOrStdout()
			var progress sequencer.ProgressSink = sequencer.NopSink{}
			if !quiet {
				progress = newProgressPrinter(out, jsonOutput)
			}

			runID, err := a.scheduler.Start(engine.WithActor(ctx, "cli"), root, engine.StartOptions{
				PlanPath:   args[0],
				Document:   doc,
				Progress:   progress,
				SkipPolicy: noPolicy,
			})
			if err != nil {
				var denied *engine.PolicyDeniedError
				if errors.As(err, &denied) {
					printViolations(cmd.ErrOrStderr(), denied.Result.Violations)
				}
				return err
			}
			a.logger.Info().Str("run_id", runID).Str("plan", args[0]).Msg("Sequence started")

			info, err := waitForRun(ctx, a.scheduler, runID, a.logger)
			if err != nil {
				return err
			}
			if jsonOutput {
				if err := printJSON(out, info); err != nil {
					return err
				}
			} else {
				printRunInfo(out, info)
			}

			switch info.Status {
			case engine.RunStatusFailed:
				return fmt.Errorf("run %s failed: %s", info.ID, info.Error)
			case engine.RunStatusCanceled:
				return fmt.Errorf("run %s canceled", info.ID)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noPolicy, "no-policy", false, "skip the policy check")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print progress")

	return cmd
}

// waitForRun waits for the run to finish and cancels it when ctx is done first.
func waitForRun(ctx context.Context, s *engine.Scheduler, runID string, logger zerolog.Logger) (engine.RunInfo, error) {
	waitCtx := context.WithoutCancel(ctx)
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-done:
		case <-ctx.Done():
			if err := s.Cancel(engine.WithActor(waitCtx, "cli"), runID); err != nil && !errors.Is(err, engine.ErrNoActiveRun) {
				logger.Error().Err(err).Str("run_id", runID).Msg("Failed to cancel run")
			}
		}
	}()

	return s.Wait(waitCtx, runID)
}

// progressPrinter writes progress reports as they arrive.
type progressPrinter struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
}

func newProgressPrinter(w io.Writer, asJSON bool) *progressPrinter {
	return &progressPrinter{w: w, json: asJSON}
}

func (p *progressPrinter) Report(pr sequencer.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.json {
		if data, err := json.Marshal(pr); err == nil {
			fmt.Fprintln(p.w, string(data))
		}
		return
	}

	line := fmt.Sprintf("%s  %-9s %s", pr.At.Local().Format("15:04:05"), pr.Status, pr.Entity)
	if pr.Total > 0 {
		line += fmt.Sprintf(" [%d/%d]", pr.Current, pr.Total)
	}
	if pr.Message != "" {
		line += "  " + pr.Message
	}
	fmt.Fprintln(p.w, line)
}

func printRunInfo(w io.Writer, info engine.RunInfo) {
	fmt.Fprintf(w, "\nRun:      %s\n", info.ID)
	fmt.Fprintf(w, "Sequence: %s\n", info.Sequence)
	fmt.Fprintf(w, "Status:   %s\n", info.Status)
	if info.CompletedAt != nil {
		fmt.Fprintf(w, "Duration: %s\n", info.CompletedAt.Sub(info.StartedAt).Round(time.Millisecond))
	}
	if info.FailureMessage != "" {
		fmt.Fprintf(w, "Failure:  %s\n", info.FailureMessage)
	}
	if len(info.Warnings) > 0 {
		fmt.Fprintln(w, "Policy warnings:")
		printViolations(w, info.Warnings)
	}
}
