package commands

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/skyrun/pkg/api"
	"github.com/openfroyo/skyrun/pkg/engine"
)

func newServeCommand() *cobra.Command {
	var (
		listen   string
		planPath string
		noPolicy bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the control API",
		Long: `Serve the HTTP control API until interrupted.

Endpoints:
  GET  /healthz                       store and redis health
  GET  /metrics                       prometheus metrics
  GET  /api/v1/status                 the active run
  GET  /api/v1/running                instructions executing right now
  POST /api/v1/interrupt              interrupt the active run
  POST /api/v1/skip                   skip the running instructions
  POST /api/v1/cancel                 cancel a run
  GET  /api/v1/events                 server-sent event stream
  GET  /api/v1/runs[/{id}[/summary]]  run history
  GET  /api/v1/audit                  operator actions

With --plan the given plan starts as soon as the server is up. Policy and
template files are reloaded on change when policies.watch and templates.watch
are set.`,
		Example: `  # Serve on the configured address
  skyrun serve -c skyrun.yaml

  # Run tonight's plan under remote control
  skyrun serve --listen :8080 --plan night.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if err := a.watch(ctx); err != nil {
				return err
			}

			opts := []api.Option{
				api.WithHistory(a.store),
				api.WithHealthCheck("store", a.store.HealthCheck),
			}
			if a.snapshots != nil {
				opts = append(opts, api.WithHealthCheck("redis", a.snapshots.HealthCheck))
			}
			server := api.NewServer(a.scheduler, a.tel, opts...)

			if planPath != "" {
				doc, root, err := a.loadPlan(planPath)
				if err != nil {
					return err
				}
				runID, err := a.scheduler.Start(engine.WithActor(ctx, "cli"), root, engine.StartOptions{
					PlanPath:   planPath,
					Document:   doc,
					SkipPolicy: noPolicy,
				})
				if err != nil {
					return err
				}
				a.logger.Info().Str("run_id", runID).Str("plan", planPath).Msg("Sequence started")
			}

			addr := a.cfg.API.Listen
			if listen != "" {
				addr = listen
			}
			serveErr := server.ListenAndServe(ctx, addr, a.cfg.API.ShutdownTimeout)
			return errors.Join(serveErr, stopActive(a, a.cfg.API.ShutdownTimeout))
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from api.listen)")
	cmd.Flags().StringVar(&planPath, "plan", "", "plan to start once the server is up")
	cmd.Flags().BoolVar(&noPolicy, "no-policy", false, "skip the policy check for --plan")

	return cmd
}

// stopActive cancels the active run, if any, and waits up to timeout for it to wind down.
func stopActive(a *app, timeout time.Duration) error {
	info, ok := a.scheduler.Active()
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(engine.WithActor(context.Background(), "cli"), timeout)
	defer cancel()

	if err := a.scheduler.Cancel(ctx, info.ID); err != nil && !errors.Is(err, engine.ErrNoActiveRun) {
		return err
	}
	final, err := a.scheduler.Wait(ctx, info.ID)
	if err != nil {
		return err
	}
	a.logger.Info().Str("run_id", final.ID).Str("status", final.Status.String()).Msg("Active run stopped")
	return nil
}
