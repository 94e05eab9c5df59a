package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/openfroyo/skyrun/pkg/config"
	"github.com/openfroyo/skyrun/pkg/engine"
	"github.com/openfroyo/skyrun/pkg/equipment/sim"
	"github.com/openfroyo/skyrun/pkg/plan"
	"github.com/openfroyo/skyrun/pkg/policy"
	"github.com/openfroyo/skyrun/pkg/script"
	"github.com/openfroyo/skyrun/pkg/sequencer"
	"github.com/openfroyo/skyrun/pkg/stores"
	"github.com/openfroyo/skyrun/pkg/telemetry"
	"github.com/openfroyo/skyrun/pkg/templates"
)

// app holds everything a command needs, built from the loaded configuration.
type app struct {
	cfg         *config.Config
	tel         *telemetry.Telemetry
	logger      zerolog.Logger
	store       *stores.SQLiteStore
	snapshots   *stores.RedisSnapshotStore
	policies    *policy.Engine
	observatory *sim.Observatory
	decoder     *plan.Decoder
	templates   *templates.Library
	scheduler   *engine.Scheduler
}

// loadConfig reads the configuration files named by --config and applies the global
// flags on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPaths...)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

// newApp wires the application. Close must be called on the result.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	var telOpts []telemetry.LoggerOption
	if logWriter != nil {
		telOpts = append(telOpts, telemetry.WithWriter(logWriter))
	}
	tel, err := telemetry.NewTelemetry(&cfg.Telemetry, telOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a := &app{
		cfg:    cfg,
		tel:    tel,
		logger: tel.Logger.Zerolog(),
	}
	if err := a.init(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	store, err := stores.NewSQLiteStore(a.cfg.Store)
	if err != nil {
		return err
	}
	a.store = store
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("failed to open run history: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate run history: %w", err)
	}

	if a.cfg.Redis.Enabled {
		a.snapshots = stores.NewRedisSnapshotStore(a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB,
			stores.WithTTL(a.cfg.Redis.TTL),
			stores.WithPrefix(a.cfg.Redis.Prefix),
		)
		if err := a.snapshots.HealthCheck(ctx); err != nil {
			// The mirror is optional; runs proceed without it.
			a.logger.Warn().Err(err).Str("addr", a.cfg.Redis.Addr).Msg("Redis unavailable, live status mirror disabled")
			_ = a.snapshots.Close()
			a.snapshots = nil
		}
	}

	a.policies, err = policy.NewEngine(a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	if len(a.cfg.Policies.Paths) > 0 {
		if err := a.policies.LoadPolicies(ctx, a.cfg.Policies.Paths); err != nil {
			return err
		}
	}

	a.observatory, err = sim.Connected(ctx, a.cfg.Equipment.Timings, a.cfg.Equipment.Filters...)
	if err != nil {
		return fmt.Errorf("failed to connect equipment: %w", err)
	}

	a.decoder = plan.NewDecoder(nil, plan.Deps{
		Mediators: a.observatory.Mediators(),
		Scripts:   script.NewEvaluator(0),
		Logger:    a.logger,
	})

	a.templates = templates.NewLibrary(a.cfg.Templates.Dir, a.decoder, a.logger)
	if _, err := os.Stat(a.cfg.Templates.Dir); err == nil {
		if err := a.templates.Load(); err != nil {
			return err
		}
	} else {
		a.logger.Debug().Str("dir", a.cfg.Templates.Dir).Msg("Template directory missing, library is empty")
	}

	runner := sequencer.NewRunner(
		sequencer.WithLogger(a.logger),
		sequencer.WithMetrics(a.tel.Metrics),
		sequencer.WithTracer(a.tel.Tracer.Tracer()),
		sequencer.WithRetryDelay(a.cfg.Runner.RetryDelay, a.cfg.Runner.MaxRetryDelay),
	)
	opts := []engine.Option{
		engine.WithRunner(runner),
		engine.WithRunStore(a.store),
		engine.WithPolicyGate(a.policies),
	}
	if a.snapshots != nil {
		opts = append(opts, engine.WithSnapshotStore(a.snapshots))
	}
	a.scheduler = engine.NewScheduler(a.tel, opts...)
	return nil
}

// watch starts the configured file watchers. They stop with ctx.
func (a *app) watch(ctx context.Context) error {
	if a.cfg.Policies.Watch {
		if err := a.policies.Watch(ctx); err != nil {
			return err
		}
	}
	if a.cfg.Templates.Watch {
		if err := a.templates.Watch(ctx, nil); err != nil {
			return err
		}
	}
	return nil
}

// loadPlan reads and decodes a plan file.
func (a *app) loadPlan(path string) (*plan.Document, *sequencer.RootContainer, error) {
	return a.decoder.LoadFile(path)
}

// Close releases the stores and flushes telemetry.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.observatory != nil {
		if err := a.observatory.Mediators().DisconnectAll(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.snapshots != nil {
		errs = append(errs, a.snapshots.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, a.tel.Shutdown(context.WithoutCancel(ctx)))
	return errors.Join(errs...)
}
