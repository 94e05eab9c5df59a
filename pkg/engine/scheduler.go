package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/skyrun/pkg/plan"
	"github.com/openfroyo/skyrun/pkg/policy"
	"github.com/openfroyo/skyrun/pkg/sequencer"
	"github.com/openfroyo/skyrun/pkg/stores"
	"github.com/openfroyo/skyrun/pkg/telemetry"
)

// Audit actions recorded for operator control requests.
const (
	AuditActionStart     = "run.start"
	AuditActionCancel    = "run.cancel"
	AuditActionInterrupt = "run.interrupt"
	AuditActionSkip      = "run.skip"
)

const defaultHistorySize = 100

// StartOptions describes how a sequence is started.
type StartOptions struct {
	// Sequence names the run; the root's name is used when empty.
	Sequence string

	// PlanPath is the document the root was decoded from, if any.
	PlanPath string

	// Document is evaluated by the policy gate. It is encoded from the root when nil.
	Document *plan.Document

	// Progress receives progress reports of the run.
	Progress sequencer.ProgressSink

	Metadata map[string]any

	// SkipPolicy bypasses the policy gate. The bypass is recorded in the audit trail.
	SkipPolicy bool
}

// RunInfo is the observable state of a run.
type RunInfo struct {
	ID             string             `json:"id"`
	Sequence       string             `json:"sequence"`
	PlanPath       string             `json:"plan_path,omitempty"`
	Status         RunStatus          `json:"status"`
	StartedAt      time.Time          `json:"started_at"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`
	Error          string             `json:"error,omitempty"`
	FailureMessage string             `json:"failure_message,omitempty"`
	Warnings       []policy.Violation `json:"warnings,omitempty"`
}

type run struct {
	info   RunInfo
	root   *sequencer.RootContainer
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler executes one sequence at a time and records what happens to it.
type Scheduler struct {
	tel       *telemetry.Telemetry
	runner    *sequencer.Runner
	logger    zerolog.Logger
	store     RunStore
	snapshots SnapshotStore
	policies  PolicyGate
	history   int

	mu     sync.RWMutex
	active *run
	runs   map[string]*run
	order  []string
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRunner replaces the runner built from the telemetry instance.
func WithRunner(r *sequencer.Runner) Option {
	return func(s *Scheduler) { s.runner = r }
}

// WithRunStore records runs and status transitions in store.
func WithRunStore(store RunStore) Option {
	return func(s *Scheduler) { s.store = store }
}

// WithSnapshotStore mirrors live entity status into store.
func WithSnapshotStore(store SnapshotStore) Option {
	return func(s *Scheduler) { s.snapshots = store }
}

// WithPolicyGate evaluates every sequence before it starts.
func WithPolicyGate(gate PolicyGate) Option {
	return func(s *Scheduler) { s.policies = gate }
}

// WithHistorySize bounds how many finished runs are kept in memory.
func WithHistorySize(n int) Option {
	return func(s *Scheduler) { s.history = n }
}

// NewScheduler creates a scheduler reporting through tel.
func NewScheduler(tel *telemetry.Telemetry, opts ...Option) *Scheduler {
	s := &Scheduler{
		tel:     tel,
		logger:  tel.Logger.Zerolog().With().Str("component", "scheduler").Logger(),
		history: defaultHistorySize,
		runs:    make(map[string]*run),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.runner == nil {
		s.runner = sequencer.NewRunner(
			sequencer.WithLogger(tel.Logger.Zerolog()),
			sequencer.WithMetrics(tel.Metrics),
			sequencer.WithTracer(tel.Tracer.Tracer()),
		)
	}
	return s
}

// Start runs root asynchronously and returns the run ID. Only one sequence may run at
// a time; a second Start fails with ErrPlanActive.
func (s *Scheduler) Start(ctx context.Context, root *sequencer.RootContainer, opts StartOptions) (string, error) {
	if root == nil {
		return "", sequencer.NewValidationError("root container is nil", nil).WithOperation("start")
	}
	sequence := opts.Sequence
	if sequence == "" {
		sequence = root.Name()
	}

	r := &run{
		info: RunInfo{
			ID:        uuid.New().String(),
			Sequence:  sequence,
			PlanPath:  opts.PlanPath,
			Status:    RunStatusPending,
			StartedAt: time.Now().UTC(),
		},
		root: root,
		done: make(chan struct{}),
	}

	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return "", ErrPlanActive
	}
	s.active = r
	s.mu.Unlock()

	if !opts.SkipPolicy {
		warnings, err := s.checkPolicies(ctx, r.info.ID, root, sequence, opts.Document)
		if err != nil {
			s.release(r)
			return "", err
		}
		r.info.Warnings = warnings
	}

	if s.store != nil {
		meta := []byte("{}")
		if opts.Metadata != nil {
			var err error
			if meta, err = json.Marshal(opts.Metadata); err != nil {
				s.release(r)
				return "", fmt.Errorf("failed to marshal run metadata: %w", err)
			}
		}
		if err := s.store.CreateRun(ctx, &stores.Run{
			ID:        r.info.ID,
			Sequence:  sequence,
			PlanPath:  opts.PlanPath,
			Status:    string(RunStatusPending),
			StartedAt: r.info.StartedAt,
			Metadata:  string(meta),
		}); err != nil {
			s.release(r)
			return "", fmt.Errorf("failed to save run: %w", err)
		}
	}
	s.audit(ctx, AuditActionStart, r.info.ID, map[string]any{"sequence": sequence, "policy_skipped": opts.SkipPolicy})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel

	s.mu.Lock()
	s.runs[r.info.ID] = r
	s.order = append(s.order, r.info.ID)
	s.mu.Unlock()

	progress := opts.Progress
	if progress == nil {
		progress = sequencer.NopSink{}
	}
	go s.execute(runCtx, r, progress)

	return r.info.ID, nil
}

func (s *Scheduler) checkPolicies(ctx context.Context, runID string, root *sequencer.RootContainer, sequence string, doc *plan.Document) ([]policy.Violation, error) {
	if s.policies == nil {
		return nil, nil
	}
	if doc == nil {
		var err error
		if doc, err = plan.Encode(root, sequence); err != nil {
			return nil, fmt.Errorf("failed to encode sequence for policy evaluation: %w", err)
		}
	}

	result, err := s.policies.Evaluate(ctx, doc, "run")
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policies: %w", err)
	}
	for _, v := range result.Warnings {
		s.tel.Metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
		_ = s.tel.Events.PublishPolicyViolation(runID, v.Policy, v.Path, v.Message, false)
	}
	for _, v := range result.Violations {
		s.tel.Metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
		_ = s.tel.Events.PublishPolicyViolation(runID, v.Policy, v.Path, v.Message, true)
	}
	if !result.Allowed {
		s.logger.Warn().
			Str("sequence", sequence).
			Int("violations", len(result.Violations)).
			Msg("Sequence rejected by policy")
		return nil, &PolicyDeniedError{Result: result}
	}
	return result.Warnings, nil
}

// execute runs the root and records its outcome.
func (s *Scheduler) execute(ctx context.Context, r *run, progress sequencer.ProgressSink) {
	defer close(r.done)

	// Records must be written even after the run context is cancelled.
	recordCtx := context.WithoutCancel(ctx)
	runID := r.info.ID

	unsubscribe := r.root.OnStatusChanged(func(ev sequencer.StatusEvent) {
		s.recordStatus(recordCtx, runID, ev)
	})
	defer unsubscribe()

	if s.snapshots != nil {
		if err := s.snapshots.SetActive(recordCtx, runID); err != nil {
			s.logger.Warn().Err(err).Str("run_id", runID).Msg("Failed to mark run active in snapshot store")
		}
	}

	scope := s.tel.StartRun(ctx, runID, r.info.Sequence)
	s.setStatus(recordCtx, r, RunStatusRunning)

	err := r.root.Run(scope.Ctx, s.runner, progress)
	status := classify(ctx, err)
	unsubscribe()

	completed := time.Now().UTC()
	failure := r.root.FailureMessage()

	s.mu.Lock()
	r.info.Status = status
	r.info.CompletedAt = &completed
	r.info.FailureMessage = failure
	if err != nil {
		r.info.Error = err.Error()
	}
	s.mu.Unlock()

	if s.store != nil {
		var errMsg, failureMsg *string
		if err != nil {
			msg := err.Error()
			errMsg = &msg
		}
		if failure != "" {
			failureMsg = &failure
		}
		if ferr := s.store.FinishRun(recordCtx, runID, string(status), errMsg, failureMsg); ferr != nil {
			s.logger.Error().Err(ferr).Str("run_id", runID).Msg("Failed to save final run state")
		}
	}
	if s.snapshots != nil {
		if serr := s.snapshots.SetActive(recordCtx, ""); serr != nil {
			s.logger.Warn().Err(serr).Str("run_id", runID).Msg("Failed to clear active run in snapshot store")
		}
	}

	scope.End(string(status), err)
	runLogger := scope.Logger.Zerolog()
	runLogger.Info().
		Str("status", string(status)).
		Dur("duration", completed.Sub(r.info.StartedAt)).
		Msg("Run finished")

	s.release(r)
}

// classify maps the outcome of a root run to a run status.
func classify(ctx context.Context, err error) RunStatus {
	switch {
	case ctx.Err() != nil:
		return RunStatusCanceled
	case err == nil:
		return RunStatusSucceeded
	case errors.Is(err, sequencer.ErrInterrupted), errors.Is(err, context.Canceled):
		return RunStatusCanceled
	default:
		return RunStatusFailed
	}
}

func (s *Scheduler) recordStatus(ctx context.Context, runID string, ev sequencer.StatusEvent) {
	path := sequencer.Path(ev.Entity)
	typ := sequencer.TypeOf(ev.Entity)

	_ = s.tel.Events.PublishStatusChanged(runID, ev.Entity.ID(), path, ev.From.String(), ev.To.String())

	if s.store != nil {
		if err := s.store.AppendStatusEvent(ctx, &stores.StatusEvent{
			RunID:      runID,
			EntityID:   ev.Entity.ID(),
			EntityPath: path,
			EntityType: typ,
			OldStatus:  ev.From.String(),
			NewStatus:  ev.To.String(),
			Timestamp:  ev.At,
		}); err != nil {
			s.logger.Warn().Err(err).Str("run_id", runID).Str("entity", path).Msg("Failed to record status event")
		}
	}
	if s.snapshots != nil {
		if err := s.snapshots.Put(ctx, runID, stores.EntitySnapshot{
			EntityID:  ev.Entity.ID(),
			Path:      path,
			Type:      typ,
			Status:    ev.To.String(),
			UpdatedAt: ev.At,
		}); err != nil {
			s.logger.Warn().Err(err).Str("run_id", runID).Str("entity", path).Msg("Failed to update snapshot")
		}
	}
}

func (s *Scheduler) setStatus(ctx context.Context, r *run, status RunStatus) {
	s.mu.Lock()
	r.info.Status = status
	s.mu.Unlock()
	if s.store == nil {
		return
	}
	if err := s.store.UpdateRunStatus(ctx, r.info.ID, string(status)); err != nil {
		s.logger.Error().Err(err).Str("run_id", r.info.ID).Msg("Failed to update run status")
	}
}

// release clears the active slot and trims the in-memory history.
func (s *Scheduler) release(r *run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == r {
		s.active = nil
	}
	for len(s.order) > s.history {
		oldest := s.order[0]
		if s.runs[oldest] == s.active {
			break
		}
		delete(s.runs, oldest)
		s.order = s.order[1:]
	}
}

// Wait blocks until the run finishes or ctx is done and returns its final state.
func (s *Scheduler) Wait(ctx context.Context, runID string) (RunInfo, error) {
	s.mu.RLock()
	r, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return s.Status(ctx, runID)
	}

	select {
	case <-r.done:
	case <-ctx.Done():
		return RunInfo{}, ctx.Err()
	}
	return s.snapshot(r), nil
}

// Status returns the state of a run, falling back to the run store for runs that are
// no longer held in memory.
func (s *Scheduler) Status(ctx context.Context, runID string) (RunInfo, error) {
	s.mu.RLock()
	r, ok := s.runs[runID]
	s.mu.RUnlock()
	if ok {
		return s.snapshot(r), nil
	}
	if s.store == nil {
		return RunInfo{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	stored, err := s.store.GetRun(ctx, runID)
	if errors.Is(err, stores.ErrNotFound) {
		return RunInfo{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return RunInfo{}, fmt.Errorf("failed to get run: %w", err)
	}
	info := RunInfo{
		ID:          stored.ID,
		Sequence:    stored.Sequence,
		PlanPath:    stored.PlanPath,
		Status:      RunStatus(stored.Status),
		StartedAt:   stored.StartedAt,
		CompletedAt: stored.CompletedAt,
	}
	if stored.Error != nil {
		info.Error = *stored.Error
	}
	if stored.FailureMessage != nil {
		info.FailureMessage = *stored.FailureMessage
	}
	return info, nil
}

// Active returns the state of the running sequence.
func (s *Scheduler) Active() (RunInfo, bool) {
	s.mu.RLock()
	r := s.active
	s.mu.RUnlock()
	if r == nil {
		return RunInfo{}, false
	}
	return s.snapshot(r), true
}

// Running returns the instructions currently executing in the active sequence.
func (s *Scheduler) Running() []sequencer.RunningEntry {
	s.mu.RLock()
	r := s.active
	s.mu.RUnlock()
	if r == nil {
		return nil
	}
	return r.root.RunningItems()
}

// Cancel stops a run. The root reverts the in-flight entities to created and the end
// area is not executed. An empty runID targets the active run.
func (s *Scheduler) Cancel(ctx context.Context, runID string) error {
	r, err := s.lookupActive(runID)
	if err != nil {
		return err
	}
	s.logger.Info().Str("run_id", r.info.ID).Str("actor", ActorFrom(ctx)).Msg("Canceling run")
	s.audit(ctx, AuditActionCancel, r.info.ID, nil)
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

// Interrupt stops the active sequence without running its end area. Interrupted
// entities revert to created, so starting the same root again resumes it.
func (s *Scheduler) Interrupt(ctx context.Context) error {
	r, err := s.lookupActive("")
	if err != nil {
		return err
	}
	s.logger.Info().Str("run_id", r.info.ID).Str("actor", ActorFrom(ctx)).Msg("Interrupting run")
	s.audit(ctx, AuditActionInterrupt, r.info.ID, nil)
	r.root.Interrupt()
	return nil
}

// SkipCurrent skips every instruction currently running in the active sequence and
// returns how many were skipped.
func (s *Scheduler) SkipCurrent(ctx context.Context) (int, error) {
	r, err := s.lookupActive("")
	if err != nil {
		return 0, err
	}
	n := r.root.SkipCurrentRunningItems()
	s.logger.Info().Str("run_id", r.info.ID).Int("skipped", n).Str("actor", ActorFrom(ctx)).Msg("Skipping running instructions")
	s.audit(ctx, AuditActionSkip, r.info.ID, map[string]any{"skipped": n})
	return n, nil
}

func (s *Scheduler) lookupActive(runID string) (*run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		if runID != "" {
			if _, ok := s.runs[runID]; !ok {
				return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
			}
		}
		return nil, ErrNoActiveRun
	}
	if runID != "" && s.active.info.ID != runID {
		if _, ok := s.runs[runID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, ErrNoActiveRun
	}
	return s.active, nil
}

func (s *Scheduler) snapshot(r *run) RunInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := r.info
	info.Warnings = append([]policy.Violation(nil), r.info.Warnings...)
	return info
}

func (s *Scheduler) audit(ctx context.Context, action, runID string, details map[string]any) {
	if s.store == nil {
		return
	}
	entry := &stores.AuditEntry{
		Action:    action,
		Actor:     ActorFrom(ctx),
		TargetID:  &runID,
		Timestamp: time.Now().UTC(),
	}
	if details != nil {
		data, err := json.Marshal(details)
		if err == nil {
			d := string(data)
			entry.Details = &d
		}
	}
	if err := s.store.CreateAuditEntry(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn().Err(err).Str("action", action).Msg("Failed to record audit entry")
	}
}

type actorKey struct{}

// WithActor records who issued the requests made with ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor stored in ctx, or "system".
func ActorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return "system"
}
