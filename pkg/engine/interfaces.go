package engine

import (
	"context"

	"github.com/openfroyo/skyrun/pkg/plan"
	"github.com/openfroyo/skyrun/pkg/policy"
	"github.com/openfroyo/skyrun/pkg/stores"
)

// RunStore persists runs, their entity status transitions and operator actions.
// stores.SQLiteStore satisfies it.
type RunStore interface {
	CreateRun(ctx context.Context, run *stores.Run) error
	GetRun(ctx context.Context, id string) (*stores.Run, error)
	UpdateRunStatus(ctx context.Context, id, status string) error
	FinishRun(ctx context.Context, id, status string, errMsg, failureMessage *string) error
	AppendStatusEvent(ctx context.Context, event *stores.StatusEvent) error
	CreateAuditEntry(ctx context.Context, entry *stores.AuditEntry) error
}

// SnapshotStore mirrors the live status of the active run.
// stores.RedisSnapshotStore satisfies it.
type SnapshotStore interface {
	SetActive(ctx context.Context, runID string) error
	Put(ctx context.Context, runID string, snap stores.EntitySnapshot) error
}

// PolicyGate evaluates a sequence document before it runs.
// policy.Engine satisfies it.
type PolicyGate interface {
	Evaluate(ctx context.Context, doc *plan.Document, operation string) (*policy.Result, error)
}

var (
	_ RunStore      = (*stores.SQLiteStore)(nil)
	_ SnapshotStore = (*stores.RedisSnapshotStore)(nil)
	_ PolicyGate    = (*policy.Engine)(nil)
)
