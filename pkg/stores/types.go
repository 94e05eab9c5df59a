package stores

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Run is one execution of a sequence.
type Run struct {
	ID       string `json:"id"`
	Sequence string `json:"sequence"`

	// PlanPath is the document the sequence was loaded from, empty for
	// programmatic runs.
	PlanPath string `json:"plan_path"`

	// Status is one of pending, running, succeeded, failed, canceled.
	Status string `json:"status"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`

	// FailureMessage is the deepest instruction failure of the run.
	FailureMessage *string `json:"failure_message,omitempty"`

	Metadata  string    `json:"metadata"` // JSON blob
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusEvent is one entity status transition within a run.
type StatusEvent struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	EntityID   string    `json:"entity_id"`
	EntityPath string    `json:"entity_path"`
	EntityType string    `json:"entity_type"`
	OldStatus  string    `json:"old_status"`
	NewStatus  string    `json:"new_status"`
	Timestamp  time.Time `json:"timestamp"`
}

// AuditEntry records an operator action such as an interrupt or a skip.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"` // e.g. "run.interrupt", "run.skip", "run.cancel"
	Actor     string    `json:"actor"`
	TargetID  *string   `json:"target_id,omitempty"`
	Details   *string   `json:"details,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// RunSummary counts entities of a run by their latest status.
type RunSummary struct {
	RunID    string         `json:"run_id"`
	Statuses map[string]int `json:"statuses"`
	Events   int            `json:"events"`
}

// Store defines the run history persistence layer.
type Store interface {
	Init(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error

	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRunStatus(ctx context.Context, id, status string) error
	FinishRun(ctx context.Context, id, status string, errMsg, failureMessage *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	AppendStatusEvent(ctx context.Context, event *StatusEvent) error
	ListStatusEvents(ctx context.Context, runID string, limit, offset int) ([]*StatusEvent, error)
	Summarize(ctx context.Context, runID string) (*RunSummary, error)

	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, limit, offset int) ([]*AuditEntry, error)

	HealthCheck(ctx context.Context) error
}

// IsTerminalStatus reports whether a run status is final.
func IsTerminalStatus(status string) bool {
	switch status {
	case "succeeded", "failed", "canceled":
		return true
	}
	return false
}
