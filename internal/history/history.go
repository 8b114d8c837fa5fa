package history

import (
	"context"
	"time"
)

// Phase identifies which part of a deploy run an event belongs to.
type Phase string

const (
	PhaseStop    Phase = "stop"
	PhaseUpdate  Phase = "update"
	PhaseStart   Phase = "start"
	PhaseConfirm Phase = "confirm"
	// PhaseDeploy is the whole-run summary event emitted last.
	PhaseDeploy Phase = "deploy"
)

// Status is the outcome of a phase.
type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Event represents one phase outcome within a deploy run, exported to
// external systems for audit and statistics.
type Event struct {
	DeployID   string        `json:"deploy_id"`
	Worker     string        `json:"worker"`
	Phase      Phase         `json:"phase"`
	Status     Status        `json:"status"`
	PID        int           `json:"pid,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// Sink is a destination for deploy history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Querier is implemented by sinks that can read their events back,
// newest first.
type Querier interface {
	Recent(ctx context.Context, limit int) ([]Event, error)
}
