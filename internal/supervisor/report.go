package supervisor

import (
	"time"

	"github.com/loykin/redeployr/internal/history"
)

// PhaseResult is the outcome of one phase of a run.
type PhaseResult struct {
	Phase    history.Phase  `json:"phase"`
	Status   history.Status `json:"status"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// Report describes a finished run: which phases ran, in order, and how the
// run ended. StartedAt and FinishedAt bracket the whole run including any
// time spent waiting for the run lock.
type Report struct {
	DeployID   string         `json:"deploy_id"`
	Worker     string         `json:"worker"`
	PID        int            `json:"pid,omitempty"`
	Result     history.Status `json:"result"`
	Phases     []PhaseResult  `json:"phases"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}
