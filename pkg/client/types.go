package client

import "time"

// Status mirrors the agent's status payload.
type Status struct {
	Worker     string    `json:"worker"`
	Running    bool      `json:"running"`
	PID        int       `json:"pid,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	DetectedBy string    `json:"detected_by,omitempty"`
	Stale      bool      `json:"stale,omitempty"`
}

// PhaseResult is the outcome of one phase of a run.
type PhaseResult struct {
	Phase    string        `json:"phase"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report describes a finished run.
type Report struct {
	DeployID   string        `json:"deploy_id"`
	Worker     string        `json:"worker"`
	PID        int           `json:"pid,omitempty"`
	Result     string        `json:"result"`
	Phases     []PhaseResult `json:"phases"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Event is one deploy history entry.
type Event struct {
	DeployID   string        `json:"deploy_id"`
	Worker     string        `json:"worker"`
	Phase      string        `json:"phase"`
	Status     string        `json:"status"`
	PID        int           `json:"pid,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// runResponse is the agent's envelope for run endpoints.
type runResponse struct {
	OK     bool    `json:"ok"`
	Error  string  `json:"error,omitempty"`
	Report *Report `json:"report,omitempty"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
