package updater

import (
	"fmt"
	"strings"
	"time"

	"github.com/loykin/redeployr/internal/env"
)

// FailureMode defines how a failing step affects the rest of the run.
type FailureMode string

const (
	FailureModeIgnore FailureMode = "ignore" // warn and continue
	FailureModeFail   FailureMode = "fail"   // abort the redeploy
	FailureModeRetry  FailureMode = "retry"  // re-run, then fail
)

const (
	DefaultTimeout = 5 * time.Minute
	DefaultRetries = 2

	maxTimeout = 24 * time.Hour
	maxRetries = 10
	maxSteps   = 50
)

// Step is a single update command that runs between stopping the old
// worker and starting the new one.
type Step struct {
	Name        string        `json:"name" mapstructure:"name"`                 // step name for identification
	Command     string        `json:"command" mapstructure:"command"`           // command to execute
	WorkDir     string        `json:"work_dir" mapstructure:"work_dir"`         // working directory (optional)
	Env         []string      `json:"env" mapstructure:"env"`                   // additional environment variables
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`           // execution timeout (default: 5m)
	FailureMode FailureMode   `json:"failure_mode" mapstructure:"failure_mode"` // how to handle failures
	Retries     int           `json:"retries" mapstructure:"retries"`           // extra attempts for retry mode (default: 2)
}

// ApplyDefaults applies default values to the step configuration.
func (s *Step) ApplyDefaults() {
	if s.FailureMode == "" {
		// Starting a worker against a half-updated tree is unsafe.
		s.FailureMode = FailureModeFail
	}
	if s.Timeout == 0 {
		s.Timeout = DefaultTimeout
	}
	if s.FailureMode == FailureModeRetry && s.Retries == 0 {
		s.Retries = DefaultRetries
	}
}

// Validate validates a single step configuration.
func (s *Step) Validate() error {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return fmt.Errorf("update step name is required")
	}
	if strings.ContainsAny(name, " \t\n\r/\\<>:\"|?*") {
		return fmt.Errorf("update step %q: name contains invalid characters", name)
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("update step %q requires command", name)
	}
	switch s.FailureMode {
	case "", FailureModeIgnore, FailureModeFail, FailureModeRetry:
	default:
		return fmt.Errorf("update step %q: invalid failure_mode %q, must be one of: ignore, fail, retry", name, s.FailureMode)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("update step %q: timeout cannot be negative", name)
	}
	if s.Timeout > maxTimeout {
		return fmt.Errorf("update step %q: timeout too long (max %s)", name, maxTimeout)
	}
	if s.Retries < 0 {
		return fmt.Errorf("update step %q: retries cannot be negative", name)
	}
	if s.Retries > maxRetries {
		return fmt.Errorf("update step %q: retries too high (max %d)", name, maxRetries)
	}
	if s.WorkDir != "" && strings.Contains(s.WorkDir, "..") {
		return fmt.Errorf("update step %q: work_dir cannot contain '..' path traversal", name)
	}
	if err := env.ValidateUser(s.Env); err != nil {
		return fmt.Errorf("update step %q: %w", name, err)
	}
	return nil
}

// ValidateSteps validates an ordered step list.
func ValidateSteps(steps []Step) error {
	if len(steps) > maxSteps {
		return fmt.Errorf("too many update steps (%d), maximum is %d", len(steps), maxSteps)
	}
	seen := make(map[string]struct{}, len(steps))
	for i := range steps {
		if err := steps[i].Validate(); err != nil {
			return fmt.Errorf("update step %d: %w", i, err)
		}
		name := strings.TrimSpace(steps[i].Name)
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate update step name %q", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}
