package worker

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/redeployr/internal/env"
)

// Defaults for the stop and confirm windows.
const (
	DefaultStopGrace       = 3 * time.Second
	DefaultConfirmDuration = 2 * time.Second
)

// Spec describes the single worker the supervisor manages.
type Spec struct {
	Name            string        `json:"name" mapstructure:"name"`                         // identifier used in logs and history
	Command         string        `json:"command" mapstructure:"command"`                   // launch command (shell-aware)
	WorkDir         string        `json:"work_dir" mapstructure:"work_dir"`                 // optional working dir
	Env             []string      `json:"env" mapstructure:"env"`                           // extra KEY=VALUE entries
	LogFile         string        `json:"log_file" mapstructure:"log_file"`                 // combined stdout+stderr append target
	PIDFile         string        `json:"pid_file" mapstructure:"pid_file"`                 // instance record path
	Pattern         string        `json:"pattern" mapstructure:"pattern"`                   // cmdline pattern for the fallback sweep; defaults to Command
	StopGrace       time.Duration `json:"stop_grace" mapstructure:"stop_grace"`             // SIGTERM to SIGKILL window
	ConfirmDuration time.Duration `json:"confirm_duration" mapstructure:"confirm_duration"` // post-start liveness window
	ConfirmCommand  string        `json:"confirm_command" mapstructure:"confirm_command"`   // optional probe run after the window
}

// ApplyDefaults fills zero values with the package defaults.
func (s *Spec) ApplyDefaults() {
	if s.Name == "" {
		s.Name = "worker"
	}
	if s.StopGrace <= 0 {
		s.StopGrace = DefaultStopGrace
	}
	if s.ConfirmDuration <= 0 {
		s.ConfirmDuration = DefaultConfirmDuration
	}
	if s.Pattern == "" {
		s.Pattern = s.Command
	}
}

// Validate checks the spec for the fields every operation relies on.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("worker %q requires command", s.Name)
	}
	if strings.TrimSpace(s.PIDFile) == "" {
		return fmt.Errorf("worker %q requires pid_file", s.Name)
	}
	if strings.TrimSpace(s.LogFile) == "" {
		return fmt.Errorf("worker %q requires log_file", s.Name)
	}
	if err := env.ValidateUser(s.Env); err != nil {
		return fmt.Errorf("worker %q: %w", s.Name, err)
	}
	return nil
}

// BuildCommand constructs an *exec.Cmd for the spec's launch command.
func (s *Spec) BuildCommand() *exec.Cmd { return BuildCommand(s.Command) }

// BuildCommand constructs an *exec.Cmd for the given command string.
// It avoids invoking a shell when not necessary, and it also respects
// an explicit shell invocation already present in the command string
// (e.g., "sh -c 'echo hi'"), avoiding double-wrapping with another shell.
func BuildCommand(cmdStr string) *exec.Cmd {
	argv := commandArgv(cmdStr)
	// ok: intentional execution, input is validated and safe
	// #nosec G204
	return exec.Command(argv[0], argv[1:]...)
}

// BuildCommandContext is BuildCommand with a context attached, for runs
// that must be killed when a deadline passes.
func BuildCommandContext(ctx context.Context, cmdStr string) *exec.Cmd {
	argv := commandArgv(cmdStr)
	// #nosec G204
	return exec.CommandContext(ctx, argv[0], argv[1:]...)
}

func commandArgv(cmdStr string) []string {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		return trueArgv()
	}
	// If the command already explicitly uses a shell, honor it without adding another layer.
	if _, afterC, ok := parseExplicitShell(cmdStr); ok {
		// Always use absolute shell path to avoid PATH dependency when Env is overridden.
		return shellArgv(afterC)
	}
	// Fallback: when metacharacters are present, use the platform shell
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return shellArgv(cmdStr)
	}
	return strings.Fields(cmdStr)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>" at the
// beginning of cmdStr. It returns (shellPath, afterCArg, true) when matched.
// It preserves the substring after "-c " verbatim to avoid breaking quoting.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			// If after is wrapped in single or double quotes, strip one pair so that
			// we pass the actual script to the shell (the outer quotes would otherwise
			// inhibit parsing/redirection inside the script).
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return strings.Fields(p)[0], after, true
		}
	}
	return "", "", false
}
