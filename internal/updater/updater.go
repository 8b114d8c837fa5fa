package updater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loykin/redeployr/internal/env"
	"github.com/loykin/redeployr/internal/worker"
)

const (
	retryDelay = 500 * time.Millisecond
	// output kept per failed step; enough for the tail of a package
	// manager's complaint without flooding logs
	outputTailLimit = 2048
)

// Updater runs the configured update steps strictly in order, before the
// new worker starts.
type Updater struct {
	steps []Step
	env   []string
	log   *slog.Logger
}

// New builds an Updater. sharedEnv entries apply to every step, with the
// step's own Env taking precedence.
func New(steps []Step, sharedEnv []string, log *slog.Logger) *Updater {
	if log == nil {
		log = slog.Default()
	}
	return &Updater{steps: steps, env: sharedEnv, log: log}
}

// Run executes every step in order. A failing step with mode fail (the
// default) or an exhausted retry aborts the run; ignore logs and moves on.
func (u *Updater) Run(ctx context.Context) error {
	for i := range u.steps {
		st := u.steps[i]
		st.ApplyDefaults()
		if err := u.runStep(ctx, st); err != nil {
			if st.FailureMode == FailureModeIgnore {
				u.log.Warn("update step failed, continuing", "step", st.Name, "error", err)
				continue
			}
			return fmt.Errorf("update step %s: %w", st.Name, err)
		}
	}
	return nil
}

func (u *Updater) runStep(ctx context.Context, st Step) error {
	attempts := 1
	if st.FailureMode == FailureModeRetry {
		attempts += st.Retries
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		begin := time.Now()
		err = u.runOnce(ctx, st)
		if err == nil {
			u.log.Info("update step done", "step", st.Name, "attempt", attempt, "duration", time.Since(begin).Round(time.Millisecond))
			return nil
		}
		u.log.Warn("update step attempt failed", "step", st.Name, "attempt", attempt, "of", attempts, "error", err)
		if errors.Is(err, context.Canceled) {
			return err
		}
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	return err
}

func (u *Updater) runOnce(ctx context.Context, st Step) error {
	stepCtx, cancel := context.WithTimeout(ctx, st.Timeout)
	defer cancel()

	cmd := worker.BuildCommandContext(stepCtx, st.Command)
	cmd.Dir = st.WorkDir
	extra := make([]string, 0, len(u.env)+len(st.Env)+1)
	extra = append(extra, u.env...)
	extra = append(extra, st.Env...)
	extra = append(extra, env.NonInteractiveVar+"=1")
	cmd.Env = env.New().Merge(extra)

	out, err := cmd.CombinedOutput()
	if err != nil {
		if stepCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("timed out after %s: %s", st.Timeout, outputTail(out))
		}
		return fmt.Errorf("%w: %s", err, outputTail(out))
	}
	return nil
}

func outputTail(b []byte) string {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "(no output)"
	}
	if len(s) > outputTailLimit {
		s = "..." + s[len(s)-outputTailLimit:]
	}
	return s
}
