package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/redeployr/internal/detector"
	"github.com/loykin/redeployr/internal/env"
	"github.com/loykin/redeployr/internal/pidfile"
)

const pollInterval = 10 * time.Millisecond

// Worker manages the single long-running process described by its Spec.
// Liveness flows through the instance record, never an in-memory handle, so
// every operation works across supervisor invocations.
type Worker struct {
	spec  Spec
	store pidfile.Store
	log   *slog.Logger
}

// New builds a Worker. Defaults are applied to the spec; a nil store gets a
// file store at spec.PIDFile, a nil logger falls back to slog.Default.
func New(spec Spec, store pidfile.Store, log *slog.Logger) *Worker {
	spec.ApplyDefaults()
	if store == nil {
		store = pidfile.File{Path: spec.PIDFile}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Worker{spec: spec, store: store, log: log}
}

// Spec returns a copy of the effective spec.
func (w *Worker) Spec() Spec { return w.spec }

// Status is a point-in-time view of the worker derived from the record file.
type Status struct {
	Worker     string    `json:"worker"`
	Running    bool      `json:"running"`
	PID        int       `json:"pid,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	DetectedBy string    `json:"detected_by,omitempty"`
	Stale      bool      `json:"stale,omitempty"` // record present but process gone
}

// Start launches the worker detached with its output appended to the log
// file, records the new PID, and returns it. A live recorded instance makes
// Start fail; run Stop first.
func (w *Worker) Start(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if alive, pid, err := w.Alive(); err != nil {
		return 0, fmt.Errorf("check current instance: %w", err)
	} else if alive {
		return 0, fmt.Errorf("worker %s already running (pid %d)", w.spec.Name, pid)
	}

	cmd := w.spec.BuildCommand()
	if w.spec.WorkDir != "" {
		cmd.Dir = w.spec.WorkDir
	}
	e := env.New()
	merged := e.Merge(w.spec.Env)
	// the worker must know it runs unattended
	cmd.Env = append(merged, env.NonInteractiveVar+"=1")

	if dir := filepath.Dir(w.spec.LogFile); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return 0, fmt.Errorf("create log dir: %w", err)
		}
	}
	// The child inherits this descriptor directly. A pipe-based writer would
	// go away with the supervisor; a plain appended file does not.
	// #nosec G304
	logF, err := os.OpenFile(w.spec.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open worker log %s: %w", w.spec.LogFile, err)
	}
	cmd.Stdin = nil
	cmd.Stdout = logF
	cmd.Stderr = logF
	configureDetachedAttrs(cmd)

	if err := cmd.Start(); err != nil {
		_ = logF.Close()
		return 0, fmt.Errorf("start worker: %w", err)
	}
	// parent side of the descriptor is no longer needed
	_ = logF.Close()

	pid := cmd.Process.Pid
	if err := w.store.Record(pid); err != nil {
		// An unrecorded instance would escape every later stop; take it down.
		_ = signalGroup(pid, killSignal)
		return 0, fmt.Errorf("record instance: %w", err)
	}
	// Reap the child if this process outlives it; otherwise init does.
	go func() { _ = cmd.Wait() }()

	w.log.Info("worker started", "worker", w.spec.Name, "pid", pid, "log", w.spec.LogFile)
	return pid, nil
}

// Confirm verifies the freshly started worker stays alive for the confirm
// window, then runs the optional probe command.
func (w *Worker) Confirm(ctx context.Context) error {
	deadline := time.Now().Add(w.spec.ConfirmDuration)
	rec := detector.RecordDetector{Path: w.spec.PIDFile}
	for time.Now().Before(deadline) {
		alive, err := rec.Alive()
		if err != nil {
			return fmt.Errorf("confirm liveness: %w", err)
		}
		if !alive {
			return fmt.Errorf("worker %s exited within %s of start", w.spec.Name, w.spec.ConfirmDuration)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	if w.spec.ConfirmCommand != "" {
		probe := detector.CommandDetector{Command: w.spec.ConfirmCommand}
		ok, err := probe.Alive()
		if err != nil {
			return fmt.Errorf("confirm probe: %w", err)
		}
		if !ok {
			return fmt.Errorf("worker %s failed confirm probe %q", w.spec.Name, w.spec.ConfirmCommand)
		}
	}
	return nil
}

// Alive reports whether the recorded instance is running. A missing record
// means not alive; an unreadable record is an error for the caller to judge.
func (w *Worker) Alive() (bool, int, error) {
	pid, ok, err := w.store.Current()
	if err != nil {
		return false, 0, err
	}
	if !ok {
		return false, 0, nil
	}
	alive, err := (detector.RecordDetector{Path: w.spec.PIDFile}).Alive()
	if err != nil {
		return false, pid, err
	}
	return alive, pid, nil
}

// Status assembles the record view plus a pattern scan so operators can see
// stray instances that lost their record.
func (w *Worker) Status(ctx context.Context) Status {
	st := Status{Worker: w.spec.Name}
	pid, ok, err := w.store.Current()
	if err != nil {
		st.Stale = true
		return st
	}
	if ok {
		st.PID = pid
		rec := detector.RecordDetector{Path: w.spec.PIDFile}
		alive, derr := rec.Alive()
		if derr == nil && alive {
			st.Running = true
			st.DetectedBy = rec.Describe()
			if _, meta, rerr := pidfile.Read(w.spec.PIDFile); rerr == nil && meta.StartUnix > 0 {
				st.StartedAt = time.Unix(meta.StartUnix, 0)
			}
			return st
		}
		st.Stale = true
	}
	// no live record; a pattern match still counts as running for visibility
	pat := detector.PatternDetector{Pattern: w.spec.Pattern}
	if pids, perr := pat.MatchingPIDs(ctx); perr == nil && len(pids) > 0 {
		st.Running = true
		st.PID = pids[0]
		st.DetectedBy = pat.Describe()
	}
	return st
}
