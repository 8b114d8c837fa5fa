// Package supervisor runs the stop, update, start and confirm sequence for a
// single worker as one exclusive, one-shot operation.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/redeployr/internal/history"
	"github.com/loykin/redeployr/internal/lock"
	"github.com/loykin/redeployr/internal/metrics"
	"github.com/loykin/redeployr/internal/updater"
	"github.com/loykin/redeployr/internal/worker"
)

const (
	// DefaultLockWait bounds how long a run waits for a concurrent run on
	// the same worker to finish before giving up.
	DefaultLockWait = 10 * time.Second

	// sinkTimeout bounds each history write so a slow sink cannot stall a run.
	sinkTimeout = 5 * time.Second
)

// Options configures a Supervisor.
type Options struct {
	Worker worker.Spec
	// Steps are run in order between stop and start when a redeploy asks
	// for an update.
	Steps []updater.Step
	// Sinks receive one event per phase plus a whole-run summary. Optional.
	Sinks    []history.Sink
	Logger   *slog.Logger
	LockPath string        // defaults to <pid_file>.lock
	LockWait time.Duration // defaults to DefaultLockWait
}

// Supervisor serializes runs against one worker and reports every run as an
// ordered sequence of phase outcomes. All state lives in the record and lock
// files, so concurrent invocations from separate processes coordinate too.
type Supervisor struct {
	w        *worker.Worker
	steps    []updater.Step
	sinks    []history.Sink
	lock     *lock.FileLock
	lockWait time.Duration
	log      *slog.Logger
}

// New validates the options and builds a Supervisor.
func New(opts Options) (*Supervisor, error) {
	opts.Worker.ApplyDefaults()
	if err := opts.Worker.Validate(); err != nil {
		return nil, err
	}
	if err := updater.ValidateSteps(opts.Steps); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("worker", opts.Worker.Name)
	lockPath := opts.LockPath
	if lockPath == "" {
		lockPath = opts.Worker.PIDFile + ".lock"
	}
	wait := opts.LockWait
	if wait <= 0 {
		wait = DefaultLockWait
	}
	return &Supervisor{
		w:        worker.New(opts.Worker, nil, log),
		steps:    opts.Steps,
		sinks:    opts.Sinks,
		lock:     lock.New(lockPath),
		lockWait: wait,
		log:      log,
	}, nil
}

// RedeployOptions selects optional parts of a redeploy run.
type RedeployOptions struct {
	// Update runs the configured update steps between stop and start.
	Update bool
}

// Redeploy stops any running instance, optionally runs the update steps,
// then starts a fresh instance and confirms it survives its confirm window.
// A failed phase aborts the phases after it; in particular a failed update
// never starts the worker against a half-updated tree.
func (s *Supervisor) Redeploy(ctx context.Context, opts RedeployOptions) (*Report, error) {
	return s.run(ctx, func(ctx context.Context, rep *Report) error {
		if err := s.phase(ctx, rep, history.PhaseStop, s.w.Stop); err != nil {
			return err
		}
		if err := s.updatePhase(ctx, rep, opts.Update); err != nil {
			return err
		}
		return s.startPhases(ctx, rep)
	})
}

// Stop terminates the running instance, if any, and clears its record.
// Stopping an already stopped worker is a successful run.
func (s *Supervisor) Stop(ctx context.Context) (*Report, error) {
	return s.run(ctx, func(ctx context.Context, rep *Report) error {
		if err := s.phase(ctx, rep, history.PhaseStop, s.w.Stop); err != nil {
			return err
		}
		metrics.SetWorkerUp(rep.Worker, false)
		return nil
	})
}

// Start launches the worker without stopping or updating first. A live
// recorded instance makes the run fail.
func (s *Supervisor) Start(ctx context.Context) (*Report, error) {
	return s.run(ctx, func(ctx context.Context, rep *Report) error {
		return s.startPhases(ctx, rep)
	})
}

// Status reports the current worker state. It does not take the run lock,
// so the view may race a concurrent run and is advisory.
func (s *Supervisor) Status(ctx context.Context) worker.Status {
	st := s.w.Status(ctx)
	metrics.SetWorkerUp(st.Worker, st.Running)
	return st
}

// History returns the most recent deploy events, newest first, from the
// first configured sink that supports reading back.
func (s *Supervisor) History(ctx context.Context, limit int) ([]history.Event, error) {
	for _, sk := range s.sinks {
		if q, ok := sk.(history.Querier); ok {
			return q.Recent(ctx, limit)
		}
	}
	return nil, errors.New("no queryable history sink configured")
}

// run brackets fn with the run lock, a fresh deploy id and the whole-run
// summary event.
func (s *Supervisor) run(ctx context.Context, fn func(context.Context, *Report) error) (*Report, error) {
	rep := &Report{
		DeployID:  uuid.NewString(),
		Worker:    s.w.Spec().Name,
		StartedAt: time.Now(),
	}
	err := s.withLock(ctx, func(ctx context.Context) error {
		return fn(ctx, rep)
	})
	rep.FinishedAt = time.Now()
	total := rep.FinishedAt.Sub(rep.StartedAt)
	rep.Result = history.StatusOK
	if err != nil {
		rep.Result = history.StatusFailed
	}
	metrics.IncDeploy(string(rep.Result))
	s.emit(history.Event{
		DeployID:   rep.DeployID,
		Worker:     rep.Worker,
		Phase:      history.PhaseDeploy,
		Status:     rep.Result,
		PID:        rep.PID,
		Error:      errString(err),
		Duration:   total,
		OccurredAt: rep.FinishedAt.UTC(),
	})
	if err != nil {
		s.log.Error("run failed", "deploy_id", rep.DeployID, "error", err)
		return rep, err
	}
	s.log.Info("run finished", "deploy_id", rep.DeployID, "duration", total.Round(time.Millisecond))
	return rep, nil
}

// withLock runs fn while holding the exclusive run lock. Waiting is bounded
// by the configured lock wait.
func (s *Supervisor) withLock(ctx context.Context, fn func(context.Context) error) error {
	lctx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()
	if err := s.lock.Acquire(lctx); err != nil {
		if errors.Is(err, lock.ErrBusy) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("another run is already in progress for worker %s: %w", s.w.Spec().Name, err)
		}
		return err
	}
	defer func() {
		if err := s.lock.Release(); err != nil {
			s.log.Warn("failed to release run lock", "path", s.lock.Path(), "error", err)
		}
	}()
	return fn(ctx)
}

// phase runs one phase, appends its result to the report and emits the
// matching history event.
func (s *Supervisor) phase(ctx context.Context, rep *Report, ph history.Phase, fn func(context.Context) error) error {
	s.log.Info("phase started", "deploy_id", rep.DeployID, "phase", string(ph))
	began := time.Now()
	err := fn(ctx)
	d := time.Since(began)
	metrics.ObservePhaseDuration(string(ph), d.Seconds())
	res := PhaseResult{Phase: ph, Status: history.StatusOK, Duration: d}
	if err != nil {
		res.Status = history.StatusFailed
		res.Error = err.Error()
		metrics.IncPhaseFailure(string(ph))
		s.log.Error("phase failed", "deploy_id", rep.DeployID, "phase", string(ph), "duration", d.Round(time.Millisecond), "error", err)
	} else {
		s.log.Info("phase done", "deploy_id", rep.DeployID, "phase", string(ph), "duration", d.Round(time.Millisecond))
	}
	rep.Phases = append(rep.Phases, res)
	s.emit(history.Event{
		DeployID:   rep.DeployID,
		Worker:     rep.Worker,
		Phase:      ph,
		Status:     res.Status,
		PID:        rep.PID,
		Error:      res.Error,
		Duration:   d,
		OccurredAt: time.Now().UTC(),
	})
	return err
}

// updatePhase runs the update steps, or records the phase as skipped when
// the run did not ask for an update. Requesting an update with no steps
// configured is a successful no-op.
func (s *Supervisor) updatePhase(ctx context.Context, rep *Report, update bool) error {
	if !update {
		rep.Phases = append(rep.Phases, PhaseResult{Phase: history.PhaseUpdate, Status: history.StatusSkipped})
		s.emit(history.Event{
			DeployID:   rep.DeployID,
			Worker:     rep.Worker,
			Phase:      history.PhaseUpdate,
			Status:     history.StatusSkipped,
			OccurredAt: time.Now().UTC(),
		})
		return nil
	}
	up := updater.New(s.steps, s.w.Spec().Env, s.log)
	return s.phase(ctx, rep, history.PhaseUpdate, up.Run)
}

// startPhases launches the worker and confirms it, recording the new pid on
// the report as soon as it is known.
func (s *Supervisor) startPhases(ctx context.Context, rep *Report) error {
	if err := s.phase(ctx, rep, history.PhaseStart, func(ctx context.Context) error {
		pid, err := s.w.Start(ctx)
		if err != nil {
			return err
		}
		rep.PID = pid
		return nil
	}); err != nil {
		return err
	}
	if err := s.phase(ctx, rep, history.PhaseConfirm, s.confirm); err != nil {
		return err
	}
	metrics.SetWorkerUp(rep.Worker, true)
	return nil
}

// confirm verifies the fresh instance outlives its confirm window. On
// failure the instance is stopped and its record cleared so a failed deploy
// never leaves a half-dead worker behind.
func (s *Supervisor) confirm(ctx context.Context) error {
	if err := s.w.Confirm(ctx); err != nil {
		if serr := s.w.Stop(ctx); serr != nil {
			s.log.Warn("cleanup after failed confirm", "error", serr)
		}
		return err
	}
	return nil
}

// emit fans the event out to every sink. Sends use a background context so
// the trail survives a canceled run; failures are logged and swallowed.
func (s *Supervisor) emit(e history.Event) {
	for _, sk := range s.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		if err := sk.Send(ctx, e); err != nil {
			s.log.Warn("history sink rejected event", "phase", string(e.Phase), "error", err)
		}
		cancel()
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
