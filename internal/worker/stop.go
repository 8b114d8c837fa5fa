package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loykin/redeployr/internal/detector"
	"github.com/loykin/redeployr/internal/metrics"
)

// killWindow bounds the best-effort wait after SIGKILL.
const killWindow = 200 * time.Millisecond

// Stop terminates the recorded instance with SIGTERM, escalates to SIGKILL
// after the grace window, removes the record unconditionally, and sweeps
// stray processes matching the launch pattern. Stopping when nothing runs
// is a successful no-op.
func (w *Worker) Stop(ctx context.Context) error {
	var firstErr error

	pid, ok, err := w.store.Current()
	if err != nil {
		w.log.Warn("unreadable instance record, treating as stale", "worker", w.spec.Name, "err", err)
	}
	if ok {
		alive, derr := (detector.RecordDetector{Path: w.spec.PIDFile}).Alive()
		if derr != nil {
			w.log.Warn("instance liveness check failed", "worker", w.spec.Name, "pid", pid, "err", derr)
		}
		switch {
		case alive:
			if kerr := w.terminate(ctx, pid); kerr != nil {
				firstErr = kerr
			}
		default:
			w.log.Info("instance record is stale", "worker", w.spec.Name, "pid", pid)
		}
	} else if err == nil {
		w.log.Info("no recorded worker instance", "worker", w.spec.Name)
	}

	// The record goes away no matter how termination went.
	if cerr := w.store.Clear(); cerr != nil && firstErr == nil {
		firstErr = fmt.Errorf("clear instance record: %w", cerr)
	}

	if serr := w.sweepPattern(ctx, pid); serr != nil && firstErr == nil {
		firstErr = serr
	}
	return firstErr
}

// terminate delivers SIGTERM, waits up to the grace window, then escalates.
func (w *Worker) terminate(ctx context.Context, pid int) error {
	w.log.Info("stopping worker", "worker", w.spec.Name, "pid", pid, "grace", w.spec.StopGrace)
	if err := signalGroup(pid, termSignal); err != nil {
		w.log.Warn("terminate signal failed", "pid", pid, "err", err)
	}
	if waitGone(ctx, pid, w.spec.StopGrace) {
		return nil
	}
	w.log.Warn("grace window expired, escalating to kill", "worker", w.spec.Name, "pid", pid)
	if err := signalGroup(pid, killSignal); err != nil {
		w.log.Warn("kill signal failed", "pid", pid, "err", err)
	}
	if waitGone(ctx, pid, killWindow) {
		return nil
	}
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ctx.Err()
	}
	return fmt.Errorf("worker %s (pid %d) survived kill", w.spec.Name, pid)
}

// sweepPattern force-kills processes matching the launch pattern whose
// record was lost. handled is excluded; it was dealt with above.
func (w *Worker) sweepPattern(ctx context.Context, handled int) error {
	pat := detector.PatternDetector{Pattern: w.spec.Pattern}
	pids, err := pat.MatchingPIDs(ctx)
	if err != nil {
		return fmt.Errorf("pattern sweep: %w", err)
	}
	for _, pid := range pids {
		if pid == handled {
			continue
		}
		if kerr := killPID(pid); kerr != nil {
			// the process likely exited between scan and kill
			w.log.Debug("sweep kill failed", "pid", pid, "err", kerr)
			continue
		}
		metrics.IncStrayKill()
		w.log.Warn("killed stray worker process", "worker", w.spec.Name, "pid", pid, "pattern", w.spec.Pattern)
	}
	return nil
}

// waitGone polls until the pid disappears or the window elapses.
func waitGone(ctx context.Context, pid int, window time.Duration) bool {
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		if !detector.PIDAlive(pid) {
			return true
		}
		select {
		case <-ctx.Done():
			return !detector.PIDAlive(pid)
		case <-time.After(pollInterval):
		}
	}
	return !detector.PIDAlive(pid)
}
