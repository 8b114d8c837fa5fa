package worker

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/loykin/redeployr/internal/detector"
	"github.com/loykin/redeployr/internal/pidfile"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

// marker returns a string unique to this test run so pattern sweeps
// never touch processes started by other tests.
func marker(t *testing.T) string {
	t.Helper()
	return "redeployr-" + strings.ToLower(t.Name()) + "-" + strconv.FormatInt(time.Now().UnixNano(), 36)
}

func testSpec(t *testing.T, command, pattern string) Spec {
	t.Helper()
	dir := t.TempDir()
	return Spec{
		Name:    "bot",
		Command: command,
		Pattern: pattern,
		PIDFile: filepath.Join(dir, "bot.pid"),
		LogFile: filepath.Join(dir, "logs", "bot.log"),
	}
}

func waitUntil(timeout, interval time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(interval)
	}
	return fn()
}

func TestStartRecordsAndConfirms(t *testing.T) {
	requireUnix(t)
	mk := marker(t)
	spec := testSpec(t, "sh -c 'sleep 2 # "+mk+"'", mk)
	w := New(spec, nil, nil)
	ctx := context.Background()

	pid, err := w.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if pid <= 0 {
		t.Fatalf("got pid %d want > 0", pid)
	}
	defer func() { _ = w.Stop(ctx) }()

	gotPID, meta, err := pidfile.Read(spec.PIDFile)
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if gotPID != pid {
		t.Fatalf("recorded pid %d want %d", gotPID, pid)
	}
	if meta.StartUnix <= 0 {
		t.Fatalf("record should carry process start time, got %d", meta.StartUnix)
	}
	if _, err := os.Stat(spec.LogFile); err != nil {
		t.Fatalf("log file not created: %v", err)
	}

	if err := w.Confirm(ctx); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	ok, alivePID, err := w.Alive()
	if err != nil || !ok || alivePID != pid {
		t.Fatalf("alive = (%v, %d, %v), want (true, %d, nil)", ok, alivePID, err, pid)
	}
}

func TestStartRefusesSecondInstance(t *testing.T) {
	requireUnix(t)
	mk := marker(t)
	spec := testSpec(t, "sh -c 'sleep 2 # "+mk+"'", mk)
	w := New(spec, nil, nil)
	ctx := context.Background()

	pid, err := w.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = w.Stop(ctx) }()

	if _, err := w.Start(ctx); err == nil {
		t.Fatalf("second start must fail while pid %d is alive", pid)
	} else if !strings.Contains(err.Error(), "already running") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStartFailsOnUnreadableRecord(t *testing.T) {
	requireUnix(t)
	spec := testSpec(t, "sleep 1", marker(t))
	if err := os.WriteFile(spec.PIDFile, []byte("not-a-pid\n"), 0o600); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	w := New(spec, nil, nil)
	if _, err := w.Start(context.Background()); err == nil {
		t.Fatalf("start must refuse to run over an unreadable record")
	}
}

func TestConfirmFailsForShortLivedWorker(t *testing.T) {
	requireUnix(t)
	mk := marker(t)
	spec := testSpec(t, "sh -c 'sleep 0.05 # "+mk+"'", mk)
	spec.ConfirmDuration = 400 * time.Millisecond
	w := New(spec, nil, nil)
	ctx := context.Background()

	if _, err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = w.Stop(ctx) }()

	if err := w.Confirm(ctx); err == nil {
		t.Fatalf("confirm must fail when the worker exits inside the window")
	}
}

func TestConfirmRunsProbeCommand(t *testing.T) {
	requireUnix(t)
	mk := marker(t)
	spec := testSpec(t, "sh -c 'sleep 2 # "+mk+"'", mk)
	spec.ConfirmDuration = 150 * time.Millisecond
	spec.ConfirmCommand = "sh -c 'exit 1'"
	w := New(spec, nil, nil)
	ctx := context.Background()

	if _, err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = w.Stop(ctx) }()

	if err := w.Confirm(ctx); err == nil {
		t.Fatalf("confirm must surface a failing probe command")
	}

	spec.ConfirmCommand = "sh -c 'exit 0'"
	w2 := New(spec, nil, nil)
	if err := w2.Confirm(ctx); err != nil {
		t.Fatalf("confirm with passing probe: %v", err)
	}
}

func TestWorkerEnvNonInteractive(t *testing.T) {
	requireUnix(t)
	mk := marker(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "env.out")
	spec := testSpec(t, "sh -c 'echo \"$REDEPLOYR_NONINTERACTIVE:$GREETING\" > "+out+"; sleep 1 # "+mk+"'", mk)
	spec.Env = []string{"GREETING=hello"}
	w := New(spec, nil, nil)
	ctx := context.Background()

	if _, err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = w.Stop(ctx) }()

	if !waitUntil(2*time.Second, 10*time.Millisecond, func() bool {
		b, err := os.ReadFile(out)
		return err == nil && len(b) > 0
	}) {
		t.Fatalf("worker never wrote its environment")
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read env output: %v", err)
	}
	got := strings.TrimSpace(string(b))
	if got != "1:hello" {
		t.Fatalf("got env %q want %q", got, "1:hello")
	}
}

func TestLogFileAppendsAcrossRuns(t *testing.T) {
	requireUnix(t)
	mk := marker(t)
	spec := testSpec(t, "sh -c 'echo run; sleep 0.05 # "+mk+"'", mk)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		w := New(spec, nil, nil)
		if _, err := w.Start(ctx); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		if !waitUntil(2*time.Second, 10*time.Millisecond, func() bool {
			alive, _, _ := w.Alive()
			return !alive
		}) {
			t.Fatalf("run %d did not exit", i)
		}
		if err := w.Stop(ctx); err != nil {
			t.Fatalf("stop %d: %v", i, err)
		}
	}

	b, err := os.ReadFile(spec.LogFile)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if got := strings.Count(string(b), "run"); got != 2 {
		t.Fatalf("log should accumulate both runs, got %d lines: %q", got, string(b))
	}
}

func TestStatusReflectsLifecycle(t *testing.T) {
	requireUnix(t)
	mk := marker(t)
	spec := testSpec(t, "sh -c 'sleep 2 # "+mk+"'", mk)
	w := New(spec, nil, nil)
	ctx := context.Background()

	st := w.Status(ctx)
	if st.Running {
		t.Fatalf("fresh worker should not be running: %+v", st)
	}

	pid, err := w.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	st = w.Status(ctx)
	if !st.Running || st.PID != pid {
		t.Fatalf("status after start = %+v, want running pid %d", st, pid)
	}
	if st.StartedAt.IsZero() {
		t.Fatalf("status should carry the recorded start time")
	}
	if !strings.HasPrefix(st.DetectedBy, "record:") {
		t.Fatalf("expected record detection, got %q", st.DetectedBy)
	}

	if err := w.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	st = w.Status(ctx)
	if st.Running {
		t.Fatalf("status after stop = %+v, want stopped", st)
	}
}

func TestStaleRecordReportedNotRunning(t *testing.T) {
	requireUnix(t)
	mk := marker(t)
	spec := testSpec(t, "sh -c 'sleep 2 # "+mk+"'", mk)
	w := New(spec, nil, nil)
	ctx := context.Background()

	pid, err := w.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// Re-record the dead pid to fake a crashed supervisor.
	if err := os.WriteFile(spec.PIDFile, []byte(strconv.Itoa(pid)+"\n"), 0o600); err != nil {
		t.Fatalf("seed stale record: %v", err)
	}
	st := w.Status(ctx)
	if st.Running {
		t.Fatalf("dead pid must not count as running: %+v", st)
	}
	if !st.Stale {
		t.Fatalf("expected stale flag for dead recorded pid: %+v", st)
	}

	d := detector.RecordDetector{Path: spec.PIDFile}
	alive, err := d.Alive()
	if err != nil || alive {
		t.Fatalf("detector on stale record = (%v, %v), want (false, nil)", alive, err)
	}
}
