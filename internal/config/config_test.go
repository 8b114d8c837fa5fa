package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/loykin/redeployr/internal/logger"
	"github.com/loykin/redeployr/internal/updater"
	"github.com/loykin/redeployr/internal/worker"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "redeployr.toml")
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return p
}

func TestLoadMinimal(t *testing.T) {
	p := writeConfig(t, `
[worker]
command = "python3 bot.py"
`)
	fc, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	w := fc.Worker
	if w.Name != "worker" || w.Command != "python3 bot.py" {
		t.Fatalf("unexpected worker: %+v", w)
	}
	if w.StopGrace != worker.DefaultStopGrace || w.ConfirmDuration != worker.DefaultConfirmDuration {
		t.Fatalf("defaults not applied: %+v", w)
	}
	if w.Pattern != w.Command {
		t.Fatalf("pattern = %q, want command fallback", w.Pattern)
	}
	if !strings.HasSuffix(w.PIDFile, filepath.Join(".redeployr", "worker.pid")) {
		t.Fatalf("default pid file = %q", w.PIDFile)
	}
	if !strings.HasSuffix(w.LogFile, filepath.Join(".redeployr", "log", "worker.log")) {
		t.Fatalf("default log file = %q", w.LogFile)
	}
	if !filepath.IsAbs(w.PIDFile) || !filepath.IsAbs(w.LogFile) {
		t.Fatalf("default paths not absolute: %q %q", w.PIDFile, w.LogFile)
	}
}

func TestLoadFull(t *testing.T) {
	p := writeConfig(t, `
env = ["DEPLOY_ENV=prod"]
lock_wait = "30s"

[worker]
name = "bot"
command = "python3 bot.py --serve"
work_dir = "/opt/bot"
env = ["PYTHONUNBUFFERED=1"]
pid_file = "/run/bot/bot.pid"
log_file = "/var/log/bot/bot.log"
pattern = "bot.py"
stop_grace = "5s"
confirm_duration = "3s"
confirm_command = "curl -sf http://127.0.0.1:8000/health"

[[update.steps]]
name = "pull"
command = "git pull --ff-only"
work_dir = "/opt/bot"
timeout = "2m"
failure_mode = "fail"

[[update.steps]]
name = "deps"
command = "pip install -r requirements.txt"
work_dir = "/opt/bot"
timeout = "10m"
failure_mode = "retry"
retries = 1

[history]
dsn = "postgres://deploy:secret@db:5432/deploys"

[server]
listen = "127.0.0.1:8137"
base_path = "/redeployr"

[metrics]
enabled = true
listen = "127.0.0.1:9137"
interval = "10s"

[log]
  [log.slog]
  level = "debug"
  format = "json"
  [log.file]
  path = "/var/log/bot/redeployr.log"
  max_size_mb = 20
`)
	fc, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	w := fc.Worker
	if w.Name != "bot" || w.WorkDir != "/opt/bot" || w.Pattern != "bot.py" {
		t.Fatalf("unexpected worker: %+v", w)
	}
	if w.StopGrace != 5*time.Second || w.ConfirmDuration != 3*time.Second {
		t.Fatalf("unexpected windows: %+v", w)
	}
	if w.ConfirmCommand == "" {
		t.Fatalf("confirm command lost: %+v", w)
	}
	wantEnv := []string{"DEPLOY_ENV=prod", "PYTHONUNBUFFERED=1"}
	if !reflect.DeepEqual(w.Env, wantEnv) {
		t.Fatalf("env = %v, want %v", w.Env, wantEnv)
	}
	if fc.LockWait != 30*time.Second {
		t.Fatalf("lock_wait = %v", fc.LockWait)
	}
	if len(fc.Update.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(fc.Update.Steps))
	}
	st := fc.Update.Steps[1]
	if st.Name != "deps" || st.Timeout != 10*time.Minute || st.FailureMode != updater.FailureModeRetry || st.Retries != 1 {
		t.Fatalf("unexpected step: %+v", st)
	}
	if fc.History.DSN != "postgres://deploy:secret@db:5432/deploys" {
		t.Fatalf("dsn = %q", fc.History.DSN)
	}
	if fc.Server.Listen != "127.0.0.1:8137" || fc.Server.BasePath != "/redeployr" {
		t.Fatalf("unexpected server: %+v", fc.Server)
	}
	if !fc.Metrics.Enabled || fc.Metrics.Interval != 10*time.Second {
		t.Fatalf("unexpected metrics: %+v", fc.Metrics)
	}
	if fc.Log.Slog.Level != logger.LevelDebug || fc.Log.Slog.Format != logger.FormatJSON {
		t.Fatalf("unexpected log: %+v", fc.Log.Slog)
	}
	if fc.Log.File.Path != "/var/log/bot/redeployr.log" || fc.Log.File.MaxSizeMB != 20 {
		t.Fatalf("unexpected log file: %+v", fc.Log.File)
	}
}

func TestLoadEnvLayering(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "bot.env")
	if err := os.WriteFile(envFile, []byte("PORT=1000\nFROM_FILE=yes\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	p := writeConfig(t, `
env = ["PORT=2000", "GLOB=G"]
env_files = ["`+envFile+`"]

[worker]
command = "sleep 1"
env = ["PORT=3000", "LOCAL=L"]
pid_file = "`+filepath.Join(dir, "w.pid")+`"
log_file = "`+filepath.Join(dir, "w.log")+`"
`)
	fc, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"PORT=3000", "FROM_FILE=yes", "GLOB=G", "LOCAL=L"}
	if !reflect.DeepEqual(fc.Worker.Env, want) {
		t.Fatalf("env = %v, want %v", fc.Worker.Env, want)
	}
}

// Loaded env must actually reach the spawned worker.
func TestLoadEnvReachesWorker(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test requires sh on Unix-like systems")
	}
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")
	p := writeConfig(t, `
env = ["GLOB=G"]

[worker]
command = "sh -c 'echo \"$GLOB $LOCAL\" > `+out+`; sleep 1'"
env = ["LOCAL=L"]
pid_file = "`+filepath.Join(dir, "w.pid")+`"
log_file = "`+filepath.Join(dir, "w.log")+`"
confirm_duration = "50ms"
`)
	fc, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ctx := context.Background()
	w := worker.New(fc.Worker, nil, nil)
	if _, err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = w.Stop(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		b, err := os.ReadFile(out)
		if err == nil {
			if got := strings.TrimSpace(string(b)); got != "G L" {
				t.Fatalf("worker env = %q, want %q", got, "G L")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("worker never wrote %s", out)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestLoadTildeExpansion(t *testing.T) {
	p := writeConfig(t, `
[worker]
command = "sleep 1"
pid_file = "~/run/x.pid"
log_file = "~/run/x.log"
`)
	fc, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if strings.HasPrefix(fc.Worker.PIDFile, "~") || !filepath.IsAbs(fc.Worker.PIDFile) {
		t.Fatalf("pid file not expanded: %q", fc.Worker.PIDFile)
	}
	if !strings.HasSuffix(fc.Worker.PIDFile, filepath.Join("run", "x.pid")) {
		t.Fatalf("pid file = %q", fc.Worker.PIDFile)
	}
}

func TestExpandDSN(t *testing.T) {
	cases := []struct {
		in       string
		same     bool
		expanded bool
	}{
		{"", true, false},
		{"postgres://u:p@h:5432/db", true, false},
		{"clickhouse://h:9000/db", true, false},
		{"deploys.db", true, false},
		{"sqlite://~/state/deploys.db", false, true},
		{"~/state/deploys.db", false, true},
	}
	for _, c := range cases {
		got, err := expandDSN(c.in)
		if err != nil {
			t.Fatalf("expandDSN(%q): %v", c.in, err)
		}
		if c.same && got != c.in {
			t.Fatalf("expandDSN(%q) = %q, want unchanged", c.in, got)
		}
		if c.expanded && strings.Contains(got, "~") {
			t.Fatalf("expandDSN(%q) = %q, want ~ expanded", c.in, got)
		}
	}
}

func TestLoadEnvFileParsing(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.env")
	data := `
# comment
PORT=8000

 SPACED = value with spaces
NOEQUALS
=novalue
EMPTY=
`
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := LoadEnvFile(p)
	if err != nil {
		t.Fatalf("load env file: %v", err)
	}
	want := []string{"PORT=8000", "SPACED=value with spaces", "EMPTY="}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}
}

func TestMergeEnv(t *testing.T) {
	got := mergeEnv(
		[]string{"A=1", "B=2"},
		[]string{"B=3", "C=4"},
		[]string{"A=5"},
	)
	want := []string{"A=5", "B=3", "C=4"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("merged = %v, want %v", got, want)
	}
}
