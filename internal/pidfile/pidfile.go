package pidfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Meta is the JSON block written after the PID line. StartUnix pins the
// recorded PID to a concrete process start time so a recycled PID is not
// mistaken for the worker.
type Meta struct {
	StartUnix int64 `json:"start_unix"`
}

// Store is the persistence interface for the single worker record.
// Implementations must tolerate concurrent readers; writers are serialized
// by the supervisor lock.
type Store interface {
	// Current returns the recorded PID. ok is false when no record exists.
	// A present but unparseable record yields an error; callers decide
	// whether to treat that as absent.
	Current() (pid int, ok bool, err error)
	// Record persists pid together with its observed start time.
	Record(pid int) error
	// Clear removes the record. Removing an absent record is not an error.
	Clear() error
}

// File is the default Store backed by a small file: first line the PID,
// second line the Meta JSON. Bare single-line files from older tooling
// parse as a PID with zero Meta.
type File struct {
	Path string
}

var _ Store = File{}

// Read parses a record file. It accepts the bare legacy form (PID only)
// and the extended form where the Meta JSON follows on a later line.
func Read(path string) (int, Meta, error) {
	var meta Meta
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, meta, err
	}
	lines := strings.Split(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
	pidStr := strings.TrimSpace(lines[0])
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, meta, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, meta, fmt.Errorf("non-positive pid %d in %s", pid, path)
	}
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var m Meta
		if err := json.Unmarshal([]byte(line), &m); err == nil && m.StartUnix > 0 {
			meta = m
			break
		}
	}
	return pid, meta, nil
}

func (f File) Current() (int, bool, error) {
	pid, _, err := Read(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return pid, true, nil
}

func (f File) Record(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("refusing to record non-positive pid %d", pid)
	}
	if dir := filepath.Dir(f.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	meta, err := json.Marshal(Meta{StartUnix: ProcStartUnix(pid)})
	if err != nil {
		return err
	}
	content := strconv.Itoa(pid) + "\n" + string(meta) + "\n"
	return os.WriteFile(f.Path, []byte(content), 0o600)
}

func (f File) Clear() error {
	err := os.Remove(f.Path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
