// Package config loads the redeployr TOML configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/redeployr/internal/logger"
	"github.com/loykin/redeployr/internal/updater"
	"github.com/loykin/redeployr/internal/worker"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	// Env and EnvFiles feed both the worker and the update steps. Entries in
	// [worker].env override these.
	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
	// LockWait bounds how long a run waits for a concurrent run to finish.
	LockWait time.Duration `toml:"lock_wait" mapstructure:"lock_wait"`

	Worker  worker.Spec   `toml:"worker" mapstructure:"worker"`
	Update  UpdateConfig  `toml:"update" mapstructure:"update"`
	History HistoryConfig `toml:"history" mapstructure:"history"`
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
	Metrics MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	Log     logger.Config `toml:"log" mapstructure:"log"`
}

type UpdateConfig struct {
	Steps []updater.Step `toml:"steps" mapstructure:"steps"`
}

type HistoryConfig struct {
	// DSN selects the sink backend: a bare path or sqlite:// for SQLite,
	// postgres://, clickhouse://, or opensearch://. Empty disables history.
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
	// Listen, when set, serves /metrics on its own listener in agent mode.
	Listen string `toml:"listen" mapstructure:"listen"`
	// Interval is the worker resource sampling period.
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
}

// Load reads the TOML file at path and returns the config with defaults
// applied, paths expanded and every section validated.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	if err := fc.finalize(); err != nil {
		return nil, err
	}
	return &fc, nil
}

// DefaultStateDir is where record and log files land when the config does
// not name them.
func DefaultStateDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".redeployr"), nil
}

func (fc *FileConfig) finalize() error {
	fc.Worker.ApplyDefaults()

	var err error
	if fc.Worker.PIDFile, err = defaultPath(fc.Worker.PIDFile, fc.Worker.Name+".pid"); err != nil {
		return err
	}
	if fc.Worker.LogFile, err = defaultPath(fc.Worker.LogFile, filepath.Join("log", fc.Worker.Name+".log")); err != nil {
		return err
	}
	if fc.Worker.WorkDir, err = homedir.Expand(fc.Worker.WorkDir); err != nil {
		return err
	}
	if fc.Log.File.Path, err = homedir.Expand(fc.Log.File.Path); err != nil {
		return err
	}
	for i := range fc.Update.Steps {
		if fc.Update.Steps[i].WorkDir, err = homedir.Expand(fc.Update.Steps[i].WorkDir); err != nil {
			return err
		}
	}
	if fc.History.DSN, err = expandDSN(fc.History.DSN); err != nil {
		return err
	}

	globals, err := fc.globalEnv()
	if err != nil {
		return err
	}
	fc.Worker.Env = mergeEnv(globals, fc.Worker.Env)

	if err := fc.Worker.Validate(); err != nil {
		return err
	}
	if err := updater.ValidateSteps(fc.Update.Steps); err != nil {
		return err
	}
	return nil
}

// defaultPath expands p, or falls back to rel under the state dir when p is
// empty. Nothing is created here; directories appear on first use.
func defaultPath(p, rel string) (string, error) {
	if p != "" {
		return homedir.Expand(p)
	}
	dir, err := DefaultStateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, rel), nil
}

// expandDSN applies ~ expansion to path-style DSNs and leaves URL-style
// DSNs untouched.
func expandDSN(dsn string) (string, error) {
	const sqlitePrefix = "sqlite://"
	switch {
	case dsn == "":
		return "", nil
	case strings.HasPrefix(dsn, sqlitePrefix):
		p, err := homedir.Expand(strings.TrimPrefix(dsn, sqlitePrefix))
		if err != nil {
			return "", err
		}
		return sqlitePrefix + p, nil
	case !strings.Contains(dsn, "://"):
		return homedir.Expand(dsn)
	default:
		return dsn, nil
	}
}

// globalEnv collects env file entries in order, then the top-level env list.
func (fc *FileConfig) globalEnv() ([]string, error) {
	out := make([]string, 0, len(fc.Env))
	for _, p := range fc.EnvFiles {
		p, err := homedir.Expand(p)
		if err != nil {
			return nil, err
		}
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		out = append(out, pairs...)
	}
	return append(out, fc.Env...), nil
}

// LoadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no
// quotes). Blank lines and lines starting with # are ignored.
func LoadEnvFile(path string) ([]string, error) {
	// Clean the operator-provided path before use.
	// #nosec G304
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.IndexByte(line, '=')
		if i <= 0 {
			continue
		}
		k := strings.TrimSpace(line[:i])
		v := strings.TrimSpace(line[i+1:])
		if k != "" {
			out = append(out, k+"="+v)
		}
	}
	return out, nil
}

// mergeEnv layers KEY=VALUE lists; later entries override earlier keys while
// keeping first-seen order so output stays deterministic.
func mergeEnv(layers ...[]string) []string {
	idx := make(map[string]int)
	var out []string
	for _, layer := range layers {
		for _, kv := range layer {
			k := kv
			if i := strings.IndexByte(kv, '='); i >= 0 {
				k = kv[:i]
			}
			if j, ok := idx[k]; ok {
				out[j] = kv
				continue
			}
			idx[k] = len(out)
			out = append(out, kv)
		}
	}
	return out
}
