package env

import (
	"fmt"
	"os"
	"strings"
)

// ReservedPrefix marks variables owned by the supervisor. User configuration
// must not set them; the supervisor writes them itself at launch.
const ReservedPrefix = "REDEPLOYR_"

// NonInteractiveVar is exported into the worker environment on every start
// so the worker knows it runs unattended.
const NonInteractiveVar = "REDEPLOYR_NONINTERACTIVE"

type Var map[string]string

type Env struct {
	Var Var // global variables (K->V)
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{
		Var: make(Var),
	}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			v := kv[i+1:]
			if k == "" {
				continue
			}
			base[k] = v
		}
	}
	e.env = base
}

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Unset removes a global variable.
func (e *Env) Unset(k string) {
	if e.Var != nil {
		delete(e.Var, k)
	}
}

// Merge composes the final environment list applying order:
// base = OS env (or cached)
// then apply global e.Var overrides
// then apply extra (slice of "K=V") overrides
// Returns the environment slice in "K=V" form, with ${VAR} expansion performed
// using the composed map (simple expansion, no recursion).
func (e *Env) Merge(extra []string) []string {
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var)
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for _, kv := range extra {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			v := kv[i+1:]
			if k == "" { // skip malformed entries with empty key
				continue
			}
			m[k] = v
		}
	}
	// expand ${VAR}
	expanded := make(Var, len(m))
	for k, v := range m {
		expanded[k] = expand(v, m)
	}
	out := make([]string, 0, len(expanded))
	for k, v := range expanded {
		if k == "" {
			continue
		}
		out = append(out, k+"="+v)
	}
	return out
}

// ValidateUser rejects user-supplied entries that are malformed or that
// touch the reserved prefix.
func ValidateUser(entries []string) error {
	for i, kv := range entries {
		j := strings.IndexByte(kv, '=')
		if j < 0 {
			return fmt.Errorf("env[%d] %q is invalid, must be in KEY=VALUE format", i, kv)
		}
		key := strings.TrimSpace(kv[:j])
		if key == "" {
			return fmt.Errorf("env[%d] has empty key", i)
		}
		if strings.HasPrefix(key, ReservedPrefix) {
			return fmt.Errorf("env[%d] key %q is reserved (%s prefix)", i, key, ReservedPrefix)
		}
	}
	return nil
}

func expand(s string, m Var) string {
	res := s
	// simple ${VAR} expansion; iterate over keys present
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
