//go:build !windows

package worker

// shellArgv wraps script for the platform shell. The absolute path keeps
// launches working when PATH is overridden by Env.
func shellArgv(script string) []string { return []string{"/bin/sh", "-c", script} }

// trueArgv is the always-succeeding command used for empty command strings.
func trueArgv() []string { return []string{"/bin/true"} }
