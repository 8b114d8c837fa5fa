//go:build windows

package worker

// shellArgv wraps script for the Windows command interpreter.
func shellArgv(script string) []string { return []string{"cmd", "/c", script} }

// trueArgv is the always-succeeding command used for empty command strings.
func trueArgv() []string { return []string{"cmd", "/c", "rem"} }
