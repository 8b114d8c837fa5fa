//go:build !windows

package detector

import "os/exec"

// shellCommand returns a shell command for Unix systems
func shellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/sh", "-c", script)
}

// trueCommand returns a command that always succeeds on Unix systems
func trueCommand() *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/true")
}
