//go:build windows

package detector

import "os/exec"

// shellCommand returns a shell command for Windows systems
func shellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("cmd", "/c", script)
}

// trueCommand returns a command that always succeeds on Windows systems
func trueCommand() *exec.Cmd {
	// #nosec G204
	return exec.Command("cmd", "/c", "rem")
}
