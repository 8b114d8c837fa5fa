//go:build !windows

package worker

import "syscall"

const (
	termSignal = syscall.SIGTERM
	killSignal = syscall.SIGKILL
)

// signalGroup signals the worker's process group, falling back to the single
// pid when the group signal fails (pid not a group leader).
func signalGroup(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err == nil {
		return nil
	}
	return syscall.Kill(pid, sig)
}

// killPID force-kills exactly one process. Used for pattern sweep strays
// where group membership is unknown.
func killPID(pid int) error {
	return syscall.Kill(pid, syscall.SIGKILL)
}
