//go:build !windows

package worker

import (
	"os/exec"
	"syscall"
)

// configureDetachedAttrs starts the worker in a new session (setsid) so it is
// detached from the controlling terminal and survives supervisor exit. As
// session leader its pid doubles as its process group id, which the stop path
// signals.
func configureDetachedAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
