//go:build !windows

package engine

import (
	"os/exec"
	"syscall"
)

// configureProcess puts the solver in its own process group so a terminal
// interrupt reaches gturn first and the solver is stopped through ctx.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
