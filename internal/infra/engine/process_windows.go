package engine

import (
	"os/exec"
	"syscall"
)

// configureProcess hides the console window of the solver.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow: true,
	}
}
