//go:build unix

package connector

import (
	"os/exec"
	"syscall"
)

// setProcessGroup makes cancellation kill the whole process group, so
// children spawned by the script do not outlive it.
func setProcessGroup(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		return syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
	}
}
