//go:build !windows

package trigger

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// sysProcAttr puts the target in its own process group so a kill reaches
// helpers it spawned, and so terminal signals sent to netlaunch do not.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// killProcess sends SIGKILL to the target's process group, falling back to
// the process itself when the group is already gone.
func killProcess(p *os.Process) error {
	err := unix.Kill(-p.Pid, unix.SIGKILL)
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.ESRCH) {
		return p.Kill()
	}
	return err
}
