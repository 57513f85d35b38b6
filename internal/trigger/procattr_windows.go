//go:build windows

package trigger

import (
	"os"
	"syscall"
)

// sysProcAttr returns no special attributes; the target runs independently.
func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

// killProcess terminates the target. On Windows, Kill() is the only option.
func killProcess(p *os.Process) error {
	return p.Kill()
}
