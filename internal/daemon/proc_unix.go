//go:build !windows

package daemon

import (
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// isProcessAlive checks if a process is still running.
// On Unix, FindProcess always succeeds; signal 0 checks that the process exists.
func isProcessAlive(p *os.Process) bool {
	if p == nil || p.Pid <= 0 {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

// isNetlaunchDaemon checks if a PID is actually a netlaunch daemon process.
// This prevents false positives from PID reuse.
// Uses ps for portability between Linux and macOS.
func isNetlaunchDaemon(pid int) bool {
	output, err := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "command=").Output()
	if err != nil {
		return false
	}
	cmdline := strings.TrimSpace(string(output))
	return strings.Contains(cmdline, "netlaunch") &&
		(strings.Contains(cmdline, "serve") || strings.Contains(cmdline, "daemon"))
}

func sendTermSignal(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}

func sendKillSignal(p *os.Process) error {
	return p.Signal(syscall.SIGKILL)
}

// sendRequestSignal tells the daemon that requests are waiting.
func sendRequestSignal(p *os.Process) error {
	return p.Signal(syscall.SIGUSR1)
}
