//go:build windows

package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// isProcessAlive checks if a process is still running.
// On Windows, we ask tasklist for the PID.
func isProcessAlive(p *os.Process) bool {
	if p == nil || p.Pid <= 0 {
		return false
	}
	line, ok := tasklistLine(p.Pid)
	return ok && line != ""
}

// isNetlaunchDaemon checks that pid belongs to a netlaunch image.
func isNetlaunchDaemon(pid int) bool {
	line, ok := tasklistLine(pid)
	return ok && strings.Contains(strings.ToLower(line), "netlaunch")
}

func tasklistLine(pid int) (string, bool) {
	cmd := exec.Command("tasklist",
		"/FI", fmt.Sprintf("PID eq %d", pid),
		"/FO", "CSV",
		"/NH",
	)
	output, err := cmd.Output()
	if err != nil {
		return "", false
	}
	line := strings.TrimSpace(string(output))
	if strings.Contains(strings.ToLower(line), "no tasks are running") {
		return "", true
	}
	return line, true
}

// sendTermSignal sends a termination signal.
// On Windows, there's no SIGTERM - we use Kill() directly.
func sendTermSignal(p *os.Process) error {
	return p.Kill()
}

// sendKillSignal sends a kill signal.
// On Windows, Kill() is the only option.
func sendKillSignal(p *os.Process) error {
	return p.Kill()
}

// sendRequestSignal does nothing on Windows, which has no user signals.
// The daemon picks requests up on its next state tick.
func sendRequestSignal(*os.Process) error {
	return nil
}
