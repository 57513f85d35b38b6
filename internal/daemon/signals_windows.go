//go:build windows

package daemon

import (
	"os"
	"syscall"
)

func daemonSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}

// isReloadSignal is always false; Windows has no SIGHUP. Use config watching.
func isReloadSignal(os.Signal) bool {
	return false
}

// isRequestSignal is always false; requests are polled on the state tick.
func isRequestSignal(os.Signal) bool {
	return false
}
