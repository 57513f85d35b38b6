//go:build !windows

package daemon

import (
	"os"
	"syscall"
)

func daemonSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1}
}

// isReloadSignal reports whether sig asks for a config reload rather than
// a shutdown.
func isReloadSignal(sig os.Signal) bool {
	return sig == syscall.SIGHUP
}

// isRequestSignal reports whether sig announces queued listener requests.
func isRequestSignal(sig os.Signal) bool {
	return sig == syscall.SIGUSR1
}
