package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/steveyegge/netlaunch/internal/config"
	"github.com/steveyegge/netlaunch/internal/telemetry"
	"github.com/steveyegge/netlaunch/internal/trigger"
)

const (
	// stateInterval is how often the status snapshot is rewritten.
	stateInterval = 5 * time.Second

	// shutdownGrace bounds how long StopDaemon waits before SIGKILL.
	shutdownGrace = 5 * time.Second

	// telemetryFlushTimeout bounds the final OTLP export on shutdown.
	telemetryFlushTimeout = 5 * time.Second
)

// Daemon owns the listener supervisor and the dispatcher for one netlaunch
// home. It loads the config, keeps the listener table in sync with it, and
// publishes a status snapshot for the CLI.
type Daemon struct {
	config  *Config
	version string
	logger  *log.Logger
	logFile *os.File
	ctx     context.Context
	cancel  context.CancelFunc

	ctrl       *trigger.ExecController
	dispatcher *trigger.Dispatcher
	supervisor *trigger.Supervisor
	metrics    *daemonMetrics

	// mu guards the fields below, which the watcher goroutine also updates.
	mu sync.Mutex
	// settings is the config as last loaded from disk, [daemon] included.
	settings *config.Config
	// loaded is the digest of the bytes settings was parsed from.
	loaded config.Digest
	// running holds the [daemon] values in effect since start.
	running config.DaemonConfig
	state   *State
}

// New creates a new daemon instance.
func New(cfg *Config, version string) (*Daemon, error) {
	daemonDir := filepath.Dir(cfg.LogFile)
	if err := os.MkdirAll(daemonDir, 0755); err != nil {
		return nil, fmt.Errorf("creating daemon directory: %w", err)
	}

	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	var out io.Writer = logFile
	if cfg.Foreground {
		out = io.MultiWriter(logFile, os.Stderr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		config:  cfg,
		version: version,
		logger:  log.New(out, "", log.LstdFlags),
		logFile: logFile,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Run starts the daemon and blocks until it is stopped by Stop or a
// termination signal. SIGHUP reloads the config file.
func (d *Daemon) Run() error {
	defer d.logFile.Close()
	defer d.cancel()
	d.logger.Printf("Daemon starting (PID %d)", os.Getpid())

	// The lock, not the PID file, is what keeps two daemons off the same
	// home. gofrs/flock works on Unix and Windows.
	fileLock := flock.New(lockFile(d.config.Home))
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("daemon already running (lock held by another process)")
	}
	defer func() { _ = fileLock.Unlock() }()

	if err := os.WriteFile(d.config.PidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() { _ = os.Remove(d.config.PidFile) }() // best-effort cleanup

	settings, loaded, created, err := config.LoadOrInit(d.config.ConfigPath)
	if err != nil {
		return err
	}
	if created {
		d.logger.Printf("Wrote default config to %s", d.config.ConfigPath)
	}

	provider, err := telemetry.Init(d.ctx, "netlaunch", d.version)
	if err != nil {
		d.logger.Printf("Warning: telemetry disabled: %v", err)
	}
	if telemetry.Enabled() {
		d.logger.Println("Telemetry export enabled")
	}
	if provider != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
			defer cancel()
			if err := provider.Shutdown(ctx); err != nil {
				d.logger.Printf("Warning: telemetry shutdown: %v", err)
			}
		}()
	}
	if d.metrics, err = newDaemonMetrics(); err != nil {
		d.logger.Printf("Warning: failed to register metrics: %v", err)
	}

	d.ctrl = trigger.NewExecController(settings.Daemon.WindowPollInterval, nil)
	d.dispatcher = trigger.NewDispatcher(d.ctrl, d.logger.Printf)
	d.supervisor = trigger.NewSupervisor(settings.Daemon, d.dispatcher.Dispatch, d.logger.Printf)

	d.mu.Lock()
	d.settings = settings
	d.loaded = loaded
	d.running = settings.Daemon
	d.state = &State{
		Running:    true,
		PID:        os.Getpid(),
		Version:    d.version,
		StartedAt:  time.Now(),
		ConfigPath: d.config.ConfigPath,
		Telemetry:  telemetry.Enabled(),
	}
	d.mu.Unlock()

	res, err := d.supervisor.Apply(settings.Listeners)
	d.logApply(res, err)
	// Pick up requests queued while the daemon was starting.
	d.processRequests()
	d.publishState()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, daemonSignals()...)
	defer signal.Stop(sigChan)

	var watchDone chan struct{}
	if settings.Daemon.Watch {
		watchDone = make(chan struct{})
		go func() {
			defer close(watchDone)
			err := config.Watch(d.ctx, d.config.ConfigPath, func(cfg *config.Config, sum config.Digest) {
				d.apply(cfg, sum, "watch")
			}, d.logger.Printf)
			if err != nil {
				d.logger.Printf("Warning: config watcher stopped: %v", err)
			}
		}()
		d.logger.Printf("Watching %s for changes", d.config.ConfigPath)
	}

	ticker := time.NewTicker(stateInterval)
	defer ticker.Stop()

	d.logger.Printf("Daemon running with %d listener(s)", len(d.supervisor.Status()))

	for {
		select {
		case <-d.ctx.Done():
			d.logger.Println("Daemon context cancelled, shutting down")
			return d.shutdown(watchDone)

		case sig := <-sigChan:
			if isReloadSignal(sig) {
				d.logger.Printf("Received %v, reloading config", sig)
				d.reload("signal")
				continue
			}
			if isRequestSignal(sig) {
				d.logger.Println("Received request signal, processing listener requests")
				d.processRequests()
				continue
			}
			d.logger.Printf("Received signal %v, shutting down", sig)
			d.cancel()
			return d.shutdown(watchDone)

		case <-ticker.C:
			d.processRequests()
			d.publishState()
		}
	}
}

// reload reads the config file from disk and applies it.
func (d *Daemon) reload(source string) {
	cfg, sum, err := config.LoadDigest(d.config.ConfigPath)
	if err != nil {
		d.metrics.recordReload(d.ctx, source, err)
		d.logger.Printf("Reload failed, keeping current listeners: %v", err)
		return
	}
	d.apply(cfg, sum, source)
}

// apply moves the supervisor to cfg's listener table. sum is the digest of
// the file cfg was read from. Changes to the [daemon] section are kept in
// settings but only take effect after a restart.
func (d *Daemon) apply(cfg *config.Config, sum config.Digest, source string) {
	d.mu.Lock()
	if cfg.Daemon != d.running {
		d.logger.Printf("Daemon settings changed; restart the daemon to apply them")
	}
	d.settings = cfg
	d.loaded = sum
	if d.state != nil {
		d.state.Reloads++
	}
	d.mu.Unlock()

	res, err := d.supervisor.Apply(cfg.Listeners)
	d.metrics.recordReload(d.ctx, source, err)
	d.logApply(res, err)
	d.publishState()
}

func (d *Daemon) logApply(res trigger.ApplyResult, err error) {
	for _, group := range []struct {
		verb string
		ids  []string
	}{
		{"started", res.Started},
		{"stopped", res.Stopped},
		{"restarted", res.Restarted},
		{"updated", res.Updated},
	} {
		if len(group.ids) > 0 {
			d.logger.Printf("Listeners %s: %s", group.verb, strings.Join(group.ids, ", "))
		}
	}
	if err != nil {
		d.logger.Printf("Warning: %v", err)
	}
}

// publishState writes the current supervisor snapshot to the state file.
func (d *Daemon) publishState() {
	statuses := d.supervisor.Status()
	targets := d.ctrl.Running()
	d.metrics.updateListeners(statuses, targets)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.state.Listeners = statuses
	d.state.Targets = targets
	d.state.UpdatedAt = time.Now()
	if err := SaveState(d.config.Home, d.state); err != nil {
		d.logger.Printf("Warning: failed to save state: %v", err)
	}
}

// shutdown stops every listener, flushes the dispatcher and saves the config.
func (d *Daemon) shutdown(watchDone chan struct{}) error {
	d.logger.Println("Daemon shutting down")

	if watchDone != nil {
		<-watchDone
	}

	d.supervisor.Shutdown()
	d.logger.Println("Listeners stopped")
	d.dispatcher.Close()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.saveConfigLocked()

	d.state.Running = false
	d.state.Listeners = nil
	d.state.Targets = 0
	d.state.UpdatedAt = time.Now()
	if err := SaveState(d.config.Home, d.state); err != nil {
		d.logger.Printf("Warning: failed to save final state: %v", err)
	}

	d.logger.Println("Daemon stopped")
	return nil
}

// saveConfigLocked writes the loaded config back on exit. A file edited since
// it was last loaded is left alone: the edit may not parse yet, or the daemon
// may not have picked it up.
func (d *Daemon) saveConfigLocked() {
	onDisk, err := config.FileDigest(d.config.ConfigPath)
	if err != nil {
		d.logger.Printf("Warning: not saving config: %v", err)
		return
	}
	if onDisk != (config.Digest{}) && onDisk != d.loaded {
		d.logger.Printf("%s changed since it was last loaded; leaving it as is", d.config.ConfigPath)
		return
	}
	if err := config.Save(d.config.ConfigPath, d.settings); err != nil {
		d.logger.Printf("Warning: failed to save config: %v", err)
	}
}

// Stop signals the daemon to stop.
func (d *Daemon) Stop() {
	d.cancel()
}

// IsRunning checks if a daemon is running for the given home.
// It checks the PID file and verifies the process is alive.
// Note: The file lock in Run() is the authoritative mechanism for preventing
// duplicate daemons. This function is for status checks and cleanup.
func IsRunning(home string) (bool, int, error) {
	pidPath := pidFile(home)
	data, err := os.ReadFile(pidPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("reading PID file: %w", err)
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return false, 0, fmt.Errorf("invalid PID in file %q: %w", pidStr, err)
	}

	process, err := os.FindProcess(pid)
	if err != nil || !isProcessAlive(process) {
		if err := os.Remove(pidPath); err == nil {
			return false, 0, fmt.Errorf("removed stale PID file (process %d not found)", pid)
		}
		return false, 0, nil
	}

	// PID reuse: the file may name an unrelated process.
	if pid != os.Getpid() && !isNetlaunchDaemon(pid) {
		if err := os.Remove(pidPath); err == nil {
			return false, 0, fmt.Errorf("removed stale PID file (PID %d is not netlaunch)", pid)
		}
		return false, 0, nil
	}

	return true, pid, nil
}

// ErrNotRunning is returned by StopDaemon when no daemon is running.
var ErrNotRunning = errors.New("daemon is not running")

// StopDaemon stops the running daemon for the given home, escalating to a
// hard kill if it has not exited within the grace period.
func StopDaemon(home string) error {
	running, pid, err := IsRunning(home)
	if err != nil {
		return err
	}
	if !running {
		return ErrNotRunning
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process: %w", err)
	}

	if err := sendTermSignal(process); err != nil {
		return fmt.Errorf("sending SIGTERM: %w", err)
	}

	deadline := time.Now().Add(shutdownGrace)
	for time.Now().Before(deadline) {
		if !isProcessAlive(process) {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if isProcessAlive(process) {
		_ = sendKillSignal(process)
	}

	_ = os.Remove(pidFile(home))
	return nil
}
