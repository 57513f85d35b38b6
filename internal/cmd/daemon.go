package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/netlaunch/internal/daemon"
	"github.com/steveyegge/netlaunch/internal/exitcode"
	"github.com/steveyegge/netlaunch/internal/style"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: GroupServices,
	Short:   "Manage the netlaunch daemon",
	RunE:    requireSubcommand,
	Long: `Manage the netlaunch background daemon.

The daemon keeps one listening session per enabled listener, restarts
sessions that drop, and launches or kills targets when triggers arrive.
Use 'netlaunch serve' to run the same loop in the foreground.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Long: `Start the netlaunch daemon in the background.

The daemon will run until stopped with 'netlaunch daemon stop'.`,
	RunE: runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	Long:  `Stop the running netlaunch daemon.`,
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Show the current status of the netlaunch daemon.

Exits with status 1 when the daemon is not running.`,
	RunE: runDaemonStatus,
}

var daemonLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View daemon logs",
	Long:  `View the daemon log file.`,
	RunE:  runDaemonLogs,
}

var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run daemon in foreground (internal)",
	Hidden: true,
	RunE:   runDaemonRun,
}

var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the daemon",
	Long:  `Stop and start the daemon. Useful after upgrading netlaunch or changing [daemon] settings.`,
	RunE:  runDaemonRestart,
}

var (
	daemonLogLines  int
	daemonLogFollow bool
)

func init() {
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonLogsCmd)
	daemonCmd.AddCommand(daemonRestartCmd)
	daemonCmd.AddCommand(daemonRunCmd)

	daemonLogsCmd.Flags().IntVarP(&daemonLogLines, "lines", "n", 50, "Number of lines to show")
	daemonLogsCmd.Flags().BoolVarP(&daemonLogFollow, "follow", "f", false, "Follow log output")

	rootCmd.AddCommand(daemonCmd)
}

func daemonConfig() *daemon.Config {
	return daemon.DefaultConfig(resolveHome(), resolveConfigPath())
}

// spawnDaemon starts 'netlaunch daemon run' detached and returns its PID
// once the PID file names a live daemon.
func spawnDaemon() (int, int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, 0, fmt.Errorf("finding executable: %w", err)
	}

	home := resolveHome()
	proc := exec.Command(exe, "--home", home, "--config", resolveConfigPath(), "daemon", "run")
	proc.Dir = home
	proc.Stdin = nil
	proc.Stdout = nil
	proc.Stderr = nil

	if err := os.MkdirAll(home, 0755); err != nil {
		return 0, 0, fmt.Errorf("creating home: %w", err)
	}
	if err := proc.Start(); err != nil {
		return 0, 0, fmt.Errorf("starting daemon: %w", err)
	}

	// Wait for the daemon to take the lock and write its PID file.
	deadline := time.Now().Add(2 * time.Second)
	for {
		running, pid, err := daemon.IsRunning(home)
		if err == nil && running {
			return pid, proc.Process.Pid, nil
		}
		if time.Now().After(deadline) {
			return 0, 0, fmt.Errorf("daemon failed to start (check logs with 'netlaunch daemon logs')")
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	home := resolveHome()

	running, pid, err := daemon.IsRunning(home)
	if err != nil {
		style.PrintWarning("%v", err)
	}
	if running {
		return exitcode.Newf(exitcode.ErrAlreadyRunning, "daemon already running (PID %d)", pid)
	}

	pid, spawned, err := spawnDaemon()
	if err != nil {
		return err
	}

	// Another concurrent start may have won the lock.
	if pid != spawned {
		fmt.Printf("%s Daemon already running (PID %d)\n", style.WarningPrefix, pid)
		return nil
	}

	fmt.Printf("%s Daemon started (PID %d, v%s)\n", style.SuccessPrefix, pid, Version)
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	home := resolveHome()

	running, pid, err := daemon.IsRunning(home)
	if err != nil {
		return fmt.Errorf("checking daemon status: %w", err)
	}
	if !running {
		return exitcode.Wrap(exitcode.ErrNotRunning, "cannot stop", daemon.ErrNotRunning)
	}

	if err := daemon.StopDaemon(home); err != nil {
		return fmt.Errorf("stopping daemon: %w", err)
	}

	fmt.Printf("%s Daemon stopped (was PID %d)\n", style.SuccessPrefix, pid)
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	home := resolveHome()
	cfg := daemonConfig()

	running, pid, err := daemon.IsRunning(home)
	if err != nil {
		style.PrintWarning("%v", err)
	}

	if !running {
		fmt.Printf("%s Daemon not running\n", style.Dim.Render("○"))
		fmt.Println()
		fmt.Printf("  Home:       %s\n", home)
		fmt.Println()
		fmt.Printf("  Start with: %s\n", style.Dim.Render("netlaunch daemon start"))
		return NewSilentExit(exitcode.ErrNotRunning)
	}

	state, err := daemon.LoadState(home)

	fmt.Printf("%s Daemon running (PID %d, v%s)\n", style.SuccessPrefix, pid, Version)
	fmt.Println()
	fmt.Printf("  Home:       %s\n", home)
	fmt.Printf("  Config:     %s\n", cfg.ConfigPath)

	if err == nil && !state.StartedAt.IsZero() {
		fmt.Printf("  Started:    %s (%s ago)\n",
			state.StartedAt.Format("2006-01-02 15:04:05"),
			time.Since(state.StartedAt).Round(time.Second))
		fmt.Printf("  Listeners:  %d\n", len(state.Listeners))
		fmt.Printf("  Targets:    %d running\n", state.Targets)
		if state.Telemetry {
			fmt.Printf("  Telemetry:  exporting\n")
		}
		if state.Reloads > 0 {
			fmt.Printf("  Reloads:    %d\n", state.Reloads)
		}
	}
	fmt.Printf("  Log:        %s\n", cfg.LogFile)

	if err == nil && !state.StartedAt.IsZero() {
		if binaryModTime, err := getBinaryModTime(); err == nil && binaryModTime.After(state.StartedAt) {
			fmt.Println()
			fmt.Printf("  %s Binary updated since daemon start\n", style.WarningPrefix)
			fmt.Printf("    Run: %s\n", style.Dim.Render("netlaunch daemon restart"))
		}
	}
	return nil
}

// getBinaryModTime returns the modification time of the current executable
func getBinaryModTime() (time.Time, error) {
	exePath, err := os.Executable()
	if err != nil {
		return time.Time{}, err
	}
	info, err := os.Stat(exePath)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func runDaemonLogs(cmd *cobra.Command, args []string) error {
	logFile := daemonConfig().LogFile

	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		return fmt.Errorf("no log file found at %s", logFile)
	}

	tailArgs := []string{"-n", fmt.Sprintf("%d", daemonLogLines)}
	if daemonLogFollow {
		tailArgs = append(tailArgs, "-f")
	}
	tailCmd := exec.Command("tail", append(tailArgs, logFile)...)
	tailCmd.Stdout = os.Stdout
	tailCmd.Stderr = os.Stderr
	return tailCmd.Run()
}

func runDaemonRun(cmd *cobra.Command, args []string) error {
	d, err := daemon.New(daemonConfig(), Version)
	if err != nil {
		return fmt.Errorf("creating daemon: %w", err)
	}
	return d.Run()
}

func runDaemonRestart(cmd *cobra.Command, args []string) error {
	home := resolveHome()

	running, pid, err := daemon.IsRunning(home)
	if err != nil {
		style.PrintWarning("%v", err)
	}

	if running {
		fmt.Printf("Stopping daemon (PID %d)...\n", pid)
		if err := daemon.StopDaemon(home); err != nil && !errors.Is(err, daemon.ErrNotRunning) {
			return fmt.Errorf("stopping daemon: %w", err)
		}
	}

	fmt.Println("Starting daemon...")
	newPid, _, err := spawnDaemon()
	if err != nil {
		return err
	}

	if pid > 0 {
		fmt.Printf("%s Daemon restarted (PID %d → %d, v%s)\n",
			style.SuccessPrefix, pid, newPid, Version)
	} else {
		fmt.Printf("%s Daemon started (PID %d, v%s)\n",
			style.SuccessPrefix, newPid, Version)
	}
	return nil
}

// logPath is used by serve to tell the user where the log is.
func logPath() string {
	return filepath.Clean(daemonConfig().LogFile)
}
