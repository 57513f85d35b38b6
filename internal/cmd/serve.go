package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/netlaunch/internal/daemon"
	"github.com/steveyegge/netlaunch/internal/style"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: GroupServices,
	Short:   "Run the listeners in the foreground",
	Long: `Run every enabled listener in the foreground until interrupted.

Log lines go to stderr as well as the daemon log file. Send SIGHUP to
reload the config file; enable [daemon] watch to reload on every save.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := daemonConfig()
	cfg.Foreground = true

	d, err := daemon.New(cfg, Version)
	if err != nil {
		return fmt.Errorf("creating daemon: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s Serving %s (log: %s)\n",
		style.Info.Render("→"), cfg.ConfigPath, logPath())
	return d.Run()
}
