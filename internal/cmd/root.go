// Package cmd provides CLI commands for the netlaunch tool.
package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/netlaunch/internal/config"
	"github.com/steveyegge/netlaunch/internal/exitcode"
)

var rootCmd = &cobra.Command{
	Use:     "netlaunch",
	Short:   "netlaunch - launch programs from network messages",
	Version: Version,
	Long: `netlaunch listens for short text messages over UDP or TCP and launches,
foregrounds or kills a configured program when a message matches a
listener's trigger.

Each listener names a trigger, an endpoint and a target. Sending the
trigger starts the target (replacing any copy it started earlier); with
kill_suffix enabled, sending the trigger followed by "-kill" stops it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	homeFlag   string
	configFlag string
)

// Command group IDs - used by subcommands to organize help output
const (
	GroupServices = "services"
	GroupConfig   = "config"
	GroupDiag     = "diag"
)

func init() {
	// Enable prefix matching for subcommands (e.g., "netlaunch d st" -> "netlaunch daemon status")
	cobra.EnablePrefixMatching = true

	rootCmd.AddGroup(
		&cobra.Group{ID: GroupServices, Title: "Services:"},
		&cobra.Group{ID: GroupConfig, Title: "Configuration:"},
		&cobra.Group{ID: GroupDiag, Title: "Diagnostics:"},
	)

	rootCmd.SetHelpCommandGroupID(GroupDiag)
	rootCmd.SetCompletionCommandGroupID(GroupConfig)

	rootCmd.PersistentFlags().StringVar(&homeFlag, "home", "", "netlaunch home directory (default $NETLAUNCH_HOME or ~/.netlaunch)")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "config file (default <home>/netlaunch.toml)")
}

// Execute runs the root command and returns an exit code.
// The caller (main) should call os.Exit with this code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if code, ok := IsSilentExit(err); ok {
			return code
		}
		fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return exitcode.Code(err)
	}
	return 0
}

// silentExitError ends the command with a status code and no message.
type silentExitError struct {
	code int
}

func (e *silentExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// NewSilentExit returns an error that makes Execute return code without
// printing anything. Status commands use it to signal state to scripts.
func NewSilentExit(code int) error {
	return &silentExitError{code: code}
}

// IsSilentExit reports whether err came from NewSilentExit.
func IsSilentExit(err error) (int, bool) {
	var se *silentExitError
	if errors.As(err, &se) {
		return se.code, true
	}
	return 0, false
}

// resolveHome returns the netlaunch home, honoring --home.
func resolveHome() string {
	if homeFlag != "" {
		return homeFlag
	}
	return config.HomeDir()
}

// resolveConfigPath returns the config file path, honoring --config.
func resolveConfigPath() string {
	if configFlag != "" {
		return configFlag
	}
	return filepath.Join(resolveHome(), config.DefaultFileName)
}

// buildCommandPath walks the command hierarchy to build the full command path.
// For example: "netlaunch daemon status".
func buildCommandPath(cmd *cobra.Command) string {
	var parts []string
	for c := cmd; c != nil; c = c.Parent() {
		parts = append([]string{c.Name()}, parts...)
	}
	return strings.Join(parts, " ")
}

// requireSubcommand returns a RunE function for parent commands that require
// a subcommand. Without this, Cobra silently shows help and exits 0 for
// unknown subcommands like "netlaunch daemon foobar", masking errors.
func requireSubcommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("requires a subcommand\n\nRun '%s --help' for usage", buildCommandPath(cmd))
	}
	return fmt.Errorf("unknown command %q for %q\n\nRun '%s --help' for available commands",
		args[0], buildCommandPath(cmd), buildCommandPath(cmd))
}
