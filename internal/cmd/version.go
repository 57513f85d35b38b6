package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X github.com/steveyegge/netlaunch/internal/cmd.Version=...".
var (
	Version = "0.3.0"
	Commit  = ""
	Build   = "dev"
)

var versionCmd = &cobra.Command{
	Use:     "version",
	GroupID: GroupDiag,
	Short:   "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), versionString())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func versionString() string {
	s := fmt.Sprintf("netlaunch %s (%s", Version, Build)
	if Commit != "" {
		s += ", " + shortCommit(Commit)
	}
	return s + fmt.Sprintf(", %s/%s)", runtime.GOOS, runtime.GOARCH)
}

// shortCommit trims a full SHA to 12 characters.
func shortCommit(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
