package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/netlaunch/internal/hostaddr"
	"github.com/steveyegge/netlaunch/internal/style"
)

var addrsCmd = &cobra.Command{
	Use:     "addrs",
	GroupID: GroupDiag,
	Short:   "List this host's IPv4 addresses",
	Long: `List the IPv4 addresses of this host's interfaces, to pick the
destination for 'netlaunch send' from another machine.`,
	Args: cobra.NoArgs,
	RunE: runAddrs,
}

var (
	addrsJSON bool
	addrsAll  bool
)

func init() {
	addrsCmd.Flags().BoolVar(&addrsJSON, "json", false, "Output as JSON")
	addrsCmd.Flags().BoolVar(&addrsAll, "all", false, "Include loopback addresses")
	rootCmd.AddCommand(addrsCmd)
}

func runAddrs(cmd *cobra.Command, args []string) error {
	addrs, err := hostaddr.LocalIPv4()
	if err != nil {
		return err
	}
	if !addrsAll {
		filtered := addrs[:0]
		for _, a := range addrs {
			if !a.Loopback {
				filtered = append(filtered, a)
			}
		}
		addrs = filtered
	}

	out := cmd.OutOrStdout()
	if addrsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(addrs)
	}

	if len(addrs) == 0 {
		fmt.Fprintln(out, "No IPv4 addresses found.")
		return nil
	}
	for _, a := range addrs {
		fmt.Fprintf(out, "%-16s %s\n", a.IP, style.Dim.Render(a.Interface))
	}
	return nil
}
