package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/netlaunch/internal/config"
	"github.com/steveyegge/netlaunch/internal/exitcode"
	"github.com/steveyegge/netlaunch/internal/sender"
	"github.com/steveyegge/netlaunch/internal/style"
	"github.com/steveyegge/netlaunch/internal/util"
)

var sendCmd = &cobra.Command{
	Use:     "send [message]",
	GroupID: GroupDiag,
	Short:   "Send a test message to a listener",
	Long: `Send one message to a listener, as a UDP datagram or over a fresh TCP
connection.

Defaults come from the [sender] section of the config file; flags
override them. The message argument overrides the configured message.

Examples:
  netlaunch send                          # configured defaults
  netlaunch send lights                   # trigger the "lights" listener
  netlaunch send lights-kill --port 9100 --protocol tcp`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSend,
}

var (
	sendProtocol string
	sendIP       string
	sendPort     int
	sendAttempts int
	sendTimeout  time.Duration
)

func init() {
	sendCmd.Flags().StringVarP(&sendProtocol, "protocol", "p", "", "udp or tcp")
	sendCmd.Flags().StringVar(&sendIP, "ip", "", "Destination IP address")
	sendCmd.Flags().IntVar(&sendPort, "port", 0, "Destination port")
	sendCmd.Flags().IntVar(&sendAttempts, "attempts", 3, "Attempts before giving up on transient errors")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 10*time.Second, "Overall time limit")

	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	defaults := config.Default().Sender
	if cfg, err := config.Load(resolveConfigPath()); err == nil {
		defaults = cfg.Sender
	}

	msg := sender.FromConfig(defaults)
	if len(args) == 1 {
		msg.Text = args[0]
	}
	if cmd.Flags().Changed("protocol") {
		msg.Protocol = config.Protocol(sendProtocol)
	}
	if cmd.Flags().Changed("ip") {
		msg.IP = sendIP
	}
	if cmd.Flags().Changed("port") {
		msg.Port = sendPort
	}

	if err := msg.Validate(); err != nil {
		return exitcode.Wrap(exitcode.ErrUsage, "invalid message", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
	defer cancel()

	retry := util.DefaultRetryConfig()
	retry.Attempts = sendAttempts
	if err := sender.Send(ctx, msg, retry); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return exitcode.Wrap(exitcode.ErrTimeout, "send timed out", err)
		}
		return exitcode.Wrap(exitcode.ErrNetwork, "send failed", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s Sent %q to %s %s\n",
		style.SuccessPrefix, msg.Text, msg.Protocol, msg.Address())
	return nil
}
