package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/netlaunch/internal/config"
	"github.com/steveyegge/netlaunch/internal/daemon"
	"github.com/steveyegge/netlaunch/internal/exitcode"
	"github.com/steveyegge/netlaunch/internal/style"
	"github.com/steveyegge/netlaunch/internal/trigger"
)

var listenersCmd = &cobra.Command{
	Use:     "listeners",
	Aliases: []string{"ls"},
	GroupID: GroupServices,
	Short:   "List listeners and their session state",
	Long: `List the configured listeners.

While the daemon runs, the live phase of each session is shown from its
last published status. Otherwise the listeners are read from the config
file.`,
	Args: cobra.NoArgs,
	RunE: runListeners,
}

var listenersReconnectCmd = &cobra.Command{
	Use:   "reconnect <listener>",
	Short: "Restart one listener's session in the running daemon",
	Long: `Ask the running daemon to end the listener's current session and bind a
fresh one right away, skipping any pending bind backoff. A target launched by
the listener keeps running.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runListenerRequest(cmd, daemon.ActionReconnect, args[0])
	},
}

var listenersStopCmd = &cobra.Command{
	Use:   "stop <listener>",
	Short: "Stop one listener until the next reload",
	Long: `Ask the running daemon to stop the listener and release its endpoint.
The listener comes back on the next config reload or daemon restart.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runListenerRequest(cmd, daemon.ActionStop, args[0])
	},
}

var (
	listenersJSON bool
	requestWait   time.Duration
)

// requestWaitDefault outlasts one state tick, which is when a daemon that
// cannot be signalled picks requests up.
const requestWaitDefault = 7 * time.Second

func init() {
	listenersCmd.Flags().BoolVar(&listenersJSON, "json", false, "Output as JSON")
	for _, c := range []*cobra.Command{listenersReconnectCmd, listenersStopCmd} {
		c.Flags().DurationVar(&requestWait, "wait", requestWaitDefault, "How long to wait for the daemon to confirm (0 to not wait)")
		listenersCmd.AddCommand(c)
	}
	rootCmd.AddCommand(listenersCmd)
}

// runListenerRequest queues a request for the running daemon and waits until
// its published state shows the result.
func runListenerRequest(cmd *cobra.Command, action daemon.RequestAction, id string) error {
	home := resolveHome()
	running, _, err := daemon.IsRunning(home)
	if err != nil {
		return err
	}
	if !running {
		return exitcode.Wrap(exitcode.ErrNotRunning, "cannot "+string(action), daemon.ErrNotRunning)
	}

	state, err := daemon.LoadState(home)
	if err != nil {
		return err
	}
	before, ok := findListener(state.Listeners, id)
	if !ok {
		return exitcode.Newf(exitcode.ErrUsage, "listener %q is not running in the daemon", id)
	}

	if _, err := daemon.SubmitRequest(home, action, id); err != nil {
		if errors.Is(err, daemon.ErrNotRunning) {
			return exitcode.Wrap(exitcode.ErrNotRunning, "cannot "+string(action), err)
		}
		return err
	}

	out := cmd.OutOrStdout()
	if requestWait <= 0 {
		fmt.Fprintf(out, "%s Requested %s of %s\n", style.SuccessPrefix, action, id)
		return nil
	}

	deadline := time.Now().Add(requestWait)
	for time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
		state, err := daemon.LoadState(home)
		if err != nil {
			continue
		}
		if requestApplied(action, before, state.Listeners) {
			switch action {
			case daemon.ActionStop:
				fmt.Fprintf(out, "%s Listener %s stopped\n", style.SuccessPrefix, id)
			default:
				fmt.Fprintf(out, "%s Listener %s reconnected\n", style.SuccessPrefix, id)
			}
			return nil
		}
	}
	return exitcode.Newf(exitcode.ErrTimeout, "daemon did not confirm %s of %s within %v", action, id, requestWait)
}

func findListener(statuses []trigger.ListenerStatus, id string) (trigger.ListenerStatus, bool) {
	for _, st := range statuses {
		if st.ID == id {
			return st, true
		}
	}
	return trigger.ListenerStatus{}, false
}

// requestApplied reports whether statuses reflect action on the listener
// whose earlier status was before.
func requestApplied(action daemon.RequestAction, before trigger.ListenerStatus, statuses []trigger.ListenerStatus) bool {
	now, ok := findListener(statuses, before.ID)
	if action == daemon.ActionStop {
		return !ok
	}
	return ok && (now.SessionID != before.SessionID || now.Restarts > before.Restarts)
}

func runListeners(cmd *cobra.Command, args []string) error {
	statuses, live, err := loadListenerStatuses()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if listenersJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}

	if len(statuses) == 0 {
		fmt.Fprintln(out, "No listeners configured.")
		return nil
	}
	if !live {
		fmt.Fprintf(out, "%s Daemon not running; showing configured listeners\n\n", style.Dim.Render("○"))
	}
	fmt.Fprint(out, renderListeners(statuses))
	return nil
}

// loadListenerStatuses prefers the running daemon's snapshot and falls back
// to the config file.
func loadListenerStatuses() ([]trigger.ListenerStatus, bool, error) {
	home := resolveHome()
	if running, _, _ := daemon.IsRunning(home); running {
		state, err := daemon.LoadState(home)
		if err == nil {
			return state.Listeners, true, nil
		}
		style.PrintWarning("reading daemon state: %v", err)
	}

	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, false, exitcode.ConfigError(path, err)
	}
	return configuredStatuses(cfg), false, nil
}

func configuredStatuses(cfg *config.Config) []trigger.ListenerStatus {
	out := make([]trigger.ListenerStatus, 0, len(cfg.Listeners))
	for _, l := range cfg.Listeners {
		phase := "configured"
		if !l.ShouldListen() {
			phase = "disabled"
		}
		out = append(out, trigger.ListenerStatus{
			ID:       l.ID(),
			Protocol: string(l.Protocol),
			Endpoint: l.Endpoint(),
			Trigger:  l.Trigger,
			Target:   l.Target,
			Phase:    phase,
		})
	}
	return out
}

func renderListeners(statuses []trigger.ListenerStatus) string {
	tbl := style.NewTable(
		style.Column{Name: "LISTENER", Width: 16},
		style.Column{Name: "PROTO", Width: 5},
		style.Column{Name: "ENDPOINT", Width: 21},
		style.Column{Name: "TRIGGER", Width: 14},
		style.Column{Name: "PHASE", Width: 28},
		style.Column{Name: "RESTARTS", Width: 8, Align: style.AlignRight},
		style.Column{Name: "TARGET", Width: 30},
	).SetHeaderSeparator(true)

	for _, st := range statuses {
		phase := style.Phase(st.Phase)
		if st.BindFailures > 0 {
			phase += style.Dim.Render(fmt.Sprintf(" (%d, retry %s)", st.BindFailures, st.Backoff.Round(time.Millisecond)))
		}
		tbl.AddRow(
			st.ID,
			st.Protocol,
			st.Endpoint,
			st.Trigger,
			phase,
			strconv.Itoa(st.Restarts),
			st.Target,
		)
	}
	return tbl.Render()
}
