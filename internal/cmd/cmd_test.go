package cmd

import (
	"bytes"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/netlaunch/internal/config"
	"github.com/steveyegge/netlaunch/internal/daemon"
	"github.com/steveyegge/netlaunch/internal/exitcode"
	"github.com/steveyegge/netlaunch/internal/testutil"
	"github.com/steveyegge/netlaunch/internal/trigger"
)

// run executes the root command with args against a fresh set of flag
// values and returns everything written to stdout and stderr.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	homeFlag, configFlag = "", ""
	configInitForce, configShowFormat = false, ""
	listenersJSON, addrsJSON, addrsAll = false, false, false
	requestWait = requestWaitDefault

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestConfigInitPathShow(t *testing.T) {
	home := t.TempDir()

	out, err := run(t, "config", "init", "--home", home)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote")

	path := filepath.Join(home, config.DefaultFileName)
	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = run(t, "config", "init", "--home", home)
	require.Error(t, err)
	assert.Equal(t, exitcode.ErrAlreadyExists, exitcode.Code(err))

	out, err = run(t, "config", "path", "--home", home)
	require.NoError(t, err)
	assert.Equal(t, path, strings.TrimSpace(out))

	out, err = run(t, "config", "show", "--home", home, "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "listeners:")

	_, err = run(t, "config", "show", "--home", home, "--format", "ini")
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, config.DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(`
[[listener]]
name = "lights"
trigger = "go"
protocol = "udp"
port = 0
target = "lights"
`), 0644))

	_, err := run(t, "config", "validate", "--home", home)
	assert.Equal(t, exitcode.ErrConfigInvalid, exitcode.Code(err))

	_, err = run(t, "config", "validate", "--home", t.TempDir())
	assert.Equal(t, exitcode.ErrConfigNotFound, exitcode.Code(err))

	require.NoError(t, config.Save(path, config.Default()))
	out, err := run(t, "config", "validate", "--home", home)
	require.NoError(t, err)
	assert.Contains(t, out, "1 listener(s), 0 enabled")
}

func TestSend_UDP(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()
	port := pc.LocalAddr().(*net.UDPAddr).Port

	out, err := run(t, "send", "lights", "--home", t.TempDir(),
		"--protocol", "udp", "--ip", "127.0.0.1", "--port", strconv.Itoa(port))
	require.NoError(t, err)
	assert.Contains(t, out, `Sent "lights"`)

	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "lights", string(buf[:n]))
}

func TestSend_InvalidPortIsUsageError(t *testing.T) {
	_, err := run(t, "send", "lights", "--home", t.TempDir(),
		"--protocol", "udp", "--ip", "127.0.0.1", "--port", "0")
	assert.Equal(t, exitcode.ErrUsage, exitcode.Code(err))
}

func TestSend_TCPRefusedIsNetworkError(t *testing.T) {
	port := testutil.FreeTCPPort(t)
	_, err := run(t, "send", "lights", "--home", t.TempDir(),
		"--protocol", "tcp", "--ip", "127.0.0.1", "--port", strconv.Itoa(port), "--attempts", "1")
	assert.Equal(t, exitcode.ErrNetwork, exitcode.Code(err))
}

func TestListeners_FromConfigJSON(t *testing.T) {
	home := t.TempDir()
	cfg := config.Default()
	cfg.Listeners = []config.ListenerConfig{{
		Name: "lights", Trigger: "go", Protocol: config.ProtocolTCP,
		Address: "127.0.0.1", Port: 9100, Target: "lights",
	}}
	require.NoError(t, config.Save(filepath.Join(home, config.DefaultFileName), cfg))

	out, err := run(t, "listeners", "--home", home, "--json")
	require.NoError(t, err)

	var statuses []trigger.ListenerStatus
	require.NoError(t, json.Unmarshal([]byte(out), &statuses))
	require.Len(t, statuses, 1)
	assert.Equal(t, "lights", statuses[0].ID)
	assert.Equal(t, "configured", statuses[0].Phase)
	assert.Equal(t, "127.0.0.1:9100", statuses[0].Endpoint)
}

func TestListenersReconnect_NotRunning(t *testing.T) {
	_, err := run(t, "listeners", "reconnect", "lights", "--home", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, exitcode.ErrNotRunning, exitcode.Code(err))
}

func TestListenersReconnectAndStop(t *testing.T) {
	home := t.TempDir()
	cfgPath := filepath.Join(home, config.DefaultFileName)
	cfg := config.Default()
	cfg.Daemon.Watch = false
	cfg.Listeners = []config.ListenerConfig{{
		Name: "lights", Trigger: "go", Protocol: config.ProtocolUDP,
		Address: "127.0.0.1", Port: testutil.FreeUDPPort(t), Target: "lights",
	}}
	require.NoError(t, config.Save(cfgPath, cfg))

	d, err := daemon.New(daemon.DefaultConfig(home, cfgPath), "test")
	require.NoError(t, err)
	errc := make(chan error, 1)
	go func() { errc <- d.Run() }()
	defer func() {
		d.Stop()
		select {
		case err := <-errc:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("daemon did not stop")
		}
	}()

	require.Eventually(t, func() bool {
		st, err := daemon.LoadState(home)
		return err == nil && len(st.Listeners) == 1 && st.Listeners[0].Phase == trigger.PhaseReceiving.String()
	}, 10*time.Second, 50*time.Millisecond)

	_, err = run(t, "listeners", "reconnect", "nope", "--home", home)
	require.Error(t, err)
	assert.Equal(t, exitcode.ErrUsage, exitcode.Code(err))

	out, err := run(t, "listeners", "reconnect", "lights", "--home", home)
	require.NoError(t, err)
	assert.Contains(t, out, "Listener lights reconnected")

	out, err = run(t, "listeners", "stop", "lights", "--home", home)
	require.NoError(t, err)
	assert.Contains(t, out, "Listener lights stopped")
}

func TestRenderListeners(t *testing.T) {
	out := renderListeners([]trigger.ListenerStatus{
		{ID: "lights", Protocol: "udp", Endpoint: "0.0.0.0:9001", Trigger: "go", Phase: "receiving", Target: "lights"},
		{ID: "music", Protocol: "tcp", Endpoint: "0.0.0.0:9100", Trigger: "play", Phase: "bind-failed",
			BindFailures: 3, Backoff: 4 * time.Second, Restarts: 2},
	})

	assert.Contains(t, out, "LISTENER")
	assert.Contains(t, out, "lights")
	assert.Contains(t, out, "bind-failed")
	assert.Contains(t, out, "(3, retry 4s)")
}

func TestDaemonStatus_NotRunning(t *testing.T) {
	_, err := run(t, "daemon", "status", "--home", t.TempDir())
	code, ok := IsSilentExit(err)
	require.True(t, ok)
	assert.Equal(t, exitcode.ErrNotRunning, code)
}

func TestRequireSubcommand(t *testing.T) {
	_, err := run(t, "daemon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a subcommand")

	_, err = run(t, "config", "bogus")
	require.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "netlaunch "+Version)

	assert.Equal(t, "abcdef123456", shortCommit("abcdef1234567890"))
	assert.Equal(t, "abc", shortCommit("abc"))
}

func TestResolvePaths(t *testing.T) {
	homeFlag, configFlag = "/tmp/nl", ""
	defer func() { homeFlag, configFlag = "", "" }()
	assert.Equal(t, "/tmp/nl", resolveHome())
	assert.Equal(t, filepath.Join("/tmp/nl", config.DefaultFileName), resolveConfigPath())

	configFlag = "/etc/netlaunch.yaml"
	assert.Equal(t, "/etc/netlaunch.yaml", resolveConfigPath())
}
