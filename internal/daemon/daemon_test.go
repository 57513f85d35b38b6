package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/netlaunch/internal/config"
	"github.com/steveyegge/netlaunch/internal/testutil"
	"github.com/steveyegge/netlaunch/internal/trigger"
)

func TestSaveLoadState(t *testing.T) {
	home := t.TempDir()
	started := time.Now().Truncate(time.Second)

	in := &State{
		Running:   true,
		PID:       4242,
		StartedAt: started,
		Listeners: []trigger.ListenerStatus{{ID: "lights", Protocol: "udp", Phase: "receiving"}},
	}
	require.NoError(t, SaveState(home, in))

	out, err := LoadState(home)
	require.NoError(t, err)
	assert.True(t, out.Running)
	assert.Equal(t, 4242, out.PID)
	assert.True(t, started.Equal(out.StartedAt))
	require.Len(t, out.Listeners, 1)
	assert.Equal(t, "lights", out.Listeners[0].ID)
}

func TestLoadState_Missing(t *testing.T) {
	state, err := LoadState(t.TempDir())
	require.NoError(t, err)
	assert.False(t, state.Running)
}

func TestIsRunning_NoPIDFile(t *testing.T) {
	running, pid, err := IsRunning(t.TempDir())
	require.NoError(t, err)
	assert.False(t, running)
	assert.Zero(t, pid)
}

func TestIsRunning_InvalidPID(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, "daemon"), 0755))
	require.NoError(t, os.WriteFile(pidFile(home), []byte("not-a-pid"), 0644))

	_, _, err := IsRunning(home)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid PID")
}

func TestStopDaemon_NotRunning(t *testing.T) {
	err := StopDaemon(t.TempDir())
	assert.ErrorIs(t, err, ErrNotRunning)
}

func writeConfig(t *testing.T, path string, listeners ...config.ListenerConfig) {
	t.Helper()
	cfg := config.Default()
	cfg.Listeners = listeners
	cfg.Daemon.BindBackoffInitial = 50 * time.Millisecond
	cfg.Daemon.BindBackoffMax = 200 * time.Millisecond
	cfg.Daemon.WindowPollInterval = 10 * time.Millisecond
	// Tests reload explicitly.
	cfg.Daemon.Watch = false
	require.NoError(t, config.Save(path, cfg))
}

func udpListener(name string, port int) config.ListenerConfig {
	return config.ListenerConfig{
		Name:       name,
		Trigger:    "go",
		KillSuffix: true,
		Protocol:   config.ProtocolUDP,
		Address:    "127.0.0.1",
		Port:       port,
		Target:     "sleep",
		Args:       []string{"30"},
	}
}

// startDaemon runs a daemon in the background and waits until it has
// published its first state.
func startDaemon(t *testing.T, home, cfgPath string) (*Daemon, <-chan error) {
	t.Helper()
	d, err := New(DefaultConfig(home, cfgPath), "test")
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- d.Run() }()

	require.Eventually(t, func() bool {
		st, err := LoadState(home)
		return err == nil && st.Running
	}, 5*time.Second, 20*time.Millisecond)
	return d, errc
}

func waitPhase(t *testing.T, d *Daemon, id, phase string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, st := range d.supervisor.Status() {
			if st.ID == id && st.Phase == phase {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func stopAndWait(t *testing.T, d *Daemon, errc <-chan error) {
	t.Helper()
	d.Stop()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestDaemon_RunLaunchesAndStops(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sleep as the target")
	}
	home := t.TempDir()
	cfgPath := filepath.Join(home, config.DefaultFileName)
	port := testutil.FreeUDPPort(t)
	writeConfig(t, cfgPath, udpListener("lights", port))

	d, errc := startDaemon(t, home, cfgPath)

	running, pid, err := IsRunning(home)
	require.NoError(t, err)
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)

	waitPhase(t, d, "lights", trigger.PhaseReceiving.String())

	testutil.SendUDP(t, port, "go")

	require.Eventually(t, func() bool {
		_, ok := d.dispatcher.Tracked("lights")
		return ok
	}, 5*time.Second, 20*time.Millisecond)
	proc, _ := d.dispatcher.Tracked("lights")

	testutil.SendUDP(t, port, "go-kill")

	require.Eventually(t, proc.Exited, 5*time.Second, 20*time.Millisecond)

	stopAndWait(t, d, errc)

	state, err := LoadState(home)
	require.NoError(t, err)
	assert.False(t, state.Running)

	_, err = os.Stat(pidFile(home))
	assert.True(t, os.IsNotExist(err), "PID file should be removed")

	// The config is written back on exit.
	saved, err := config.Load(cfgPath)
	require.NoError(t, err)
	require.Len(t, saved.Listeners, 1)
	assert.Equal(t, "lights", saved.Listeners[0].Name)
}

func TestDaemon_SecondInstanceIsRejected(t *testing.T) {
	home := t.TempDir()
	cfgPath := filepath.Join(home, config.DefaultFileName)
	writeConfig(t, cfgPath, udpListener("lights", testutil.FreeUDPPort(t)))

	d, errc := startDaemon(t, home, cfgPath)
	defer stopAndWait(t, d, errc)

	second, err := New(DefaultConfig(home, cfgPath), "test")
	require.NoError(t, err)
	err = second.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestDaemon_ReloadAppliesListenerTable(t *testing.T) {
	home := t.TempDir()
	cfgPath := filepath.Join(home, config.DefaultFileName)
	writeConfig(t, cfgPath, udpListener("lights", testutil.FreeUDPPort(t)))

	d, errc := startDaemon(t, home, cfgPath)
	defer stopAndWait(t, d, errc)
	waitPhase(t, d, "lights", trigger.PhaseReceiving.String())

	writeConfig(t, cfgPath, udpListener("music", testutil.FreeUDPPort(t)))
	d.reload("signal")

	waitPhase(t, d, "music", trigger.PhaseReceiving.String())
	for _, st := range d.supervisor.Status() {
		assert.NotEqual(t, "lights", st.ID)
	}

	state, err := LoadState(home)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Reloads)
}

func TestDaemon_ReloadKeepsListenersOnInvalidConfig(t *testing.T) {
	home := t.TempDir()
	cfgPath := filepath.Join(home, config.DefaultFileName)
	writeConfig(t, cfgPath, udpListener("lights", testutil.FreeUDPPort(t)))

	d, errc := startDaemon(t, home, cfgPath)
	defer stopAndWait(t, d, errc)
	waitPhase(t, d, "lights", trigger.PhaseReceiving.String())

	require.NoError(t, os.WriteFile(cfgPath, []byte("[[listener]\nbroken"), 0644))
	d.reload("signal")

	statuses := d.supervisor.Status()
	require.Len(t, statuses, 1)
	assert.Equal(t, "lights", statuses[0].ID)
}

func TestDaemon_DaemonSectionEditSurvivesExit(t *testing.T) {
	home := t.TempDir()
	cfgPath := filepath.Join(home, config.DefaultFileName)
	writeConfig(t, cfgPath, udpListener("lights", testutil.FreeUDPPort(t)))

	d, errc := startDaemon(t, home, cfgPath)
	waitPhase(t, d, "lights", trigger.PhaseReceiving.String())
	inEffect := d.running.ReadTimeout

	edited, err := config.Load(cfgPath)
	require.NoError(t, err)
	edited.Daemon.ReadTimeout = 42 * time.Second
	require.NoError(t, config.Save(cfgPath, edited))
	d.reload("signal")

	d.mu.Lock()
	assert.Equal(t, inEffect, d.running.ReadTimeout, "daemon settings only change on restart")
	assert.Equal(t, 42*time.Second, d.settings.Daemon.ReadTimeout)
	d.mu.Unlock()

	stopAndWait(t, d, errc)

	saved, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, 42*time.Second, saved.Daemon.ReadTimeout)
}

func TestDaemon_UnparsedEditSurvivesExit(t *testing.T) {
	home := t.TempDir()
	cfgPath := filepath.Join(home, config.DefaultFileName)
	writeConfig(t, cfgPath, udpListener("lights", testutil.FreeUDPPort(t)))

	d, errc := startDaemon(t, home, cfgPath)
	waitPhase(t, d, "lights", trigger.PhaseReceiving.String())

	halfTyped := []byte("version = 1\n[[listener]]\nname = \"lights\"\ntrigger = \"go")
	require.NoError(t, os.WriteFile(cfgPath, halfTyped, 0644))
	d.reload("signal")

	stopAndWait(t, d, errc)

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, string(halfTyped), string(data))
}

func TestDaemon_ConfigRecreatedWhenDeleted(t *testing.T) {
	home := t.TempDir()
	cfgPath := filepath.Join(home, config.DefaultFileName)
	writeConfig(t, cfgPath, udpListener("lights", testutil.FreeUDPPort(t)))

	d, errc := startDaemon(t, home, cfgPath)
	require.NoError(t, os.Remove(cfgPath))
	stopAndWait(t, d, errc)

	saved, err := config.Load(cfgPath)
	require.NoError(t, err)
	require.Len(t, saved.Listeners, 1)
	assert.Equal(t, "lights", saved.Listeners[0].Name)
}

func TestSubmitRequest_NotRunning(t *testing.T) {
	_, err := SubmitRequest(t.TempDir(), ActionReconnect, "lights")
	assert.ErrorIs(t, err, ErrNotRunning)

	_, err = SubmitRequest(t.TempDir(), RequestAction("restart"), "lights")
	assert.Error(t, err)
}

func TestDaemon_ListenerRequests(t *testing.T) {
	home := t.TempDir()
	cfgPath := filepath.Join(home, config.DefaultFileName)
	writeConfig(t, cfgPath, udpListener("lights", testutil.FreeUDPPort(t)))

	d, errc := startDaemon(t, home, cfgPath)
	defer stopAndWait(t, d, errc)
	waitPhase(t, d, "lights", trigger.PhaseReceiving.String())
	first := d.supervisor.Status()[0]

	_, err := SubmitRequest(home, ActionReconnect, "lights")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		statuses := d.supervisor.Status()
		return len(statuses) == 1 && statuses[0].SessionID != first.SessionID &&
			statuses[0].Restarts == 1 && statuses[0].Phase == trigger.PhaseReceiving.String()
	}, 5*time.Second, 20*time.Millisecond)

	entries, err := os.ReadDir(requestsDir(home))
	require.NoError(t, err)
	assert.Empty(t, entries, "processed requests are deleted")

	_, err = SubmitRequest(home, ActionStop, "lights")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st, err := LoadState(home)
		return err == nil && len(st.Listeners) == 0
	}, 5*time.Second, 20*time.Millisecond)

	// A stopped listener comes back with the next reload.
	d.reload("signal")
	waitPhase(t, d, "lights", trigger.PhaseReceiving.String())
}

func TestDaemon_StaleRequestIsDropped(t *testing.T) {
	home := t.TempDir()
	cfgPath := filepath.Join(home, config.DefaultFileName)
	writeConfig(t, cfgPath, udpListener("lights", testutil.FreeUDPPort(t)))

	d, errc := startDaemon(t, home, cfgPath)
	defer stopAndWait(t, d, errc)
	waitPhase(t, d, "lights", trigger.PhaseReceiving.String())

	stale := Request{
		ID:        "stale",
		Action:    ActionStop,
		Listener:  "lights",
		CreatedAt: time.Now().Add(-2 * MaxRequestAge),
	}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(requestsDir(home), 0755))
	path := filepath.Join(requestsDir(home), "stale.json")
	require.NoError(t, os.WriteFile(path, data, 0644))

	d.processRequests()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	require.Len(t, d.supervisor.Status(), 1)
}
