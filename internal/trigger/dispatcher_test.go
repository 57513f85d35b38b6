package trigger

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/netlaunch/internal/config"
)

func testListener(name string) config.ListenerConfig {
	return config.ListenerConfig{
		Name:       name,
		Trigger:    "go",
		KillSuffix: true,
		Protocol:   config.ProtocolUDP,
		Address:    "127.0.0.1",
		Port:       9001,
		Target:     "/opt/" + name,
	}
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeController) {
	t.Helper()
	ctrl := &fakeController{}
	d := NewDispatcher(ctrl, t.Logf)
	t.Cleanup(d.Close)
	return d, ctrl
}

func TestDispatcher_LaunchAndForeground(t *testing.T) {
	d, ctrl := newTestDispatcher(t)
	cfg := testListener("app")

	d.Dispatch(cfg, "go")
	require.NoError(t, d.Sync())

	require.Equal(t, 1, ctrl.launchCount())
	assert.Equal(t, "/opt/app", ctrl.process(0).Path())

	p, ok := d.Tracked("app")
	require.True(t, ok)
	assert.Equal(t, ctrl.process(0).Pid(), p.Pid())

	assert.Eventually(t, func() bool {
		_ = d.Sync()
		return len(ctrl.foregrounded()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, WindowHandle(p.Pid()), ctrl.foregrounded()[0])
}

func TestDispatcher_IgnoresOtherPayloads(t *testing.T) {
	d, ctrl := newTestDispatcher(t)
	cfg := testListener("app")

	for _, payload := range []string{"stop", "", "go ", "gokill"} {
		d.Dispatch(cfg, payload)
	}
	require.NoError(t, d.Sync())

	assert.Equal(t, 0, ctrl.launchCount())
	assert.Empty(t, ctrl.killedPids())
	_, ok := d.Tracked("app")
	assert.False(t, ok)
}

func TestDispatcher_KillMessage(t *testing.T) {
	d, ctrl := newTestDispatcher(t)
	cfg := testListener("app")

	d.Dispatch(cfg, "go")
	d.Dispatch(cfg, "go-kill")
	require.NoError(t, d.Sync())

	assert.Equal(t, 1, ctrl.launchCount(), "kill must not launch")
	assert.Equal(t, []int{ctrl.process(0).Pid()}, ctrl.killedPids())
	assert.Equal(t, 0, ctrl.alive())
	_, ok := d.Tracked("app")
	assert.False(t, ok)
}

func TestDispatcher_KillWithNothingAliveIsNoop(t *testing.T) {
	d, ctrl := newTestDispatcher(t)
	cfg := testListener("app")

	d.Dispatch(cfg, "go-kill")
	d.Dispatch(cfg, "go-kill")
	require.NoError(t, d.Sync())

	assert.Empty(t, ctrl.killedPids())
	assert.Equal(t, 0, ctrl.launchCount())
}

func TestDispatcher_KillAfterTargetExitedIsNoop(t *testing.T) {
	d, ctrl := newTestDispatcher(t)
	cfg := testListener("app")

	d.Dispatch(cfg, "go")
	require.NoError(t, d.Sync())
	ctrl.process(0).exit()

	d.Dispatch(cfg, "go-kill")
	require.NoError(t, d.Sync())

	assert.Empty(t, ctrl.killedPids())
}

func TestDispatcher_KillSuffixDisabled(t *testing.T) {
	d, ctrl := newTestDispatcher(t)
	cfg := testListener("app")
	cfg.KillSuffix = false

	d.Dispatch(cfg, "go")
	d.Dispatch(cfg, "go-kill")
	require.NoError(t, d.Sync())

	assert.Equal(t, 1, ctrl.launchCount())
	assert.Empty(t, ctrl.killedPids())
	assert.Equal(t, 1, ctrl.alive())
}

func TestDispatcher_LaunchSupersedes(t *testing.T) {
	d, ctrl := newTestDispatcher(t)
	cfg := testListener("app")

	for i := 0; i < 5; i++ {
		d.Dispatch(cfg, "go")
		require.NoError(t, d.Sync())
		assert.LessOrEqual(t, ctrl.alive(), 1)
	}

	assert.Equal(t, 5, ctrl.launchCount())
	assert.Len(t, ctrl.killedPids(), 4)
	assert.Equal(t, 1, ctrl.alive())

	p, ok := d.Tracked("app")
	require.True(t, ok)
	assert.Equal(t, ctrl.process(4).Pid(), p.Pid())
}

func TestDispatcher_ListenersAreIndependent(t *testing.T) {
	d, ctrl := newTestDispatcher(t)
	a := testListener("a")
	b := testListener("b")
	b.Trigger = "run"

	d.Dispatch(a, "go")
	d.Dispatch(b, "run")
	d.Dispatch(b, "go")
	require.NoError(t, d.Sync())

	assert.Equal(t, 2, ctrl.launchCount())
	assert.Equal(t, 2, ctrl.alive())

	d.Dispatch(a, "go-kill")
	require.NoError(t, d.Sync())

	assert.Equal(t, 1, ctrl.alive())
	_, ok := d.Tracked("b")
	assert.True(t, ok)
}

func TestDispatcher_PreservesOrderPerListener(t *testing.T) {
	d, ctrl := newTestDispatcher(t)
	cfg := testListener("app")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.Dispatch(cfg, "go")
		d.Dispatch(cfg, "go-kill")
		d.Dispatch(cfg, "go")
	}()
	wg.Wait()
	require.NoError(t, d.Sync())

	require.Equal(t, 2, ctrl.launchCount())
	assert.Equal(t, []int{ctrl.process(0).Pid()}, ctrl.killedPids())
	assert.Equal(t, 1, ctrl.alive())
}

func TestDispatcher_LaunchErrorDoesNotStopDispatch(t *testing.T) {
	d, ctrl := newTestDispatcher(t)
	cfg := testListener("app")

	ctrl.setLaunchErr(errors.New("no such file"))
	d.Dispatch(cfg, "go")
	require.NoError(t, d.Sync())
	assert.Equal(t, 0, ctrl.launchCount())

	ctrl.setLaunchErr(nil)
	d.Dispatch(cfg, "go")
	require.NoError(t, d.Sync())
	assert.Equal(t, 1, ctrl.launchCount())
}

func TestDispatcher_SupersededWindowWaitIsAbandoned(t *testing.T) {
	d, ctrl := newTestDispatcher(t)
	ctrl.holdWindow = true
	cfg := testListener("app")

	d.Dispatch(cfg, "go")
	d.Dispatch(cfg, "go")
	require.NoError(t, d.Sync())

	assert.Equal(t, 2, ctrl.launchCount())
	assert.Equal(t, 1, ctrl.alive())
	assert.Empty(t, ctrl.foregrounded())

	// Close cancels the remaining wait and returns.
	done := make(chan struct{})
	go func() {
		d.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
}

func TestDispatcher_UsesConfigAtDispatchTime(t *testing.T) {
	d, ctrl := newTestDispatcher(t)
	cfg := testListener("app")

	d.Dispatch(cfg, "go")
	cfg.Target = "/opt/other"
	d.Dispatch(cfg, "go")
	require.NoError(t, d.Sync())

	require.Equal(t, 2, ctrl.launchCount())
	assert.Equal(t, "/opt/app", ctrl.process(0).Path())
	assert.Equal(t, "/opt/other", ctrl.process(1).Path())
}

func TestDispatcher_Close(t *testing.T) {
	ctrl := &fakeController{}
	d := NewDispatcher(ctrl, nil)
	cfg := testListener("app")

	for i := 0; i < 3; i++ {
		d.Dispatch(cfg, fmt.Sprintf("msg-%d", i))
	}
	d.Dispatch(cfg, "go")
	d.Close()
	d.Close()

	assert.Equal(t, 1, ctrl.launchCount(), "jobs queued before Close run")
	assert.Equal(t, 1, ctrl.alive(), "tracked processes survive Close")

	d.Dispatch(cfg, "go")
	assert.ErrorIs(t, d.Sync(), ErrDispatcherClosed)
	assert.Equal(t, 1, ctrl.launchCount())
}
