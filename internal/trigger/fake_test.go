package trigger

import (
	"context"
	"errors"
	"sync"

	"github.com/steveyegge/netlaunch/internal/config"
)

type fakeProcess struct {
	path string
	pid  int
	done chan struct{}
	once sync.Once
}

func (p *fakeProcess) Path() string          { return p.path }
func (p *fakeProcess) Pid() int              { return p.pid }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *fakeProcess) exit() {
	p.once.Do(func() { close(p.done) })
}

// fakeController records every call instead of touching real processes.
type fakeController struct {
	mu          sync.Mutex
	nextPid     int
	launched    []*fakeProcess
	launchCfgs  []config.ListenerConfig
	kills       []int
	foregrounds []WindowHandle
	launchErr   error
	holdWindow  bool // WaitForWindowReady blocks until ctx or exit
}

func (c *fakeController) Launch(cfg config.ListenerConfig) (Process, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.launchErr != nil {
		return nil, &LaunchError{Path: cfg.Target, Err: c.launchErr}
	}
	c.nextPid++
	p := &fakeProcess{path: cfg.Target, pid: 1000 + c.nextPid, done: make(chan struct{})}
	c.launched = append(c.launched, p)
	c.launchCfgs = append(c.launchCfgs, cfg)
	return p, nil
}

func (c *fakeController) Kill(p Process) error {
	fp, ok := p.(*fakeProcess)
	if !ok {
		return errors.New("not a fake process")
	}
	c.mu.Lock()
	c.kills = append(c.kills, fp.pid)
	c.mu.Unlock()
	fp.exit()
	return nil
}

func (c *fakeController) WaitForWindowReady(ctx context.Context, p Process) (WindowHandle, error) {
	c.mu.Lock()
	hold := c.holdWindow
	c.mu.Unlock()
	if hold {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-p.Done():
			return 0, &LaunchError{Path: p.Path(), Err: errExitedWithoutWindow}
		}
	}
	return WindowHandle(p.Pid()), nil
}

func (c *fakeController) Foreground(h WindowHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.foregrounds = append(c.foregrounds, h)
	return nil
}

func (c *fakeController) setLaunchErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.launchErr = err
}

func (c *fakeController) launchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.launched)
}

func (c *fakeController) killedPids() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.kills...)
}

func (c *fakeController) foregrounded() []WindowHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]WindowHandle(nil), c.foregrounds...)
}

func (c *fakeController) alive() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range c.launched {
		if !p.Exited() {
			n++
		}
	}
	return n
}

func (c *fakeController) process(i int) *fakeProcess {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.launched[i]
}
