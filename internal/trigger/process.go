package trigger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/steveyegge/netlaunch/internal/config"
	"github.com/steveyegge/netlaunch/internal/telemetry"
)

// killWaitTimeout bounds how long Kill waits for the killed process to be reaped.
const killWaitTimeout = 2 * time.Second

// errExitedWithoutWindow is wrapped in a LaunchError when a target exits
// before it ever presented a window.
var errExitedWithoutWindow = errors.New("process exited without presenting a window")

// WindowHandle is an opaque top-level window handle.
type WindowHandle uintptr

// Process is a launched target.
type Process interface {
	Path() string
	Pid() int
	Exited() bool
	Done() <-chan struct{}
}

// Controller starts, stops and foregrounds target processes.
type Controller interface {
	Launch(cfg config.ListenerConfig) (Process, error)
	Kill(p Process) error
	WaitForWindowReady(ctx context.Context, p Process) (WindowHandle, error)
	Foreground(h WindowHandle) error
}

// WindowFinder locates the main window of a process and restacks windows.
type WindowFinder interface {
	FindWindow(pid int) (WindowHandle, bool)
	Foreground(h WindowHandle) error
}

// execProcess is a target started with os/exec. A single goroutine reaps it.
type execProcess struct {
	path    string
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
}

func (p *execProcess) Path() string {
	return p.path
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExecController is the Controller backed by real OS processes.
type ExecController struct {
	pollInterval time.Duration
	windows      WindowFinder

	mu        sync.Mutex
	processes map[int]*execProcess
}

// NewExecController creates a controller that polls for windows at pollInterval.
// A nil finder selects the platform window finder.
func NewExecController(pollInterval time.Duration, finder WindowFinder) *ExecController {
	if finder == nil {
		finder = platformWindows()
	}
	return &ExecController{
		pollInterval: pollInterval,
		windows:      finder,
		processes:    make(map[int]*execProcess),
	}
}

// Launch starts the listener's target with its arguments. The child gets its
// own process group so Kill can take down anything it spawned.
func (c *ExecController) Launch(cfg config.ListenerConfig) (Process, error) {
	path := cfg.Target
	if path == "" {
		return nil, &LaunchError{Path: path, Err: errors.New("empty target path")}
	}

	cmd := exec.Command(path, cfg.Args...)
	cmd.SysProcAttr = sysProcAttr()
	cmd.Env = telemetry.TargetEnv(cfg.ID())
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Path: path, Err: err}
	}

	p := &execProcess{path: path, cmd: cmd, done: make(chan struct{})}
	c.mu.Lock()
	c.processes[cmd.Process.Pid] = p
	c.mu.Unlock()

	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
		c.mu.Lock()
		delete(c.processes, cmd.Process.Pid)
		c.mu.Unlock()
	}()
	return p, nil
}

// Kill force-terminates p and waits for it to be reaped. Killing a process
// that already exited is a no-op.
func (c *ExecController) Kill(p Process) error {
	if p == nil || p.Exited() {
		return nil
	}
	ep, ok := p.(*execProcess)
	if !ok {
		return fmt.Errorf("kill: foreign process type %T", p)
	}

	if err := killProcess(ep.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		if p.Exited() {
			return nil
		}
		return fmt.Errorf("killing pid %d: %w", p.Pid(), err)
	}

	select {
	case <-p.Done():
		return nil
	case <-time.After(killWaitTimeout):
		return fmt.Errorf("pid %d did not exit within %v after kill", p.Pid(), killWaitTimeout)
	}
}

// WaitForWindowReady polls until p presents a window. It returns a
// LaunchError if p exits first, and ctx.Err() if ctx is cancelled.
func (c *ExecController) WaitForWindowReady(ctx context.Context, p Process) (WindowHandle, error) {
	return waitForWindow(ctx, p, c.windows, c.pollInterval)
}

// Foreground brings h to the front. Callers only log the result.
func (c *ExecController) Foreground(h WindowHandle) error {
	return c.windows.Foreground(h)
}

// Running returns the number of launched processes that have not exited.
func (c *ExecController) Running() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.processes)
}

func waitForWindow(ctx context.Context, p Process, finder WindowFinder, interval time.Duration) (WindowHandle, error) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if p.Exited() {
			return 0, &LaunchError{Path: p.Path(), Err: errExitedWithoutWindow}
		}
		if h, ok := finder.FindWindow(p.Pid()); ok {
			return h, nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-p.Done():
		case <-ticker.C:
		}
	}
}
