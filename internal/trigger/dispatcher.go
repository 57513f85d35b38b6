package trigger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/steveyegge/netlaunch/internal/config"
	"github.com/steveyegge/netlaunch/internal/telemetry"
)

// ErrDispatcherClosed is returned by Sync after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// trackedProcess is the live target of one listener.
type trackedProcess struct {
	proc       Process
	cancelWait context.CancelFunc
}

// Dispatcher turns received payloads into process actions. Every decision
// and every change to the tracked processes runs on one goroutine, fed by a
// FIFO queue, so payloads from one listener are handled in arrival order.
// Window waits run on their own goroutines and hand the foreground call back
// to the queue.
type Dispatcher struct {
	ctrl   Controller
	logger func(format string, args ...interface{})

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	qmu    sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool

	// tracked is written only by the dispatch goroutine; mu guards reads
	// from other goroutines.
	mu      sync.Mutex
	tracked map[string]*trackedProcess
}

// NewDispatcher creates a dispatcher driving ctrl and starts its goroutine.
func NewDispatcher(ctrl Controller, logger func(format string, args ...interface{})) *Dispatcher {
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		ctrl:    ctrl,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		tracked: make(map[string]*trackedProcess),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Dispatch queues payload for the listener described by cfg and returns
// immediately. cfg is copied, so later config changes do not affect it.
func (d *Dispatcher) Dispatch(cfg config.ListenerConfig, payload string) {
	if !d.enqueue(func() { d.handle(cfg, payload) }) {
		d.logger("Dispatcher closed, dropping message for listener %s", cfg.ID())
	}
}

// Sync blocks until every job queued before it has run.
func (d *Dispatcher) Sync() error {
	done := make(chan struct{})
	if !d.enqueue(func() { close(done) }) {
		return ErrDispatcherClosed
	}
	<-done
	return nil
}

// Tracked returns the live process of a listener, if any.
func (d *Dispatcher) Tracked(id string) (Process, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tracked[id]
	if !ok || t.proc.Exited() {
		return nil, false
	}
	return t.proc, true
}

// Close runs the jobs already queued, stops the dispatch goroutine and
// abandons pending window waits. Tracked processes keep running.
func (d *Dispatcher) Close() {
	d.qmu.Lock()
	if d.closed {
		d.qmu.Unlock()
		return
	}
	d.closed = true
	d.qmu.Unlock()

	d.signal()
	d.wg.Wait()
}

func (d *Dispatcher) enqueue(job func()) bool {
	d.qmu.Lock()
	if d.closed {
		d.qmu.Unlock()
		return false
	}
	d.queue = append(d.queue, job)
	d.qmu.Unlock()
	d.signal()
	return true
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// run is the dispatch goroutine.
func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		d.qmu.Lock()
		if len(d.queue) == 0 {
			closed := d.closed
			d.qmu.Unlock()
			if closed {
				// Window waiters still running see a cancelled context.
				d.cancel()
				return
			}
			<-d.wake
			continue
		}
		job := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.qmu.Unlock()

		job()
	}
}

// handle applies the decision rule to one payload.
func (d *Dispatcher) handle(cfg config.ListenerConfig, payload string) {
	id := cfg.ID()
	action := Decide(cfg, payload)
	telemetry.RecordMessage(d.ctx, id, payload, action.String())

	switch action {
	case ActionKill:
		d.logger("Listener %s: kill message %q", id, payload)
		d.killTracked(id, "kill")

	case ActionLaunch:
		d.logger("Listener %s: trigger message %q", id, payload)
		d.killTracked(id, "supersede")
		d.launch(cfg)
	}
}

func (d *Dispatcher) launch(cfg config.ListenerConfig) {
	id := cfg.ID()
	p, err := d.ctrl.Launch(cfg)
	if err != nil {
		telemetry.RecordLaunch(d.ctx, id, cfg.Target, 0, err)
		d.logger("Listener %s: %v", id, err)
		return
	}
	telemetry.RecordLaunch(d.ctx, id, cfg.Target, p.Pid(), nil)
	d.logger("Listener %s: launched %s (pid %d)", id, cfg.Target, p.Pid())

	waitCtx, cancelWait := context.WithCancel(d.ctx)
	d.mu.Lock()
	d.tracked[id] = &trackedProcess{proc: p, cancelWait: cancelWait}
	d.mu.Unlock()

	d.wg.Add(1)
	go d.awaitWindow(waitCtx, id, p)
}

// awaitWindow waits for p's window off the dispatch goroutine, then queues
// the foreground call.
func (d *Dispatcher) awaitWindow(ctx context.Context, id string, p Process) {
	defer d.wg.Done()

	start := time.Now()
	h, err := d.ctrl.WaitForWindowReady(ctx, p)
	waitMs := float64(time.Since(start).Milliseconds())
	if err != nil {
		if ctx.Err() != nil {
			// Superseded, killed or shutting down.
			return
		}
		telemetry.RecordForeground(d.ctx, id, p.Pid(), waitMs, err)
		d.logger("Listener %s: %v", id, err)
		return
	}

	d.enqueue(func() {
		if cur, ok := d.Tracked(id); !ok || cur != p {
			return
		}
		err := d.ctrl.Foreground(h)
		telemetry.RecordForeground(d.ctx, id, p.Pid(), waitMs, err)
		if err != nil {
			d.logger("Listener %s: foreground pid %d: %v", id, p.Pid(), err)
			return
		}
		d.logger("Listener %s: pid %d in foreground", id, p.Pid())
	})
}

// killTracked kills the tracked process of id. With nothing alive it does nothing.
func (d *Dispatcher) killTracked(id, reason string) {
	d.mu.Lock()
	t, ok := d.tracked[id]
	delete(d.tracked, id)
	d.mu.Unlock()
	if !ok {
		return
	}

	t.cancelWait()
	if t.proc.Exited() {
		return
	}
	err := d.ctrl.Kill(t.proc)
	telemetry.RecordKill(d.ctx, id, t.proc.Pid(), reason, err)
	if err != nil {
		d.logger("Listener %s: %v", id, err)
		return
	}
	d.logger("Listener %s: killed pid %d (%s)", id, t.proc.Pid(), reason)
}
