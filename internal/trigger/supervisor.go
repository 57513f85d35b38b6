package trigger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/steveyegge/netlaunch/internal/config"
	"github.com/steveyegge/netlaunch/internal/telemetry"
)

// ErrUnknownListener is returned for operations on a listener the supervisor
// does not run.
var ErrUnknownListener = errors.New("unknown listener")

// listener is the supervisor's record of one configured listener.
type listener struct {
	cfg      config.ListenerConfig
	session  *Session
	stopped  bool
	restarts int
	lastErr  error
	wake     chan struct{}
	done     chan struct{}
}

// ListenerStatus is a snapshot of one supervised listener.
type ListenerStatus struct {
	ID           string        `json:"id"`
	Protocol     string        `json:"protocol"`
	Endpoint     string        `json:"endpoint"`
	Trigger      string        `json:"trigger"`
	Target       string        `json:"target"`
	Phase        string        `json:"phase"`
	SessionID    string        `json:"session_id,omitempty"`
	Restarts     int           `json:"restarts"`
	LastError    string        `json:"last_error,omitempty"`
	BindFailures int           `json:"bind_failures,omitempty"`
	Backoff      time.Duration `json:"backoff,omitempty"`
}

// ApplyResult lists the listener IDs affected by Apply.
type ApplyResult struct {
	Started   []string
	Stopped   []string
	Restarted []string
	Updated   []string
}

// Supervisor keeps one session running per enabled listener. A session that
// ends by cancellation or a transport error is replaced immediately; one that
// could not bind is retried after an exponential backoff.
type Supervisor struct {
	handler     Handler
	readTimeout time.Duration
	backoff     *BindBackoff
	logger      func(format string, args ...interface{})

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	running   bool
	listeners map[string]*listener
}

// NewSupervisor creates a running supervisor with no listeners. Payloads are
// passed to handler, usually (*Dispatcher).Dispatch.
func NewSupervisor(daemon config.DaemonConfig, handler Handler, logger func(format string, args ...interface{})) *Supervisor {
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		handler:     handler,
		readTimeout: daemon.ReadTimeout,
		backoff:     NewBindBackoff(daemon.BindBackoffInitial, daemon.BindBackoffMax),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		running:     true,
		listeners:   make(map[string]*listener),
	}
}

// Start begins supervising cfg. Disabled listeners are ignored.
func (s *Supervisor) Start(cfg config.ListenerConfig) error {
	if !cfg.ShouldListen() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(cfg)
}

func (s *Supervisor) startLocked(cfg config.ListenerConfig) error {
	if !s.running {
		return errors.New("supervisor is shut down")
	}
	id := cfg.ID()
	if _, ok := s.listeners[id]; ok {
		return fmt.Errorf("listener %s already running", id)
	}
	l := &listener{
		cfg:  cfg,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	s.listeners[id] = l
	s.wg.Add(1)
	go s.supervise(id, l)
	return nil
}

// supervise runs sessions for one listener until it is stopped or the
// supervisor shuts down.
func (s *Supervisor) supervise(id string, l *listener) {
	defer s.wg.Done()
	defer close(l.done)

	for {
		s.mu.Lock()
		if !s.running || l.stopped {
			s.mu.Unlock()
			return
		}
		session := NewSession(l.cfg, s.readTimeout, s.handler, s.logger)
		l.session = session
		s.mu.Unlock()

		// A wake meant for the previous session must not cut a later backoff short.
		select {
		case <-l.wake:
		default:
		}

		err := session.Run(s.ctx)

		s.mu.Lock()
		l.lastErr = err
		wanted := s.running && !l.stopped
		s.mu.Unlock()
		if !wanted {
			s.logger("Listener %s: stopped", id)
			return
		}

		if IsBindError(err) {
			delay := s.backoff.RecordFailure(id, err)
			telemetry.RecordBindFailure(s.ctx, id, session.Config().Endpoint(), delay.Milliseconds(), err)
			s.logger("Listener %s: %v (retrying in %v)", id, err, delay)
			timer := time.NewTimer(delay)
			select {
			case <-s.ctx.Done():
				timer.Stop()
				return
			case <-l.wake:
				timer.Stop()
			case <-timer.C:
			}
			continue
		}

		s.backoff.RecordSuccess(id)
		if err != nil {
			s.logger("Listener %s: %v, restarting", id, err)
		} else {
			s.logger("Listener %s: session %s cancelled, restarting", id, session.ID())
		}
		s.mu.Lock()
		l.restarts++
		s.mu.Unlock()
	}
}

// RequestReconnect cancels the current session of one listener. The
// supervisor starts a fresh session for it right away, skipping any pending
// bind backoff.
func (s *Supervisor) RequestReconnect(id string) error {
	s.mu.Lock()
	l, ok := s.listeners[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownListener, id)
	}
	s.reconnectLocked(l)
	s.mu.Unlock()

	telemetry.RecordReconnect(s.ctx, id, "requested")
	return nil
}

// reconnectLocked ends l's current session and cuts a pending backoff short,
// so its restart loop binds again immediately.
func (s *Supervisor) reconnectLocked(l *listener) {
	if l.session != nil {
		l.session.Cancel()
	}
	signal(l.wake)
}

// Stop permanently stops one listener and waits for its session to release
// the endpoint.
func (s *Supervisor) Stop(id string) error {
	s.mu.Lock()
	l, ok := s.listeners[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownListener, id)
	}
	s.stopLocked(id, l)
	s.mu.Unlock()

	<-l.done
	return nil
}

func (s *Supervisor) stopLocked(id string, l *listener) {
	l.stopped = true
	if l.session != nil {
		l.session.Cancel()
	}
	signal(l.wake)
	delete(s.listeners, id)
	s.backoff.RecordSuccess(id)
}

// Apply moves the supervisor to a new listener table. Listeners that are new
// or newly enabled start, removed or disabled ones stop, endpoint changes
// restart the session, and dispatch-only changes are applied in place.
func (s *Supervisor) Apply(cfgs []config.ListenerConfig) (ApplyResult, error) {
	var res ApplyResult
	wanted := make(map[string]config.ListenerConfig, len(cfgs))
	for _, cfg := range cfgs {
		if cfg.ShouldListen() {
			wanted[cfg.ID()] = cfg
		}
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return res, errors.New("supervisor is shut down")
	}
	var waitFor []*listener
	for id, l := range s.listeners {
		if _, ok := wanted[id]; !ok {
			s.stopLocked(id, l)
			waitFor = append(waitFor, l)
			res.Stopped = append(res.Stopped, id)
		}
	}
	s.mu.Unlock()

	// A removed session may still be binding, so its endpoint is only free
	// once its loop has exited. Nothing new starts before that.
	for _, l := range waitFor {
		<-l.done
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		sortResult(&res)
		return res, errors.New("supervisor is shut down")
	}
	var errs []error
	for _, cfg := range cfgs {
		id := cfg.ID()
		if _, ok := wanted[id]; !ok {
			continue
		}
		l, ok := s.listeners[id]
		if !ok {
			if err := s.startLocked(cfg); err != nil {
				errs = append(errs, err)
				continue
			}
			res.Started = append(res.Started, id)
			continue
		}

		restart := config.NeedsRestart(l.cfg, cfg)
		l.cfg = cfg
		switch {
		case restart:
			s.reconnectLocked(l)
			res.Restarted = append(res.Restarted, id)
		case l.session != nil:
			l.session.UpdateConfig(cfg)
			res.Updated = append(res.Updated, id)
		default:
			res.Updated = append(res.Updated, id)
		}
	}
	s.mu.Unlock()

	for _, id := range res.Restarted {
		telemetry.RecordReconnect(s.ctx, id, "config")
	}
	sortResult(&res)
	return res, errors.Join(errs...)
}

func sortResult(res *ApplyResult) {
	sort.Strings(res.Started)
	sort.Strings(res.Stopped)
	sort.Strings(res.Restarted)
	sort.Strings(res.Updated)
}

// Shutdown stops every listener and waits until all sockets are closed. No
// session is restarted afterwards.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	s.running = false
	for _, l := range s.listeners {
		l.stopped = true
		if l.session != nil {
			l.session.Cancel()
		}
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// Status returns a snapshot of every listener, sorted by ID.
func (s *Supervisor) Status() []ListenerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ListenerStatus, 0, len(s.listeners))
	for id, l := range s.listeners {
		st := ListenerStatus{
			ID:       id,
			Protocol: string(l.cfg.Protocol),
			Endpoint: l.cfg.Endpoint(),
			Trigger:  l.cfg.Trigger,
			Target:   l.cfg.Target,
			Phase:    PhaseIdle.String(),
			Restarts: l.restarts,
		}
		if l.session != nil {
			phase := l.session.Phase()
			st.Phase = phase.String()
			st.SessionID = l.session.ID()
			if phase == PhaseBindFailed {
				if f := s.backoff.Status(id); f != nil {
					st.BindFailures = f.Count
					st.Backoff = s.backoff.Delay(id)
				}
			}
		}
		if l.lastErr != nil {
			st.LastError = l.lastErr.Error()
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// signal does a non-blocking send on a wake channel.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
