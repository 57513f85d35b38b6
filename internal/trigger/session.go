package trigger

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/steveyegge/netlaunch/internal/config"
	"github.com/steveyegge/netlaunch/internal/telemetry"
)

const (
	// MaxTCPMessage is the size of the single read on an accepted connection.
	// Longer messages are truncated.
	MaxTCPMessage = 4096

	// maxDatagram fits the largest UDP payload.
	maxDatagram = 64 * 1024
)

// Phase is where a session is in its lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStarting
	PhaseListening
	PhaseReceiving
	PhaseDispatching
	PhaseCancelled
	PhaseBindFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStarting:
		return "starting"
	case PhaseListening:
		return "listening"
	case PhaseReceiving:
		return "receiving"
	case PhaseDispatching:
		return "dispatching"
	case PhaseCancelled:
		return "cancelled"
	case PhaseBindFailed:
		return "bind-failed"
	default:
		return "unknown"
	}
}

// Handler receives each decoded payload together with the listener config
// in effect when it arrived. It must not block.
type Handler func(cfg config.ListenerConfig, payload string)

// Session owns one network endpoint for one listener until it is cancelled
// or its transport fails. A Session runs once.
type Session struct {
	id          string
	readTimeout time.Duration
	handler     Handler
	logger      func(format string, args ...interface{})

	mu        sync.Mutex
	cfg       config.ListenerConfig
	phase     Phase
	cancelled bool
	handle    io.Closer // bound PacketConn or Listener
	conn      net.Conn  // TCP connection being read
	addr      net.Addr
	bound     chan struct{}
	boundOnce sync.Once
}

// NewSession creates an idle session for cfg.
func NewSession(cfg config.ListenerConfig, readTimeout time.Duration, handler Handler, logger func(format string, args ...interface{})) *Session {
	if readTimeout <= 0 {
		readTimeout = config.DefaultReadTimeout
	}
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	return &Session{
		id:          uuid.New().String(),
		readTimeout: readTimeout,
		handler:     handler,
		logger:      logger,
		cfg:         cfg,
		bound:       make(chan struct{}),
	}
}

// ID is the unique identifier of this session.
func (s *Session) ID() string {
	return s.id
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Config returns the listener config the session dispatches with.
func (s *Session) Config() config.ListenerConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// UpdateConfig replaces the dispatch fields (trigger, kill suffix, target,
// args) used for payloads received from now on. The endpoint is not rebound.
func (s *Session) UpdateConfig(cfg config.ListenerConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.Protocol = s.cfg.Protocol
	cfg.Address = s.cfg.Address
	cfg.Port = s.cfg.Port
	s.cfg = cfg
}

// Bound is closed once the endpoint is bound.
func (s *Session) Bound() <-chan struct{} {
	return s.bound
}

// Addr returns the bound local address, or nil before binding.
func (s *Session) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Cancel closes the session's socket from outside, unblocking a pending
// receive or accept. It is safe to call at any time and more than once.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	s.closeLocked()
}

func (s *Session) closeLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	if s.handle != nil {
		_ = s.handle.Close()
		s.handle = nil
	}
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

func (s *Session) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Run binds the endpoint and receives until cancelled. It returns nil after a
// cancellation (by Cancel or ctx), a *BindError if the endpoint could not be
// acquired, or a *TransportError if receiving failed. The socket is closed
// before Run returns.
func (s *Session) Run(ctx context.Context) error {
	cfg := s.Config()
	stop := context.AfterFunc(ctx, s.Cancel)
	defer stop()

	s.setPhase(PhaseStarting)
	handle, err := s.bind(ctx, cfg)
	if err != nil {
		if s.isCancelled() {
			s.setPhase(PhaseCancelled)
			return nil
		}
		s.setPhase(PhaseBindFailed)
		return err
	}

	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		_ = handle.Close()
		s.setPhase(PhaseCancelled)
		return nil
	}
	s.handle = handle
	switch h := handle.(type) {
	case net.PacketConn:
		s.addr = h.LocalAddr()
	case net.Listener:
		s.addr = h.Addr()
	}
	s.phase = PhaseListening
	s.mu.Unlock()
	s.boundOnce.Do(func() { close(s.bound) })

	telemetry.RecordSessionStart(ctx, cfg.ID(), s.id, string(cfg.Protocol), s.Addr().String())
	s.logger("Listener %s: %s listening on %s (session %s)", cfg.ID(), cfg.Protocol, s.Addr(), s.id)

	switch h := handle.(type) {
	case net.PacketConn:
		err = s.receiveDatagrams(h)
	case net.Listener:
		err = s.acceptConnections(h)
	}

	s.mu.Lock()
	s.closeLocked()
	s.mu.Unlock()

	telemetry.RecordSessionStop(context.WithoutCancel(ctx), cfg.ID(), s.id, err)
	if err != nil {
		return err
	}
	s.setPhase(PhaseCancelled)
	return nil
}

func (s *Session) bind(ctx context.Context, cfg config.ListenerConfig) (io.Closer, error) {
	var lc net.ListenConfig
	endpoint := cfg.Endpoint()
	switch cfg.Protocol {
	case config.ProtocolUDP:
		pc, err := lc.ListenPacket(ctx, "udp", endpoint)
		if err != nil {
			return nil, &BindError{Protocol: string(cfg.Protocol), Address: endpoint, Err: err}
		}
		return pc, nil
	case config.ProtocolTCP:
		ln, err := lc.Listen(ctx, "tcp", endpoint)
		if err != nil {
			return nil, &BindError{Protocol: string(cfg.Protocol), Address: endpoint, Err: err}
		}
		return ln, nil
	default:
		return nil, &BindError{Protocol: string(cfg.Protocol), Address: endpoint, Err: errors.New("unsupported protocol")}
	}
}

// classify maps an error from a blocking network call. Errors caused by our
// own close count as cancellation and yield nil.
func (s *Session) classify(op string, err error) error {
	if s.isCancelled() || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return &TransportError{Op: op, Err: err}
}

func (s *Session) receiveDatagrams(pc net.PacketConn) error {
	buf := make([]byte, maxDatagram)
	for {
		s.setPhase(PhaseReceiving)
		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			return s.classify("receive", err)
		}
		s.deliver(buf[:n], from)
	}
}

func (s *Session) acceptConnections(ln net.Listener) error {
	buf := make([]byte, MaxTCPMessage)
	for {
		s.setPhase(PhaseReceiving)
		conn, err := ln.Accept()
		if err != nil {
			return s.classify("accept", err)
		}

		n, err := s.readOnce(conn, buf)
		if err != nil {
			if s.isCancelled() {
				return nil
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				s.logger("Listener %s: no message from %s within %v", s.Config().ID(), conn.RemoteAddr(), s.readTimeout)
				continue
			}
			return &TransportError{Op: "read", Err: err}
		}
		if n == 0 {
			continue
		}
		s.deliver(buf[:n], conn.RemoteAddr())
	}
}

// readOnce reads a single message from conn and closes it. A peer that
// closes without sending yields n == 0 and no error.
func (s *Session) readOnce(conn net.Conn, buf []byte) (int, error) {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		_ = conn.Close()
		return 0, net.ErrClosed
	}
	s.conn = conn
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		_ = conn.Close()
	}()

	if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
		return 0, err
	}
	n, err := conn.Read(buf)
	if n > 0 || errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}

// deliver decodes payload and hands it to the handler. The handler gets its
// own copy of the bytes.
func (s *Session) deliver(payload []byte, from net.Addr) {
	cfg := s.Config()
	if !utf8.Valid(payload) {
		s.logger("Listener %s: ignoring %d bytes from %s: %v", cfg.ID(), len(payload), from, ErrMalformedPayload)
		return
	}
	s.setPhase(PhaseDispatching)
	s.handler(cfg, string(payload))
}
