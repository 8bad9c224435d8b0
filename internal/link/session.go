package link

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ayusman/pointerlink/internal/log"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateDiscovering
	StateHandshaking
	StateConnected
	StateStreaming
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscovering:
		return "discovering"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrNoDeviceFound is returned when no candidate port answers the greeting.
	ErrNoDeviceFound = errors.New("no device found")
	// ErrEchoMismatch is a non-fatal warning: the device echoed different bytes.
	ErrEchoMismatch = errors.New("echo mismatch")
	// ErrEchoTimeout is a non-fatal warning: the device did not echo in time.
	ErrEchoTimeout = errors.New("echo timeout")
	// ErrNotConnected is returned by Send before a successful Connect.
	ErrNotConnected = errors.New("link not connected")
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("link closed")
)

// LinkError is an I/O failure on the open port. It is fatal for the session.
type LinkError struct {
	Op   string
	Port string
	Err  error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link %s %s: %v", e.Op, e.Port, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

// Config holds handshake and streaming parameters.
type Config struct {
	BaudRate         int
	Greeting         []byte
	Reply            []byte
	HandshakeTimeout time.Duration
	// SettleDelay is waited after opening a candidate; many boards reset on open.
	SettleDelay time.Duration
	Echo        bool
	EchoTimeout time.Duration
}

// DefaultConfig returns the stock firmware settings.
func DefaultConfig() Config {
	return Config{
		BaudRate:         DefaultBaudRate,
		Greeting:         []byte("HELLO\n"),
		Reply:            []byte("HELLO\n"),
		HandshakeTimeout: 2 * time.Second,
		SettleDelay:      2 * time.Second,
		Echo:             true,
		EchoTimeout:      500 * time.Millisecond,
	}
}

// Ack is the result of a successful Send.
type Ack struct {
	Seq     uint64
	Payload []byte
	Echoed  bool
}

// Info is a snapshot of the session for status reporting.
type Info struct {
	State     State  `json:"-"`
	StateName string `json:"state"`
	Port      string `json:"port,omitempty"`
	Candidate string `json:"candidate,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Sent      uint64 `json:"sent"`
	Warnings  uint64 `json:"warnings"`
}

// Session is the single owner of the actuator's serial port.
type Session struct {
	config Config
	enum   Enumerator

	// mu guards state transitions and the fields below.
	mu        sync.Mutex
	state     State
	candidate string
	portName  string
	reason    error
	port      Port
	reader    *lineReader
	released  bool
	sent      uint64
	warnings  uint64

	// sendMu keeps at most one Send in flight.
	sendMu sync.Mutex
}

// NewSession creates an idle session over enum.
func NewSession(config Config, enum Enumerator) *Session {
	def := DefaultConfig()
	if config.BaudRate <= 0 {
		config.BaudRate = def.BaudRate
	}
	if len(config.Greeting) == 0 {
		config.Greeting = def.Greeting
	}
	if len(config.Reply) == 0 {
		config.Reply = def.Reply
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = def.HandshakeTimeout
	}
	if config.EchoTimeout <= 0 {
		config.EchoTimeout = def.EchoTimeout
	}

	return &Session{
		config: config,
		enum:   enum,
		state:  StateIdle,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		State:     s.state,
		StateName: s.state.String(),
		Port:      s.portName,
		Candidate: s.candidate,
		Sent:      s.sent,
		Warnings:  s.warnings,
	}
	if s.reason != nil {
		info.Reason = s.reason.Error()
	}
	return info
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Connect discovers the actuator: each candidate port is opened in enumeration
// order and greeted; the first one that replies with the exact expected token
// is kept. It fails with ErrNoDeviceFound when all candidates are exhausted.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		if st == StateClosed {
			return ErrClosed
		}
		return fmt.Errorf("connect from state %s", st)
	}
	s.state = StateDiscovering
	s.mu.Unlock()

	names, err := s.enum.Ports()
	if err != nil {
		s.fail(fmt.Errorf("%w: %v", ErrNoDeviceFound, err))
		return s.failure()
	}

	log.Info("discovering actuator", "candidates", len(names))

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			s.fail(err)
			return err
		}

		s.mu.Lock()
		if s.state == StateClosed {
			s.mu.Unlock()
			return ErrClosed
		}
		s.state = StateHandshaking
		s.candidate = name
		s.mu.Unlock()

		port, reader, err := s.handshake(ctx, name)
		if err != nil {
			log.Debug("candidate rejected", "port", name, "err", err)
			s.mu.Lock()
			closed := s.state == StateClosed
			if !closed {
				s.state = StateDiscovering
				s.candidate = ""
			}
			s.mu.Unlock()
			if closed {
				return ErrClosed
			}
			continue
		}

		s.mu.Lock()
		if s.state == StateClosed {
			// Closed while handshaking; the candidate is ours to release.
			s.mu.Unlock()
			port.Close()
			return ErrClosed
		}
		s.port = port
		s.reader = reader
		s.portName = name
		s.candidate = ""
		s.state = StateConnected
		s.mu.Unlock()

		log.Info("actuator connected", "port", name)
		return nil
	}

	s.fail(ErrNoDeviceFound)
	return s.failure()
}

// Probe runs the handshake against a single port and releases it.
func (s *Session) Probe(ctx context.Context, name string) error {
	port, _, err := s.handshake(ctx, name)
	if err != nil {
		return err
	}
	return port.Close()
}

// handshake opens name, waits for the board to settle, sends the greeting
// and checks the reply. On any failure the candidate is closed.
func (s *Session) handshake(ctx context.Context, name string) (Port, *lineReader, error) {
	port, err := s.enum.Open(name, s.config.BaudRate)
	if err != nil {
		return nil, nil, err
	}

	if s.config.SettleDelay > 0 {
		t := time.NewTimer(s.config.SettleDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			port.Close()
			return nil, nil, ctx.Err()
		case <-t.C:
		}
	}

	if _, err := port.Write(s.config.Greeting); err != nil {
		port.Close()
		return nil, nil, fmt.Errorf("write greeting: %w", err)
	}

	reader := newLineReader(port)
	reply, err := reader.readLine(ctx, s.config.HandshakeTimeout)
	if err != nil {
		port.Close()
		return nil, nil, fmt.Errorf("await reply: %w", err)
	}

	if !bytes.Equal(reply, s.config.Reply) {
		port.Close()
		return nil, nil, fmt.Errorf("unexpected reply %q", reply)
	}
	if reader.pending() {
		port.Close()
		return nil, nil, fmt.Errorf("unexpected bytes after reply %q", reader.buf)
	}

	return port, reader, nil
}

// Send writes cmd to the actuator. When echo is enabled it waits for the
// device to repeat the line; a mismatch or missing echo is reported as a
// non-fatal ErrEchoMismatch or ErrEchoTimeout and the session keeps
// streaming. Any I/O failure returns a *LinkError and fails the session.
func (s *Session) Send(ctx context.Context, cmd Command) (Ack, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	payload, err := Encode(cmd)
	if err != nil {
		return Ack{}, err
	}

	s.mu.Lock()
	switch s.state {
	case StateConnected:
		s.state = StateStreaming
	case StateStreaming:
	case StateClosed:
		s.mu.Unlock()
		return Ack{}, ErrClosed
	default:
		st := s.state
		s.mu.Unlock()
		return Ack{}, fmt.Errorf("%w (state %s)", ErrNotConnected, st)
	}
	port, reader, name := s.port, s.reader, s.portName
	s.mu.Unlock()

	// A late or partial echo from an earlier command would otherwise be
	// read as this command's echo.
	if err := reader.flush(); err != nil {
		return Ack{}, s.ioFailure("flush", name, err)
	}

	if _, err := port.Write(payload); err != nil {
		return Ack{}, s.ioFailure("write", name, err)
	}

	s.mu.Lock()
	s.sent++
	s.mu.Unlock()

	ack := Ack{Seq: cmd.Seq, Payload: payload}
	if !s.config.Echo {
		return ack, nil
	}

	echo, err := reader.readLine(ctx, s.config.EchoTimeout)
	switch {
	case errors.Is(err, errReadTimeout):
		s.warn()
		return ack, fmt.Errorf("seq %d: %w", cmd.Seq, ErrEchoTimeout)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ack, err
	case err != nil:
		return Ack{}, s.ioFailure("read", name, err)
	}

	if !bytes.Equal(echo, payload) {
		s.warn()
		return ack, fmt.Errorf("seq %d: sent %q got %q: %w", cmd.Seq, payload, echo, ErrEchoMismatch)
	}

	ack.Echoed = true
	return ack, nil
}

func (s *Session) warn() {
	s.mu.Lock()
	s.warnings++
	s.mu.Unlock()
}

func (s *Session) ioFailure(op, name string, err error) error {
	lerr := &LinkError{Op: op, Port: name, Err: err}
	s.fail(lerr)
	return lerr
}

func (s *Session) fail(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = StateFailed
	s.reason = reason
}

func (s *Session) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Close releases the port. It is valid from every state, including Failed,
// and the underlying handle is closed exactly once.
func (s *Session) Close() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	port := s.port
	already := s.released
	s.released = true
	s.port = nil
	s.reader = nil
	prev := s.state
	s.state = StateClosed
	s.mu.Unlock()

	if already || port == nil {
		return nil
	}

	log.Info("actuator link closed", "port", s.portName, "from", prev.String())
	if err := port.Close(); err != nil {
		return fmt.Errorf("close %s: %w", s.portName, err)
	}
	return nil
}
