package link

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"
)

// SimPort is an in-memory Port that plays the device side of the protocol.
// Respond is called with every write and its return value becomes readable.
type SimPort struct {
	Name    string
	Respond func(written []byte) []byte

	// WriteErr and ReadErr, when set, fail the matching operation.
	WriteErr error
	ReadErr  error

	mu       sync.Mutex
	cond     *sync.Cond
	inbox    bytes.Buffer
	written  [][]byte
	timeout  time.Duration
	closed   bool
	closeCnt int
}

// NewSimPort creates a port named name with the given responder.
func NewSimPort(name string, respond func([]byte) []byte) *SimPort {
	p := &SimPort{Name: name, Respond: respond}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// HelloResponder answers the greeting with reply and echoes everything else.
func HelloResponder(reply string) func([]byte) []byte {
	return func(w []byte) []byte {
		if bytes.Equal(w, []byte("HELLO\n")) {
			return []byte(reply)
		}
		return w
	}
}

// Write records p and queues the responder's answer.
func (p *SimPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, errors.New("port closed")
	}
	if p.WriteErr != nil {
		return 0, p.WriteErr
	}

	p.written = append(p.written, append([]byte(nil), b...))
	if p.Respond != nil {
		if resp := p.Respond(b); len(resp) > 0 {
			p.inbox.Write(resp)
			p.cond.Broadcast()
		}
	}
	return len(b), nil
}

// Read returns queued bytes, or 0, nil once the read timeout passes.
func (p *SimPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ReadErr != nil {
		return 0, p.ReadErr
	}

	deadline := time.Now().Add(p.timeout)
	for p.inbox.Len() == 0 && !p.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, nil
		}
		timer := time.AfterFunc(remaining, func() {
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		})
		p.cond.Wait()
		timer.Stop()
	}

	if p.closed {
		return 0, errors.New("port closed")
	}
	return p.inbox.Read(b)
}

// SetReadTimeout sets how long Read waits for data.
func (p *SimPort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = t
	return nil
}

// ResetInputBuffer drops queued bytes that were not read yet.
func (p *SimPort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("port closed")
	}
	p.inbox.Reset()
	return nil
}

// Inject queues b as if the device sent it unprompted.
func (p *SimPort) Inject(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inbox.Write(b)
	p.cond.Broadcast()
}

// Close marks the port closed.
func (p *SimPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.closeCnt++
	p.cond.Broadcast()
	return nil
}

// FailWrites makes every later Write return err.
func (p *SimPort) FailWrites(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.WriteErr = err
}

// Written returns a copy of every write, in order.
func (p *SimPort) Written() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.written))
	copy(out, p.written)
	return out
}

// CloseCount reports how many times Close was called.
func (p *SimPort) CloseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCnt
}

// SimEnumerator serves SimPorts in a fixed order.
type SimEnumerator struct {
	mu    sync.Mutex
	order []string
	ports map[string]*SimPort
	opens map[string]int
}

// NewSimEnumerator returns an enumerator over ports in the given order.
func NewSimEnumerator(ports ...*SimPort) *SimEnumerator {
	e := &SimEnumerator{
		ports: make(map[string]*SimPort),
		opens: make(map[string]int),
	}
	for _, p := range ports {
		e.order = append(e.order, p.Name)
		e.ports[p.Name] = p
	}
	return e
}

// Ports lists the port names in enumeration order.
func (e *SimEnumerator) Ports() ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.order...), nil
}

// Open returns the named port.
func (e *SimEnumerator) Open(name string, baud int) (Port, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.ports[name]
	if !ok {
		return nil, fmt.Errorf("open %s: no such port", name)
	}
	e.opens[name]++
	return p, nil
}

// Opens reports how many times name was opened.
func (e *SimEnumerator) Opens(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opens[name]
}
