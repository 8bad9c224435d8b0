package link

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate matches the firmware's Serial.begin rate.
const DefaultBaudRate = 9600

// pollInterval bounds a single blocking read so deadlines and cancellation are honoured.
const pollInterval = 50 * time.Millisecond

// errReadTimeout is returned by readLine when no complete line arrives in time.
var errReadTimeout = errors.New("read timeout")

// Port is an open serial connection.
// A Read that times out returns 0, nil.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	// ResetInputBuffer drops bytes received but not yet read.
	ResetInputBuffer() error
}

// Enumerator lists and opens candidate ports.
type Enumerator interface {
	Ports() ([]string, error)
	Open(name string, baud int) (Port, error)
}

// SerialEnumerator enumerates the host's serial ports.
// When Names is set, only those ports are tried, in that order.
type SerialEnumerator struct {
	Names []string
}

// Ports returns the candidate ports, sorted so that a pass is stable.
func (e SerialEnumerator) Ports() ([]string, error) {
	if len(e.Names) > 0 {
		return append([]string(nil), e.Names...), nil
	}

	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	sort.Strings(ports)
	return ports, nil
}

// Open opens name at 8N1 with the given baud rate.
func (e SerialEnumerator) Open(name string, baud int) (Port, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return p, nil
}

// lineReader accumulates bytes from a Port until a newline arrives.
// Bytes following the newline are kept for the next call.
type lineReader struct {
	port Port
	buf  []byte
}

func newLineReader(p Port) *lineReader {
	return &lineReader{port: p}
}

// pending reports whether bytes past the last line are buffered.
func (r *lineReader) pending() bool {
	return len(r.buf) > 0
}

// flush drops buffered bytes along with anything the port has queued.
func (r *lineReader) flush() error {
	r.buf = r.buf[:0]
	return r.port.ResetInputBuffer()
}

// readLine returns the next line including its trailing newline.
// It gives up with errReadTimeout once timeout has elapsed.
func (r *lineReader) readLine(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	chunk := make([]byte, 64)

	for {
		if i := bytes.IndexByte(r.buf, '\n'); i >= 0 {
			line := append([]byte(nil), r.buf[:i+1]...)
			r.buf = r.buf[i+1:]
			return line, nil
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errReadTimeout
		}
		if err := r.port.SetReadTimeout(min(remaining, pollInterval)); err != nil {
			return nil, fmt.Errorf("set read timeout: %w", err)
		}

		n, err := r.port.Read(chunk)
		if n > 0 {
			r.buf = append(r.buf, chunk[:n]...)
		}
		if err != nil {
			return nil, err
		}
	}
}
