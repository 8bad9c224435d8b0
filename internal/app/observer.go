package app

import (
	"time"

	"github.com/ayusman/pointerlink/internal/link"
)

// CycleEvent reports how one cycle resolved. Events are delivered in
// cycle order from the pipeline goroutine.
type CycleEvent struct {
	Seq        uint64        `json:"seq"`
	Time       time.Time     `json:"time"`
	Detections int           `json:"detections"`
	Target     *TargetInfo   `json:"target,omitempty"`
	Command    *link.Command `json:"command,omitempty"`
	// Outcome is the journal outcome of a sent command.
	Outcome string `json:"outcome,omitempty"`
	// Skipped names why no command was sent.
	Skipped string `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Sent reports whether the cycle put a command on the wire.
func (e CycleEvent) Sent() bool {
	return e.Command != nil
}

func (e *CycleEvent) setErr(err error) {
	if err != nil {
		e.Error = err.Error()
	}
}

// Observer receives cycle events. OnCycle runs on the pipeline goroutine
// and must not block.
type Observer interface {
	OnCycle(CycleEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(CycleEvent)

func (f ObserverFunc) OnCycle(ev CycleEvent) { f(ev) }
