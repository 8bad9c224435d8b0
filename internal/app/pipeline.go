package app

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/ayusman/pointerlink/internal/capture"
	"github.com/ayusman/pointerlink/internal/link"
	"github.com/ayusman/pointerlink/internal/log"
	"github.com/ayusman/pointerlink/internal/store"
	"github.com/ayusman/pointerlink/internal/target"
	"github.com/ayusman/pointerlink/internal/worker"
)

// Skip reasons reported on cycles that sent nothing.
const (
	SkipCapture       = "capture_failed"
	SkipNoMotion      = "no_motion"
	SkipDetectTimeout = "detect_timeout"
	SkipDetectError   = "detect_error"
	SkipNoTarget      = "no_target"
	SkipMapping       = "mapping_failed"
	SkipOutOfRange    = "out_of_range"
	SkipDisabled      = "disabled"
)

// detection is what a worker hands back for one frame.
type detection struct {
	count  int
	found  bool
	target target.Target
	frame  target.Size
}

// cycle is a captured frame whose result is still owed to the resolver.
type cycle struct {
	seq      uint64
	captured time.Time
	future   *worker.Future[detection]
	// skip is set for cycles that never reached a worker.
	skip string
	err  error
}

// loop runs cycles until a stop is requested or the link fails. Detection
// runs on the pool; results are resolved strictly in capture order, so the
// command stream is the same as a sequential run would produce.
func (a *App) loop(ctx context.Context) {
	var (
		pending []cycle
		seq     uint64
		fatal   error
	)

	resolveOldest := func() bool {
		c := pending[0]
		pending = pending[1:]
		if err := a.resolve(ctx, c); err != nil {
			fatal = err
			return false
		}
		return true
	}

run:
	for !a.stopping() {
		start := time.Now()
		seq++
		a.stats.tick(start)

		c := a.capture(ctx, seq, start)
		pending = append(pending, c)

		// A cycle that never reached a worker settles everything still owed.
		limit := a.config.Lookahead
		if c.future == nil {
			limit = 0
		}
		for len(pending) > limit {
			if a.stopping() {
				break run
			}
			if !resolveOldest() {
				break run
			}
		}

		if errors.Is(c.err, capture.ErrReleased) {
			break
		}
		a.pace(start)
	}

	if fatal != nil {
		log.Error("actuator link failed, stopping pipeline", "err", fatal)
		a.requestStop()
	}
	a.shutdown(pending, fatal)
}

// capture grabs one frame and hands it to the pool.
func (a *App) capture(ctx context.Context, seq uint64, start time.Time) cycle {
	c := cycle{seq: seq, captured: start}

	frame, err := a.config.Source.Capture(ctx)
	if err != nil {
		log.Warn("capture failed", "seq", seq, "err", err)
		c.skip, c.err = SkipCapture, err
		return c
	}
	frame.Seq = seq

	if a.gate != nil && !frame.Mat.Empty() {
		if ok, pct := a.gate.Check(&frame.Mat); !ok {
			log.Debug("frame gated", "seq", seq, "changed_pct", pct)
			frame.Close()
			c.skip = SkipNoMotion
			return c
		}
	}

	// Workers stuck in a hung detector fill the queue; a stop request must
	// still get through.
	f, err := a.pool.Submit(a.stopCtx, func() (detection, error) {
		return a.detect(frame)
	})
	if err != nil {
		frame.Close()
		c.skip, c.err = SkipDetectError, err
		return c
	}
	c.future = f
	return c
}

// detect runs on a worker and owns frame until it returns.
func (a *App) detect(frame *capture.Frame) (detection, error) {
	defer frame.Close()

	dets, err := a.config.Detector.Detect(&frame.Mat)
	if err != nil {
		return detection{}, err
	}
	if a.config.Marker != nil && len(dets) > 0 {
		a.config.Marker.Mark(&frame.Mat, dets)
	}

	res := detection{
		count: len(dets),
		frame: target.Size{W: frame.Width(), H: frame.Height()},
	}
	res.target, res.found = a.config.Policy.Select(dets)
	return res, nil
}

// resolve turns a cycle's detection into at most one command. Only a link
// failure is returned; every other problem skips the cycle.
func (a *App) resolve(ctx context.Context, c cycle) error {
	ev := CycleEvent{Seq: c.seq, Time: time.Now()}
	defer func() {
		a.stats.resolved(ev, time.Since(c.captured))
		a.emit(ev)
		a.report()
	}()

	if c.future == nil {
		ev.Skipped = c.skip
		ev.setErr(c.err)
		return nil
	}

	res, err := c.future.AwaitContext(a.stopCtx, a.config.DetectTimeout)
	switch {
	case errors.Is(err, context.Canceled):
		log.Debug("detection abandoned on stop", "seq", c.seq)
		ev.Skipped = SkipDetectError
		ev.setErr(err)
		return nil
	case errors.Is(err, worker.ErrTimeout):
		log.Warn("detection timed out", "seq", c.seq, "timeout", a.config.DetectTimeout)
		ev.Skipped = SkipDetectTimeout
		return nil
	case err != nil:
		log.Warn("detection failed", "seq", c.seq, "err", err)
		ev.Skipped = SkipDetectError
		ev.setErr(err)
		return nil
	}

	ev.Detections = res.count
	if !res.found {
		ev.Skipped = SkipNoTarget
		return nil
	}

	mapped, err := a.mapper.Map(res.target.Anchor, res.frame)
	if err != nil {
		log.Warn("mapping failed", "seq", c.seq, "frame", res.frame.String(), "err", err)
		ev.Skipped = SkipMapping
		ev.setErr(err)
		return nil
	}

	info := newTargetInfo(c.seq, res.target, mapped)
	ev.Target = &info

	a.mu.Lock()
	a.lastTarget = &info
	enabled := a.enabled
	current := a.position
	a.mu.Unlock()

	if !enabled {
		ev.Skipped = SkipDisabled
		return nil
	}

	cmd := link.Command{
		Seq:     c.seq,
		Current: link.Position{X: current.X, Y: current.Y},
		Target:  link.Position{X: mapped.X, Y: mapped.Y},
	}

	_, err = a.config.Link.Send(ctx, cmd)
	var outcome store.Outcome
	switch {
	case err == nil:
		outcome = store.OutcomeOK
	case errors.Is(err, link.ErrEchoMismatch):
		log.Warn("echo mismatch", "seq", c.seq, "err", err)
		outcome = store.OutcomeEchoMismatch
	case errors.Is(err, link.ErrEchoTimeout):
		log.Warn("echo timeout", "seq", c.seq)
		outcome = store.OutcomeEchoTimeout
	case errors.Is(err, link.ErrCoordinateRange):
		log.Warn("command out of range", "seq", c.seq, "target", mapped)
		ev.Skipped = SkipOutOfRange
		ev.setErr(err)
		return nil
	default:
		outcome = store.OutcomeLinkError
	}

	ev.Command = &cmd
	ev.Outcome = string(outcome)
	a.journal(cmd, outcome)

	if outcome == store.OutcomeLinkError {
		ev.setErr(err)
		return err
	}

	ev.setErr(err)
	a.mu.Lock()
	a.position = mapped
	a.mu.Unlock()
	return nil
}

func (a *App) journal(cmd link.Command, outcome store.Outcome) {
	id := a.RunID()
	if id == "" {
		return
	}
	err := a.config.Store.Actuations().Record(&store.Actuation{
		RunID:    id,
		Seq:      cmd.Seq,
		CurrentX: cmd.Current.X,
		CurrentY: cmd.Current.Y,
		TargetX:  cmd.Target.X,
		TargetY:  cmd.Target.Y,
		Outcome:  outcome,
	})
	if err != nil {
		log.Warn("journal actuation failed", "seq", cmd.Seq, "err", err)
	}
}

func (a *App) emit(ev CycleEvent) {
	a.mu.RLock()
	observers := make([]Observer, len(a.observers))
	copy(observers, a.observers)
	a.mu.RUnlock()

	for _, o := range observers {
		o.OnCycle(ev)
	}
}

// report logs cadence every ReportEvery resolved cycles.
func (a *App) report() {
	snap := a.stats.Snapshot()
	if snap.Cycles == 0 || snap.Cycles%uint64(a.config.ReportEvery) != 0 {
		return
	}
	info := a.config.Link.Info()
	log.Info("pipeline cadence",
		"cycles", snap.Cycles,
		"commands", snap.Commands,
		"skipped", snap.Skipped,
		"hz", snap.CadenceHz,
		"latency", snap.MeanLatency,
		"link", info.StateName,
		"echo_warnings", info.Warnings,
	)
}

// pace sleeps out the rest of MinInterval, waking early on stop.
func (a *App) pace(start time.Time) {
	rem := a.config.MinInterval - time.Since(start)
	if rem <= 0 {
		return
	}
	t := time.NewTimer(rem)
	defer t.Stop()
	select {
	case <-t.C:
	case <-a.stopCh:
	}
}

// shutdown drains outstanding work, discarding results, then releases
// resources: link first, then the capture source, then detection state.
func (a *App) shutdown(pending []cycle, fatal error) {
	drainCtx, cancel := context.WithTimeout(context.Background(), a.config.DrainTimeout)
	defer cancel()

	discarded := 0
	for _, c := range pending {
		if c.future == nil {
			continue
		}
		select {
		case <-c.future.Done():
		case <-drainCtx.Done():
		}
		discarded++
	}
	if discarded > 0 {
		log.Debug("discarded in-flight detections", "count", discarded)
	}

	if err := a.pool.Shutdown(drainCtx); err != nil {
		log.Warn("detection workers still busy at shutdown", "err", err)
	}

	a.finish(fatal)
}

// TargetInfo describes the target chosen in one cycle.
type TargetInfo struct {
	Seq        uint64          `json:"seq"`
	Label      string          `json:"label"`
	Confidence float64         `json:"confidence"`
	Marked     bool            `json:"marked"`
	Box        image.Rectangle `json:"box"`
	Anchor     target.Point    `json:"anchor"`
	Mapped     target.Point    `json:"mapped"`
}

func newTargetInfo(seq uint64, t target.Target, mapped target.Point) TargetInfo {
	return TargetInfo{
		Seq:        seq,
		Label:      t.Detection.Label,
		Confidence: t.Detection.Confidence,
		Marked:     t.Detection.Marked,
		Box:        t.Detection.Box,
		Anchor:     t.Anchor,
		Mapped:     mapped,
	}
}
