// Package app drives the capture, detect, select, map and actuate cycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ayusman/pointerlink/internal/capture"
	"github.com/ayusman/pointerlink/internal/detector"
	"github.com/ayusman/pointerlink/internal/link"
	"github.com/ayusman/pointerlink/internal/log"
	"github.com/ayusman/pointerlink/internal/store"
	"github.com/ayusman/pointerlink/internal/target"
	"github.com/ayusman/pointerlink/internal/worker"
)

// Pipeline defaults.
const (
	DefaultWorkers      = 4
	DefaultLookahead    = 1
	DefaultMinInterval  = 100 * time.Millisecond
	DefaultDrainTimeout = 2 * time.Second
	DefaultReportEvery  = 50
)

// ErrAlreadyRunning is returned by Start on an app that was already started.
var ErrAlreadyRunning = errors.New("pipeline already started")

// State is the pipeline run state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FrameSource produces frames. *capture.Source implements it.
type FrameSource interface {
	Capture(ctx context.Context) (*capture.Frame, error)
	Release()
}

// Actuator is the link to the device. *link.Session implements it.
type Actuator interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, cmd link.Command) (link.Ack, error)
	Close() error
	Info() link.Info
}

// Config holds the pipeline's collaborators and settings.
type Config struct {
	Source   FrameSource
	Detector detector.Detector
	// Marker is optional; without it no detection is marked.
	Marker detector.Marker
	Policy target.Policy
	Link   Actuator
	// Store is optional; when set every run and command is journaled.
	Store *store.Store
	// TargetName describes the capture target in the journal.
	TargetName string

	ActuatorSize target.Size
	// InitialPosition defaults to the center of the actuator space.
	InitialPosition *target.Point

	Workers   int
	Lookahead int
	// MinInterval is the shortest allowed cycle; faster cycles sleep the rest.
	MinInterval time.Duration
	// DetectTimeout bounds the wait for a detection result; zero waits forever.
	DetectTimeout time.Duration
	DrainTimeout  time.Duration
	ReportEvery   int
	// MotionThreshold enables the motion gate when positive (percent of pixels).
	MotionThreshold float64
	// Disabled starts the pipeline without sending commands.
	Disabled bool
}

// App orchestrates the pipeline.
type App struct {
	config Config
	mapper *target.Mapper
	gate   *capture.MotionGate
	pool   *worker.Pool[detection]

	mu         sync.RWMutex
	state      State
	enabled    bool
	runID      string
	position   target.Point
	lastTarget *TargetInfo
	runErr     error
	observers  []Observer

	stats *Stats

	stopOnce sync.Once
	stopCh   chan struct{}
	// stopCtx is cancelled together with stopCh so blocking calls can
	// select on the stop flag.
	stopCtx    context.Context
	cancelStop context.CancelFunc
	done       chan struct{}
}

// New validates config and creates an idle App. Zero actuator dimensions
// fail here with target.ErrInvalidDimensions, never per cycle.
func New(config Config) (*App, error) {
	switch {
	case config.Source == nil:
		return nil, errors.New("app: frame source is required")
	case config.Detector == nil:
		return nil, errors.New("app: detector is required")
	case config.Policy == nil:
		return nil, errors.New("app: selection policy is required")
	case config.Link == nil:
		return nil, errors.New("app: actuator link is required")
	}

	mapper, err := target.NewMapper(config.ActuatorSize)
	if err != nil {
		return nil, err
	}
	if config.ActuatorSize.W > link.MaxCoordinate+1 || config.ActuatorSize.H > link.MaxCoordinate+1 {
		return nil, fmt.Errorf("actuator size %v exceeds wire range: %w", config.ActuatorSize, link.ErrCoordinateRange)
	}

	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.Lookahead < 0 {
		config.Lookahead = DefaultLookahead
	}
	if config.Lookahead >= config.Workers {
		config.Lookahead = config.Workers - 1
	}
	if config.MinInterval < 0 {
		config.MinInterval = 0
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultDrainTimeout
	}
	if config.ReportEvery <= 0 {
		config.ReportEvery = DefaultReportEvery
	}

	position := target.Point{X: config.ActuatorSize.W / 2, Y: config.ActuatorSize.H / 2}
	if config.InitialPosition != nil {
		position = *config.InitialPosition
	}
	if position.X < 0 || position.Y < 0 || position.X > link.MaxCoordinate || position.Y > link.MaxCoordinate {
		return nil, fmt.Errorf("initial position %v: %w", position, link.ErrCoordinateRange)
	}

	a := &App{
		config:   config,
		mapper:   mapper,
		state:    StateIdle,
		enabled:  !config.Disabled,
		position: position,
		stats:    newStats(),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	a.stopCtx, a.cancelStop = context.WithCancel(context.Background())
	if config.MotionThreshold > 0 {
		a.gate = capture.NewMotionGate(config.MotionThreshold)
	}
	return a, nil
}

// Start connects the actuator and launches the cycle loop. A discovery
// failure aborts before the loop ever runs.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateIdle {
		a.mu.Unlock()
		return ErrAlreadyRunning
	}
	a.state = StateRunning
	a.mu.Unlock()

	if a.config.Store != nil {
		run := &store.Run{Backend: a.config.Detector.Name(), Target: a.config.TargetName}
		if err := a.config.Store.Runs().Start(run); err != nil {
			log.Warn("journal unavailable", "err", err)
		} else {
			a.mu.Lock()
			a.runID = run.ID
			a.mu.Unlock()
		}
	}

	if err := a.config.Link.Connect(ctx); err != nil {
		log.Error("actuator discovery failed", "err", err)
		a.finish(err)
		return err
	}

	info := a.config.Link.Info()
	if id := a.RunID(); id != "" {
		if err := a.config.Store.Runs().SetPort(id, info.Port); err != nil {
			log.Warn("journal port update failed", "err", err)
		}
	}

	a.pool = worker.NewPool[detection](a.config.Workers)

	// The loop ends only through Stop or a fatal link error, not through ctx.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		defer cancel()
		a.loop(loopCtx)
	}()

	log.Info("pipeline started",
		"port", info.Port,
		"detector", a.config.Detector.Name(),
		"actuator", a.config.ActuatorSize.String(),
		"workers", a.config.Workers,
		"lookahead", a.config.Lookahead,
		"min_interval", a.config.MinInterval,
	)
	return nil
}

// Run starts the pipeline and blocks until it stops. Cancelling ctx is
// turned into an explicit stop request. The returned error is the fatal
// error that ended the run, if any.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	go func() {
		select {
		case <-ctx.Done():
			log.Info("stop requested", "reason", context.Cause(ctx))
			a.requestStop()
		case <-a.done:
		}
	}()

	return a.Wait()
}

// Stop requests a stop and waits until the pipeline has shut down.
func (a *App) Stop() {
	a.mu.Lock()
	if a.state == StateIdle {
		a.state = StateStopped
		a.mu.Unlock()
		a.requestStop()
		a.config.Link.Close()
		a.config.Source.Release()
		a.closeResources()
		close(a.done)
		return
	}
	a.mu.Unlock()

	a.requestStop()
	<-a.done
}

// Wait blocks until the pipeline has stopped and returns its fatal error.
func (a *App) Wait() error {
	<-a.done
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.runErr
}

// Done is closed once the pipeline has fully stopped.
func (a *App) Done() <-chan struct{} {
	return a.done
}

func (a *App) requestStop() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		if a.state == StateRunning {
			a.state = StateStopping
		}
		a.mu.Unlock()
		a.closeStop()
	})
}

func (a *App) closeStop() {
	close(a.stopCh)
	a.cancelStop()
}

func (a *App) stopping() bool {
	select {
	case <-a.stopCh:
		return true
	default:
		return false
	}
}

// finish releases everything in order and marks the pipeline stopped.
// Callers must have drained detection work already.
func (a *App) finish(runErr error) {
	if err := a.config.Link.Close(); err != nil {
		log.Warn("close actuator link", "err", err)
	}
	a.config.Source.Release()
	a.closeResources()

	snap := a.stats.Snapshot()
	if id := a.RunID(); id != "" {
		status := store.RunStopped
		if runErr != nil {
			status = store.RunFailed
		}
		if err := a.config.Store.Runs().Finish(id, status, runErr, int64(snap.Cycles), int64(snap.Commands)); err != nil {
			log.Warn("journal finish failed", "err", err)
		}
	}

	a.mu.Lock()
	a.runErr = runErr
	a.state = StateStopped
	a.mu.Unlock()
	a.stopOnce.Do(a.closeStop)

	log.Info("pipeline stopped", "cycles", snap.Cycles, "commands", snap.Commands, "err", runErr)
	close(a.done)
}

func (a *App) closeResources() {
	if a.gate != nil {
		a.gate.Close()
	}
	if err := a.config.Detector.Close(); err != nil {
		log.Warn("close detector", "err", err)
	}
}

// State returns the current pipeline state.
func (a *App) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// SetEnabled enables or disables sending commands. Capture and detection
// keep running while disabled.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
	log.Info("actuation toggled", "enabled", enabled)
}

// IsEnabled returns whether commands are being sent.
func (a *App) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// RunID returns the journal ID of the current run, or "".
func (a *App) RunID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.runID
}

// Position returns the last commanded actuator position.
func (a *App) Position() target.Point {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.position
}

// LastTarget returns the most recent selected target, if any.
func (a *App) LastTarget() (TargetInfo, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.lastTarget == nil {
		return TargetInfo{}, false
	}
	return *a.lastTarget, true
}

// Stats returns a cadence and counter snapshot.
func (a *App) Stats() StatsSnapshot {
	return a.stats.Snapshot()
}

// Status is a point-in-time view of the whole pipeline.
type Status struct {
	State      string        `json:"state"`
	Enabled    bool          `json:"enabled"`
	RunID      string        `json:"run_id,omitempty"`
	Position   target.Point  `json:"position"`
	LastTarget *TargetInfo   `json:"last_target,omitempty"`
	Link       link.Info     `json:"link"`
	Stats      StatsSnapshot `json:"stats"`
}

// Status returns the current status.
func (a *App) Status() Status {
	a.mu.RLock()
	st := Status{
		State:    a.state.String(),
		Enabled:  a.enabled,
		RunID:    a.runID,
		Position: a.position,
	}
	if a.lastTarget != nil {
		t := *a.lastTarget
		st.LastTarget = &t
	}
	a.mu.RUnlock()

	st.Link = a.config.Link.Info()
	st.Stats = a.stats.Snapshot()
	return st
}

// AddObserver registers o for per-cycle events.
func (a *App) AddObserver(o Observer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observers = append(a.observers, o)
}
