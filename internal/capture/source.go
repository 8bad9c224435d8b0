package capture

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/pointerlink/internal/log"
)

// DefaultRaiseTimeout bounds how long Capture waits for a window to come to front.
const DefaultRaiseTimeout = time.Second

const raisePoll = 50 * time.Millisecond

// Window is a resolved capture target.
type Window struct {
	PID    int             `json:"pid"`
	Name   string          `json:"name"`
	Title  string          `json:"title"`
	Bounds image.Rectangle `json:"bounds"`
}

// WindowProvider resolves and manipulates desktop windows.
type WindowProvider interface {
	// Find resolves a window by title or process name.
	Find(query string) (Window, error)
	Bounds(pid int) (image.Rectangle, error)
	IsActive(pid int) bool
	Activate(pid int) error
	ScreenSize() (w, h int)
	List() ([]Window, error)
}

// Grabber copies a screen rectangle into memory.
type Grabber interface {
	Grab(rect image.Rectangle) (*image.RGBA, error)
}

// Region is a rectangle given as origin and size. When a window is
// configured the origin is relative to the window.
type Region struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
	W int `yaml:"width"`
	H int `yaml:"height"`
}

func (r Region) empty() bool { return r.W <= 0 || r.H <= 0 }

// Config describes what to capture.
type Config struct {
	// Window is a title or process name; empty captures the screen.
	Window       string        `yaml:"window"`
	Region       Region        `yaml:"region"`
	RaiseTimeout time.Duration `yaml:"raise_timeout"`
}

// Source produces validated frames of the configured target.
type Source struct {
	config  Config
	windows WindowProvider
	grabber Grabber

	mu       sync.Mutex
	pid      int
	released bool
}

// NewSource creates a Source over the given providers.
func NewSource(config Config, windows WindowProvider, grabber Grabber) *Source {
	if config.RaiseTimeout <= 0 {
		config.RaiseTimeout = DefaultRaiseTimeout
	}
	return &Source{config: config, windows: windows, grabber: grabber}
}

// Capture resolves the target, raises it if needed, grabs its region and
// validates the buffer. Every failure is recoverable by the caller.
func (s *Source) Capture(ctx context.Context) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil, ErrReleased
	}

	region, err := s.resolve(ctx)
	if err != nil {
		return nil, err
	}

	img, err := s.grabber.Grab(region)
	if err != nil {
		return nil, fmt.Errorf("grab %v: %w", region, err)
	}
	if err := Validate(img, region); err != nil {
		return nil, err
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}

	return NewFrame(mat, region, time.Now()), nil
}

// resolve returns the screen rectangle to grab this cycle.
func (s *Source) resolve(ctx context.Context) (image.Rectangle, error) {
	if s.config.Window == "" {
		if !s.config.Region.empty() {
			r := s.config.Region
			return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H), nil
		}
		w, h := s.windows.ScreenSize()
		if w <= 0 || h <= 0 {
			return image.Rectangle{}, fmt.Errorf("screen size %dx%d: %w", w, h, ErrTargetNotFound)
		}
		return image.Rect(0, 0, w, h), nil
	}

	win, err := s.windows.Find(s.config.Window)
	if err != nil {
		s.pid = 0
		return image.Rectangle{}, err
	}
	if win.PID != s.pid {
		log.Info("capture target resolved", "window", win.Title, "pid", win.PID)
		s.pid = win.PID
	}

	if !s.windows.IsActive(win.PID) {
		s.raise(ctx, win.PID)
	}

	bounds, err := s.windows.Bounds(win.PID)
	if err != nil {
		return image.Rectangle{}, err
	}
	if bounds.Empty() {
		return image.Rectangle{}, fmt.Errorf("window %q has no visible area: %w", s.config.Window, ErrTargetNotFound)
	}

	if r := s.config.Region; !r.empty() {
		sub := image.Rect(bounds.Min.X+r.X, bounds.Min.Y+r.Y, bounds.Min.X+r.X+r.W, bounds.Min.Y+r.Y+r.H)
		bounds = sub.Intersect(bounds)
		if bounds.Empty() {
			return image.Rectangle{}, fmt.Errorf("region outside window: %w", ErrTargetNotFound)
		}
	}
	return bounds, nil
}

// raise brings pid to the front and waits up to the raise timeout. Failure
// is logged and the capture goes ahead anyway.
func (s *Source) raise(ctx context.Context, pid int) {
	if err := s.windows.Activate(pid); err != nil {
		log.Warn("raise window failed", "pid", pid, "err", err)
		return
	}

	deadline := time.Now().Add(s.config.RaiseTimeout)
	for !s.windows.IsActive(pid) {
		if time.Now().After(deadline) {
			log.Warn("window not raised in time", "pid", pid, "timeout", s.config.RaiseTimeout)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(raisePoll):
		}
	}
}

// Release drops the target reference. Later captures fail with ErrReleased.
func (s *Source) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	s.pid = 0
}
