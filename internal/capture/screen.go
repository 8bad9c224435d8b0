package capture

import (
	"fmt"
	"image"
	"sort"
	"strings"

	"github.com/go-vgo/robotgo"
	"github.com/vova616/screenshot"
)

// DesktopWindows implements WindowProvider with robotgo.
type DesktopWindows struct{}

// Find matches query against window titles first, then process names.
// Matching is case-insensitive on substrings.
func (DesktopWindows) Find(query string) (Window, error) {
	q := strings.ToLower(query)

	if pids, err := robotgo.FindIds(query); err == nil {
		for _, pid := range pids {
			if w, ok := describe(pid); ok {
				return w, nil
			}
		}
	}

	procs, err := robotgo.Process()
	if err != nil {
		return Window{}, fmt.Errorf("list processes: %w", err)
	}
	for _, p := range procs {
		title := robotgo.GetTitle(p.Pid)
		if title == "" {
			continue
		}
		if strings.Contains(strings.ToLower(title), q) {
			if w, ok := describe(p.Pid); ok {
				return w, nil
			}
		}
	}

	return Window{}, fmt.Errorf("window %q: %w", query, ErrTargetNotFound)
}

func describe(pid int) (Window, bool) {
	title := robotgo.GetTitle(pid)
	if title == "" {
		return Window{}, false
	}
	name, _ := robotgo.FindName(pid)
	x, y, w, h := robotgo.GetBounds(pid)
	return Window{
		PID:    pid,
		Name:   name,
		Title:  title,
		Bounds: image.Rect(x, y, x+w, y+h),
	}, true
}

// Bounds returns the window rectangle in screen coordinates.
func (DesktopWindows) Bounds(pid int) (image.Rectangle, error) {
	if exists, err := robotgo.PidExists(pid); err != nil || !exists {
		return image.Rectangle{}, fmt.Errorf("pid %d: %w", pid, ErrTargetNotFound)
	}
	x, y, w, h := robotgo.GetBounds(pid)
	return image.Rect(x, y, x+w, y+h), nil
}

// IsActive reports whether pid owns the foreground window.
func (DesktopWindows) IsActive(pid int) bool {
	return robotgo.GetPid() == pid
}

// Activate restores and raises the window.
func (DesktopWindows) Activate(pid int) error {
	return robotgo.ActivePid(pid)
}

// ScreenSize returns the main display size.
func (DesktopWindows) ScreenSize() (int, int) {
	return robotgo.GetScreenSize()
}

// List returns every process that owns a titled window, sorted by title.
func (DesktopWindows) List() ([]Window, error) {
	procs, err := robotgo.Process()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	var out []Window
	for _, p := range procs {
		if w, ok := describe(p.Pid); ok {
			if w.Name == "" {
				w.Name = p.Name
			}
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

// ScreenGrabber implements Grabber with vova616/screenshot.
type ScreenGrabber struct{}

// Grab captures rect from the screen.
func (ScreenGrabber) Grab(rect image.Rectangle) (*image.RGBA, error) {
	return screenshot.CaptureRect(rect)
}

// NewDesktopSource returns a Source backed by the real desktop.
func NewDesktopSource(config Config) *Source {
	return NewSource(config, DesktopWindows{}, ScreenGrabber{})
}
