package capture

import (
	"errors"
	"image"
	"image/color"
	"sync"
)

// MockWindows is an in-memory WindowProvider for tests.
type MockWindows struct {
	mu        sync.Mutex
	windows   []Window
	active    int
	screen    image.Point
	raiseWins bool
	activates int
}

// NewMockWindows returns a provider with a w x h screen.
func NewMockWindows(w, h int, windows ...Window) *MockWindows {
	return &MockWindows{windows: windows, screen: image.Pt(w, h), raiseWins: true}
}

// SetRaiseWorks controls whether Activate actually brings a window forward.
func (m *MockWindows) SetRaiseWorks(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raiseWins = ok
}

// SetWindows replaces the known windows.
func (m *MockWindows) SetWindows(windows ...Window) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows = windows
}

// Activations reports how many times Activate was called.
func (m *MockWindows) Activations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activates
}

func (m *MockWindows) Find(query string) (Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.windows {
		if w.Title == query || w.Name == query {
			return w, nil
		}
	}
	return Window{}, ErrTargetNotFound
}

func (m *MockWindows) Bounds(pid int) (image.Rectangle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.windows {
		if w.PID == pid {
			return w.Bounds, nil
		}
	}
	return image.Rectangle{}, ErrTargetNotFound
}

func (m *MockWindows) IsActive(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active == pid
}

func (m *MockWindows) Activate(pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activates++
	if m.raiseWins {
		m.active = pid
	}
	return nil
}

func (m *MockWindows) ScreenSize() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screen.X, m.screen.Y
}

func (m *MockWindows) List() ([]Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Window(nil), m.windows...), nil
}

// MockGrabber returns scripted images, one per call, repeating the last.
type MockGrabber struct {
	mu     sync.Mutex
	images []*image.RGBA
	err    error
	rects  []image.Rectangle
}

// NewMockGrabber returns a grabber that serves images in order.
func NewMockGrabber(images ...*image.RGBA) *MockGrabber {
	return &MockGrabber{images: images}
}

// SetError makes every Grab fail with err.
func (g *MockGrabber) SetError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

// Rects returns every rectangle requested so far.
func (g *MockGrabber) Rects() []image.Rectangle {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]image.Rectangle(nil), g.rects...)
}

func (g *MockGrabber) Grab(rect image.Rectangle) (*image.RGBA, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rects = append(g.rects, rect)
	if g.err != nil {
		return nil, g.err
	}
	if len(g.images) == 0 {
		return nil, errors.New("no images")
	}
	img := g.images[0]
	if len(g.images) > 1 {
		g.images = g.images[1:]
	}
	return img, nil
}

// SolidImage returns a w x h image filled with c.
func SolidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// NoiseImage returns a w x h image with a deterministic gradient.
func NoiseImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 13), B: uint8(x + y), A: 255})
		}
	}
	return img
}
