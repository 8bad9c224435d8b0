package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/pointerlink/internal/capture"
	"github.com/ayusman/pointerlink/internal/detector"
	"github.com/ayusman/pointerlink/internal/link"
	"github.com/ayusman/pointerlink/internal/store"
	"github.com/ayusman/pointerlink/internal/target"
)

// fakeSource serves frames without pixel data. After frames captures it
// reports ErrReleased; a negative count never runs out.
type fakeSource struct {
	mu       sync.Mutex
	frames   int
	region   func(seq int) image.Rectangle
	fail     func(seq int) error
	calls    int
	released int
	onEvent  func(string)
}

func (s *fakeSource) Capture(_ context.Context) (*capture.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	n := s.calls
	if s.frames >= 0 && n > s.frames {
		return nil, capture.ErrReleased
	}
	if s.fail != nil {
		if err := s.fail(n); err != nil {
			return nil, err
		}
	}
	r := image.Rect(0, 0, 1000, 1000)
	if s.region != nil {
		r = s.region(n)
	}
	return &capture.Frame{Region: r, Timestamp: time.Now()}, nil
}

func (s *fakeSource) Release() {
	s.mu.Lock()
	s.released++
	s.mu.Unlock()
	if s.onEvent != nil {
		s.onEvent("release")
	}
}

func (s *fakeSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordingLink notes the order of sends and closes on a real session.
type recordingLink struct {
	*link.Session
	onEvent func(string)
}

func (l *recordingLink) Send(ctx context.Context, cmd link.Command) (link.Ack, error) {
	l.onEvent("send")
	return l.Session.Send(ctx, cmd)
}

func (l *recordingLink) Close() error {
	l.onEvent("close")
	return l.Session.Close()
}

type eventLog struct {
	mu     sync.Mutex
	events []CycleEvent
}

func (l *eventLog) OnCycle(ev CycleEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []CycleEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]CycleEvent(nil), l.events...)
}

func linkConfig() link.Config {
	cfg := link.DefaultConfig()
	cfg.SettleDelay = 0
	cfg.HandshakeTimeout = 100 * time.Millisecond
	cfg.EchoTimeout = 100 * time.Millisecond
	return cfg
}

func simDevice() *link.SimPort {
	return link.NewSimPort("/dev/ttyACM0", link.HelloResponder("HELLO\n"))
}

func newSession(ports ...*link.SimPort) *link.Session {
	return link.NewSession(linkConfig(), link.NewSimEnumerator(ports...))
}

func markerPolicy() target.Policy {
	return &target.MarkerPolicy{Label: detector.PersonLabel}
}

func baseConfig(src FrameSource, det detector.Detector, l Actuator) Config {
	return Config{
		Source:          src,
		Detector:        det,
		Policy:          markerPolicy(),
		Link:            l,
		ActuatorSize:    target.Size{W: 1000, H: 1000},
		InitialPosition: &target.Point{X: 500, Y: 500},
		MinInterval:     0,
		DetectTimeout:   time.Second,
	}
}

// commands returns every write after the handshake.
func commands(port *link.SimPort) []string {
	var out []string
	for i, w := range port.Written() {
		if i == 0 {
			continue
		}
		out = append(out, string(w))
	}
	return out
}

func mustNew(t *testing.T, cfg Config) *App {
	t.Helper()
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func runWithTimeout(t *testing.T, a *App) error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(context.Background()) }()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		a.Stop()
		t.Fatal("pipeline did not stop")
		return nil
	}
}

func TestNew_Validation(t *testing.T) {
	src := &fakeSource{}
	det := detector.NewMockDetector()
	sess := newSession()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "zero width", mutate: func(c *Config) { c.ActuatorSize = target.Size{W: 0, H: 100} }, wantErr: target.ErrInvalidDimensions},
		{name: "zero height", mutate: func(c *Config) { c.ActuatorSize = target.Size{W: 100, H: 0} }, wantErr: target.ErrInvalidDimensions},
		{name: "wider than wire", mutate: func(c *Config) { c.ActuatorSize = target.Size{W: 200000, H: 100} }, wantErr: link.ErrCoordinateRange},
		{name: "initial position out of range", mutate: func(c *Config) { c.InitialPosition = &target.Point{X: -1, Y: 0} }, wantErr: link.ErrCoordinateRange},
		{name: "missing source", mutate: func(c *Config) { c.Source = nil }},
		{name: "missing detector", mutate: func(c *Config) { c.Detector = nil }},
		{name: "missing policy", mutate: func(c *Config) { c.Policy = nil }},
		{name: "missing link", mutate: func(c *Config) { c.Link = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig(src, det, sess)
			tt.mutate(&cfg)
			_, err := New(cfg)
			if err == nil {
				t.Fatal("New() error = nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_DefaultsInitialPositionToCenter(t *testing.T) {
	cfg := baseConfig(&fakeSource{}, detector.NewMockDetector(), newSession())
	cfg.InitialPosition = nil
	cfg.ActuatorSize = target.Size{W: 1920, H: 1080}

	a := mustNew(t, cfg)
	if got := a.Position(); got != (target.Point{X: 960, Y: 540}) {
		t.Errorf("Position() = %v, want (960,540)", got)
	}
	if a.State() != StateIdle {
		t.Errorf("State() = %v, want idle", a.State())
	}
}

func TestApp_SingleCycleCommand(t *testing.T) {
	port := simDevice()
	det := detector.NewMockDetector()
	person := detector.PersonAt(image.Rect(250, 350, 350, 450), 0.92)
	person.Marked = true
	det.SetDetections([]detector.Detection{person})

	a := mustNew(t, baseConfig(&fakeSource{frames: 1}, det, newSession(port)))
	if err := runWithTimeout(t, a); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := commands(port)
	if len(got) != 1 || got[0] != "(00500,00500),(00300,00400)\n" {
		t.Fatalf("commands = %q", got)
	}
	if pos := a.Position(); pos != (target.Point{X: 300, Y: 400}) {
		t.Errorf("Position() = %v, want (300,400)", pos)
	}
	last, ok := a.LastTarget()
	if !ok || !last.Marked || last.Anchor != (target.Point{X: 300, Y: 400}) {
		t.Errorf("LastTarget() = %+v, %v", last, ok)
	}
	if !det.Closed() {
		t.Error("detector should be closed after the run")
	}
	if port.CloseCount() != 1 {
		t.Errorf("port closed %d times, want 1", port.CloseCount())
	}
}

func TestApp_CommandsFollowCaptureOrder(t *testing.T) {
	const cycles = 9

	tests := []struct {
		name      string
		workers   int
		lookahead int
	}{
		{name: "sequential", workers: 1, lookahead: 0},
		{name: "one ahead", workers: 4, lookahead: 1},
		{name: "three ahead", workers: 4, lookahead: 3},
	}

	delays := []time.Duration{30, 0, 20, 5, 25, 0, 10, 15, 0}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := simDevice()
			det := detector.NewMockDetector()
			person := detector.PersonAt(image.Rect(50, 50, 150, 150), 0.9)
			for _, d := range delays {
				det.Script(detector.MockResult{
					Detections: []detector.Detection{person},
					Delay:      d * time.Millisecond,
				})
			}

			// Frame k is 1000*(k+1) wide, so every cycle maps to a distinct X.
			src := &fakeSource{
				frames: cycles,
				region: func(seq int) image.Rectangle {
					return image.Rect(0, 0, 1000*(seq+1), 1000)
				},
			}

			cfg := baseConfig(src, det, newSession(port))
			cfg.Workers = tt.workers
			cfg.Lookahead = tt.lookahead
			events := &eventLog{}
			a := mustNew(t, cfg)
			a.AddObserver(events)

			if err := runWithTimeout(t, a); err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			var want []string
			cur := target.Point{X: 500, Y: 500}
			for k := 1; k <= cycles; k++ {
				next := target.Point{X: 100 / (k + 1), Y: 100}
				want = append(want, fmt.Sprintf("(%05d,%05d),(%05d,%05d)\n", cur.X, cur.Y, next.X, next.Y))
				cur = next
			}

			got := commands(port)
			if len(got) != len(want) {
				t.Fatalf("got %d commands, want %d: %q", len(got), len(want), got)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("command %d = %q, want %q", i, got[i], want[i])
				}
			}

			// Events arrive in cycle order; the final capture reports the release.
			evs := events.all()
			for i, ev := range evs {
				if ev.Seq != uint64(i+1) {
					t.Fatalf("event %d has seq %d", i, ev.Seq)
				}
			}
		})
	}
}

func TestApp_DegenerateCaptureSkipsCycle(t *testing.T) {
	port := simDevice()
	det := detector.NewMockDetector()
	det.SetDetections([]detector.Detection{detector.PersonAt(image.Rect(0, 0, 10, 10), 0.9)})

	src := &fakeSource{
		frames: 3,
		fail: func(int) error {
			return fmt.Errorf("window: %w", capture.ErrDegenerateCapture)
		},
	}
	events := &eventLog{}
	a := mustNew(t, baseConfig(src, det, newSession(port)))
	a.AddObserver(events)

	if err := runWithTimeout(t, a); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if det.Calls() != 0 {
		t.Errorf("detector called %d times, want 0", det.Calls())
	}
	if got := commands(port); len(got) != 0 {
		t.Errorf("commands = %q, want none", got)
	}
	for _, ev := range events.all() {
		if ev.Skipped != SkipCapture || ev.Sent() {
			t.Errorf("event = %+v, want capture skip", ev)
		}
	}
	if a.Stats().Commands != 0 {
		t.Errorf("Stats().Commands = %d", a.Stats().Commands)
	}
}

func TestApp_NoDeviceFoundAbortsStart(t *testing.T) {
	silent := link.NewSimPort("/dev/ttyUSB0", func([]byte) []byte { return nil })
	src := &fakeSource{frames: -1}
	det := detector.NewMockDetector()

	a := mustNew(t, baseConfig(src, det, newSession(silent)))
	err := a.Run(context.Background())
	if !errors.Is(err, link.ErrNoDeviceFound) {
		t.Fatalf("Run() error = %v, want ErrNoDeviceFound", err)
	}
	if src.Calls() != 0 {
		t.Errorf("source captured %d times before the link was up", src.Calls())
	}
	if a.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", a.State())
	}
	if !det.Closed() {
		t.Error("detector should be closed")
	}
}

func TestApp_LinkWriteFailureIsFatal(t *testing.T) {
	port := simDevice()
	det := detector.NewMockDetector()
	det.SetDetections([]detector.Detection{detector.PersonAt(image.Rect(100, 100, 200, 200), 0.9)})

	a := mustNew(t, baseConfig(&fakeSource{frames: -1}, det, newSession(port)))
	a.AddObserver(ObserverFunc(func(ev CycleEvent) {
		if ev.Sent() && ev.Seq == 2 {
			port.FailWrites(errors.New("device unplugged"))
		}
	}))

	err := runWithTimeout(t, a)
	var lerr *link.LinkError
	if !errors.As(err, &lerr) {
		t.Fatalf("Run() error = %v, want *link.LinkError", err)
	}
	if lerr.Op != "write" || lerr.Port != "/dev/ttyACM0" {
		t.Errorf("LinkError = %+v", lerr)
	}
	if got := commands(port); len(got) != 2 {
		t.Errorf("got %d successful writes, want 2", len(got))
	}
	if port.CloseCount() != 1 {
		t.Errorf("port closed %d times, want 1", port.CloseCount())
	}
	if a.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", a.State())
	}
}

func TestApp_StopReleasesInOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	port := simDevice()
	det := detector.NewMockDetector()
	det.SetDetections([]detector.Detection{detector.PersonAt(image.Rect(100, 100, 200, 200), 0.9)})
	src := &fakeSource{frames: -1, onEvent: record}
	rl := &recordingLink{Session: newSession(port), onEvent: record}

	cfg := baseConfig(src, det, rl)
	cfg.MinInterval = 5 * time.Millisecond
	a := mustNew(t, cfg)

	sent := make(chan struct{})
	var once sync.Once
	a.AddObserver(ObserverFunc(func(ev CycleEvent) {
		if ev.Sent() {
			once.Do(func() { close(sent) })
		}
	}))

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("no command sent")
	}
	a.Stop()

	if err := a.Wait(); err != nil {
		t.Errorf("Wait() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	closeAt := -1
	for i, ev := range order {
		if ev == "close" {
			closeAt = i
			break
		}
	}
	if closeAt < 0 {
		t.Fatalf("link never closed: %v", order)
	}
	for _, ev := range order[closeAt+1:] {
		if ev == "send" {
			t.Errorf("send after link close: %v", order)
		}
	}
	if order[len(order)-1] != "release" {
		t.Errorf("capture source should be released last: %v", order)
	}
	if port.CloseCount() != 1 {
		t.Errorf("port closed %d times, want 1", port.CloseCount())
	}
}

// hungDetector never returns from Detect until released.
type hungDetector struct {
	release chan struct{}
	calls   atomic.Int32
}

func (d *hungDetector) Detect(_ *gocv.Mat) ([]detector.Detection, error) {
	d.calls.Add(1)
	<-d.release
	return nil, nil
}

func (d *hungDetector) Name() string { return "hung" }
func (d *hungDetector) Close() error { return nil }

func TestApp_StopWithHungDetector(t *testing.T) {
	tests := []struct {
		name          string
		detectTimeout time.Duration
	}{
		{name: "cycles time out", detectTimeout: 10 * time.Millisecond},
		{name: "no detect timeout", detectTimeout: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := &hungDetector{release: make(chan struct{})}
			defer close(det.release)

			port := simDevice()
			src := &fakeSource{frames: -1}
			cfg := baseConfig(src, det, newSession(port))
			cfg.Workers = 2
			cfg.DetectTimeout = tt.detectTimeout
			cfg.DrainTimeout = 50 * time.Millisecond
			a := mustNew(t, cfg)

			if err := a.Start(context.Background()); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			// Long enough for every worker and queue slot to fill up.
			time.Sleep(200 * time.Millisecond)

			stopped := make(chan struct{})
			go func() {
				a.Stop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-time.After(2 * time.Second):
				t.Fatal("Stop() blocked behind a hung detector")
			}

			if a.State() != StateStopped {
				t.Errorf("State() = %v, want stopped", a.State())
			}
			if port.CloseCount() != 1 {
				t.Errorf("port closed %d times, want 1", port.CloseCount())
			}
			if src.released != 1 {
				t.Errorf("source released %d times, want 1", src.released)
			}
			if got := commands(port); len(got) != 0 {
				t.Errorf("commands = %q, want none", got)
			}
		})
	}
}

func TestApp_RunStopsOnContextCancel(t *testing.T) {
	port := simDevice()
	det := detector.NewMockDetector()

	cfg := baseConfig(&fakeSource{frames: -1}, det, newSession(port))
	cfg.MinInterval = 5 * time.Millisecond
	a := mustNew(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	a.AddObserver(ObserverFunc(func(ev CycleEvent) {
		if ev.Seq == 3 {
			cancel()
		}
	}))

	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if a.State() != StateStopped {
		t.Errorf("State() = %v", a.State())
	}
}

func TestApp_StartTwice(t *testing.T) {
	port := simDevice()
	cfg := baseConfig(&fakeSource{frames: -1}, detector.NewMockDetector(), newSession(port))
	cfg.MinInterval = 5 * time.Millisecond
	a := mustNew(t, cfg)

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer a.Stop()

	if err := a.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestApp_StopBeforeStart(t *testing.T) {
	src := &fakeSource{frames: -1}
	det := detector.NewMockDetector()
	a := mustNew(t, baseConfig(src, det, newSession(simDevice())))

	a.Stop()
	if a.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", a.State())
	}
	if !det.Closed() || src.released != 1 {
		t.Error("resources should be released")
	}
	if err := a.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Start() after Stop error = %v", err)
	}
}

func TestApp_DisabledSendsNothing(t *testing.T) {
	port := simDevice()
	det := detector.NewMockDetector()
	det.SetDetections([]detector.Detection{detector.PersonAt(image.Rect(100, 100, 200, 200), 0.9)})

	cfg := baseConfig(&fakeSource{frames: 4}, det, newSession(port))
	cfg.Disabled = true
	events := &eventLog{}
	a := mustNew(t, cfg)
	a.AddObserver(events)

	if a.IsEnabled() {
		t.Fatal("IsEnabled() = true for a disabled config")
	}
	if err := runWithTimeout(t, a); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := commands(port); len(got) != 0 {
		t.Errorf("commands = %q, want none", got)
	}
	if det.Calls() != 4 {
		t.Errorf("detector called %d times, want 4", det.Calls())
	}
	disabled := 0
	for _, ev := range events.all() {
		if ev.Skipped == SkipDisabled {
			disabled++
			if ev.Target == nil || ev.Target.Mapped != (target.Point{X: 150, Y: 150}) {
				t.Errorf("disabled event target = %+v", ev.Target)
			}
		}
	}
	if disabled != 4 {
		t.Errorf("%d disabled events, want 4", disabled)
	}
	if _, ok := a.LastTarget(); !ok {
		t.Error("targets are still tracked while disabled")
	}
	if a.Position() != (target.Point{X: 500, Y: 500}) {
		t.Errorf("Position() = %v, want unchanged", a.Position())
	}
}

func TestApp_DetectorErrorsSkipCycles(t *testing.T) {
	port := simDevice()
	det := detector.NewMockDetector()
	det.Script(
		detector.MockResult{Err: detector.ErrBackendUnavailable},
		detector.MockResult{Detections: nil},
		detector.MockResult{Detections: []detector.Detection{{Box: image.Rect(0, 0, 10, 10), Label: "car", Confidence: 0.99}}},
		detector.MockResult{Detections: []detector.Detection{detector.PersonAt(image.Rect(0, 0, 100, 100), 0.8)}},
	)

	cfg := baseConfig(&fakeSource{frames: 4}, det, newSession(port))
	cfg.Workers = 1
	cfg.Lookahead = 0
	events := &eventLog{}
	a := mustNew(t, cfg)
	a.AddObserver(events)

	if err := runWithTimeout(t, a); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	evs := events.all()
	if len(evs) < 4 {
		t.Fatalf("got %d events", len(evs))
	}
	wantSkips := []string{SkipDetectError, SkipNoTarget, SkipNoTarget, ""}
	for i, want := range wantSkips {
		if evs[i].Skipped != want {
			t.Errorf("event %d skipped = %q, want %q", i, evs[i].Skipped, want)
		}
	}
	if got := commands(port); len(got) != 1 || got[0] != "(00500,00500),(00050,00050)\n" {
		t.Errorf("commands = %q", got)
	}
}

func TestApp_DetectTimeoutSkipsCycle(t *testing.T) {
	port := simDevice()
	det := detector.NewMockDetector()
	det.Script(detector.MockResult{
		Detections: []detector.Detection{detector.PersonAt(image.Rect(0, 0, 100, 100), 0.8)},
		Delay:      200 * time.Millisecond,
	})

	cfg := baseConfig(&fakeSource{frames: 1}, det, newSession(port))
	cfg.DetectTimeout = 20 * time.Millisecond
	events := &eventLog{}
	a := mustNew(t, cfg)
	a.AddObserver(events)

	if err := runWithTimeout(t, a); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	evs := events.all()
	if len(evs) == 0 || evs[0].Skipped != SkipDetectTimeout {
		t.Errorf("events = %+v, want detect timeout first", evs)
	}
	if got := commands(port); len(got) != 0 {
		t.Errorf("commands = %q, want none", got)
	}
}

func TestApp_EchoWarningsKeepStreaming(t *testing.T) {
	port := link.NewSimPort("/dev/ttyACM0", func(b []byte) []byte {
		if string(b) == "HELLO\n" {
			return b
		}
		return []byte("(00000,00000),(00000,00000)\n")
	})
	det := detector.NewMockDetector()
	det.SetDetections([]detector.Detection{detector.PersonAt(image.Rect(100, 100, 200, 200), 0.9)})

	events := &eventLog{}
	a := mustNew(t, baseConfig(&fakeSource{frames: 3}, det, newSession(port)))
	a.AddObserver(events)

	if err := runWithTimeout(t, a); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := commands(port); len(got) != 3 {
		t.Errorf("got %d commands, want 3", len(got))
	}
	for _, ev := range events.all() {
		if ev.Sent() && ev.Outcome != string(store.OutcomeEchoMismatch) {
			t.Errorf("event outcome = %q", ev.Outcome)
		}
	}
	if s := a.Stats(); s.Warnings != 3 || s.Commands != 3 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestApp_PacesCycles(t *testing.T) {
	const (
		frames   = 5
		interval = 20 * time.Millisecond
	)

	cfg := baseConfig(&fakeSource{frames: frames}, detector.NewMockDetector(), newSession(simDevice()))
	cfg.MinInterval = interval
	a := mustNew(t, cfg)

	start := time.Now()
	if err := runWithTimeout(t, a); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < (frames-1)*interval {
		t.Errorf("run took %v, want at least %v", elapsed, (frames-1)*interval)
	}
}

func TestApp_JournalsRunAndCommands(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	port := simDevice()
	det := detector.NewMockDetector()
	det.SetDetections([]detector.Detection{detector.PersonAt(image.Rect(100, 100, 200, 200), 0.9)})

	cfg := baseConfig(&fakeSource{frames: 3}, det, newSession(port))
	cfg.Store = st
	cfg.TargetName = "Game"
	a := mustNew(t, cfg)

	if err := runWithTimeout(t, a); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	run, err := st.Runs().GetByID(a.RunID())
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if run.Status != store.RunStopped || run.Port != "/dev/ttyACM0" || run.Target != "Game" || run.Backend != detector.BackendMock {
		t.Errorf("run = %+v", run)
	}
	if run.Commands != 3 {
		t.Errorf("run.Commands = %d, want 3", run.Commands)
	}

	acts, err := st.Actuations().ListByRun(run.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(acts) != 3 {
		t.Fatalf("got %d actuations, want 3", len(acts))
	}
	if acts[0].CurrentX != 500 || acts[0].TargetX != 150 || acts[1].CurrentX != 150 {
		t.Errorf("actuations = %+v %+v", acts[0], acts[1])
	}
}

func TestApp_StatusSnapshot(t *testing.T) {
	port := simDevice()
	det := detector.NewMockDetector()
	det.SetDetections([]detector.Detection{detector.PersonAt(image.Rect(100, 100, 200, 200), 0.9)})

	a := mustNew(t, baseConfig(&fakeSource{frames: 2}, det, newSession(port)))
	st := a.Status()
	if st.State != "idle" || !st.Enabled || st.LastTarget != nil {
		t.Errorf("idle Status() = %+v", st)
	}

	if err := runWithTimeout(t, a); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	st = a.Status()
	if st.State != "stopped" || st.LastTarget == nil || st.Position != (target.Point{X: 150, Y: 150}) {
		t.Errorf("Status() = %+v", st)
	}
	if st.Link.Sent != 2 {
		t.Errorf("Status().Link.Sent = %d, want 2", st.Link.Sent)
	}
}

func TestStats_Cadence(t *testing.T) {
	s := newStats()
	base := time.Unix(0, 0)
	for i := 0; i < cadenceWindow+10; i++ {
		s.tick(base.Add(time.Duration(i) * 100 * time.Millisecond))
	}
	s.resolved(CycleEvent{Command: &link.Command{}, Outcome: "ok"}, 10*time.Millisecond)
	s.resolved(CycleEvent{Command: &link.Command{}, Outcome: "echo_timeout"}, 10*time.Millisecond)
	s.resolved(CycleEvent{Skipped: SkipNoTarget}, 10*time.Millisecond)

	snap := s.Snapshot()
	if snap.CadenceHz < 9.99 || snap.CadenceHz > 10.01 {
		t.Errorf("CadenceHz = %f, want 10", snap.CadenceHz)
	}
	if snap.Cycles != 3 || snap.Commands != 2 || snap.Skipped != 1 || snap.Warnings != 1 {
		t.Errorf("Snapshot() = %+v", snap)
	}
	if snap.MeanLatency != 10*time.Millisecond {
		t.Errorf("MeanLatency = %v", snap.MeanLatency)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateRunning, "running"},
		{StateStopping, "stopping"},
		{StateStopped, "stopped"},
		{State(9), "state(9)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}
