package detector

import (
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// MockResult is the scripted outcome of one Detect call.
type MockResult struct {
	Detections []Detection
	Err        error
	Delay      time.Duration
}

// MockDetector is a test implementation of the Detector interface.
// Scripted results are consumed one per call; after the script runs out the
// detections set with SetDetections are returned.
type MockDetector struct {
	mu         sync.Mutex
	script     []MockResult
	detections []Detection
	err        error
	calls      int
	closed     bool
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetDetections sets the detections returned once the script is exhausted.
func (m *MockDetector) SetDetections(dets []Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detections = dets
}

// SetError sets the error returned once the script is exhausted.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Script queues per-call results.
func (m *MockDetector) Script(results ...MockResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, results...)
}

// Calls reports how many times Detect has been called.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close has been called.
func (m *MockDetector) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Detect returns the next scripted result, sleeping its delay first.
func (m *MockDetector) Detect(_ *gocv.Mat) ([]Detection, error) {
	m.mu.Lock()
	m.calls++
	var r MockResult
	if len(m.script) > 0 {
		r = m.script[0]
		m.script = m.script[1:]
	} else {
		r = MockResult{Detections: m.detections, Err: m.err}
	}
	m.mu.Unlock()

	if r.Delay > 0 {
		time.Sleep(r.Delay)
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return cloneDetections(r.Detections), nil
}

func (m *MockDetector) Name() string { return BackendMock }

// Close marks the detector closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func cloneDetections(in []Detection) []Detection {
	if in == nil {
		return nil
	}
	out := make([]Detection, len(in))
	for i, d := range in {
		out[i] = d
		out[i].Keypoints = append([]Keypoint(nil), d.Keypoints...)
	}
	return out
}

// PersonAt returns a person detection with the given box and confidence.
func PersonAt(box image.Rectangle, confidence float64) Detection {
	return Detection{Box: box, Confidence: confidence, Label: PersonLabel}
}

// HeadPose returns a person detection whose head keypoints surround (x, y).
func HeadPose(x, y, confidence float64) Detection {
	d := Detection{
		Confidence: confidence,
		Label:      PersonLabel,
		Keypoints: []Keypoint{
			{Name: "nose", X: x, Y: y, Visibility: 1},
			{Name: "left_eye", X: x - 5, Y: y - 5, Visibility: 1},
			{Name: "right_eye", X: x + 5, Y: y - 5, Visibility: 1},
			{Name: "left_ear", X: x - 10, Y: y, Visibility: 1},
			{Name: "right_ear", X: x + 10, Y: y, Visibility: 1},
			{Name: "left_wrist", X: x - 40, Y: y + 120, Visibility: 1},
			{Name: "right_wrist", X: x + 40, Y: y + 120, Visibility: 1},
		},
	}
	d.Box = image.Rect(int(x)-40, int(y)-5, int(x)+40, int(y)+120)
	return d
}
