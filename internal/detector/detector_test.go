package detector

import (
	"errors"
	"image"
	"image/color"
	"math"
	"path/filepath"
	"testing"
	"time"

	"gocv.io/x/gocv"
)

const epsilon = 1e-9

func TestDetection_Geometry(t *testing.T) {
	d := Detection{Box: image.Rect(10, 20, 50, 100)}

	if got := d.Center(); got != image.Pt(30, 60) {
		t.Errorf("Center() = %v, want (30,60)", got)
	}
	if got := d.Area(); got != 40*80 {
		t.Errorf("Area() = %d, want %d", got, 40*80)
	}
}

func TestDetection_Keypoint(t *testing.T) {
	d := HeadPose(100, 50, 0.9)

	nose, ok := d.Keypoint("nose")
	if !ok || nose.X != 100 || nose.Y != 50 {
		t.Errorf("Keypoint(nose) = %+v, %v", nose, ok)
	}
	if _, ok := d.Keypoint("left_knee"); ok {
		t.Error("Keypoint(left_knee) should be absent")
	}
}

func TestCentroid(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		if _, _, ok := Centroid(nil); ok {
			t.Error("Centroid(nil) should report !ok")
		}
	})

	t.Run("head keypoints", func(t *testing.T) {
		head := Select(HeadPose(100, 50, 0.9), HeadKeypoints)
		if len(head) != len(HeadKeypoints) {
			t.Fatalf("Select() returned %d keypoints, want %d", len(head), len(HeadKeypoints))
		}

		x, y, ok := Centroid(head)
		if !ok {
			t.Fatal("Centroid() !ok")
		}
		if math.Abs(x-100) > epsilon || math.Abs(y-48) > epsilon {
			t.Errorf("Centroid() = (%f, %f), want (100, 48)", x, y)
		}
	})
}

func TestDistance(t *testing.T) {
	got := Distance(Keypoint{X: 0, Y: 0}, Keypoint{X: 3, Y: 4})
	if math.Abs(got-5) > epsilon {
		t.Errorf("Distance() = %f, want 5", got)
	}
}

func TestKeypointMarker(t *testing.T) {
	raised := HeadPose(100, 50, 0.9)
	for i := range raised.Keypoints {
		if raised.Keypoints[i].Name == "right_wrist" {
			raised.Keypoints[i].X, raised.Keypoints[i].Y = 104, 52
		}
	}
	lowered := HeadPose(300, 50, 0.8)
	noKeypoints := PersonAt(image.Rect(0, 0, 10, 10), 0.99)

	dets := []Detection{raised, lowered, noKeypoints}
	m := &KeypointMarker{A: "nose", B: "right_wrist", Threshold: 20}
	m.Mark(nil, dets)

	want := []bool{true, false, false}
	for i, d := range dets {
		if d.Marked != want[i] {
			t.Errorf("dets[%d].Marked = %v, want %v", i, d.Marked, want[i])
		}
	}
}

func TestAnyInside(t *testing.T) {
	box := image.Rect(10, 10, 20, 20)

	tests := []struct {
		name   string
		points []image.Point
		want   bool
	}{
		{"none", nil, false},
		{"inside", []image.Point{{15, 15}}, true},
		{"on max edge", []image.Point{{20, 20}}, true},
		{"outside", []image.Point{{5, 5}, {25, 15}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := anyInside(tt.points, box); got != tt.want {
				t.Errorf("anyInside() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestColorMarker_RedPatch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 40, 40, 0), 200, 200, gocv.MatTypeCV8UC3)
	defer frame.Close()

	// BGR red patch at (120..160, 120..160).
	gocv.Rectangle(&frame, image.Rect(120, 120, 160, 160), color.RGBA{R: 255, A: 255}, -1)

	dets := []Detection{
		PersonAt(image.Rect(0, 0, 80, 80), 0.9),
		PersonAt(image.Rect(100, 100, 190, 190), 0.7),
	}
	NewColorMarker(nil).Mark(&frame, dets)

	if dets[0].Marked {
		t.Error("detection without red should not be marked")
	}
	if !dets[1].Marked {
		t.Error("detection containing the red patch should be marked")
	}
}

func TestColorMarker_NoRed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat creation")
	}

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(200, 50, 0, 0), 100, 100, gocv.MatTypeCV8UC3)
	defer frame.Close()

	dets := []Detection{PersonAt(image.Rect(0, 0, 100, 100), 0.9)}
	NewColorMarker(RedRanges()).Mark(&frame, dets)

	if dets[0].Marked {
		t.Error("blue frame should not mark any detection")
	}
}

func TestHOGDetector_EmptyScene(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV")
	}

	d, err := NewHOG()
	if err != nil {
		t.Fatalf("NewHOG() error = %v", err)
	}
	defer d.Close()

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(128, 128, 128, 0), 240, 320, gocv.MatTypeCV8UC3)
	defer frame.Close()

	dets, err := d.Detect(&frame)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(dets) != 0 {
		t.Errorf("Detect() on a flat frame = %d detections, want 0", len(dets))
	}

	empty := gocv.NewMat()
	defer empty.Close()
	if dets, err := d.Detect(&empty); err != nil || dets != nil {
		t.Errorf("Detect(empty) = %v, %v", dets, err)
	}
}

func TestNew(t *testing.T) {
	t.Run("mock", func(t *testing.T) {
		d, err := New(Config{Backend: "MOCK"})
		if err != nil {
			t.Fatalf("New(mock) error = %v", err)
		}
		if d.Name() != BackendMock {
			t.Errorf("Name() = %s", d.Name())
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if _, err := New(Config{Backend: "sonar"}); err == nil {
			t.Error("New(sonar) should fail")
		}
	})

	t.Run("yolo without model", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Backend = BackendYOLO
		cfg.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")

		if _, err := New(cfg); !errors.Is(err, ErrBackendUnavailable) {
			t.Errorf("New(yolo) error = %v, want ErrBackendUnavailable", err)
		}
	})

	t.Run("pose without script", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Backend = BackendPose
		cfg.PoseScript = filepath.Join(t.TempDir(), "missing.py")

		if _, err := New(cfg); !errors.Is(err, ErrBackendUnavailable) {
			t.Errorf("New(pose) error = %v, want ErrBackendUnavailable", err)
		}
	})
}

func TestClassLabel(t *testing.T) {
	tests := []struct {
		id   int
		want string
	}{
		{0, "person"},
		{79, "toothbrush"},
		{80, "class_80"},
		{-1, "class_-1"},
	}
	for _, tt := range tests {
		if got := ClassLabel(tt.id); got != tt.want {
			t.Errorf("ClassLabel(%d) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestParsePoseResponse(t *testing.T) {
	line := []byte(`{"poses":[{"score":0.8,"landmarks":[` +
		`{"x":0.5,"y":0.25,"visibility":0.9},` +
		`{"x":0.4,"y":0.2,"visibility":0.9},` +
		`{"x":0.6,"y":0.75,"visibility":0.5}]}]}` + "\n")

	dets, err := parsePoseResponse(line, 200, 100)
	if err != nil {
		t.Fatalf("parsePoseResponse() error = %v", err)
	}
	if len(dets) != 1 {
		t.Fatalf("got %d detections, want 1", len(dets))
	}

	d := dets[0]
	if d.Label != PersonLabel || d.Confidence != 0.8 {
		t.Errorf("detection = %+v", d)
	}
	if d.Keypoints[0].Name != "nose" || d.Keypoints[0].X != 100 || d.Keypoints[0].Y != 25 {
		t.Errorf("nose = %+v, want (100,25)", d.Keypoints[0])
	}
	if want := image.Rect(80, 20, 120, 75); d.Box != want {
		t.Errorf("Box = %v, want %v", d.Box, want)
	}
}

func TestParsePoseResponse_Errors(t *testing.T) {
	if _, err := parsePoseResponse([]byte("not json\n"), 10, 10); err == nil {
		t.Error("expected error for malformed JSON")
	}
	if _, err := parsePoseResponse([]byte(`{"poses":[],"error":"decode failed"}`), 10, 10); err == nil {
		t.Error("expected error for service error")
	}

	dets, err := parsePoseResponse([]byte(`{"poses":[]}`), 10, 10)
	if err != nil || len(dets) != 0 {
		t.Errorf("no poses = %v, %v; want empty, nil", dets, err)
	}
}

func TestMockDetector(t *testing.T) {
	m := NewMockDetector()
	boom := errors.New("boom")

	m.Script(
		MockResult{Detections: []Detection{PersonAt(image.Rect(0, 0, 1, 1), 0.5)}, Delay: 5 * time.Millisecond},
		MockResult{Err: boom},
	)
	m.SetDetections([]Detection{PersonAt(image.Rect(0, 0, 2, 2), 0.6)})

	start := time.Now()
	got, err := m.Detect(nil)
	if err != nil || len(got) != 1 || got[0].Confidence != 0.5 {
		t.Errorf("call 1 = %v, %v", got, err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Error("scripted delay not applied")
	}

	if _, err := m.Detect(nil); !errors.Is(err, boom) {
		t.Errorf("call 2 error = %v, want boom", err)
	}

	got, _ = m.Detect(nil)
	if len(got) != 1 || got[0].Confidence != 0.6 {
		t.Errorf("call 3 = %v, want fallback detections", got)
	}

	// Returned slices are independent copies.
	got[0].Marked = true
	again, _ := m.Detect(nil)
	if again[0].Marked {
		t.Error("mutating a result leaked into the next call")
	}

	if m.Calls() != 4 {
		t.Errorf("Calls() = %d, want 4", m.Calls())
	}
	m.Close()
	if !m.Closed() {
		t.Error("Closed() = false after Close")
	}
}
