// Package detector finds candidate targets in a frame. Every backend satisfies
// the same Detector contract so the pipeline can drive any of them.
package detector

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"gocv.io/x/gocv"
)

// ErrBackendUnavailable is returned when a backend cannot run at all.
// "Nothing found" is an empty slice, never an error.
var ErrBackendUnavailable = errors.New("detector backend unavailable")

// Backend names accepted by New.
const (
	BackendHOG  = "hog"
	BackendYOLO = "yolo"
	BackendPose = "pose"
	BackendMock = "mock"
)

// PersonLabel is the label every person-class detection carries.
const PersonLabel = "person"

// Keypoint is a named landmark in frame pixel coordinates.
type Keypoint struct {
	Name       string  `json:"name"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Visibility float64 `json:"visibility"`
}

// Detection is one candidate found in a frame. Box is in frame pixels.
type Detection struct {
	Box        image.Rectangle `json:"box"`
	Keypoints  []Keypoint      `json:"keypoints,omitempty"`
	Confidence float64         `json:"confidence"`
	ClassID    int             `json:"class_id"`
	Label      string          `json:"label"`
	// Marked is set by a Marker when the secondary marker test passes.
	Marked bool `json:"marked"`
}

// Center returns the center of the bounding box.
func (d Detection) Center() image.Point {
	return image.Pt((d.Box.Min.X+d.Box.Max.X)/2, (d.Box.Min.Y+d.Box.Max.Y)/2)
}

// Area returns the bounding box area in pixels.
func (d Detection) Area() int {
	return d.Box.Dx() * d.Box.Dy()
}

// Keypoint looks up a keypoint by name.
func (d Detection) Keypoint(name string) (Keypoint, bool) {
	for _, kp := range d.Keypoints {
		if kp.Name == name {
			return kp, true
		}
	}
	return Keypoint{}, false
}

// Detector is the capability every backend implements.
type Detector interface {
	// Detect returns the detections found in frame. Preprocessing (resize,
	// channel order, normalization) is internal to the backend.
	Detect(frame *gocv.Mat) ([]Detection, error)

	// Name identifies the backend in logs and the run journal.
	Name() string

	// Close releases any resources held by the detector.
	Close() error
}

// Config selects and tunes a backend.
type Config struct {
	Backend string `yaml:"backend"`

	// ModelPath is the ONNX model for the yolo backend.
	ModelPath  string  `yaml:"model_path"`
	Confidence float64 `yaml:"confidence"`
	NMS        float64 `yaml:"nms"`
	InputSize  int     `yaml:"input_size"`

	// PoseScript and PythonPath configure the pose subprocess. Empty values
	// are searched for in the usual locations.
	PoseScript string `yaml:"pose_script"`
	PythonPath string `yaml:"python_path"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Backend:    BackendHOG,
		ModelPath:  "models/yolov8n.onnx",
		Confidence: 0.5,
		NMS:        0.45,
		InputSize:  640,
	}
}

// New constructs the backend named by cfg.Backend. Model weights are loaded
// here, once, and never per call.
func New(cfg Config) (Detector, error) {
	switch strings.ToLower(cfg.Backend) {
	case BackendHOG:
		return NewHOG()
	case BackendYOLO:
		return NewYOLO(cfg)
	case BackendPose:
		return NewPose(cfg)
	case BackendMock:
		return NewMockDetector(), nil
	default:
		return nil, fmt.Errorf("unknown detector backend %q", cfg.Backend)
	}
}
