package detector

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// HOGDetector finds people with OpenCV's default HOG + linear SVM model.
// The classical detector reports no score, so every hit has confidence 1.
type HOGDetector struct {
	mu  sync.Mutex
	hog gocv.HOGDescriptor
}

// NewHOG loads the built-in people detector.
func NewHOG() (*HOGDetector, error) {
	svm := gocv.HOGDefaultPeopleDetector()
	defer svm.Close()

	if svm.Empty() {
		return nil, fmt.Errorf("hog people model: %w", ErrBackendUnavailable)
	}

	hog := gocv.NewHOGDescriptor()
	hog.SetSVMDetector(svm)

	return &HOGDetector{hog: hog}, nil
}

// Detect runs a multi-scale sliding window over frame.
func (d *HOGDetector) Detect(frame *gocv.Mat) ([]Detection, error) {
	if frame == nil || frame.Empty() {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rects := d.hog.DetectMultiScale(*frame)

	out := make([]Detection, 0, len(rects))
	for _, r := range rects {
		out = append(out, Detection{
			Box:        r,
			Confidence: 1,
			ClassID:    0,
			Label:      PersonLabel,
		})
	}
	return out, nil
}

func (d *HOGDetector) Name() string { return BackendHOG }

// Close releases the descriptor.
func (d *HOGDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hog.Close()
	return nil
}
