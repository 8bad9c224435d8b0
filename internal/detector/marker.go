package detector

import (
	"image"

	"gocv.io/x/gocv"
)

// Marker runs the secondary marker test over a cycle's detections and sets
// Marked on those that pass.
type Marker interface {
	Mark(frame *gocv.Mat, dets []Detection)
}

// HSVRange is an inclusive HSV color interval in OpenCV units (H 0-180).
type HSVRange struct {
	Lower [3]float64 `yaml:"lower"`
	Upper [3]float64 `yaml:"upper"`
}

// RedRanges covers both ends of the hue circle.
func RedRanges() []HSVRange {
	return []HSVRange{
		{Lower: [3]float64{0, 120, 70}, Upper: [3]float64{10, 255, 255}},
		{Lower: [3]float64{170, 120, 70}, Upper: [3]float64{180, 255, 255}},
	}
}

// ColorMarker marks a detection when any contour point of the color mask
// lies inside its bounding box.
type ColorMarker struct {
	Ranges []HSVRange
}

// NewColorMarker returns a marker for ranges, or the red ranges when empty.
func NewColorMarker(ranges []HSVRange) *ColorMarker {
	if len(ranges) == 0 {
		ranges = RedRanges()
	}
	return &ColorMarker{Ranges: ranges}
}

// Mark segments the frame once and tests every detection against it.
func (m *ColorMarker) Mark(frame *gocv.Mat, dets []Detection) {
	if len(dets) == 0 || frame == nil || frame.Empty() {
		return
	}

	points := m.contourPoints(*frame)
	if len(points) == 0 {
		return
	}

	for i := range dets {
		dets[i].Marked = anyInside(points, dets[i].Box)
	}
}

func (m *ColorMarker) contourPoints(frame gocv.Mat) []image.Point {
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(frame, &hsv, gocv.ColorBGRToHSV)

	mask := gocv.NewMat()
	defer mask.Close()

	for i, r := range m.Ranges {
		part := gocv.NewMat()
		gocv.InRangeWithScalar(hsv,
			gocv.NewScalar(r.Lower[0], r.Lower[1], r.Lower[2], 0),
			gocv.NewScalar(r.Upper[0], r.Upper[1], r.Upper[2], 0),
			&part)
		if i == 0 {
			part.CopyTo(&mask)
		} else {
			gocv.BitwiseOr(mask, part, &mask)
		}
		part.Close()
	}

	if mask.Empty() {
		return nil
	}

	contours := gocv.FindContours(mask, gocv.RetrievalTree, gocv.ChainApproxSimple)
	defer contours.Close()

	var points []image.Point
	for i := 0; i < contours.Size(); i++ {
		points = append(points, contours.At(i).ToPoints()...)
	}
	return points
}

// anyInside reports whether a point lies in box, edges included.
func anyInside(points []image.Point, box image.Rectangle) bool {
	for _, p := range points {
		if p.X >= box.Min.X && p.X <= box.Max.X && p.Y >= box.Min.Y && p.Y <= box.Max.Y {
			return true
		}
	}
	return false
}

// KeypointMarker marks a detection when two named keypoints are closer than
// Threshold pixels, e.g. a hand raised to the face.
type KeypointMarker struct {
	A, B      string
	Threshold float64
}

func (m *KeypointMarker) Mark(_ *gocv.Mat, dets []Detection) {
	for i := range dets {
		a, okA := dets[i].Keypoint(m.A)
		b, okB := dets[i].Keypoint(m.B)
		dets[i].Marked = okA && okB && Distance(a, b) < m.Threshold
	}
}
