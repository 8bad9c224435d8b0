// Package target picks at most one detection per cycle and maps its anchor
// into actuator space.
package target

import (
	"fmt"
	"strings"

	"github.com/ayusman/pointerlink/internal/detector"
)

// Policy names accepted by NewPolicy.
const (
	PolicyMarker   = "marker"
	PolicyWeighted = "weighted"
)

// Target is the detection chosen for actuation and its anchor in frame pixels.
type Target struct {
	Detection detector.Detection `json:"detection"`
	Anchor    Point              `json:"anchor"`
	// Index is the detection's position in the cycle's input sequence.
	Index int `json:"index"`
}

// Policy selects at most one target. Implementations must be deterministic:
// the same input sequence always yields the same result.
type Policy interface {
	Select(dets []detector.Detection) (Target, bool)
}

// NewPolicy builds a policy by name.
func NewPolicy(name, label string, requireMarker bool) (Policy, error) {
	switch strings.ToLower(name) {
	case PolicyMarker, "":
		return &MarkerPolicy{Label: label, RequireMarker: requireMarker}, nil
	case PolicyWeighted:
		return &WeightedPolicy{Label: label}, nil
	default:
		return nil, fmt.Errorf("unknown selection policy %q", name)
	}
}

// MarkerPolicy keeps detections of Label, prefers marked ones, then the
// highest confidence, then the earliest in the input.
type MarkerPolicy struct {
	// Label filters detections; empty accepts every class.
	Label string
	// RequireMarker drops unmarked detections entirely.
	RequireMarker bool
}

func (p *MarkerPolicy) Select(dets []detector.Detection) (Target, bool) {
	best := -1
	for i, d := range dets {
		if p.Label != "" && d.Label != p.Label {
			continue
		}
		if p.RequireMarker && !d.Marked {
			continue
		}
		if best < 0 || better(d, dets[best]) {
			best = i
		}
	}
	if best < 0 {
		return Target{}, false
	}
	return newTarget(dets, best), true
}

// better reports whether a strictly outranks b. Ties keep the earlier one.
func better(a, b detector.Detection) bool {
	if a.Marked != b.Marked {
		return a.Marked
	}
	return a.Confidence > b.Confidence
}

// WeightedPolicy scores confidence*0.7 + relative area*0.3 and keeps the
// first detection with the highest score.
type WeightedPolicy struct {
	Label string
}

func (p *WeightedPolicy) Select(dets []detector.Detection) (Target, bool) {
	maxArea := 0
	for _, d := range dets {
		if p.Label != "" && d.Label != p.Label {
			continue
		}
		maxArea = max(maxArea, d.Area())
	}

	best := -1
	bestScore := -1.0
	for i, d := range dets {
		if p.Label != "" && d.Label != p.Label {
			continue
		}
		score := d.Confidence * 0.7
		if maxArea > 0 {
			score += float64(d.Area()) / float64(maxArea) * 0.3
		}
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	if best < 0 {
		return Target{}, false
	}
	return newTarget(dets, best), true
}

func newTarget(dets []detector.Detection, i int) Target {
	return Target{Detection: dets[i], Anchor: Anchor(dets[i]), Index: i}
}

// Anchor is the centroid of the head keypoints when present, otherwise of all
// keypoints, otherwise the bounding box center. Coordinates are truncated.
func Anchor(d detector.Detection) Point {
	if x, y, ok := detector.Centroid(detector.Select(d, detector.HeadKeypoints)); ok {
		return Point{X: int(x), Y: int(y)}
	}
	if x, y, ok := detector.Centroid(d.Keypoints); ok {
		return Point{X: int(x), Y: int(y)}
	}
	c := d.Center()
	return Point{X: c.X, Y: c.Y}
}
