package detector

import "math"

// Pose landmark names following the MediaPipe pose convention, in index order.
var PoseLandmarkNames = []string{
	"nose",
	"left_eye_inner", "left_eye", "left_eye_outer",
	"right_eye_inner", "right_eye", "right_eye_outer",
	"left_ear", "right_ear",
	"mouth_left", "mouth_right",
	"left_shoulder", "right_shoulder",
	"left_elbow", "right_elbow",
	"left_wrist", "right_wrist",
	"left_pinky", "right_pinky",
	"left_index", "right_index",
	"left_thumb", "right_thumb",
	"left_hip", "right_hip",
	"left_knee", "right_knee",
	"left_ankle", "right_ankle",
	"left_heel", "right_heel",
	"left_foot_index", "right_foot_index",
}

// HeadKeypoints are the landmarks averaged into a head anchor.
var HeadKeypoints = []string{"nose", "left_eye", "right_eye", "left_ear", "right_ear"}

// Distance returns the Euclidean distance between two keypoints.
func Distance(a, b Keypoint) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Centroid returns the mean position of kps. ok is false when kps is empty.
func Centroid(kps []Keypoint) (x, y float64, ok bool) {
	if len(kps) == 0 {
		return 0, 0, false
	}
	for _, kp := range kps {
		x += kp.X
		y += kp.Y
	}
	n := float64(len(kps))
	return x / n, y / n, true
}

// Select returns the keypoints of d whose names are in names, in the order
// they appear in d.
func Select(d Detection, names []string) []Keypoint {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	var out []Keypoint
	for _, kp := range d.Keypoints {
		if want[kp.Name] {
			out = append(out, kp)
		}
	}
	return out
}
