// Package detector provides face landmark detection interfaces and types for blink recognition.
package detector

import "math"

// Face mesh sizes following the MediaPipe Face Mesh convention.
// See: https://developers.google.com/mediapipe/solutions/vision/face_landmarker
const (
	NumFaceLandmarks        = 468
	NumRefinedFaceLandmarks = 478
)

// EyeIndices holds the four anatomical landmark indices used to measure one eye.
type EyeIndices struct {
	Top    int // upper lid
	Bottom int // lower lid
	Inner  int // corner nearest the nose
	Outer  int // corner nearest the temple
}

// Eye landmark indices in the face mesh. Left and right are from the subject's point of view.
var (
	RightEye = EyeIndices{Top: 159, Bottom: 145, Inner: 133, Outer: 33}
	LeftEye  = EyeIndices{Top: 386, Bottom: 374, Inner: 362, Outer: 263}
)

// Max returns the highest index referenced by the eye.
func (e EyeIndices) Max() int {
	return max(e.Top, e.Bottom, e.Inner, e.Outer)
}

// Point3D represents a normalized landmark position.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Translate returns the point shifted by the given offsets.
func (p Point3D) Translate(dx, dy, dz float64) Point3D {
	return Point3D{X: p.X + dx, Y: p.Y + dy, Z: p.Z + dz}
}

// FaceLandmarks is one face mesh produced by the inference engine for a single frame.
type FaceLandmarks struct {
	Points []Point3D `json:"points"`
	Score  float64   `json:"score"`
}

// Covers reports whether the mesh has a point for every index of the given eyes.
func (f *FaceLandmarks) Covers(eyes ...EyeIndices) bool {
	if f == nil {
		return false
	}
	for _, e := range eyes {
		if e.Max() >= len(f.Points) {
			return false
		}
	}
	return true
}

// Translate returns a copy of the face with every point shifted by the same offsets.
func (f *FaceLandmarks) Translate(dx, dy, dz float64) *FaceLandmarks {
	if f == nil {
		return nil
	}
	out := &FaceLandmarks{
		Points: make([]Point3D, len(f.Points)),
		Score:  f.Score,
	}
	for i, p := range f.Points {
		out.Points[i] = p.Translate(dx, dy, dz)
	}
	return out
}

// Distance2D calculates the Euclidean distance between two points in the image plane.
func Distance2D(a, b Point3D) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// SelectBest picks the highest scoring face from multiple detections.
// Returns nil when faces is empty.
func SelectBest(faces []FaceLandmarks) *FaceLandmarks {
	if len(faces) == 0 {
		return nil
	}

	best := &faces[0]
	for i := 1; i < len(faces); i++ {
		if faces[i].Score > best.Score {
			best = &faces[i]
		}
	}
	return best
}
