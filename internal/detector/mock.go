package detector

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results frame by frame.
type MockDetector struct {
	mu     sync.Mutex
	face   *FaceLandmarks
	queue  []*FaceLandmarks
	err    error
	calls  int
	closed bool
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetFace sets the face returned by Detect once the queue is drained.
// A nil face simulates "no face found".
func (m *MockDetector) SetFace(face *FaceLandmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.face = face
}

// Queue appends faces that Detect returns one per call, in order.
func (m *MockDetector) Queue(faces ...*FaceLandmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, faces...)
}

// Pending returns the number of queued faces not yet returned.
func (m *MockDetector) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Detect has been called.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Detect returns the next queued face, the fallback face, or the configured error.
func (m *MockDetector) Detect(frame *gocv.Mat) (*FaceLandmarks, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.queue) > 0 {
		face := m.queue[0]
		m.queue = m.queue[1:]
		return face, nil
	}
	return m.face, nil
}

// Close marks the detector closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (m *MockDetector) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Eye geometry used by the fixtures: each eye is fixtureEyeWidth wide.
const fixtureEyeWidth = 0.10

// FaceWithEAR returns a preset face mesh whose eyes both have the given
// vertical/horizontal ratio. Every non-eye point sits at the frame center.
func FaceWithEAR(ratio float64) *FaceLandmarks {
	face := &FaceLandmarks{
		Points: make([]Point3D, NumFaceLandmarks),
		Score:  0.95,
	}
	for i := range face.Points {
		face.Points[i] = Point3D{X: 0.5, Y: 0.5}
	}

	half := ratio * fixtureEyeWidth / 2

	// Subject's right eye appears on the left of the image.
	face.Points[RightEye.Outer] = Point3D{X: 0.35, Y: 0.40}
	face.Points[RightEye.Inner] = Point3D{X: 0.35 + fixtureEyeWidth, Y: 0.40}
	face.Points[RightEye.Top] = Point3D{X: 0.40, Y: 0.40 - half}
	face.Points[RightEye.Bottom] = Point3D{X: 0.40, Y: 0.40 + half}

	face.Points[LeftEye.Inner] = Point3D{X: 0.55, Y: 0.40}
	face.Points[LeftEye.Outer] = Point3D{X: 0.55 + fixtureEyeWidth, Y: 0.40}
	face.Points[LeftEye.Top] = Point3D{X: 0.60, Y: 0.40 - half}
	face.Points[LeftEye.Bottom] = Point3D{X: 0.60, Y: 0.40 + half}

	return face
}

// OpenEyesFace returns a preset face with both eyes open (ratio 0.3).
func OpenEyesFace() *FaceLandmarks {
	return FaceWithEAR(0.3)
}

// ClosedEyesFace returns a preset face with both eyes shut (ratio 0.05).
func ClosedEyesFace() *FaceLandmarks {
	return FaceWithEAR(0.05)
}
