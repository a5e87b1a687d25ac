package detector

import (
	"time"

	"gocv.io/x/gocv"
)

// DefaultStartTimeout is how long the face mesh service may take to report ready.
const DefaultStartTimeout = 20 * time.Second

// Detector defines the interface for face landmark detection implementations.
type Detector interface {
	// Detect analyzes a video frame and returns the landmarks of the detected face.
	// Returns nil, nil if no face is found.
	Detect(frame *gocv.Mat) (*FaceLandmarks, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for face landmark detection.
type Config struct {
	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64

	// MinTrackingConf is the minimum tracking confidence threshold (0.0-1.0).
	MinTrackingConf float64

	// RefineLandmarks asks the engine for the 478 point mesh with iris points.
	RefineLandmarks bool

	// ScriptPath overrides discovery of face_mesh_service.py.
	ScriptPath string

	// Python overrides the interpreter that runs the service.
	Python string

	// StartTimeout bounds how long the service may take to load its model.
	StartTimeout time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MinConfidence:   0.5,
		MinTrackingConf: 0.5,
		RefineLandmarks: false,
		StartTimeout:    DefaultStartTimeout,
	}
}
