// Package blink turns per-frame face landmarks into blink events and blink-count gestures.
package blink

import "github.com/ayusman/nimesh/internal/detector"

// Epsilon keeps the ratio finite when the eye corners coincide.
const Epsilon = 1e-4

// EyeAspectRatio returns the eye-openness ratio for one eye:
// the lid distance divided by the corner distance plus Epsilon.
// The face must cover the eye's indices; see FrameEAR for a checked version.
func EyeAspectRatio(face *detector.FaceLandmarks, eye detector.EyeIndices) float64 {
	p := face.Points
	vertical := detector.Distance2D(p[eye.Top], p[eye.Bottom])
	horizontal := detector.Distance2D(p[eye.Inner], p[eye.Outer])
	return vertical / (horizontal + Epsilon)
}

// FrameEAR averages the left and right eye ratios of a face.
// ok is false when the face is absent or its mesh is too short to hold both eyes.
func FrameEAR(face *detector.FaceLandmarks) (ear float64, ok bool) {
	if !face.Covers(detector.LeftEye, detector.RightEye) {
		return 0, false
	}
	left := EyeAspectRatio(face, detector.LeftEye)
	right := EyeAspectRatio(face, detector.RightEye)
	return (left + right) / 2, true
}
