package blink

import (
	"math"
	"testing"

	"github.com/ayusman/nimesh/internal/detector"
)

const tolerance = 1e-9

func TestEyeAspectRatio_KnownRatio(t *testing.T) {
	tests := []struct {
		name  string
		ratio float64
	}{
		{"wide open", 0.35},
		{"relaxed", 0.28},
		{"half closed", 0.15},
		{"shut", 0.02},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			face := detector.FaceWithEAR(tt.ratio)
			// Fixture eyes are 0.10 wide, so the epsilon term scales the ratio slightly.
			want := tt.ratio * 0.10 / (0.10 + Epsilon)

			for _, eye := range []detector.EyeIndices{detector.LeftEye, detector.RightEye} {
				got := EyeAspectRatio(face, eye)
				if math.Abs(got-want) > tolerance {
					t.Errorf("EyeAspectRatio(%+v) = %f, want %f", eye, got, want)
				}
			}
		})
	}
}

func TestEyeAspectRatio_TranslationInvariant(t *testing.T) {
	face := detector.FaceWithEAR(0.27)
	base, ok := FrameEAR(face)
	if !ok {
		t.Fatal("expected fixture face to be usable")
	}

	offsets := [][3]float64{
		{0.1, 0.1, 0},
		{-0.3, 0.2, 0.5},
		{0.25, -0.35, -1},
	}

	for _, off := range offsets {
		moved := face.Translate(off[0], off[1], off[2])
		got, ok := FrameEAR(moved)
		if !ok {
			t.Fatalf("translated face by %v not usable", off)
		}
		if math.Abs(got-base) > tolerance {
			t.Errorf("EAR after translating by %v = %f, want %f", off, got, base)
		}
	}
}

func TestEyeAspectRatio_ZeroVertical(t *testing.T) {
	face := detector.FaceWithEAR(0)

	for _, eye := range []detector.EyeIndices{detector.LeftEye, detector.RightEye} {
		if got := EyeAspectRatio(face, eye); got != 0 {
			t.Errorf("EyeAspectRatio(%+v) = %v, want exactly 0", eye, got)
		}
	}
}

func TestEyeAspectRatio_DegenerateCorners(t *testing.T) {
	face := detector.FaceWithEAR(0.3)
	eye := detector.RightEye

	// Collapse both corners onto one point.
	face.Points[eye.Outer] = face.Points[eye.Inner]

	got := EyeAspectRatio(face, eye)
	if math.IsInf(got, 0) || math.IsNaN(got) {
		t.Fatalf("EyeAspectRatio with coincident corners = %v, want finite", got)
	}

	vertical := detector.Distance2D(face.Points[eye.Top], face.Points[eye.Bottom])
	if want := vertical / Epsilon; math.Abs(got-want) > 1e-6 {
		t.Errorf("EyeAspectRatio = %f, want %f", got, want)
	}

	// Everything collapsed: 0 / epsilon.
	for i := range face.Points {
		face.Points[i] = detector.Point3D{X: 0.5, Y: 0.5}
	}
	if got := EyeAspectRatio(face, eye); got != 0 {
		t.Errorf("EyeAspectRatio for collapsed eye = %v, want 0", got)
	}
}

func TestFrameEAR(t *testing.T) {
	t.Run("averages both eyes", func(t *testing.T) {
		face := detector.FaceWithEAR(0.3)
		eye := detector.LeftEye
		// Close only the left eye.
		face.Points[eye.Top] = face.Points[eye.Bottom]

		got, ok := FrameEAR(face)
		if !ok {
			t.Fatal("expected ok")
		}
		right := EyeAspectRatio(face, detector.RightEye)
		if want := right / 2; math.Abs(got-want) > tolerance {
			t.Errorf("FrameEAR = %f, want %f", got, want)
		}
	})

	t.Run("nil face", func(t *testing.T) {
		if _, ok := FrameEAR(nil); ok {
			t.Error("expected ok=false for nil face")
		}
	})

	t.Run("truncated mesh", func(t *testing.T) {
		face := &detector.FaceLandmarks{Points: make([]detector.Point3D, 300)}
		if _, ok := FrameEAR(face); ok {
			t.Error("expected ok=false for mesh without the left eye")
		}
	})

	t.Run("empty mesh", func(t *testing.T) {
		if _, ok := FrameEAR(&detector.FaceLandmarks{}); ok {
			t.Error("expected ok=false for empty mesh")
		}
	})
}
