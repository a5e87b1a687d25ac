package server

import (
	"fmt"
	"image"
	"image/color"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/nimesh/internal/blink"
	"github.com/ayusman/nimesh/internal/detector"
)

// DefaultStreamInterval is the minimum time between frames sent to a client.
const DefaultStreamInterval = 66 * time.Millisecond // ~15 FPS

var (
	colorOpen   = color.RGBA{R: 0, G: 220, B: 0, A: 0}
	colorClosed = color.RGBA{R: 230, G: 40, B: 40, A: 0}
	colorText   = color.RGBA{R: 255, G: 255, B: 255, A: 0}
)

// StreamHandler renders the detection overlay and serves it as MJPEG.
// It is the render target of the frame loop, so the stream shows exactly the
// frames that were processed.
type StreamHandler struct {
	interval time.Duration
	logger   *zap.Logger

	mu    sync.RWMutex
	jpeg  []byte
	seq   uint64
	ready chan struct{}
}

// NewStreamHandler creates a StreamHandler.
func NewStreamHandler(logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{
		interval: DefaultStreamInterval,
		logger:   logger,
		ready:    make(chan struct{}),
	}
}

// Render draws the eye landmarks and blink state onto a copy of frame and
// keeps the encoded JPEG for streaming.
func (h *StreamHandler) Render(frame *gocv.Mat, face *detector.FaceLandmarks, result blink.FrameResult) {
	if frame == nil || frame.Empty() {
		return
	}

	img := frame.Clone()
	defer img.Close()

	drawOverlay(&img, face, result)

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		h.logger.Debug("encoding overlay frame", zap.Error(err))
		return
	}
	data := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	h.mu.Lock()
	h.jpeg = data
	h.seq++
	ready := h.ready
	h.ready = make(chan struct{})
	h.mu.Unlock()

	close(ready)
}

// Latest returns the most recent overlay JPEG and its sequence number.
func (h *StreamHandler) Latest() ([]byte, uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.jpeg, h.seq
}

func drawOverlay(img *gocv.Mat, face *detector.FaceLandmarks, result blink.FrameResult) {
	width, height := float64(img.Cols()), float64(img.Rows())

	eyeColor := colorOpen
	if result.State.Closing() {
		eyeColor = colorClosed
	}

	if face.Covers(detector.LeftEye, detector.RightEye) {
		for _, eye := range []detector.EyeIndices{detector.LeftEye, detector.RightEye} {
			for _, idx := range []int{eye.Top, eye.Bottom, eye.Inner, eye.Outer} {
				p := face.Points[idx]
				center := image.Pt(int(p.X*width), int(p.Y*height))
				gocv.Circle(img, center, 2, eyeColor, -1)
			}
		}
	}

	status := "no face"
	if result.FaceFound {
		status = fmt.Sprintf("EAR %.3f", result.EAR)
	}
	gocv.PutText(img, status, image.Pt(10, 24), gocv.FontHersheySimplex, 0.6, colorText, 2)
	gocv.PutText(img, fmt.Sprintf("blinks %d", result.OpenCount), image.Pt(10, 48), gocv.FontHersheySimplex, 0.6, colorText, 2)
}

// ServeHTTP streams overlay frames until the client goes away.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	var sent uint64
	for {
		h.mu.RLock()
		data, seq, ready := h.jpeg, h.seq, h.ready
		h.mu.RUnlock()

		if seq == sent {
			select {
			case <-r.Context().Done():
				return
			case <-ready:
				continue
			}
		}

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(data))
		if _, err := w.Write(data); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		sent = seq

		select {
		case <-r.Context().Done():
			return
		case <-time.After(h.interval):
		}
	}
}
