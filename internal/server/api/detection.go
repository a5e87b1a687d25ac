package api

import (
	"net/http"
	"strings"

	"github.com/ayusman/nimesh/internal/app"
)

// DetectionController starts and stops detection.
type DetectionController interface {
	Start() error
	Stop()
	Status() app.Status
}

// DetectionHandler exposes the detection lifecycle.
type DetectionHandler struct {
	ctrl DetectionController
}

// NewDetectionHandler creates a DetectionHandler for ctrl.
func NewDetectionHandler(ctrl DetectionController) *DetectionHandler {
	return &DetectionHandler{ctrl: ctrl}
}

// ServeHTTP routes GET /api/detection and POST /api/detection/{start,stop}.
func (h *DetectionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/detection")
	path = strings.TrimPrefix(path, "/")

	switch path {
	case "":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, h.ctrl.Status())
	case "start":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := h.ctrl.Start(); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, h.ctrl.Status())
	case "stop":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.ctrl.Stop()
		writeJSON(w, http.StatusOK, h.ctrl.Status())
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}
