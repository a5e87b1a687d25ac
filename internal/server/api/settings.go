package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ayusman/nimesh/internal/blink"
	"github.com/ayusman/nimesh/internal/store"
)

// DetectionTuner holds the live detection tuning.
type DetectionTuner interface {
	DetectionConfig() blink.Config
	SetDetectionConfig(blink.Config) error
}

// SettingsHandler reads and saves the detection settings. Saved settings
// take effect the next time detection starts.
type SettingsHandler struct {
	store *store.Store
	tuner DetectionTuner
}

// NewSettingsHandler creates a SettingsHandler. tuner may be nil, in which
// case settings are only persisted.
func NewSettingsHandler(s *store.Store, tuner DetectionTuner) *SettingsHandler {
	return &SettingsHandler{store: s, tuner: tuner}
}

type settingsResponse struct {
	EARThreshold    float64 `json:"ear_threshold"`
	MinClosedFrames int     `json:"min_closed_frames"`
	SettleWindowMS  int64   `json:"settle_window_ms"`
}

type updateSettingsRequest struct {
	EARThreshold    *float64 `json:"ear_threshold"`
	MinClosedFrames *int     `json:"min_closed_frames"`
	SettleWindowMS  *int64   `json:"settle_window_ms"`
}

func toSettingsResponse(cfg blink.Config) settingsResponse {
	return settingsResponse{
		EARThreshold:    cfg.EARThreshold,
		MinClosedFrames: cfg.MinClosedFrames,
		SettleWindowMS:  cfg.SettleWindow.Milliseconds(),
	}
}

// ServeHTTP handles GET and PUT /api/settings.
func (h *SettingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := h.current()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load settings")
			return
		}
		writeJSON(w, http.StatusOK, toSettingsResponse(cfg))
	case http.MethodPut:
		h.update(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SettingsHandler) current() (blink.Config, error) {
	if h.tuner != nil {
		return h.tuner.DetectionConfig(), nil
	}
	cfg, err := h.store.Settings().DetectionConfig(blink.DefaultConfig())
	if errors.Is(err, store.ErrInvalidSettings) {
		// Defaults stand in until a valid update overwrites the bad row.
		return cfg, nil
	}
	return cfg, err
}

// update handles PUT /api/settings. Omitted fields keep their value.
func (h *SettingsHandler) update(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.current()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load settings")
		return
	}

	var req updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.EARThreshold != nil {
		cfg.EARThreshold = *req.EARThreshold
	}
	if req.MinClosedFrames != nil {
		cfg.MinClosedFrames = *req.MinClosedFrames
	}
	if req.SettleWindowMS != nil {
		cfg.SettleWindow = time.Duration(*req.SettleWindowMS) * time.Millisecond
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.Settings().SetDetectionConfig(cfg); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save settings")
		return
	}
	if h.tuner != nil {
		if err := h.tuner.SetDetectionConfig(cfg); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, toSettingsResponse(cfg))
}
