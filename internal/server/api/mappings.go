package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/nimesh/internal/action"
	"github.com/ayusman/nimesh/internal/store"
)

// MappingHandler handles HTTP requests for blink count to action mappings.
// Changes apply the next time detection starts.
type MappingHandler struct {
	store *store.Store
}

// NewMappingHandler creates a new MappingHandler with the given store.
func NewMappingHandler(s *store.Store) *MappingHandler {
	return &MappingHandler{store: s}
}

// ServeHTTP routes /api/mappings and /api/mappings/{id}.
func (h *MappingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/mappings")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	id := path
	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodPut:
		h.update(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type createMappingRequest struct {
	BlinkCount int    `json:"blink_count"`
	Action     string `json:"action"`
	Enabled    *bool  `json:"enabled"`
}

type updateMappingRequest struct {
	BlinkCount *int    `json:"blink_count"`
	Action     *string `json:"action"`
	Enabled    *bool   `json:"enabled"`
}

type mappingResponse struct {
	ID         string    `json:"id"`
	BlinkCount int       `json:"blink_count"`
	Action     action.ID `json:"action"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  string    `json:"created_at"`
	UpdatedAt  string    `json:"updated_at"`
}

type listMappingsResponse struct {
	Mappings []mappingResponse `json:"mappings"`
	Actions  []action.ID       `json:"actions"`
}

func toMappingResponse(m *store.Mapping) mappingResponse {
	return mappingResponse{
		ID:         m.ID,
		BlinkCount: m.BlinkCount,
		Action:     m.Action,
		Enabled:    m.Enabled,
		CreatedAt:  formatTime(m.CreatedAt),
		UpdatedAt:  formatTime(m.UpdatedAt),
	}
}

// list handles GET /api/mappings. The response also names every known action.
func (h *MappingHandler) list(w http.ResponseWriter, r *http.Request) {
	mappings, err := h.store.Mappings().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list mappings")
		return
	}

	response := listMappingsResponse{
		Mappings: make([]mappingResponse, 0, len(mappings)),
		Actions:  action.IDs(),
	}
	for _, m := range mappings {
		response.Mappings = append(response.Mappings, toMappingResponse(m))
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/mappings/{id}.
func (h *MappingHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	m, err := h.store.Mappings().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Mapping not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get mapping")
		return
	}

	writeJSON(w, http.StatusOK, toMappingResponse(m))
}

// create handles POST /api/mappings.
func (h *MappingHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.Action == "" {
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}
	id, err := action.Parse(req.Action)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m := &store.Mapping{
		BlinkCount: req.BlinkCount,
		Action:     id,
		Enabled:    true,
	}
	if req.Enabled != nil {
		m.Enabled = *req.Enabled
	}
	if err := m.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.Mappings().Create(m); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "Blink count is already mapped")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create mapping")
		return
	}

	writeJSON(w, http.StatusCreated, toMappingResponse(m))
}

// update handles PUT /api/mappings/{id}. Omitted fields keep their value.
func (h *MappingHandler) update(w http.ResponseWriter, r *http.Request, id string) {
	m, err := h.store.Mappings().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Mapping not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get mapping")
		return
	}

	var req updateMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.BlinkCount != nil {
		m.BlinkCount = *req.BlinkCount
	}
	if req.Action != nil {
		id, err := action.Parse(*req.Action)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		m.Action = id
	}
	if req.Enabled != nil {
		m.Enabled = *req.Enabled
	}
	if err := m.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.Mappings().Update(m); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicate):
			writeError(w, http.StatusConflict, "Blink count is already mapped")
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "Mapping not found")
		default:
			writeError(w, http.StatusInternalServerError, "Failed to update mapping")
		}
		return
	}

	writeJSON(w, http.StatusOK, toMappingResponse(m))
}

// delete handles DELETE /api/mappings/{id}.
func (h *MappingHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.Mappings().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Mapping not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete mapping")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
