package api

import (
	"net/http"
	"strconv"

	"github.com/ayusman/nimesh/internal/store"
)

// MaxEventLimit caps the limit query parameter of the history endpoint.
const MaxEventLimit = 500

// EventHandler serves the gesture history.
type EventHandler struct {
	store *store.Store
}

// NewEventHandler creates a new EventHandler with the given store.
func NewEventHandler(s *store.Store) *EventHandler {
	return &EventHandler{store: s}
}

type listEventsResponse struct {
	Events []*store.GestureEvent `json:"events"`
	Total  int                   `json:"total"`
}

// ServeHTTP handles GET /api/events?limit=N, newest first.
func (h *EventHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := store.DefaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, MaxEventLimit)
	}

	events, err := h.store.Events().ListRecent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list events")
		return
	}
	total, err := h.store.Events().Count()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count events")
		return
	}

	if events == nil {
		events = []*store.GestureEvent{}
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: events, Total: total})
}
