package api

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/ayusman/nimesh/internal/action"
	"github.com/ayusman/nimesh/internal/blink"
)

func TestEventHandler_ListRecent(t *testing.T) {
	s := newTestStore(t)
	handler := NewEventHandler(s)

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		g := blink.Gesture{BlinkCount: i + 1, StartedAt: base, LastBlinkAt: base.Add(time.Second)}
		var err error
		if i == 3 {
			err = errors.New("broker offline")
		}
		if rerr := s.Events().RecordGesture(g, action.ToggleLight, err); rerr != nil {
			t.Fatalf("RecordGesture() error = %v", rerr)
		}
	}

	rec := serve(handler, http.MethodGet, "/api/events?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	resp := decode[listEventsResponse](t, rec)
	if resp.Total != 3 {
		t.Errorf("total = %d, want 3", resp.Total)
	}
	if len(resp.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(resp.Events))
	}
	if resp.Events[0].BlinkCount != 4 {
		t.Errorf("newest event blink count = %d, want 4", resp.Events[0].BlinkCount)
	}
	if resp.Events[0].Error != "broker offline" {
		t.Errorf("newest event error = %q", resp.Events[0].Error)
	}
}

func TestEventHandler_Empty(t *testing.T) {
	handler := NewEventHandler(newTestStore(t))

	rec := serve(handler, http.MethodGet, "/api/events", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	resp := decode[listEventsResponse](t, rec)
	if resp.Events == nil || len(resp.Events) != 0 || resp.Total != 0 {
		t.Errorf("expected empty history, got %+v", resp)
	}
}

func TestEventHandler_BadRequests(t *testing.T) {
	handler := NewEventHandler(newTestStore(t))

	for _, q := range []string{"limit=0", "limit=-3", "limit=ten"} {
		if rec := serve(handler, http.MethodGet, "/api/events?"+q, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want %d", q, rec.Code, http.StatusBadRequest)
		}
	}
	if rec := serve(handler, http.MethodPost, "/api/events", "{}"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST: status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}
