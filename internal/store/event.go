package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/nimesh/internal/action"
	"github.com/ayusman/nimesh/internal/blink"
)

// DefaultEventLimit caps ListRecent when no limit is given.
const DefaultEventLimit = 50

// GestureEvent is one finalized gesture and what it triggered.
type GestureEvent struct {
	ID         string    `json:"id"`
	BlinkCount int       `json:"blink_count"`
	Action     action.ID `json:"action,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	RecordedAt time.Time `json:"recorded_at"`
}

// EventRepository stores gesture history.
type EventRepository struct {
	db *sql.DB
}

// Events returns the gesture history repository for this store.
func (s *Store) Events() *EventRepository {
	return &EventRepository{db: s.db}
}

// Create inserts an event. An empty ID is filled with a new UUID.
func (r *EventRepository) Create(e *GestureEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}

	_, err := r.db.Exec(
		`INSERT INTO gesture_events (id, blink_count, action, error, started_at, ended_at, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.BlinkCount, string(e.Action), e.Error, e.StartedAt, e.EndedAt, e.RecordedAt,
	)
	return err
}

// RecordGesture stores a dispatched gesture. An empty id means nothing was mapped.
func (r *EventRepository) RecordGesture(g blink.Gesture, id action.ID, dispatchErr error) error {
	e := &GestureEvent{
		BlinkCount: g.BlinkCount,
		Action:     id,
		StartedAt:  g.StartedAt,
		EndedAt:    g.LastBlinkAt,
	}
	if dispatchErr != nil {
		e.Error = dispatchErr.Error()
	}
	return r.Create(e)
}

// ListRecent returns up to limit events, newest first.
func (r *EventRepository) ListRecent(limit int) ([]*GestureEvent, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}

	rows, err := r.db.Query(
		`SELECT id, blink_count, action, error, started_at, ended_at, recorded_at
		 FROM gesture_events ORDER BY recorded_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*GestureEvent
	for rows.Next() {
		e := &GestureEvent{}
		var id string
		if err := rows.Scan(&e.ID, &e.BlinkCount, &id, &e.Error, &e.StartedAt, &e.EndedAt, &e.RecordedAt); err != nil {
			return nil, err
		}
		e.Action = action.ID(id)
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

// Count returns the number of stored events.
func (r *EventRepository) Count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM gesture_events`).Scan(&n)
	return n, err
}
