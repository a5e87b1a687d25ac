package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ayusman/nimesh/internal/blink"
)

// Setting keys for detection tuning.
const (
	KeyEARThreshold    = "detection.ear_threshold"
	KeyMinClosedFrames = "detection.min_closed_frames"
	KeySettleWindow    = "detection.settle_window_ms"
)

// ErrInvalidSettings is returned when stored detection settings cannot be used.
var ErrInvalidSettings = errors.New("invalid stored settings")

// SettingsRepository stores key-value settings.
type SettingsRepository struct {
	db *sql.DB
}

// Settings returns the settings repository for this store.
func (s *Store) Settings() *SettingsRepository {
	return &SettingsRepository{db: s.db}
}

// Get returns the value stored under key.
func (r *SettingsRepository) Get(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

// Set stores value under key, replacing any previous value.
func (r *SettingsRepository) Set(key, value string) error {
	_, err := r.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// DetectionConfig overlays the stored detection settings on defaults.
// Keys that were never saved keep the default value. When a stored value
// does not parse or the result fails validation, defaults is returned with
// an error wrapping ErrInvalidSettings.
func (r *SettingsRepository) DetectionConfig(defaults blink.Config) (blink.Config, error) {
	cfg := defaults

	if v, err := r.Get(KeyEARThreshold); err == nil {
		f, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			return defaults, fmt.Errorf("%w: %s: %v", ErrInvalidSettings, KeyEARThreshold, perr)
		}
		cfg.EARThreshold = f
	} else if !errors.Is(err, ErrNotFound) {
		return defaults, err
	}

	if v, err := r.Get(KeyMinClosedFrames); err == nil {
		n, perr := strconv.Atoi(v)
		if perr != nil {
			return defaults, fmt.Errorf("%w: %s: %v", ErrInvalidSettings, KeyMinClosedFrames, perr)
		}
		cfg.MinClosedFrames = n
	} else if !errors.Is(err, ErrNotFound) {
		return defaults, err
	}

	if v, err := r.Get(KeySettleWindow); err == nil {
		ms, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			return defaults, fmt.Errorf("%w: %s: %v", ErrInvalidSettings, KeySettleWindow, perr)
		}
		cfg.SettleWindow = time.Duration(ms) * time.Millisecond
	} else if !errors.Is(err, ErrNotFound) {
		return defaults, err
	}

	if err := cfg.Validate(); err != nil {
		return defaults, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return cfg, nil
}

// SetDetectionConfig validates and stores detection settings.
func (r *SettingsRepository) SetDetectionConfig(cfg blink.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	values := map[string]string{
		KeyEARThreshold:    strconv.FormatFloat(cfg.EARThreshold, 'f', -1, 64),
		KeyMinClosedFrames: strconv.Itoa(cfg.MinClosedFrames),
		KeySettleWindow:    strconv.FormatInt(cfg.SettleWindow.Milliseconds(), 10),
	}
	for key, value := range values {
		if _, err := tx.Exec(
			`INSERT INTO settings (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, value,
		); err != nil {
			return fmt.Errorf("save %s: %w", key, err)
		}
	}

	return tx.Commit()
}
