// Package action maps finalized blink gestures to appliance and communication actions.
package action

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ID names an action a gesture can trigger.
type ID string

// Known actions.
const (
	ToggleLight    ID = "toggle-light"
	ToggleFan      ID = "toggle-fan"
	EmergencyAlert ID = "emergency-alert"
	VoiceChannel   ID = "voice-channel"
)

// ErrUnknownAction is returned when parsing an unrecognized action ID.
var ErrUnknownAction = errors.New("unknown action")

var known = []ID{ToggleLight, ToggleFan, EmergencyAlert, VoiceChannel}

// IDs returns every known action.
func IDs() []ID {
	return slices.Clone(known)
}

// Valid reports whether id is a known action.
func (id ID) Valid() bool {
	return slices.Contains(known, id)
}

func (id ID) String() string {
	return string(id)
}

// Parse converts s into a known ID.
func Parse(s string) (ID, error) {
	id := ID(s)
	if !id.Valid() {
		return "", fmt.Errorf("%q: %w", s, ErrUnknownAction)
	}
	return id, nil
}

// Mapping binds blink counts to actions.
type Mapping map[int]ID

// DefaultMapping returns the mapping used until the user configures one.
func DefaultMapping() Mapping {
	return Mapping{
		2: ToggleLight,
		3: ToggleFan,
		5: EmergencyAlert,
		6: VoiceChannel,
	}
}

// Clone returns an independent copy of m.
func (m Mapping) Clone() Mapping {
	if m == nil {
		return Mapping{}
	}
	return maps.Clone(m)
}

// Counts returns the mapped blink counts in ascending order.
func (m Mapping) Counts() []int {
	return slices.Sorted(maps.Keys(m))
}
