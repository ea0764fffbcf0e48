package midi

import (
	"fmt"
	"math"
)

// PitchPolicy decides what happens to a segment whose pitch falls outside
// the MIDI range.
type PitchPolicy string

const (
	// PolicyDiscard drops the segment and clears the held pitch.
	PolicyDiscard PitchPolicy = "discard"
	// PolicyClamp moves the pitch to the nearest valid number and keeps it.
	PolicyClamp PitchPolicy = "clamp"
)

// ParsePitchPolicy validates a configured policy name.
func ParsePitchPolicy(s string) (PitchPolicy, error) {
	switch p := PitchPolicy(s); p {
	case PolicyDiscard, PolicyClamp:
		return p, nil
	case "":
		return PolicyDiscard, nil
	default:
		return "", fmt.Errorf("unknown pitch policy %q (must be %s or %s)", s, PolicyDiscard, PolicyClamp)
	}
}

// HzToMIDI returns round(69 + 12*log2(freq/440)) without any range check.
// Non-positive frequencies have no MIDI number; ok is false for them.
func HzToMIDI(freq float64) (note int, ok bool) {
	if !(freq > 0) || math.IsInf(freq, 0) {
		return 0, false
	}
	return int(math.Round(69 + 12*math.Log2(freq/440))), true
}

// MIDIToHz is the inverse of HzToMIDI for integer notes.
func MIDIToHz(note int) float64 {
	return 440 * math.Pow(2, float64(note-69)/12)
}

// Apply maps a raw note number into [0,127] according to the policy.
// ok is false when the segment should be discarded.
func (p PitchPolicy) Apply(raw int) (note int, ok bool) {
	if raw >= 0 && raw <= 127 {
		return raw, true
	}
	if p != PolicyClamp {
		return 0, false
	}
	if raw < 0 {
		return 0, true
	}
	return 127, true
}
