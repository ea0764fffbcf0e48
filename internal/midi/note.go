// Package midi turns a smoothed pitch track into discrete note events and
// serializes them as a Standard MIDI File.
package midi

import (
	"fmt"
)

const (
	// DefaultVelocity is used for every emitted note.
	DefaultVelocity = 100
	// DefaultTempo is the single tempo marker written to each file, in BPM.
	DefaultTempo = 120.0
	// DefaultTicksPerQuarter matches the resolution of the files the
	// transcriber has always produced.
	DefaultTicksPerQuarter = 960
)

// Note is one discrete note event. Start and Duration are in beats.
type Note struct {
	Pitch    int     `json:"pitch"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Velocity int     `json:"velocity"`
}

// End returns the beat at which the note is released.
func (n Note) End() float64 { return n.Start + n.Duration }

func (n Note) String() string {
	return fmt.Sprintf("%s (%d) @%.3f +%.3f vel=%d", NoteName(n.Pitch), n.Pitch, n.Start, n.Duration, n.Velocity)
}

// Sequence is an ordered note list with its tempo. It is not modified
// after Build.
type Sequence struct {
	Notes []Note  `json:"notes"`
	Tempo float64 `json:"tempo"`
}

// Duration returns the beat at which the last note ends.
func (s *Sequence) Duration() float64 {
	var end float64
	for _, n := range s.Notes {
		if e := n.End(); e > end {
			end = e
		}
	}
	return end
}

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// NoteName returns the scientific pitch name, e.g. 69 -> A4.
func NoteName(pitch int) string {
	if pitch < 0 || pitch > 127 {
		return "?"
	}
	return fmt.Sprintf("%s%d", noteNames[pitch%12], pitch/12-1)
}
