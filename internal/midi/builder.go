package midi

import (
	apperrors "github.com/edoardograci/track-loop-main/internal/errors"
)

// Builder accumulates notes in emission order.
type Builder struct {
	tempo float64
	notes []Note
}

// NewBuilder returns a Builder for a sequence at tempo BPM.
func NewBuilder(tempo float64) *Builder {
	if tempo <= 0 {
		tempo = DefaultTempo
	}
	return &Builder{tempo: tempo}
}

// Add appends n. Notes must arrive with non-decreasing start times,
// positive durations and in-range pitch and velocity.
func (b *Builder) Add(n Note) error {
	switch {
	case n.Pitch < 0 || n.Pitch > 127:
		return apperrors.Newf(apperrors.ErrSegmentation, "pitch %d out of range", n.Pitch)
	case n.Velocity < 0 || n.Velocity > 127:
		return apperrors.Newf(apperrors.ErrSegmentation, "velocity %d out of range", n.Velocity)
	case !(n.Duration > 0):
		return apperrors.Newf(apperrors.ErrSegmentation, "note %d has duration %v", n.Pitch, n.Duration)
	case n.Start < 0:
		return apperrors.Newf(apperrors.ErrSegmentation, "note %d starts at %v", n.Pitch, n.Start)
	}
	if k := len(b.notes); k > 0 && n.Start < b.notes[k-1].Start {
		return apperrors.Newf(apperrors.ErrSegmentation,
			"note at %v precedes previous note at %v", n.Start, b.notes[k-1].Start)
	}
	b.notes = append(b.notes, n)
	return nil
}

// Len reports how many notes have been added.
func (b *Builder) Len() int { return len(b.notes) }

// Build returns the finished sequence. The builder may keep being used;
// the returned sequence does not share storage with it.
func (b *Builder) Build() *Sequence {
	notes := make([]Note, len(b.notes))
	copy(notes, b.notes)
	return &Sequence{Notes: notes, Tempo: b.tempo}
}
