package midi

import (
	"fmt"

	"github.com/sirupsen/logrus"

	apperrors "github.com/edoardograci/track-loop-main/internal/errors"
	"github.com/edoardograci/track-loop-main/internal/logging"
	"github.com/edoardograci/track-loop-main/internal/pitch"
)

// BoundaryMode selects how emitted notes are placed in time.
type BoundaryMode string

const (
	// BoundaryAligned starts each note at the onset where its pitch was
	// first heard and ends it at the onset where the pitch changed. The
	// last note runs to the end of the track.
	BoundaryAligned BoundaryMode = "aligned"
	// BoundaryLegacy reproduces the one-onset lag of earlier
	// releases: a note emitted at onset i starts at onset i-1 and lasts
	// onset[i]-onset[i-1]; the final note starts at the last onset.
	BoundaryLegacy BoundaryMode = "legacy"
)

// ParseBoundaryMode validates a configured boundary mode name.
func ParseBoundaryMode(s string) (BoundaryMode, error) {
	switch m := BoundaryMode(s); m {
	case BoundaryAligned, BoundaryLegacy:
		return m, nil
	case "":
		return BoundaryAligned, nil
	default:
		return "", fmt.Errorf("unknown boundary mode %q (must be %s or %s)", s, BoundaryAligned, BoundaryLegacy)
	}
}

// Segmenter partitions a pitch track at its onsets and turns runs of equal
// pitch into notes.
type Segmenter struct {
	Boundary BoundaryMode
	Policy   PitchPolicy
	Timing   Timing
	Velocity int
	Tempo    float64

	Log logrus.FieldLogger
}

// NewSegmenter returns a Segmenter with the default settings.
func NewSegmenter(log logrus.FieldLogger) *Segmenter {
	return &Segmenter{
		Boundary: BoundaryAligned,
		Policy:   PolicyDiscard,
		Timing:   DefaultTiming(),
		Velocity: DefaultVelocity,
		Tempo:    DefaultTempo,
		Log:      log,
	}
}

// register is the pitch currently being held.
type register struct {
	pitch int
	held  bool
	// seed is the onset time at which the pitch was first heard.
	seed float64
}

// Segment converts a (smoothed) track into a note sequence. An unvoiced
// track or one without onsets gives an empty sequence.
func (s *Segmenter) Segment(t *pitch.Track) (*Sequence, error) {
	log := logging.OrDiscard(s.Log)

	if t.SampleRate <= 0 || t.HopLength <= 0 {
		return nil, apperrors.Newf(apperrors.ErrSegmentation,
			"invalid track geometry: sample rate %d, hop %d", t.SampleRate, t.HopLength)
	}
	onsets := t.Onsets
	for i := 1; i < len(onsets); i++ {
		if !(onsets[i] > onsets[i-1]) {
			return nil, apperrors.Newf(apperrors.ErrSegmentation,
				"onsets not strictly increasing at %d (%v <= %v)", i, onsets[i], onsets[i-1])
		}
	}

	b := NewBuilder(s.Tempo)
	var cur register

	emit := func(start, length float64) error {
		n := Note{
			Pitch:    cur.pitch,
			Start:    s.Timing.Beats(start),
			Duration: s.Timing.Beats(length),
			Velocity: s.Velocity,
		}
		if !(n.Duration > 0) {
			log.WithField("pitch", n.Pitch).Debugf("dropping zero-length note at %.3f", n.Start)
			return nil
		}
		log.Debugf("added note %s", n)
		return b.Add(n)
	}

	for i, onset := range onsets {
		from := s.frameAt(t, onset)
		to := len(t.Frames)
		if i < len(onsets)-1 {
			to = s.frameAt(t, onsets[i+1])
		}

		// Voiced frames the smoother zeroed are left out of the median.
		freq, voiced := segmentFrequency(t.Frames, from, to)
		if !voiced {
			cur = register{}
			continue
		}

		raw, ok := HzToMIDI(freq)
		note, valid := s.Policy.Apply(raw)
		if !ok || !valid {
			log.Warnf("invalid MIDI note %d (%.2f Hz) detected and skipped", raw, freq)
			cur = register{}
			continue
		}
		log.Debugf("onset %d: frequency %.2f Hz, MIDI note %d", i, freq, note)

		switch {
		case !cur.held:
			cur = register{pitch: note, held: true, seed: onset}
		case cur.pitch != note:
			var err error
			if s.Boundary == BoundaryLegacy {
				prev := 0.0
				if i > 0 {
					prev = onsets[i-1]
				}
				err = emit(prev, onset-prev)
			} else {
				err = emit(cur.seed, onset-cur.seed)
			}
			if err != nil {
				return nil, err
			}
			cur = register{pitch: note, held: true, seed: onset}
		}
	}

	if cur.held {
		var err error
		if s.Boundary == BoundaryLegacy {
			last := onsets[len(onsets)-1]
			prev := 0.0
			if len(onsets) > 1 {
				prev = onsets[len(onsets)-2]
			}
			err = emit(last, last-prev)
		} else {
			err = emit(cur.seed, t.Duration()-cur.seed)
		}
		if err != nil {
			return nil, err
		}
	}

	seq := b.Build()
	log.WithField("notes", len(seq.Notes)).Info("segmentation complete")
	return seq, nil
}

// frameAt maps a time in seconds to a frame index, truncating like the
// tracker does, and clamps it to the track.
func (s *Segmenter) frameAt(t *pitch.Track, seconds float64) int {
	i := int(seconds * float64(t.SampleRate) / float64(t.HopLength))
	if i < 0 {
		return 0
	}
	if i > len(t.Frames) {
		return len(t.Frames)
	}
	return i
}

// segmentFrequency returns the median of the voiced frequencies in
// frames[from:to]. Frames the filter collapsed to the unvoiced marker do
// not count as voiced.
func segmentFrequency(frames []pitch.Frame, from, to int) (float64, bool) {
	if from >= to {
		return 0, false
	}
	var voiced []float64
	for _, f := range frames[from:to] {
		if f.Voiced && f.Frequency != pitch.Unvoiced {
			voiced = append(voiced, f.Frequency)
		}
	}
	return pitch.Median(voiced)
}
