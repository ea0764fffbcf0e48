// Package pitch holds the frame-level pitch track produced by a Source and
// the smoothing applied to it before segmentation.
package pitch

import (
	"math"

	apperrors "github.com/edoardograci/track-loop-main/internal/errors"
)

// Unvoiced is the frequency recorded for frames without a detected pitch.
const Unvoiced = 0.0

// Frame is one analysis frame of the pitch tracker.
type Frame struct {
	Index      int     `json:"index"`
	Time       float64 `json:"time"`
	Frequency  float64 `json:"frequency"`
	Voiced     bool    `json:"voiced"`
	VoicedProb float64 `json:"voiced_prob"`
}

// Track is the complete output of a pitch Source for one recording.
type Track struct {
	Source     string    `json:"source"`
	SampleRate int       `json:"sample_rate"`
	HopLength  int       `json:"hop_length"`
	Frames     []Frame   `json:"frames"`
	Onsets     []float64 `json:"onsets"`
}

// Validate checks the structural guarantees every Source must provide.
func (t *Track) Validate() error {
	if t.SampleRate <= 0 {
		return apperrors.Newf(apperrors.ErrPitchExtraction, "invalid sample rate %d", t.SampleRate)
	}
	if t.HopLength <= 0 {
		return apperrors.Newf(apperrors.ErrPitchExtraction, "invalid hop length %d", t.HopLength)
	}
	for i, f := range t.Frames {
		if f.Index != i {
			return apperrors.Newf(apperrors.ErrPitchExtraction, "frame %d has index %d", i, f.Index)
		}
		if math.IsNaN(f.Frequency) || math.IsInf(f.Frequency, 0) || f.Frequency < 0 {
			return apperrors.Newf(apperrors.ErrPitchExtraction, "frame %d has frequency %v", i, f.Frequency)
		}
		if f.VoicedProb < 0 || f.VoicedProb > 1 || math.IsNaN(f.VoicedProb) {
			return apperrors.Newf(apperrors.ErrPitchExtraction, "frame %d has voicing probability %v", i, f.VoicedProb)
		}
	}
	for i, o := range t.Onsets {
		if o < 0 || math.IsNaN(o) {
			return apperrors.Newf(apperrors.ErrPitchExtraction, "onset %d has time %v", i, o)
		}
		if i > 0 && o <= t.Onsets[i-1] {
			return apperrors.Newf(apperrors.ErrPitchExtraction, "onsets not strictly increasing at %d (%v <= %v)", i, o, t.Onsets[i-1])
		}
	}
	return nil
}

// Duration is the time covered by the frames, in seconds.
func (t *Track) Duration() float64 {
	if t.SampleRate == 0 {
		return 0
	}
	return float64(len(t.Frames)*t.HopLength) / float64(t.SampleRate)
}

// Frequencies returns the per-frame frequency column.
func (t *Track) Frequencies() []float64 {
	out := make([]float64, len(t.Frames))
	for i, f := range t.Frames {
		out[i] = f.Frequency
	}
	return out
}

// VoicedFlags returns the per-frame voicing column.
func (t *Track) VoicedFlags() []bool {
	out := make([]bool, len(t.Frames))
	for i, f := range t.Frames {
		out[i] = f.Voiced
	}
	return out
}

// NewTrack assembles a Track from parallel columns, the shape most
// estimators produce. Mismatched lengths are a PitchExtraction error.
func NewTrack(source string, sampleRate, hopLength int, freqs []float64, voiced []bool, probs []float64, onsets []float64) (*Track, error) {
	if len(freqs) != len(voiced) || len(freqs) != len(probs) {
		return nil, apperrors.Newf(apperrors.ErrPitchExtraction,
			"mismatched track lengths: f0=%d voiced=%d prob=%d", len(freqs), len(voiced), len(probs))
	}

	frames := make([]Frame, len(freqs))
	for i := range freqs {
		f := freqs[i]
		if math.IsNaN(f) || f <= 0 {
			f = Unvoiced
		}
		p := probs[i]
		if math.IsNaN(p) {
			p = 0
		}
		frames[i] = Frame{
			Index:      i,
			Time:       float64(i*hopLength) / float64(sampleRate),
			Frequency:  f,
			Voiced:     voiced[i] && f != Unvoiced,
			VoicedProb: p,
		}
	}

	t := &Track{
		Source:     source,
		SampleRate: sampleRate,
		HopLength:  hopLength,
		Frames:     frames,
		Onsets:     append([]float64(nil), onsets...),
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}
