package pitch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/edoardograci/track-loop-main/internal/errors"
)

func TestNewTrackBuildsFrames(t *testing.T) {
	track, err := NewTrack("script", 44100, 256,
		[]float64{math.NaN(), 220, 221},
		[]bool{false, true, true},
		[]float64{0.1, 0.9, math.NaN()},
		[]float64{0.5, 1.5})
	require.NoError(t, err)

	require.Len(t, track.Frames, 3)
	assert.Equal(t, Unvoiced, track.Frames[0].Frequency)
	assert.False(t, track.Frames[0].Voiced)
	assert.Equal(t, 1, track.Frames[1].Index)
	assert.InDelta(t, 256.0/44100.0, track.Frames[1].Time, 1e-12)
	assert.Equal(t, 0.0, track.Frames[2].VoicedProb)
	assert.InDelta(t, 3*256.0/44100.0, track.Duration(), 1e-12)
}

func TestNewTrackVoicedNeedsFrequency(t *testing.T) {
	track, err := NewTrack("script", 100, 1,
		[]float64{0}, []bool{true}, []float64{0.8}, nil)
	require.NoError(t, err)
	assert.False(t, track.Frames[0].Voiced)
}

func TestNewTrackRejectsMismatchedColumns(t *testing.T) {
	_, err := NewTrack("script", 100, 1,
		[]float64{1, 2}, []bool{true}, []float64{1, 1}, nil)
	assert.ErrorIs(t, err, apperrors.ErrPitchExtraction)
}

func TestValidate(t *testing.T) {
	good := func() *Track {
		return &Track{
			SampleRate: 100,
			HopLength:  1,
			Frames:     []Frame{{Index: 0, Frequency: 200, Voiced: true, VoicedProb: 1}},
			Onsets:     []float64{0, 0.5},
		}
	}
	require.NoError(t, good().Validate())

	cases := map[string]func(*Track){
		"sample rate":         func(t *Track) { t.SampleRate = 0 },
		"hop length":          func(t *Track) { t.HopLength = -1 },
		"frame index":         func(t *Track) { t.Frames[0].Index = 4 },
		"negative frequency":  func(t *Track) { t.Frames[0].Frequency = -1 },
		"probability range":   func(t *Track) { t.Frames[0].VoicedProb = 1.5 },
		"negative onset":      func(t *Track) { t.Onsets[0] = -0.1 },
		"onsets not strictly": func(t *Track) { t.Onsets[1] = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			tr := good()
			mutate(tr)
			assert.ErrorIs(t, tr.Validate(), apperrors.ErrPitchExtraction)
		})
	}
}
