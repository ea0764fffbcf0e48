package audio

import (
	"fmt"
	"math"

	"github.com/unixpickle/wav"

	apperrors "github.com/edoardograci/track-loop-main/internal/errors"
)

// Clip is a decoded, mono, peak-normalized recording.
type Clip struct {
	Path       string
	SampleRate int
	Samples    []float64
}

// Duration returns the clip length in seconds.
func (c *Clip) Duration() float64 {
	if c.SampleRate == 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// LoadWAV decodes a PCM WAV file, mixes it down to mono and scales it so
// the loudest sample has magnitude 1.
func LoadWAV(path string) (*Clip, error) {
	sound, err := wav.ReadSoundFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", apperrors.ErrCorruptedFile, path, err)
	}

	channels := sound.Channels()
	if channels < 1 {
		return nil, fmt.Errorf("%w: %s has no channels", apperrors.ErrCorruptedFile, path)
	}

	raw := sound.Samples()
	mono := make([]float64, len(raw)/channels)
	for i := range mono {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(raw[i*channels+c])
		}
		mono[i] = sum / float64(channels)
	}

	return &Clip{
		Path:       path,
		SampleRate: sound.SampleRate(),
		Samples:    Normalize(mono),
	}, nil
}

// Normalize scales samples in place so max |x| == 1. Silence is untouched.
func Normalize(samples []float64) []float64 {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return samples
	}
	for i := range samples {
		samples[i] /= peak
	}
	return samples
}
