package pitch

import (
	"context"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"

	"github.com/edoardograci/track-loop-main/internal/audio"
	apperrors "github.com/edoardograci/track-loop-main/internal/errors"
)

// BuiltinSource is an in-process estimator: McLeod normalized square
// difference for pitch and spectral flux with librosa-style peak picking
// for onsets. It needs no Python and is fully deterministic.
type BuiltinSource struct {
	Params Params

	// VoicingThreshold is the minimum NSDF peak for a voiced frame.
	VoicingThreshold float64
	// SilenceRMS is the frame RMS (of the normalized clip) below which a
	// frame is unvoiced without further analysis.
	SilenceRMS       float64

	// Peak picking, in frames.
	PreMax, PostMax, PreAvg, PostAvg, Wait int
	Delta                                  float64
}

var _ Source = (*BuiltinSource)(nil)

// NewBuiltinSource returns a BuiltinSource with the onset picker configured
// like the reference pipeline (pre/post max 5, pre/post avg 10, delta 0.1,
// wait 10).
func NewBuiltinSource(p Params) *BuiltinSource {
	return &BuiltinSource{
		Params:           p,
		VoicingThreshold: 0.6,
		SilenceRMS:       0.01,
		PreMax:           5,
		PostMax:          5,
		PreAvg:           10,
		PostAvg:          10,
		Wait:             10,
		Delta:            0.1,
	}
}

func (s *BuiltinSource) Name() string { return EngineBuiltin }

// Extract implements Source.
func (s *BuiltinSource) Extract(ctx context.Context, clip *audio.Clip) (*Track, error) {
	if err := s.Params.validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPitchExtraction, err, "builtin source")
	}
	if clip == nil || clip.SampleRate <= 0 {
		return nil, apperrors.Newf(apperrors.ErrPitchExtraction, "builtin source: empty clip")
	}

	hop := s.Params.HopLength
	n := 1 + len(clip.Samples)/hop

	freqs := make([]float64, n)
	voiced := make([]bool, n)
	probs := make([]float64, n)

	for i := 0; i < n; i++ {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, apperrors.Wrap(apperrors.ErrPitchExtraction, err, "builtin source")
			}
		}
		frame := centeredFrame(clip.Samples, i*hop, s.Params.FrameLength)
		f, p := s.estimate(frame, clip.SampleRate)
		probs[i] = p
		if p >= s.VoicingThreshold && f >= s.Params.FMin && f <= s.Params.FMax {
			freqs[i] = f
			voiced[i] = true
		}
	}

	env := s.onsetEnvelope(clip.Samples, n)
	onsets := s.pickOnsets(env, clip.SampleRate)

	return NewTrack(s.Name(), clip.SampleRate, hop, freqs, voiced, probs, onsets)
}

// centeredFrame returns length samples centered on center, zero padded.
func centeredFrame(x []float64, center, length int) []float64 {
	out := make([]float64, length)
	start := center - length/2
	for k := range out {
		j := start + k
		if j >= 0 && j < len(x) {
			out[k] = x[j]
		}
	}
	return out
}

// estimate returns the fundamental and its clarity for one frame.
func (s *BuiltinSource) estimate(frame []float64, sampleRate int) (freq, clarity float64) {
	w := len(frame)

	var energy float64
	for _, v := range frame {
		energy += v * v
	}
	if math.Sqrt(energy/float64(w)) < s.SilenceRMS {
		return Unvoiced, 0
	}

	r := autocorrelate(frame)

	// m[tau] = sum_{j<w-tau} x[j]^2 + x[j+tau]^2
	m := 2 * energy
	nsdf := make([]float64, w)
	for tau := 0; tau < w; tau++ {
		if tau > 0 {
			m -= frame[tau-1]*frame[tau-1] + frame[w-tau]*frame[w-tau]
		}
		if m > 1e-12 {
			nsdf[tau] = 2 * r[tau] / m
		}
	}

	minLag := int(math.Floor(float64(sampleRate) / s.Params.FMax))
	maxLag := int(math.Ceil(float64(sampleRate) / s.Params.FMin))
	if minLag < 1 {
		minLag = 1
	}
	if maxLag > w-2 {
		maxLag = w - 2
	}

	var peaks []int
	best := 0.0
	for tau := minLag; tau <= maxLag; tau++ {
		if nsdf[tau] > 0 && nsdf[tau] > nsdf[tau-1] && nsdf[tau] >= nsdf[tau+1] {
			peaks = append(peaks, tau)
			if nsdf[tau] > best {
				best = nsdf[tau]
			}
		}
	}
	if len(peaks) == 0 {
		return Unvoiced, 0
	}

	for _, tau := range peaks {
		if nsdf[tau] < 0.9*best {
			continue
		}
		// parabolic interpolation around the key maximum
		a, b, c := nsdf[tau-1], nsdf[tau], nsdf[tau+1]
		shift := 0.0
		if den := a - 2*b + c; den != 0 {
			shift = 0.5 * (a - c) / den
		}
		period := float64(tau) + shift
		clarity = math.Min(1, math.Max(0, b))
		return float64(sampleRate) / period, clarity
	}
	return Unvoiced, 0
}

// autocorrelate computes r[tau] = sum x[j]*x[j+tau] through the spectrum.
func autocorrelate(x []float64) []float64 {
	size := 1
	for size < 2*len(x) {
		size <<= 1
	}
	padded := make([]float64, size)
	copy(padded, x)

	bins := fft.FFTReal(padded)
	for i, v := range bins {
		a := cmplx.Abs(v)
		bins[i] = complex(a*a, 0)
	}
	ac := fft.IFFT(bins)

	out := make([]float64, len(x))
	for i := range out {
		out[i] = real(ac[i])
	}
	return out
}

// onsetEnvelope is the half-wave rectified log-magnitude spectral flux.
func (s *BuiltinSource) onsetEnvelope(x []float64, frames int) []float64 {
	length := s.Params.FrameLength
	window := make([]float64, length)
	for i := range window {
		window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(length))
	}

	env := make([]float64, frames)
	var prev []float64
	for i := 0; i < frames; i++ {
		frame := centeredFrame(x, i*s.Params.HopLength, length)
		for k := range frame {
			frame[k] *= window[k]
		}
		bins := fft.FFTReal(frame)
		mag := make([]float64, length/2+1)
		for k := range mag {
			mag[k] = math.Log1p(10 * cmplx.Abs(bins[k]))
		}
		if prev != nil {
			var flux float64
			for k := range mag {
				if d := mag[k] - prev[k]; d > 0 {
					flux += d
				}
			}
			env[i] = flux / float64(len(mag))
		}
		prev = mag
	}
	return env
}

// pickOnsets normalizes env to [0,1], picks peaks and backtracks each one
// to the preceding local minimum. Times are returned in seconds.
func (s *BuiltinSource) pickOnsets(env []float64, sampleRate int) []float64 {
	if len(env) == 0 {
		return nil
	}
	lo, hi := env[0], env[0]
	for _, v := range env {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi-lo <= 0 {
		return nil
	}
	norm := make([]float64, len(env))
	for i, v := range env {
		norm[i] = (v - lo) / (hi - lo)
	}

	var onsets []float64
	last := -s.Wait - 1
	lastFrame := -1
	for n := range norm {
		if n <= last+s.Wait {
			continue
		}
		if norm[n] != windowMax(norm, n-s.PreMax, n+s.PostMax) {
			continue
		}
		if norm[n] < windowMean(norm, n-s.PreAvg, n+s.PostAvg)+s.Delta {
			continue
		}
		last = n

		b := n
		for b > 0 && norm[b-1] < norm[b] {
			b--
		}
		if b <= lastFrame {
			continue
		}
		lastFrame = b
		onsets = append(onsets, float64(b*s.Params.HopLength)/float64(sampleRate))
	}
	return onsets
}

func windowMax(x []float64, from, to int) float64 {
	from, to = clampRange(from, to, len(x))
	m := x[from]
	for _, v := range x[from : to+1] {
		m = math.Max(m, v)
	}
	return m
}

func windowMean(x []float64, from, to int) float64 {
	from, to = clampRange(from, to, len(x))
	var sum float64
	for _, v := range x[from : to+1] {
		sum += v
	}
	return sum / float64(to-from+1)
}

func clampRange(from, to, n int) (int, int) {
	if from < 0 {
		from = 0
	}
	if to > n-1 {
		to = n - 1
	}
	return from, to
}
