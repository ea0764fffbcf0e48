package pitch

import (
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"
)

// DefaultKernel is the median filter width applied before segmentation.
const DefaultKernel = 5

// Smooth applies a median filter of width kernel to the frequency column.
// Windows running off either end are padded with Unvoiced, so the output
// always has the input's length. Voicing flags are left untouched.
func Smooth(freqs []float64, kernel int) []float64 {
	if kernel < 1 {
		kernel = 1
	}
	if kernel%2 == 0 {
		kernel++
	}
	half := kernel / 2

	out := make([]float64, len(freqs))
	window := make([]float64, kernel)
	for i := range freqs {
		for k := 0; k < kernel; k++ {
			j := i - half + k
			if j < 0 || j >= len(freqs) {
				window[k] = Unvoiced
			} else {
				window[k] = freqs[j]
			}
		}
		slices.Sort(window)
		out[i] = window[half]
	}
	return out
}

// SmoothTrack returns a copy of t with its frequencies median filtered.
func SmoothTrack(t *Track, kernel int) *Track {
	smoothed := Smooth(t.Frequencies(), kernel)

	out := *t
	out.Frames = make([]Frame, len(t.Frames))
	copy(out.Frames, t.Frames)
	for i := range out.Frames {
		out.Frames[i].Frequency = smoothed[i]
	}
	out.Onsets = append([]float64(nil), t.Onsets...)
	return &out
}

// Median returns the median of values, averaging the middle pair for even
// lengths. The input is not modified. ok is false for an empty input.
func Median[T constraints.Float | constraints.Integer](values []T) (m float64, ok bool) {
	if len(values) == 0 {
		return 0, false
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return float64(sorted[mid]), true
	}
	return (float64(sorted[mid-1]) + float64(sorted[mid])) / 2, true
}
