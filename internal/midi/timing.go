package midi

// DefaultTimeScale slows the performance down by half.
const DefaultTimeScale = 2.0

// Timing maps onset times in seconds to note times in beats.
type Timing struct {
	Scale float64
}

// DefaultTiming returns the 2x scale the transcriber uses.
func DefaultTiming() Timing { return Timing{Scale: DefaultTimeScale} }

// Beats converts seconds to beats.
func (t Timing) Beats(seconds float64) float64 {
	return seconds * t.Scale
}
