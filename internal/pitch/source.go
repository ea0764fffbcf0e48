package pitch

import (
	"context"
	"fmt"

	"github.com/edoardograci/track-loop-main/internal/audio"
)

// Source estimates a pitch track and onset list from a decoded clip.
type Source interface {
	Name() string
	Extract(ctx context.Context, clip *audio.Clip) (*Track, error)
}

// Engine names accepted by configuration.
const (
	EngineScript  = "script"
	EngineBuiltin = "builtin"
)

// Params are the analysis settings shared by every Source.
type Params struct {
	FrameLength int
	WinLength   int
	HopLength   int
	FMin        float64 // Hz, C2
	FMax        float64 // Hz, C7
}

// DefaultParams matches the pYIN configuration the transcriber was tuned on.
func DefaultParams() Params {
	return Params{
		FrameLength: 2048,
		WinLength:   1024,
		HopLength:   256,
		FMin:        65.40639,
		FMax:        2093.0045,
	}
}

func (p Params) validate() error {
	if p.HopLength <= 0 || p.FrameLength <= 0 {
		return fmt.Errorf("frame length %d and hop length %d must be positive", p.FrameLength, p.HopLength)
	}
	if p.FMin <= 0 || p.FMax <= p.FMin {
		return fmt.Errorf("invalid pitch range %.2f-%.2f Hz", p.FMin, p.FMax)
	}
	return nil
}
