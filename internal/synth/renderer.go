// Package synth renders MIDI files to audio with fluidsynth and a SoundFont.
package synth

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	apperrors "github.com/edoardograci/track-loop-main/internal/errors"
	"github.com/edoardograci/track-loop-main/internal/exec"
	"github.com/edoardograci/track-loop-main/internal/logging"
)

// DefaultSoundFont is the instrument bank shipped next to the binary.
const DefaultSoundFont = "soundFont/Essential Keys-sfzBanks-v9.6.sf2"

// Renderer drives fluidsynth in fast-render mode.
type Renderer struct {
	Runner    exec.CommandRunner
	Bin       string
	SoundFont string
	Gain      float64
	Log       logrus.FieldLogger
}

// NewRenderer returns a Renderer with fluidsynth defaults filled in.
func NewRenderer(runner exec.CommandRunner, bin, soundFont string, gain float64, log logrus.FieldLogger) *Renderer {
	if bin == "" {
		bin = "fluidsynth"
	}
	if soundFont == "" {
		soundFont = DefaultSoundFont
	}
	if gain <= 0 {
		gain = 1
	}
	return &Renderer{
		Runner:    runner,
		Bin:       bin,
		SoundFont: soundFont,
		Gain:      gain,
		Log:       log,
	}
}

// CheckInstrument verifies the SoundFont exists and is a regular file.
func (r *Renderer) CheckInstrument() error {
	info, err := os.Stat(r.SoundFont)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInstrumentMissing, err, "soundfont %s", r.SoundFont)
	}
	if info.IsDir() {
		return apperrors.Newf(apperrors.ErrInstrumentMissing, "soundfont %s is a directory", r.SoundFont)
	}
	return nil
}

// Args returns the fluidsynth command line rendering midiPath to dst.
func (r *Renderer) Args(midiPath, dst string) []string {
	soundFont, _ := filepath.Abs(r.SoundFont)
	return []string{
		"-ni",
		"-g", strconv.FormatFloat(r.Gain, 'f', -1, 64),
		"-F", dst,
		soundFont,
		midiPath,
	}
}

// Render writes the audio rendering of midiPath to dst.
func (r *Renderer) Render(ctx context.Context, midiPath, dst string) error {
	if err := r.CheckInstrument(); err != nil {
		return err
	}
	log := logging.OrDiscard(r.Log).WithFields(logrus.Fields{
		logging.FieldTool:   r.Bin,
		logging.FieldInput:  midiPath,
		logging.FieldOutput: dst,
	})
	log.Info("converting MIDI to audio")

	result, err := r.Runner.Run(ctx, r.Bin, r.Args(midiPath, dst)...)
	if result != nil {
		if out := strings.TrimSpace(result.Stdout); out != "" {
			log.Debugf("fluidsynth stdout: %s", out)
		}
		if out := strings.TrimSpace(result.Stderr); out != "" {
			log.Debugf("fluidsynth stderr: %s", out)
		}
	}
	if err != nil {
		code, stderr := 0, ""
		if result != nil {
			code, stderr = result.ExitCode, result.Stderr
		}
		return apperrors.NewProcessError(apperrors.ErrSynthesis, r.Bin, "render", code, stderr, err)
	}

	if _, err := os.Stat(dst); err != nil {
		return apperrors.Wrap(apperrors.ErrSynthesis, err, "%s failed to create output file %s", r.Bin, dst)
	}
	return nil
}
