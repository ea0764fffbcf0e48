package pitch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/edoardograci/track-loop-main/internal/audio"
	apperrors "github.com/edoardograci/track-loop-main/internal/errors"
	"github.com/edoardograci/track-loop-main/internal/exec"
	"github.com/edoardograci/track-loop-main/internal/logging"
)

// ScriptName is the tracker script inside the scripts directory.
const ScriptName = "pitch_track.py"

// scriptOutput is the JSON document written by pitch_track.py.
// Unvoiced f0 values arrive as null.
type scriptOutput struct {
	SampleRate int        `json:"sample_rate"`
	HopLength  int        `json:"hop_length"`
	F0         []*float64 `json:"f0"`
	Voiced     []bool     `json:"voiced_flag"`
	VoicedProb []*float64 `json:"voiced_prob"`
	Onsets     []float64  `json:"onsets"`
}

// ScriptSource runs the librosa pYIN + onset detector as a subprocess.
type ScriptSource struct {
	Runner     exec.CommandRunner
	Python     string
	ScriptsDir string

	// Output is where the script writes its JSON; it lives in the run's
	// workspace.
	Output string

	Params Params
	Log    logrus.FieldLogger
}

var _ Source = (*ScriptSource)(nil)

func (s *ScriptSource) Name() string { return EngineScript }

// Args builds the script command line for clip.
func (s *ScriptSource) Args(clip *audio.Clip) []string {
	return []string{
		filepath.Join(s.ScriptsDir, ScriptName),
		clip.Path,
		s.Output,
		"--hop-length", strconv.Itoa(s.Params.HopLength),
		"--frame-length", strconv.Itoa(s.Params.FrameLength),
		"--win-length", strconv.Itoa(s.Params.WinLength),
		"--fmin", strconv.FormatFloat(s.Params.FMin, 'f', -1, 64),
		"--fmax", strconv.FormatFloat(s.Params.FMax, 'f', -1, 64),
	}
}

// Extract implements Source.
func (s *ScriptSource) Extract(ctx context.Context, clip *audio.Clip) (*Track, error) {
	if err := s.Params.validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPitchExtraction, err, "script source")
	}
	if clip == nil || clip.Path == "" {
		return nil, apperrors.Newf(apperrors.ErrPitchExtraction, "script source needs a file-backed clip")
	}

	log := logging.OrDiscard(s.Log)
	log.WithField(logging.FieldTool, s.Python).Info("performing pitch detection")

	result, err := s.Runner.Run(ctx, s.Python, s.Args(clip)...)
	if err != nil {
		code, stderr := 0, ""
		if result != nil {
			code, stderr = result.ExitCode, result.Stderr
		}
		return nil, apperrors.NewProcessError(apperrors.ErrPitchExtraction, s.Python, "extract", code, stderr, err)
	}

	data, err := os.ReadFile(s.Output)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPitchExtraction, err, "read tracker output")
	}

	var out scriptOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPitchExtraction, err, "parse tracker output")
	}

	freqs := make([]float64, len(out.F0))
	for i, f := range out.F0 {
		if f != nil {
			freqs[i] = *f
		}
	}
	probs := make([]float64, len(out.VoicedProb))
	for i, p := range out.VoicedProb {
		if p != nil {
			probs[i] = *p
		}
	}

	track, err := NewTrack(s.Name(), out.SampleRate, out.HopLength, freqs, out.Voiced, probs, out.Onsets)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"frames": len(track.Frames),
		"onsets": len(track.Onsets),
	}).Info("pitch track extracted")
	return track, nil
}
